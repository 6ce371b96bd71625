package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/directory"
	"github.com/traveltour/important-info-api/internal/models"
	"github.com/traveltour/important-info-api/internal/push"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
	"github.com/traveltour/important-info-api/pkg/jobs"
)

type creatorStub struct {
	created []*models.Announcement
	err     error
}

func (s *creatorStub) Create(ctx context.Context, announcement *models.Announcement) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, announcement)
	return nil
}

type inserterStub struct {
	mu   sync.Mutex
	rows []models.Notification
	err  error
	done chan struct{}
}

func (s *inserterStub) BulkInsert(ctx context.Context, rows []models.Notification) (int, error) {
	s.mu.Lock()
	s.rows = append(s.rows, rows...)
	s.mu.Unlock()
	if s.done != nil {
		close(s.done)
	}
	if s.err != nil {
		return 0, s.err
	}
	return len(rows), nil
}

func (s *inserterStub) inserted() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.rows...)
}

type rosterStub struct {
	users []directory.User
	err   error
	calls int
}

func (s *rosterStub) ListUsers(ctx context.Context, bearerToken string) ([]directory.User, error) {
	s.calls++
	return s.users, s.err
}

type invalidatorStub struct {
	mu      sync.Mutex
	users   []string
	flushes int
}

func (s *invalidatorStub) InvalidateUnreadCount(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
}

func (s *invalidatorStub) InvalidateAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

type fanoutRecorderStub struct {
	mu        sync.Mutex
	dispatch  []string
	depthFunc func() int
}

func (s *fanoutRecorderStub) RecordFanout(mode, outcome string, recipients int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch = append(s.dispatch, mode+"/"+outcome)
}

func (s *fanoutRecorderStub) RegisterQueueDepth(depth func() int) {
	s.depthFunc = depth
}

func newTestFanoutService(creator *creatorStub, inserter *inserterStub, roster *rosterStub, pub *publisherStub, cache *invalidatorStub) *FanoutService {
	return NewFanoutService(creator, inserter, roster, pub, cache, nil, nil, zap.NewNop(), FanoutConfig{
		Workers:          1,
		MaxRetries:       1,
		RetryDelay:       time.Millisecond,
		DirectoryTimeout: time.Second,
	})
}

func adminSender() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Email: "admin@example.com", FullName: "Admin One"}
}

func TestFanoutServiceCreateExplicitOnlyCompletesSynchronously(t *testing.T) {
	creator := &creatorStub{}
	inserter := &inserterStub{}
	roster := &rosterStub{}
	pub := &publisherStub{}
	service := newTestFanoutService(creator, inserter, roster, pub, &invalidatorStub{})

	result, err := service.Create(context.Background(), CreateAnnouncementRequest{
		Title:      "Exam schedule",
		Body:       "Posted on the portal.",
		Recipients: []string{"u-1", "u-2"},
	}, adminSender(), "token")
	require.NoError(t, err)
	assert.Equal(t, FanoutComplete, result.Status)
	assert.Equal(t, 2, result.NotificationCount)
	assert.Equal(t, 0, roster.calls)

	rows := inserter.inserted()
	require.Len(t, rows, 2)
	assert.Equal(t, "u-1", rows[0].UserID)
	assert.Contains(t, rows[0].Title, "Exam schedule")

	state, ok := service.Status(result.Announcement.ID)
	require.True(t, ok)
	assert.Equal(t, FanoutComplete, state.Status)
	assert.Equal(t, 2, state.RecipientCount)

	require.Len(t, pub.adminEvents(), 1)
	assert.Equal(t, push.EventAnnouncementSent, pub.adminEvents()[0].Type)
	assert.Equal(t, 2, pub.adminEvents()[0].Payload["recipient_count"])
}

func TestFanoutServiceCreateBroadcastDefersAndCompletes(t *testing.T) {
	creator := &creatorStub{}
	inserter := &inserterStub{done: make(chan struct{})}
	roster := &rosterStub{users: []directory.User{
		{ID: "s-1", Role: models.RoleStudent},
		{ID: "s-2", Role: models.RoleStudent},
	}}
	pub := &publisherStub{}
	cache := &invalidatorStub{}
	service := newTestFanoutService(creator, inserter, roster, pub, cache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)
	defer service.Stop()

	result, err := service.Create(ctx, CreateAnnouncementRequest{
		Title:      "Assembly",
		Body:       "Friday at nine.",
		Recipients: []string{"all"},
	}, adminSender(), "token")
	require.NoError(t, err)
	assert.Equal(t, FanoutPending, result.Status)
	assert.Equal(t, 0, result.NotificationCount)

	select {
	case <-inserter.done:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out job never ran")
	}

	require.Eventually(t, func() bool {
		state, ok := service.Status(result.Announcement.ID)
		return ok && state.Status == FanoutComplete
	}, 2*time.Second, 10*time.Millisecond)

	state, _ := service.Status(result.Announcement.ID)
	assert.Equal(t, 2, state.RecipientCount)
	assert.Len(t, inserter.inserted(), 2)
}

func TestFanoutServiceDirectoryFailureMarksFailed(t *testing.T) {
	creator := &creatorStub{}
	inserter := &inserterStub{}
	roster := &rosterStub{err: appErrors.ErrUpstreamUnavailable}
	service := newTestFanoutService(creator, inserter, roster, &publisherStub{}, &invalidatorStub{})

	err := service.handleJob(context.Background(), jobs.Job{
		ID:   "ann-9",
		Type: "fanout",
		Payload: fanoutJobPayload{
			AnnouncementID: "ann-9",
			Title:          "Lost",
			Selector:       models.ParseSelector([]string{"students"}),
		},
	})
	require.Error(t, err)

	state, ok := service.Status("ann-9")
	require.True(t, ok)
	assert.Equal(t, FanoutFailed, state.Status)
	assert.Empty(t, inserter.inserted())
}

func TestFanoutServiceEmptyRosterCompletesWithZero(t *testing.T) {
	service := newTestFanoutService(&creatorStub{}, &inserterStub{}, &rosterStub{}, &publisherStub{}, &invalidatorStub{})

	err := service.handleJob(context.Background(), jobs.Job{
		ID:   "ann-5",
		Type: "fanout",
		Payload: fanoutJobPayload{
			AnnouncementID: "ann-5",
			Title:          "Quiet",
			Selector:       models.ParseSelector([]string{"admins"}),
		},
	})
	require.NoError(t, err)

	state, ok := service.Status("ann-5")
	require.True(t, ok)
	assert.Equal(t, FanoutComplete, state.Status)
	assert.Equal(t, 0, state.RecipientCount)
}

func TestFanoutServiceCreateRejectsBlankTitle(t *testing.T) {
	creator := &creatorStub{}
	service := newTestFanoutService(creator, &inserterStub{}, &rosterStub{}, &publisherStub{}, &invalidatorStub{})

	_, err := service.Create(context.Background(), CreateAnnouncementRequest{
		Title: "   ",
		Body:  "no title",
	}, adminSender(), "token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, creator.created)
}

func TestFanoutServiceExposesQueueDepth(t *testing.T) {
	recorder := &fanoutRecorderStub{}
	NewFanoutService(&creatorStub{}, &inserterStub{}, &rosterStub{}, &publisherStub{}, &invalidatorStub{}, recorder, nil, zap.NewNop(), FanoutConfig{})

	require.NotNil(t, recorder.depthFunc)
	assert.Equal(t, 0, recorder.depthFunc())
}

func TestFanoutServiceStatusEvictedAfterRetention(t *testing.T) {
	service := NewFanoutService(&creatorStub{}, &inserterStub{}, &rosterStub{}, &publisherStub{}, &invalidatorStub{}, nil, nil, zap.NewNop(), FanoutConfig{
		Workers:   1,
		StatusTTL: 10 * time.Millisecond,
	})

	result, err := service.Create(context.Background(), CreateAnnouncementRequest{
		Title:      "Short lived",
		Body:       "Evicted soon.",
		Recipients: []string{"u-1"},
	}, adminSender(), "token")
	require.NoError(t, err)

	_, ok := service.Status(result.Announcement.ID)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := service.Status(result.Announcement.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestFanoutServiceCreatePersistsBeforeFanout(t *testing.T) {
	creator := &creatorStub{err: errors.New("db down")}
	inserter := &inserterStub{}
	service := newTestFanoutService(creator, inserter, &rosterStub{}, &publisherStub{}, &invalidatorStub{})

	_, err := service.Create(context.Background(), CreateAnnouncementRequest{
		Title:      "Never sent",
		Body:       "storage failed",
		Recipients: []string{"u-1"},
	}, adminSender(), "token")
	require.Error(t, err)
	assert.Empty(t, inserter.inserted())
}
