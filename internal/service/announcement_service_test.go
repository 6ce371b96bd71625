package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/models"
	"github.com/traveltour/important-info-api/internal/push"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
)

type annRepoStub struct {
	announcement *models.Announcement
	getErr       error
	countUnread  int
	countErr     error
	visible      bool
	visibleErr   error

	visibleItems []models.AnnouncementWithReadState
	visibleTotal int

	readCalls   []string
	deleteCalls []string
	purgeCalls  []string
	markReadErr error
	purgeErr    error
}

func (s *annRepoStub) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.announcement, nil
}

func (s *annRepoStub) ListAll(ctx context.Context, page, pageSize int) ([]models.Announcement, int, error) {
	if s.announcement == nil {
		return nil, 0, nil
	}
	return []models.Announcement{*s.announcement}, 1, nil
}

func (s *annRepoStub) ListVisible(ctx context.Context, filter models.VisibilityFilter) ([]models.AnnouncementWithReadState, int, error) {
	if s.visibleItems != nil {
		return s.visibleItems, s.visibleTotal, nil
	}
	if s.announcement == nil {
		return nil, 0, nil
	}
	return []models.AnnouncementWithReadState{{Announcement: *s.announcement}}, 1, nil
}

func (s *annRepoStub) IsVisible(ctx context.Context, id, userID string, role models.UserRole) (bool, error) {
	return s.visible, s.visibleErr
}

func (s *annRepoStub) CountUnread(ctx context.Context, userID string, role models.UserRole) (int, error) {
	return s.countUnread, s.countErr
}

func (s *annRepoStub) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	s.readCalls = append(s.readCalls, userID)
	return s.markReadErr
}

func (s *annRepoStub) SoftDeleteFor(ctx context.Context, id, userID string, at time.Time) error {
	s.deleteCalls = append(s.deleteCalls, userID)
	return nil
}

func (s *annRepoStub) Purge(ctx context.Context, id string) error {
	s.purgeCalls = append(s.purgeCalls, id)
	return s.purgeErr
}

type projectionStub struct {
	readCalls   []string
	deleteCalls []string
	purgeCalls  []string
	readErr     error
}

func (s *projectionStub) MarkRead(ctx context.Context, userID, announcementID string) error {
	s.readCalls = append(s.readCalls, userID)
	return s.readErr
}

func (s *projectionStub) DeleteFor(ctx context.Context, userID, announcementID string) error {
	s.deleteCalls = append(s.deleteCalls, userID)
	return nil
}

func (s *projectionStub) DeleteAllForAnnouncement(ctx context.Context, announcementID string) error {
	s.purgeCalls = append(s.purgeCalls, announcementID)
	return nil
}

type unreadCacheStub struct {
	count       int
	hit         bool
	setCalls    int
	invalidated []string
}

func (s *unreadCacheStub) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	if s.hit {
		return s.count, nil
	}
	return 0, appErrors.ErrCacheMiss
}

func (s *unreadCacheStub) SetUnreadCount(ctx context.Context, userID string, count int, ttl time.Duration) error {
	s.setCalls++
	s.count = count
	return nil
}

func (s *unreadCacheStub) InvalidateUnreadCount(ctx context.Context, userID string) {
	s.invalidated = append(s.invalidated, userID)
}

type fileStoreStub struct {
	deleted []string
}

func (s *fileStoreStub) Delete(relPath string) error {
	s.deleted = append(s.deleted, relPath)
	return nil
}

type publisherStub struct {
	mu        sync.Mutex
	userTo    []string
	user      []push.Event
	admin     []push.Event
	broadcast []push.Event
}

func (s *publisherStub) PublishToUser(ctx context.Context, userID string, event push.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userTo = append(s.userTo, userID)
	s.user = append(s.user, event)
}

func (s *publisherStub) PublishToAdmins(ctx context.Context, event push.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = append(s.admin, event)
}

func (s *publisherStub) Broadcast(ctx context.Context, event push.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = append(s.broadcast, event)
}

func (s *publisherStub) adminEvents() []push.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]push.Event(nil), s.admin...)
}

func (s *publisherStub) userEvents() []push.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]push.Event(nil), s.user...)
}

func testAnnouncement() *models.Announcement {
	return &models.Announcement{
		ID:         "ann-1",
		Title:      "Maintenance window",
		Body:       "Systems down Saturday night.",
		Recipients: []string{"all"},
	}
}

func TestAnnouncementServiceMarkRead(t *testing.T) {
	repo := &annRepoStub{announcement: testAnnouncement()}
	projector := &projectionStub{}
	cache := &unreadCacheStub{}
	pub := &publisherStub{}
	service := NewAnnouncementService(repo, projector, cache, nil, pub, nil, zap.NewNop(), 0)

	err := service.MarkRead(context.Background(), "ann-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, repo.readCalls)
	assert.Equal(t, []string{"user-1"}, projector.readCalls)
	assert.Equal(t, []string{"user-1"}, cache.invalidated)
	require.Len(t, pub.userEvents(), 1)
	assert.Equal(t, push.EventNotificationUpdated, pub.userEvents()[0].Type)
}

func TestAnnouncementServiceMarkReadMissing(t *testing.T) {
	repo := &annRepoStub{getErr: sql.ErrNoRows}
	service := NewAnnouncementService(repo, &projectionStub{}, nil, nil, nil, nil, zap.NewNop(), 0)

	err := service.MarkRead(context.Background(), "gone", "user-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.readCalls)
}

func TestAnnouncementServiceMarkReadSurvivesProjectionFailure(t *testing.T) {
	repo := &annRepoStub{announcement: testAnnouncement()}
	projector := &projectionStub{readErr: errors.New("projection down")}
	service := NewAnnouncementService(repo, projector, nil, nil, nil, nil, zap.NewNop(), 0)

	err := service.MarkRead(context.Background(), "ann-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, repo.readCalls)
}

func TestAnnouncementServiceUnreadCountCache(t *testing.T) {
	repo := &annRepoStub{countUnread: 7}
	cache := &unreadCacheStub{}
	service := NewAnnouncementService(repo, nil, cache, nil, nil, nil, zap.NewNop(), 0)

	count, err := service.UnreadCount(context.Background(), "user-1", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.Equal(t, 1, cache.setCalls)

	cache.hit = true
	repo.countErr = errors.New("db unavailable")
	count, err = service.UnreadCount(context.Background(), "user-1", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

type cacheMetricsStub struct {
	hits   int
	misses int
}

func (s *cacheMetricsStub) RecordCacheLookup(hit bool) {
	if hit {
		s.hits++
	} else {
		s.misses++
	}
}

func TestAnnouncementServiceUnreadCountRecordsCacheLookups(t *testing.T) {
	repo := &annRepoStub{countUnread: 4}
	cache := &unreadCacheStub{}
	metrics := &cacheMetricsStub{}
	service := NewAnnouncementService(repo, nil, cache, nil, nil, metrics, zap.NewNop(), 0)

	_, err := service.UnreadCount(context.Background(), "user-1", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 0, metrics.hits)
	assert.Equal(t, 1, metrics.misses)

	cache.hit = true
	_, err = service.UnreadCount(context.Background(), "user-1", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.hits)
	assert.Equal(t, 1, metrics.misses)
}

func TestAnnouncementServiceGetVisible(t *testing.T) {
	repo := &annRepoStub{announcement: testAnnouncement(), visible: true}
	service := NewAnnouncementService(repo, nil, nil, nil, nil, nil, zap.NewNop(), 0)

	announcement, err := service.GetVisible(context.Background(), "ann-1", "user-1", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, "ann-1", announcement.ID)
}

func TestAnnouncementServiceGetVisibleHidesNonRecipients(t *testing.T) {
	repo := &annRepoStub{announcement: testAnnouncement(), visible: false}
	service := NewAnnouncementService(repo, nil, nil, nil, nil, nil, zap.NewNop(), 0)

	_, err := service.GetVisible(context.Background(), "ann-1", "user-1", models.RoleStudent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAnnouncementServiceListVisiblePagination(t *testing.T) {
	repo := &annRepoStub{
		visibleItems: make([]models.AnnouncementWithReadState, 5),
		visibleTotal: 25,
	}
	service := NewAnnouncementService(repo, nil, nil, nil, nil, nil, zap.NewNop(), 0)

	items, pagination, err := service.ListVisible(context.Background(), "user-1", models.RoleStudent, 3, 10)
	require.NoError(t, err)
	assert.Len(t, items, 5)
	require.NotNil(t, pagination)
	assert.Equal(t, 3, pagination.Page)
	assert.Equal(t, 10, pagination.PageSize)
	assert.Equal(t, 25, pagination.TotalCount)
	assert.Equal(t, 3, pagination.TotalPages)
}

func TestAnnouncementServiceSoftDeleteFor(t *testing.T) {
	repo := &annRepoStub{announcement: testAnnouncement()}
	projector := &projectionStub{}
	cache := &unreadCacheStub{}
	service := NewAnnouncementService(repo, projector, cache, nil, nil, nil, zap.NewNop(), 0)

	err := service.SoftDeleteFor(context.Background(), "ann-1", "user-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-2"}, repo.deleteCalls)
	assert.Equal(t, []string{"user-2"}, projector.deleteCalls)
	assert.Equal(t, []string{"user-2"}, cache.invalidated)
}

func TestAnnouncementServicePurgeReleasesAttachments(t *testing.T) {
	announcement := testAnnouncement()
	announcement.Attachments = []models.Attachment{
		{Filename: "a.pdf", Kind: models.AttachmentKindPDF},
		{Filename: "b.png", Kind: models.AttachmentKindImage},
		{Filename: "../escape", Kind: models.AttachmentKindDocument},
	}
	repo := &annRepoStub{announcement: announcement}
	projector := &projectionStub{}
	files := &fileStoreStub{}
	service := NewAnnouncementService(repo, projector, nil, files, nil, nil, zap.NewNop(), 0)

	err := service.Purge(context.Background(), "ann-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ann-1"}, repo.purgeCalls)
	assert.Equal(t, []string{"ann-1"}, projector.purgeCalls)
	assert.Equal(t, []string{"pdf/a.pdf", "images/b.png"}, files.deleted)
}
