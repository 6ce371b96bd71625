package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/directory"
	"github.com/traveltour/important-info-api/internal/models"
	"github.com/traveltour/important-info-api/internal/push"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
	"github.com/traveltour/important-info-api/pkg/jobs"
)

// FanoutStatus describes how far recipient materialization has progressed
// for one announcement.
type FanoutStatus string

const (
	FanoutComplete FanoutStatus = "complete"
	FanoutPending  FanoutStatus = "pending"
	FanoutFailed   FanoutStatus = "failed"
)

// FanoutState is the observable outcome of a dispatch.
type FanoutState struct {
	Status         FanoutStatus
	RecipientCount int
}

type announcementCreator interface {
	Create(ctx context.Context, announcement *models.Announcement) error
}

type notificationInserter interface {
	BulkInsert(ctx context.Context, rows []models.Notification) (int, error)
}

type directoryRoster interface {
	ListUsers(ctx context.Context, bearerToken string) ([]directory.User, error)
}

type fanoutCacheInvalidator interface {
	InvalidateUnreadCount(ctx context.Context, userID string)
	InvalidateAll(ctx context.Context)
}

type fanoutRecorder interface {
	RecordFanout(mode string, outcome string, recipients int)
	RegisterQueueDepth(depth func() int)
}

// FanoutService sequences announcement creation, recipient resolution,
// projection population, and live-push. The directory round-trip for
// role/"all" selectors runs on a background queue so the admin's create
// request never blocks on the roster service.
type FanoutService struct {
	announcements announcementCreator
	notifications notificationInserter
	roster        directoryRoster
	publisher     push.Publisher
	cache         fanoutCacheInvalidator
	metrics       fanoutRecorder
	validator     *validator.Validate
	logger        *zap.Logger

	queue            *jobs.Queue
	directoryTimeout time.Duration
	statusTTL        time.Duration

	states sync.Map // announcement id -> FanoutState
}

// FanoutConfig tunes the background worker pool.
type FanoutConfig struct {
	Workers          int
	QueueSize        int
	MaxRetries       int
	RetryDelay       time.Duration
	DirectoryTimeout time.Duration
	StatusTTL        time.Duration
}

// NewFanoutService constructs the orchestrator and its background queue.
func NewFanoutService(
	announcements announcementCreator,
	notifications notificationInserter,
	roster directoryRoster,
	publisher push.Publisher,
	cache fanoutCacheInvalidator,
	metrics fanoutRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg FanoutConfig,
) *FanoutService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DirectoryTimeout <= 0 {
		cfg.DirectoryTimeout = 30 * time.Second
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 10 * time.Minute
	}

	svc := &FanoutService{
		announcements:    announcements,
		notifications:    notifications,
		roster:           roster,
		publisher:        publisher,
		cache:            cache,
		metrics:          metrics,
		validator:        validate,
		logger:           logger,
		directoryTimeout: cfg.DirectoryTimeout,
		statusTTL:        cfg.StatusTTL,
	}
	svc.queue = jobs.NewQueue("fanout", svc.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.QueueSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	if metrics != nil {
		metrics.RegisterQueueDepth(svc.queue.Depth)
	}

	svc.validator.RegisterValidation("recipient", func(fl validator.FieldLevel) bool {
		token := fl.Field().String()
		return token != "" && !strings.ContainsAny(token, " \t\n")
	})
	return svc
}

// Start launches the background fan-out workers.
func (s *FanoutService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *FanoutService) Stop() {
	s.queue.Stop()
}

// AttachmentInput describes one stored attachment at creation time.
type AttachmentInput struct {
	Filename     string                `json:"filename"`
	OriginalName string                `json:"original_name"`
	ContentRef   string                `json:"content_ref" validate:"required"`
	Kind         models.AttachmentKind `json:"kind"`
	SizeBytes    int64                 `json:"size_bytes"`
}

// CreateAnnouncementRequest describes the create payload after transport
// decoding. Recipients default to broadcast when empty.
type CreateAnnouncementRequest struct {
	Title       string            `json:"title" validate:"required"`
	Body        string            `json:"body" validate:"required"`
	Urgent      bool              `json:"urgent"`
	Recipients  []string          `json:"recipients" validate:"omitempty,dive,recipient"`
	Attachments []AttachmentInput `json:"attachments" validate:"omitempty,max=5,dive"`
}

// CreateResult reports the durable announcement and the fan-out state the
// caller can relay to clients.
type CreateResult struct {
	Announcement      *models.Announcement
	Status            FanoutStatus
	NotificationCount int
}

type fanoutJobPayload struct {
	AnnouncementID string
	Title          string
	Urgent         bool
	Selector       models.Selector
	BearerToken    string
}

// Create validates and durably persists the announcement, materializes
// explicit-id recipients synchronously, and defers role/"all" resolution to
// the background queue. The announcement is committed before any fan-out, so
// a degraded directory never fails the request.
func (s *FanoutService) Create(ctx context.Context, req CreateAnnouncementRequest, sender *models.JWTClaims, bearerToken string) (*CreateResult, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid announcement payload")
	}
	if sender == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing sender principal")
	}

	sel := models.ParseSelector(req.Recipients)

	announcement := &models.Announcement{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Body:        req.Body,
		Urgent:      req.Urgent,
		Recipients:  sel.Tokens(),
		SenderID:    sender.UserID,
		SenderName:  sender.FullName,
		SenderEmail: sender.Email,
		SenderRole:  sender.Role,
	}
	for i, att := range req.Attachments {
		kind := att.Kind
		if kind == "" {
			kind = models.AttachmentKindDocument
		}
		announcement.Attachments = append(announcement.Attachments, models.Attachment{
			Filename:     att.Filename,
			OriginalName: att.OriginalName,
			ContentRef:   att.ContentRef,
			Kind:         kind,
			SizeBytes:    att.SizeBytes,
			Position:     i,
		})
	}

	if err := s.announcements.Create(ctx, announcement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist announcement")
	}

	// Explicit ids never need the directory; their projection rows and push
	// events happen before the response.
	inserted := s.materialize(ctx, announcement.ID, announcement.Title, announcement.Urgent, sel.UserIDs)

	if !sel.NeedsDirectory() {
		state := FanoutState{Status: FanoutComplete, RecipientCount: len(sel.UserIDs)}
		s.storeState(announcement.ID, state)
		s.record("sync", string(FanoutComplete), state.RecipientCount)
		if s.publisher != nil {
			s.publisher.PublishToAdmins(ctx, push.AnnouncementSentEvent(announcement.ID, announcement.Title, state.RecipientCount))
		}
		return &CreateResult{Announcement: announcement, Status: FanoutComplete, NotificationCount: inserted}, nil
	}

	state := FanoutState{Status: FanoutPending}
	s.storeState(announcement.ID, state)

	err := s.queue.Enqueue(jobs.Job{
		ID:   announcement.ID,
		Type: "fanout",
		Payload: fanoutJobPayload{
			AnnouncementID: announcement.ID,
			Title:          announcement.Title,
			Urgent:         announcement.Urgent,
			Selector:       sel,
			BearerToken:    bearerToken,
		},
	})
	if err != nil {
		// The announcement is durable and the visibility queries stay
		// correct; only the inbox projection for role/all recipients lags.
		s.logger.Error("enqueue fan-out failed", zap.String("announcement_id", announcement.ID), zap.Error(err))
		s.storeState(announcement.ID, FanoutState{Status: FanoutFailed, RecipientCount: len(sel.UserIDs)})
		s.record("async", string(FanoutFailed), len(sel.UserIDs))
		return &CreateResult{Announcement: announcement, Status: FanoutFailed, NotificationCount: inserted}, nil
	}

	if s.publisher != nil {
		// Optimistic nudge so connected clients refresh while resolution runs.
		s.publisher.Broadcast(ctx, push.NewAnnouncementEvent(announcement.ID, announcement.Title, announcement.Urgent))
		s.publisher.PublishToAdmins(ctx, push.AnnouncementSentEvent(announcement.ID, announcement.Title, push.RecipientCountPending))
	}
	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
	return &CreateResult{Announcement: announcement, Status: FanoutPending, NotificationCount: inserted}, nil
}

// storeState records the fan-out outcome. Terminal states are evicted after
// the retention window so the map does not grow with announcement history;
// CompareAndDelete keeps a late retry's newer state from being dropped early.
func (s *FanoutService) storeState(announcementID string, state FanoutState) {
	s.states.Store(announcementID, state)
	if state.Status == FanoutPending {
		return
	}
	time.AfterFunc(s.statusTTL, func() {
		s.states.CompareAndDelete(announcementID, state)
	})
}

// Status reports the fan-out outcome for an announcement, if known to this
// process. Projection rows remain the durable evidence either way.
func (s *FanoutService) Status(announcementID string) (FanoutState, bool) {
	value, ok := s.states.Load(announcementID)
	if !ok {
		return FanoutState{}, false
	}
	return value.(FanoutState), true
}

// handleJob resolves role/"all" recipients against the directory and
// finishes the deferred fan-out. Retries are bounded by the queue config;
// a final failure is logged and abandoned, never surfaced to the creator.
func (s *FanoutService) handleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(fanoutJobPayload)
	if !ok {
		s.logger.Error("fan-out job carried unexpected payload", zap.String("job_id", job.ID))
		return nil
	}

	dirCtx, cancel := context.WithTimeout(ctx, s.directoryTimeout)
	defer cancel()

	users, err := s.roster.ListUsers(dirCtx, payload.BearerToken)
	if err != nil {
		s.logger.Warn("directory lookup failed, fan-out degraded",
			zap.String("announcement_id", payload.AnnouncementID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		s.storeState(payload.AnnouncementID, FanoutState{Status: FanoutFailed})
		s.record("async", string(FanoutFailed), 0)
		return fmt.Errorf("fan-out directory lookup: %w", err)
	}

	recipients := ResolveRecipients(payload.Selector, users)
	if len(recipients) == 0 {
		// Legitimate with an empty roster snapshot; access stays governed by
		// the selector, only the inbox projection has nothing to show.
		s.logger.Info("fan-out resolved no recipients", zap.String("announcement_id", payload.AnnouncementID))
	}

	s.materialize(ctx, payload.AnnouncementID, payload.Title, payload.Urgent, recipients)

	state := FanoutState{Status: FanoutComplete, RecipientCount: len(recipients)}
	s.storeState(payload.AnnouncementID, state)
	s.record("async", string(FanoutComplete), len(recipients))
	if s.publisher != nil {
		s.publisher.PublishToAdmins(ctx, push.AnnouncementSentEvent(payload.AnnouncementID, payload.Title, len(recipients)))
	}
	return nil
}

// materialize writes projection rows for concrete recipient ids and emits
// their per-recipient push events. Row failures inside the batch are logged
// by the store and do not abort the rest.
func (s *FanoutService) materialize(ctx context.Context, announcementID, title string, urgent bool, recipients []string) int {
	if len(recipients) == 0 {
		return 0
	}
	rows := make([]models.Notification, 0, len(recipients))
	for _, userID := range recipients {
		rows = append(rows, models.Notification{
			UserID:         userID,
			AnnouncementID: announcementID,
			Title:          "New Important Information: " + title,
			Type:           models.NotificationTypeImportantInfo,
		})
	}
	inserted, err := s.notifications.BulkInsert(ctx, rows)
	if err != nil {
		s.logger.Error("projection insert failed", zap.String("announcement_id", announcementID), zap.Error(err))
		return 0
	}
	for _, userID := range recipients {
		if s.publisher != nil {
			s.publisher.PublishToUser(ctx, userID, push.NewAnnouncementEvent(announcementID, title, urgent))
		}
		if s.cache != nil {
			s.cache.InvalidateUnreadCount(ctx, userID)
		}
	}
	return inserted
}

func (s *FanoutService) record(mode, outcome string, recipients int) {
	if s.metrics != nil {
		s.metrics.RecordFanout(mode, outcome, recipients)
	}
}
