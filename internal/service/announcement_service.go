package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/models"
	"github.com/traveltour/important-info-api/internal/push"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
)

type announcementRepository interface {
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	ListAll(ctx context.Context, page, pageSize int) ([]models.Announcement, int, error)
	ListVisible(ctx context.Context, filter models.VisibilityFilter) ([]models.AnnouncementWithReadState, int, error)
	CountUnread(ctx context.Context, userID string, role models.UserRole) (int, error)
	IsVisible(ctx context.Context, id, userID string, role models.UserRole) (bool, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	SoftDeleteFor(ctx context.Context, id, userID string, at time.Time) error
	Purge(ctx context.Context, id string) error
}

type notificationProjection interface {
	MarkRead(ctx context.Context, userID, announcementID string) error
	DeleteFor(ctx context.Context, userID, announcementID string) error
	DeleteAllForAnnouncement(ctx context.Context, announcementID string) error
}

type unreadCountCache interface {
	GetUnreadCount(ctx context.Context, userID string) (int, error)
	SetUnreadCount(ctx context.Context, userID string, count int, ttl time.Duration) error
	InvalidateUnreadCount(ctx context.Context, userID string)
}

type attachmentFiles interface {
	Delete(relPath string) error
}

type cacheLookupRecorder interface {
	RecordCacheLookup(hit bool)
}

// AnnouncementService owns read/delete state and visibility queries for
// announcements. Visibility answers come straight from the canonical record
// and its ledgers, so they are correct even while fan-out is incomplete.
type AnnouncementService struct {
	repo      announcementRepository
	projector notificationProjection
	cache     unreadCountCache
	files     attachmentFiles
	publisher push.Publisher
	metrics   cacheLookupRecorder
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewAnnouncementService constructs the service. cache, files, publisher and
// metrics may be nil; the service degrades to uncached, push-less behaviour.
func NewAnnouncementService(
	repo announcementRepository,
	projector notificationProjection,
	cache unreadCountCache,
	files attachmentFiles,
	publisher push.Publisher,
	metrics cacheLookupRecorder,
	logger *zap.Logger,
	cacheTTL time.Duration,
) *AnnouncementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &AnnouncementService{
		repo:      repo,
		projector: projector,
		cache:     cache,
		files:     files,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cacheTTL:  cacheTTL,
	}
}

// Get returns an announcement by id.
func (s *AnnouncementService) Get(ctx context.Context, id string) (*models.Announcement, error) {
	announcement, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get announcement")
	}
	return announcement, nil
}

// GetVisible returns an announcement only when the visibility predicate
// holds for the caller. Announcements outside the caller's selector, and
// ones the caller soft-deleted, are indistinguishable from missing ones.
func (s *AnnouncementService) GetVisible(ctx context.Context, id, userID string, role models.UserRole) (*models.Announcement, error) {
	announcement, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	visible, err := s.repo.IsVisible(ctx, id, userID, role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check announcement visibility")
	}
	if !visible {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
	}
	return announcement, nil
}

// ListAll returns every announcement for the admin overview.
func (s *AnnouncementService) ListAll(ctx context.Context, page, pageSize int) ([]models.Announcement, *models.Pagination, error) {
	items, total, err := s.repo.ListAll(ctx, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list announcements")
	}
	return items, paginationFor(page, pageSize, total), nil
}

// ListVisible returns announcements visible to the user, newest first, each
// annotated with the caller's read state.
func (s *AnnouncementService) ListVisible(ctx context.Context, userID string, role models.UserRole, page, pageSize int) ([]models.AnnouncementWithReadState, *models.Pagination, error) {
	items, total, err := s.repo.ListVisible(ctx, models.VisibilityFilter{
		UserID:   userID,
		Role:     role,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list visible announcements")
	}
	return items, paginationFor(page, pageSize, total), nil
}

// UnreadCount answers the badge query from the ledgers, with a short-TTL
// cache in front. Does not depend on the notifications projection.
func (s *AnnouncementService) UnreadCount(ctx context.Context, userID string, role models.UserRole) (int, error) {
	if s.cache != nil {
		if count, err := s.cache.GetUnreadCount(ctx, userID); err == nil {
			s.recordCacheLookup(true)
			return count, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("unread cache lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		s.recordCacheLookup(false)
	}

	count, err := s.repo.CountUnread(ctx, userID, role)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread announcements")
	}
	if s.cache != nil {
		if err := s.cache.SetUnreadCount(ctx, userID, count, s.cacheTTL); err != nil {
			s.logger.Warn("unread cache store failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return count, nil
}

func (s *AnnouncementService) recordCacheLookup(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(hit)
	}
}

// MarkRead appends the user to the read ledger and mirrors the flag into the
// projection. Idempotent; the ledger is the binding source of truth, so the
// projection update is allowed to no-op while fan-out is in flight.
func (s *AnnouncementService) MarkRead(ctx context.Context, id, userID string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.MarkRead(ctx, id, userID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark announcement read")
	}
	if s.projector != nil {
		if err := s.projector.MarkRead(ctx, userID, id); err != nil {
			s.logger.Warn("projection mark-read failed", zap.String("announcement_id", id), zap.String("user_id", userID), zap.Error(err))
		}
	}
	if s.cache != nil {
		s.cache.InvalidateUnreadCount(ctx, userID)
	}
	if s.publisher != nil {
		s.publisher.PublishToUser(ctx, userID, push.NotificationUpdatedEvent())
	}
	return nil
}

// SoftDeleteFor hides the announcement from one user. The canonical record
// and every other user's ledgers stay untouched.
func (s *AnnouncementService) SoftDeleteFor(ctx context.Context, id, userID string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SoftDeleteFor(ctx, id, userID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete announcement for user")
	}
	if s.projector != nil {
		if err := s.projector.DeleteFor(ctx, userID, id); err != nil {
			s.logger.Warn("projection delete failed", zap.String("announcement_id", id), zap.String("user_id", userID), zap.Error(err))
		}
	}
	if s.cache != nil {
		s.cache.InvalidateUnreadCount(ctx, userID)
	}
	return nil
}

// Purge irreversibly removes the announcement, its projection rows, and its
// locally stored attachment files. Admin only; enforced at the route.
func (s *AnnouncementService) Purge(ctx context.Context, id string) error {
	announcement, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Purge(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge announcement")
	}
	if s.projector != nil {
		if err := s.projector.DeleteAllForAnnouncement(ctx, id); err != nil {
			s.logger.Warn("projection purge cascade failed", zap.String("announcement_id", id), zap.Error(err))
		}
	}
	s.releaseAttachments(announcement)
	return nil
}

// releaseAttachments best-effort deletes locally stored files. Refs pointing
// at external storage are left alone.
func (s *AnnouncementService) releaseAttachments(announcement *models.Announcement) {
	if s.files == nil {
		return
	}
	for _, att := range announcement.Attachments {
		rel := localAttachmentPath(att)
		if rel == "" {
			continue
		}
		if err := s.files.Delete(rel); err != nil {
			s.logger.Warn("release attachment failed", zap.String("attachment", att.Filename), zap.Error(err))
		}
	}
}

// localAttachmentPath derives the on-disk relative path for locally stored
// attachments from their kind directory and stored filename.
func localAttachmentPath(att models.Attachment) string {
	if att.Filename == "" || strings.Contains(att.Filename, "..") {
		return ""
	}
	switch att.Kind {
	case models.AttachmentKindPDF:
		return "pdf/" + att.Filename
	case models.AttachmentKindImage:
		return "images/" + att.Filename
	default:
		return "documents/" + att.Filename
	}
}

func paginationFor(page, pageSize, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}
	totalPages := total / pageSize
	if total%pageSize != 0 {
		totalPages++
	}
	return &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total, TotalPages: totalPages}
}
