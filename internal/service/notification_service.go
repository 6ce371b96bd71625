package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/models"
	"github.com/traveltour/important-info-api/internal/push"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
)

type notificationStore interface {
	ListPaged(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, announcementID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	DeleteAllForUser(ctx context.Context, userID string) error
}

type notificationCache interface {
	InvalidateUnreadCount(ctx context.Context, userID string)
}

// NotificationService serves the per-user inbox built by fan-out. It only
// touches projection rows; the announcement ledgers are owned elsewhere.
type NotificationService struct {
	store     notificationStore
	cache     notificationCache
	publisher push.Publisher
	logger    *zap.Logger
}

// NewNotificationService constructs the service. cache and publisher may be
// nil.
func NewNotificationService(store notificationStore, cache notificationCache, publisher push.Publisher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{store: store, cache: cache, publisher: publisher, logger: logger}
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, *models.Pagination, error) {
	rows, total, err := s.store.ListPaged(ctx, userID, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return rows, paginationFor(page, pageSize, total), nil
}

// CountUnread reports the unread rows in the user's inbox projection.
func (s *NotificationService) CountUnread(ctx context.Context, userID string) (int, error) {
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkAllRead flips every unread inbox row for the user and reports how many
// changed. The announcement read ledger is untouched; an all-read inbox does
// not mean every announcement has a read receipt.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	affected, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	if s.cache != nil {
		s.cache.InvalidateUnreadCount(ctx, userID)
	}
	if s.publisher != nil {
		s.publisher.PublishToUser(ctx, userID, push.AllReadEvent())
	}
	return affected, nil
}

// ClearAll empties the user's inbox projection.
func (s *NotificationService) ClearAll(ctx context.Context, userID string) error {
	if err := s.store.DeleteAllForUser(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear notifications")
	}
	if s.cache != nil {
		s.cache.InvalidateUnreadCount(ctx, userID)
	}
	if s.publisher != nil {
		s.publisher.PublishToUser(ctx, userID, push.NotificationsClearedEvent())
	}
	return nil
}
