package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/models"
)

// NotificationRepository persists the derived per-recipient inbox rows.
type NotificationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewNotificationRepository creates the repository.
func NewNotificationRepository(db *sqlx.DB, logger *zap.Logger) *NotificationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationRepository{db: db, logger: logger}
}

// BulkInsert writes one projection row per recipient. Duplicate
// (user, announcement) pairs are skipped, and is_read is initialized from the
// announcement's read ledger so a recipient who marked the announcement read
// before fan-out finished never sees it resurrected as unread. A failing row
// is logged and skipped; the rest of the batch proceeds.
func (r *NotificationRepository) BulkInsert(ctx context.Context, rows []models.Notification) (int, error) {
	const query = `INSERT INTO notifications (user_id, announcement_id, title, type, is_read, created_at)
VALUES ($1, $2, $3, $4,
	EXISTS (SELECT 1 FROM announcement_reads ar WHERE ar.announcement_id = $2 AND ar.user_id = $1),
	$5)
ON CONFLICT (user_id, announcement_id) DO NOTHING`

	inserted := 0
	var lastErr error
	for _, row := range rows {
		createdAt := row.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		notifType := row.Type
		if notifType == "" {
			notifType = models.NotificationTypeImportantInfo
		}
		result, err := r.db.ExecContext(ctx, query, row.UserID, row.AnnouncementID, row.Title, notifType, createdAt)
		if err != nil {
			lastErr = err
			r.logger.Warn("insert notification row failed",
				zap.String("user_id", row.UserID),
				zap.String("announcement_id", row.AnnouncementID),
				zap.Error(err))
			continue
		}
		if affected, err := result.RowsAffected(); err == nil {
			inserted += int(affected)
		}
	}
	if inserted == 0 && lastErr != nil {
		return 0, fmt.Errorf("bulk insert notifications: %w", lastErr)
	}
	return inserted, nil
}

// MarkRead flips a projection row to read. A missing row is a no-op: fan-out
// may still be in flight, and the read ledger already holds the truth.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, announcementID string) error {
	const query = `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND announcement_id = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, announcementID); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead flips every unread row for the user and reports how many.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	const query = `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return affected, nil
}

// DeleteFor removes one row; used when a user soft-deletes an announcement.
func (r *NotificationRepository) DeleteFor(ctx context.Context, userID, announcementID string) error {
	const query = `DELETE FROM notifications WHERE user_id = $1 AND announcement_id = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, announcementID); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

// DeleteAllForUser clears the user's inbox.
func (r *NotificationRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}
	return nil
}

// DeleteAllForAnnouncement removes every projection row of an announcement;
// part of the hard-purge cascade for stores without FK cascade support.
func (r *NotificationRepository) DeleteAllForAnnouncement(ctx context.Context, announcementID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE announcement_id = $1`, announcementID); err != nil {
		return fmt.Errorf("delete announcement notifications: %w", err)
	}
	return nil
}

// CountUnread returns the user's unread badge count from the projection.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// ListPaged returns the user's notifications newest first.
func (r *NotificationRepository) ListPaged(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	query := fmt.Sprintf(`SELECT user_id, announcement_id, title, type, is_read, created_at
FROM notifications WHERE user_id = $1
ORDER BY created_at DESC
LIMIT %d OFFSET %d`, pageSize, (page-1)*pageSize)

	var rows []models.Notification
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return rows, total, nil
}
