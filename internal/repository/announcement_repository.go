package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/traveltour/important-info-api/internal/models"
)

const announcementColumns = `id, title, body, urgent, recipients, sender_id, sender_name, sender_email, sender_role, created_at, updated_at`

// Visibility predicate shared by the feed, unread-count, and read-state
// queries: the selector overlaps {all, role token, user id} and the user has
// not soft-deleted the announcement. It never consults the notifications
// projection, so results are correct while fan-out is still in flight.
const visibleWhere = `a.recipients && $1
AND NOT EXISTS (SELECT 1 FROM announcement_deletes d WHERE d.announcement_id = a.id AND d.user_id = $2)`

// AnnouncementRepository provides persistence for announcements, their
// attachments, and the per-user read/delete ledgers.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository creates the repository.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// Create inserts the announcement and its attachments in one transaction.
func (r *AnnouncementRepository) Create(ctx context.Context, announcement *models.Announcement) error {
	if announcement.ID == "" {
		announcement.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = now
	}
	announcement.UpdatedAt = announcement.CreatedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create announcement: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO announcements (id, title, body, urgent, recipients, sender_id, sender_name, sender_email, sender_role, created_at, updated_at)
VALUES (:id, :title, :body, :urgent, :recipients, :sender_id, :sender_name, :sender_email, :sender_role, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, announcement); err != nil {
		return fmt.Errorf("create announcement: %w", err)
	}

	const attachmentQuery = `INSERT INTO announcement_attachments (id, announcement_id, filename, original_name, content_ref, kind, size_bytes, position)
VALUES (:id, :announcement_id, :filename, :original_name, :content_ref, :kind, :size_bytes, :position)`
	for i := range announcement.Attachments {
		att := &announcement.Attachments[i]
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		att.AnnouncementID = announcement.ID
		att.Position = i
		if _, err := tx.NamedExecContext(ctx, attachmentQuery, att); err != nil {
			return fmt.Errorf("create attachment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create announcement: %w", err)
	}
	return nil
}

// GetByID returns an announcement with its attachments.
func (r *AnnouncementRepository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s FROM announcements WHERE id = $1`, announcementColumns)
	var announcement models.Announcement
	if err := r.db.GetContext(ctx, &announcement, query, id); err != nil {
		return nil, err
	}
	if err := r.loadAttachments(ctx, &announcement); err != nil {
		return nil, err
	}
	return &announcement, nil
}

// ListAll returns every announcement newest first, for the admin overview.
func (r *AnnouncementRepository) ListAll(ctx context.Context, page, pageSize int) ([]models.Announcement, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	query := fmt.Sprintf(`SELECT %s FROM announcements ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		announcementColumns, pageSize, (page-1)*pageSize)

	var announcements []models.Announcement
	if err := r.db.SelectContext(ctx, &announcements, query); err != nil {
		return nil, 0, fmt.Errorf("list announcements: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM announcements`); err != nil {
		return nil, 0, fmt.Errorf("count announcements: %w", err)
	}
	for i := range announcements {
		if err := r.loadAttachments(ctx, &announcements[i]); err != nil {
			return nil, 0, err
		}
	}
	return announcements, total, nil
}

// ListVisible returns announcements visible to the user, newest first, each
// annotated with the caller's read state.
func (r *AnnouncementRepository) ListVisible(ctx context.Context, filter models.VisibilityFilter) ([]models.AnnouncementWithReadState, int, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	tokens := pq.Array(models.SelectorTokensForUser(filter.UserID, filter.Role))

	query := fmt.Sprintf(`SELECT a.id, a.title, a.body, a.urgent, a.recipients, a.sender_id, a.sender_name, a.sender_email, a.sender_role, a.created_at, a.updated_at,
EXISTS (SELECT 1 FROM announcement_reads r WHERE r.announcement_id = a.id AND r.user_id = $2) AS is_read
FROM announcements a
WHERE %s
ORDER BY a.created_at DESC
LIMIT %d OFFSET %d`, visibleWhere, pageSize, (page-1)*pageSize)

	var items []models.AnnouncementWithReadState
	if err := r.db.SelectContext(ctx, &items, query, tokens, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("list visible announcements: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM announcements a WHERE %s`, visibleWhere)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, tokens, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("count visible announcements: %w", err)
	}

	for i := range items {
		if err := r.loadAttachments(ctx, &items[i].Announcement); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// CountUnread counts visible announcements the user has not read yet.
func (r *AnnouncementRepository) CountUnread(ctx context.Context, userID string, role models.UserRole) (int, error) {
	tokens := pq.Array(models.SelectorTokensForUser(userID, role))
	query := fmt.Sprintf(`SELECT COUNT(*) FROM announcements a
WHERE %s
AND NOT EXISTS (SELECT 1 FROM announcement_reads r WHERE r.announcement_id = a.id AND r.user_id = $2)`, visibleWhere)

	var count int
	if err := r.db.GetContext(ctx, &count, query, tokens, userID); err != nil {
		return 0, fmt.Errorf("count unread announcements: %w", err)
	}
	return count, nil
}

// IsVisible evaluates the visibility predicate for a single announcement.
func (r *AnnouncementRepository) IsVisible(ctx context.Context, id, userID string, role models.UserRole) (bool, error) {
	tokens := pq.Array(models.SelectorTokensForUser(userID, role))
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM announcements a WHERE a.id = $3 AND %s)`, visibleWhere)

	var visible bool
	if err := r.db.GetContext(ctx, &visible, query, tokens, userID, id); err != nil {
		return false, fmt.Errorf("check visibility: %w", err)
	}
	return visible, nil
}

// MarkRead appends to the read ledger if the user is absent, then bumps
// updated_at. Safe to call concurrently and repeatedly: the primary key plus
// ON CONFLICT DO NOTHING make the append atomic and idempotent.
func (r *AnnouncementRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	const query = `INSERT INTO announcement_reads (announcement_id, user_id, read_at)
VALUES ($1, $2, $3) ON CONFLICT (announcement_id, user_id) DO NOTHING`
	if err := r.appendLedger(ctx, query, id, userID, at); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SoftDeleteFor appends to the per-user delete ledger. Removes visibility
// for that user only; the canonical record is untouched.
func (r *AnnouncementRepository) SoftDeleteFor(ctx context.Context, id, userID string, at time.Time) error {
	const query = `INSERT INTO announcement_deletes (announcement_id, user_id, deleted_at)
VALUES ($1, $2, $3) ON CONFLICT (announcement_id, user_id) DO NOTHING`
	if err := r.appendLedger(ctx, query, id, userID, at); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	return nil
}

// appendLedger executes an insert-if-absent ledger write with one transparent
// retry for transient failures, then updates the parent's updated_at.
func (r *AnnouncementRepository) appendLedger(ctx context.Context, query string, id, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, query, id, userID, at)
	if err != nil {
		if _, err = r.db.ExecContext(ctx, query, id, userID, at); err != nil {
			return err
		}
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE announcements SET updated_at = $2 WHERE id = $1`, id, at); err != nil {
		return err
	}
	return nil
}

// HasRead reports whether the user appears in the read ledger.
func (r *AnnouncementRepository) HasRead(ctx context.Context, id, userID string) (bool, error) {
	var read bool
	const query = `SELECT EXISTS (SELECT 1 FROM announcement_reads WHERE announcement_id = $1 AND user_id = $2)`
	if err := r.db.GetContext(ctx, &read, query, id, userID); err != nil {
		return false, fmt.Errorf("check read ledger: %w", err)
	}
	return read, nil
}

// Purge irreversibly removes the announcement; ledgers, attachments rows and
// projection rows go with it via ON DELETE CASCADE. Returns sql.ErrNoRows
// when the id is unknown.
func (r *AnnouncementRepository) Purge(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("purge announcement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("purge announcement: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *AnnouncementRepository) loadAttachments(ctx context.Context, announcement *models.Announcement) error {
	const query = `SELECT id, announcement_id, filename, original_name, content_ref, kind, size_bytes, position
FROM announcement_attachments WHERE announcement_id = $1 ORDER BY position`
	if err := r.db.SelectContext(ctx, &announcement.Attachments, query, announcement.ID); err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}
