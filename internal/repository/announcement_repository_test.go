package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traveltour/important-info-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestAnnouncementRepositoryCreateWithAttachments(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcements")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcement_attachments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	announcement := &models.Announcement{
		Title:      "Maintenance",
		Body:       "Saturday night.",
		Recipients: []string{"all"},
		SenderID:   "admin-1",
		Attachments: []models.Attachment{
			{Filename: "plan.pdf", OriginalName: "plan.pdf", ContentRef: "uploads/pdf/plan.pdf", Kind: models.AttachmentKindPDF},
		},
	}
	err := repo.Create(context.Background(), announcement)
	require.NoError(t, err)
	assert.NotEmpty(t, announcement.ID)
	assert.Equal(t, announcement.ID, announcement.Attachments[0].AnnouncementID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryListVisible(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "title", "body", "urgent", "recipients", "sender_id", "sender_name", "sender_email", "sender_role", "created_at", "updated_at", "is_read",
	}).AddRow("ann-1", "Maintenance", "Saturday", false, "{all}", "admin-1", "Admin", "a@example.com", "admin", now, now, true)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id, a.title")).
		WithArgs(sqlmock.AnyArg(), "user-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM announcements a")).
		WithArgs(sqlmock.AnyArg(), "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM announcement_attachments")).
		WithArgs("ann-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "announcement_id", "filename", "original_name", "content_ref", "kind", "size_bytes", "position"}))

	items, total, err := repo.ListVisible(context.Background(), models.VisibilityFilter{
		UserID: "user-1", Role: models.RoleStudent, Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.True(t, items[0].IsRead)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryCountUnread(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM announcements a")).
		WithArgs(sqlmock.AnyArg(), "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountUnread(context.Background(), "user-1", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestAnnouncementRepositoryMarkRead(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcement_reads")).
		WithArgs("ann-1", "user-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET updated_at")).
		WithArgs("ann-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRead(context.Background(), "ann-1", "user-1", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryMarkReadRetriesOnce(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcement_reads")).
		WithArgs("ann-1", "user-1", at).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcement_reads")).
		WithArgs("ann-1", "user-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET updated_at")).
		WithArgs("ann-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRead(context.Background(), "ann-1", "user-1", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositorySoftDeleteFor(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcement_deletes")).
		WithArgs("ann-1", "user-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET updated_at")).
		WithArgs("ann-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SoftDeleteFor(context.Background(), "ann-1", "user-1", at))
}

func TestAnnouncementRepositoryPurgeUnknownID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM announcements WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Purge(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAnnouncementRepositoryIsVisible(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(sqlmock.AnyArg(), "user-1", "ann-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	visible, err := repo.IsVisible(context.Background(), "ann-1", "user-1", models.RoleStudent)
	require.NoError(t, err)
	assert.False(t, visible)
}
