package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/models"
)

// The insert must seed is_read from the read ledger, so a recipient who
// marked the announcement read before fan-out finished never sees it
// resurrected as unread.
var bulkInsertReadLedger = regexp.QuoteMeta("EXISTS (SELECT 1 FROM announcement_reads ar WHERE ar.announcement_id = $2 AND ar.user_id = $1)")

func TestNotificationRepositoryBulkInsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db, zap.NewNop())

	mock.ExpectExec(bulkInsertReadLedger).
		WithArgs("u-1", "ann-1", "New Important Information: Exam", string(models.NotificationTypeImportantInfo), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(bulkInsertReadLedger).
		WithArgs("u-2", "ann-1", "New Important Information: Exam", string(models.NotificationTypeImportantInfo), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.BulkInsert(context.Background(), []models.Notification{
		{UserID: "u-1", AnnouncementID: "ann-1", Title: "New Important Information: Exam"},
		{UserID: "u-2", AnnouncementID: "ann-1", Title: "New Important Information: Exam"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryBulkInsertSkipsFailedRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs("u-1", "ann-1", "Exam", string(models.NotificationTypeImportantInfo), sqlmock.AnyArg()).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs("u-2", "ann-1", "Exam", string(models.NotificationTypeImportantInfo), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.BulkInsert(context.Background(), []models.Notification{
		{UserID: "u-1", AnnouncementID: "ann-1", Title: "Exam"},
		{UserID: "u-2", AnnouncementID: "ann-1", Title: "Exam"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestNotificationRepositoryBulkInsertAllRowsFailed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnError(errors.New("db down"))

	_, err := repo.BulkInsert(context.Background(), []models.Notification{
		{UserID: "u-1", AnnouncementID: "ann-1", Title: "Exam"},
	})
	require.Error(t, err)
}

func TestNotificationRepositoryMarkAllRead(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE")).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.MarkAllRead(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
}

func TestNotificationRepositoryListPaged(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db, zap.NewNop())

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"user_id", "announcement_id", "title", "type", "is_read", "created_at"}).
		AddRow("u-1", "ann-2", "Newer", "important-info", false, now).
		AddRow("u-1", "ann-1", "Older", "important-info", true, now.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE user_id = $1")).
		WithArgs("u-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE user_id = $1")).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	items, total, err := repo.ListPaged(context.Background(), "u-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, "ann-2", items[0].AnnouncementID)
	assert.False(t, items[0].IsRead)
}

func TestNotificationRepositoryDeleteAllForUser(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE user_id = $1")).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 5))

	require.NoError(t, repo.DeleteAllForUser(context.Background(), "u-1"))
}
