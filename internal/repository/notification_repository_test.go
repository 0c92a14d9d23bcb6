package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-api/internal/models"
)

func TestCreateNotification(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	email := "kid@example.com"
	n := &models.Notification{RecipientEmail: &email, LessonID: "lesson-1", Kind: models.NotificationLessonBooked, Message: "booked"}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.NotEmpty(t, n.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnreadNotifications(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "recipient_id", "recipient_email", "lesson_id", "kind", "message", "read_at", "created_at"}).
		AddRow("n-1", "teacher-1", nil, "lesson-1", string(models.NotificationLessonCancelled), "cancelled", nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE (recipient_id = $1 OR LOWER(recipient_email) = $2) AND read_at IS NULL ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("teacher-1", "teacher@example.com").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.NotificationFilter{RecipientID: "teacher-1", RecipientEmail: "Teacher@example.com", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.NotificationLessonCancelled, items[0].Kind)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationRead(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read_at = COALESCE(read_at, $4)")).
		WithArgs("n-1", "parent-1", "parent@example.com", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkRead(context.Background(), "n-1", "parent-1", "parent@example.com", at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
