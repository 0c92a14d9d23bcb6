package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-api/internal/models"
)

const notificationColumns = `id, recipient_id, recipient_email, lesson_id, kind, message, read_at, created_at`

// NotificationRepository persists inbox messages about lesson events.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a notification. Re-inserting the same id is a no-op so retried deliveries stay single.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, recipient_id, recipient_email, lesson_id, kind, message, created_at)
VALUES (:id, :recipient_id, :recipient_email, :lesson_id, :kind, :message, :created_at)
ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// List returns the recipient's notifications newest first, with the total count.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	args := []interface{}{filter.RecipientID, strings.ToLower(filter.RecipientEmail)}
	baseQuery := `FROM notifications WHERE (recipient_id = $1 OR LOWER(recipient_email) = $2)`
	if filter.UnreadOnly {
		baseQuery += ` AND read_at IS NULL`
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", notificationColumns, baseQuery, pageSize, offset)
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead stamps read_at on a notification owned by the recipient. It reports whether a row matched.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID, recipientEmail string, at time.Time) (bool, error) {
	const query = `UPDATE notifications SET read_at = COALESCE(read_at, $4)
WHERE id = $1 AND (recipient_id = $2 OR LOWER(recipient_email) = $3)`
	res, err := r.db.ExecContext(ctx, query, id, recipientID, strings.ToLower(recipientEmail), at)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows: %w", err)
	}
	return affected > 0, nil
}
