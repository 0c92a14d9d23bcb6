package models

import "time"

// NotificationKind enumerates lesson events delivered to participants.
type NotificationKind string

const (
	NotificationLessonBooked    NotificationKind = "LESSON_BOOKED"
	NotificationLessonCancelled NotificationKind = "LESSON_CANCELLED"
	NotificationLessonCompleted NotificationKind = "LESSON_COMPLETED"
	NotificationLessonDeleted   NotificationKind = "LESSON_DELETED"
)

// Notification is an inbox message for a user, keyed by id or by email when the
// recipient has no resolved account.
type Notification struct {
	ID             string           `db:"id" json:"id"`
	RecipientID    *string          `db:"recipient_id" json:"recipient_id,omitempty"`
	RecipientEmail *string          `db:"recipient_email" json:"recipient_email,omitempty"`
	LessonID       string           `db:"lesson_id" json:"lesson_id"`
	Kind           NotificationKind `db:"kind" json:"kind"`
	Message        string           `db:"message" json:"message"`
	ReadAt         *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// LessonEvent is the payload handed to the notification dispatcher.
type LessonEvent struct {
	Kind   NotificationKind
	Lesson Lesson
	Reason string
	At     time.Time
}

// NotificationFilter scopes inbox listings.
type NotificationFilter struct {
	RecipientID    string
	RecipientEmail string
	UnreadOnly     bool
	Page           int
	PageSize       int
}
