package models

import "time"

// LessonStatus is the lifecycle state of a lesson.
type LessonStatus string

const (
	LessonStatusBooked     LessonStatus = "booked"
	LessonStatusInProgress LessonStatus = "in_progress"
	LessonStatusCompleted  LessonStatus = "completed"
	LessonStatusCancelled  LessonStatus = "cancelled"
)

// Blocking reports whether a lesson in this state occupies the teacher's calendar.
func (s LessonStatus) Blocking() bool {
	return s == LessonStatusBooked || s == LessonStatusInProgress
}

// Terminal reports whether no further transition is possible.
func (s LessonStatus) Terminal() bool {
	return s == LessonStatusCompleted || s == LessonStatusCancelled
}

// Valid reports whether s is a known status.
func (s LessonStatus) Valid() bool {
	switch s {
	case LessonStatusBooked, LessonStatusInProgress, LessonStatusCompleted, LessonStatusCancelled:
		return true
	}
	return false
}

// Lesson is a tutoring session between a teacher and a student.
type Lesson struct {
	ID              string       `db:"id" json:"id"`
	TeacherID       string       `db:"teacher_id" json:"teacher_id"`
	StudentEmail    string       `db:"student_email" json:"student_email"`
	StudentID       *string      `db:"student_id" json:"student_id,omitempty"`
	BookedBy        string       `db:"booked_by" json:"booked_by"`
	Subject         string       `db:"subject" json:"subject"`
	DateTime        time.Time    `db:"date_time" json:"date_time"`
	DurationMinutes int          `db:"duration_minutes" json:"duration_minutes"`
	Status          LessonStatus `db:"status" json:"status"`
	ClockInAt       *time.Time   `db:"clock_in_at" json:"clock_in_at,omitempty"`
	ClockOutAt      *time.Time   `db:"clock_out_at" json:"clock_out_at,omitempty"`
	WorkedMinutes   *int         `db:"worked_minutes" json:"worked_minutes,omitempty"`
	CancelledAt     *time.Time   `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// EndTime returns the exclusive end of the lesson interval.
func (l Lesson) EndTime() time.Time {
	return l.DateTime.Add(time.Duration(l.DurationMinutes) * time.Minute)
}

// HasClockActivity reports whether either clock stamp is set.
func (l Lesson) HasClockActivity() bool {
	return l.ClockInAt != nil || l.ClockOutAt != nil
}

// LessonFilter describes query params for listing lessons.
type LessonFilter struct {
	TeacherID string
	// ParticipantID and ParticipantEmail scope results to lessons a parent/student booked or attends.
	ParticipantID    string
	ParticipantEmail string
	Statuses         []LessonStatus
	From             *time.Time
	To               *time.Time
	Page             int
	PageSize         int
	SortOrder        string
}

// LessonTransition describes a conditional status change applied atomically by the store.
type LessonTransition struct {
	LessonID      string
	From          LessonStatus
	To            LessonStatus
	ClockInAt     *time.Time
	ClockOutAt    *time.Time
	WorkedMinutes *int
	CancelledAt   *time.Time
	// RequireNoClock additionally guards on both clock stamps being unset.
	RequireNoClock bool
	At             time.Time
}

// LessonConflict describes the lesson or constraint blocking a booking.
type LessonConflict struct {
	Dimension    string       `json:"dimension"`
	LessonID     string       `json:"lesson_id,omitempty"`
	ConstraintID string       `json:"constraint_id,omitempty"`
	Start        time.Time    `json:"start"`
	End          time.Time    `json:"end"`
	Note         string       `json:"note,omitempty"`
	Status       LessonStatus `json:"status,omitempty"`
}

// Conflict dimensions.
const (
	ConflictDimensionLesson     = "LESSON"
	ConflictDimensionConstraint = "CONSTRAINT"
)

// LessonConflictError is returned when a booking collides with the teacher's calendar.
type LessonConflictError struct {
	Message  string         `json:"message"`
	Conflict LessonConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *LessonConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
