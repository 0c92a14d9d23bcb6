package models

import "time"

// TimesheetFilter selects completed lessons for a teacher inside [From, To).
type TimesheetFilter struct {
	TeacherID string
	From      time.Time
	To        time.Time
}

// TimesheetEntry is one completed lesson counted towards payable hours.
type TimesheetEntry struct {
	LessonID      string     `db:"id" json:"lesson_id"`
	Subject       string     `db:"subject" json:"subject"`
	StudentEmail  string     `db:"student_email" json:"student_email"`
	DateTime      time.Time  `db:"date_time" json:"date_time"`
	ScheduledMins int        `db:"duration_minutes" json:"scheduled_minutes"`
	WorkedMinutes int        `db:"worked_minutes" json:"worked_minutes"`
	ClockInAt     *time.Time `db:"clock_in_at" json:"clock_in_at,omitempty"`
	ClockOutAt    *time.Time `db:"clock_out_at" json:"clock_out_at,omitempty"`
}

// Manual reports whether the entry was completed without clock stamps.
func (e TimesheetEntry) Manual() bool {
	return e.ClockInAt == nil && e.ClockOutAt == nil
}

// Timesheet aggregates completed lessons for payroll.
type Timesheet struct {
	TeacherID    string           `json:"teacher_id"`
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
	Entries      []TimesheetEntry `json:"entries"`
	TotalLessons int              `json:"total_lessons"`
	TotalMinutes int              `json:"total_minutes"`
	TotalHours   float64          `json:"total_hours"`
}
