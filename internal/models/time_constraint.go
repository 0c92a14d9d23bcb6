package models

import (
	"fmt"
	"strconv"
	"time"
)

// TimeConstraint is a weekly recurring window in which a teacher cannot be booked.
type TimeConstraint struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	Note      *string   `db:"note" json:"note,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Weekday returns the constraint's day as a time.Weekday (Sunday=0).
func (c TimeConstraint) Weekday() time.Weekday {
	return time.Weekday(c.DayOfWeek)
}

// On projects the constraint onto a calendar date, returning the absolute [start, end) interval.
func (c TimeConstraint) On(date time.Time) (time.Time, time.Time, error) {
	start, err := ParseClock(c.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseClock(c.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return AtClock(date, start), AtClock(date, end), nil
}

// ParseClock converts "HH:MM" into an offset from midnight. "24:00" is accepted as end of day.
func ParseClock(value string) (time.Duration, error) {
	if len(value) != 5 || value[2] != ':' {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	h, err := strconv.Atoi(value[:2])
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	m, err := strconv.Atoi(value[3:])
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AtClock returns the wall-clock instant offset from midnight of date's calendar day.
// Times skipped by a DST jump are normalised by time.Date; see ExactClock.
func AtClock(date time.Time, offset time.Duration) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, int(offset/time.Minute), 0, 0, date.Location())
}

// ExactClock is AtClock that reports false when the wall time does not exist on that day,
// as on a spring-forward date.
func ExactClock(date time.Time, offset time.Duration) (time.Time, bool) {
	t := AtClock(date, offset)
	if offset >= 24*time.Hour {
		return t, true
	}
	return t, time.Duration(t.Hour())*time.Hour+time.Duration(t.Minute())*time.Minute == offset
}
