package service

import (
	"time"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// Slot window defaults.
const (
	DefaultSlotGranularity = 30 * time.Minute
	DefaultDayStart        = 8 * time.Hour
	DefaultDayEnd          = 21 * time.Hour
)

// SlotWindow is the part of a day in which lessons may start and end, as offsets from midnight.
type SlotWindow struct {
	DayStart    time.Duration
	DayEnd      time.Duration
	Granularity time.Duration
}

func (w SlotWindow) normalized() SlotWindow {
	if w.Granularity <= 0 {
		w.Granularity = DefaultSlotGranularity
	}
	if w.DayStart == 0 && w.DayEnd == 0 {
		w.DayStart, w.DayEnd = DefaultDayStart, DefaultDayEnd
	}
	return w
}

// SlotQuery holds every input of a slot computation. Date carries the scheduling location.
type SlotQuery struct {
	Date            time.Time
	DurationMinutes int
	Window          SlotWindow
	Now             time.Time
	Notice          time.Duration
	LeadTime        time.Duration
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ComputeSlots returns the ascending start instants on q.Date at which a lesson of
// q.DurationMinutes fits inside the window without touching a blocking lesson or a
// constraint recurring on that weekday, and which respect the notice and lead time
// relative to q.Now. The result is never nil.
func ComputeSlots(q SlotQuery, lessons []models.Lesson, constraints []models.TimeConstraint) []time.Time {
	candidates := CandidateSlots(q.Date, q.DurationMinutes, q.Window, lessons, constraints)
	return FilterBookable(candidates, q.Now, q.Notice, q.LeadTime)
}

// CandidateSlots applies the grid, lesson and constraint rules without looking at the clock.
func CandidateSlots(date time.Time, durationMinutes int, window SlotWindow, lessons []models.Lesson, constraints []models.TimeConstraint) []time.Time {
	slots := []time.Time{}
	if durationMinutes <= 0 {
		return slots
	}
	window = window.normalized()
	duration := time.Duration(durationMinutes) * time.Minute

	blocked := make([][2]time.Time, 0, len(lessons)+len(constraints))
	for _, l := range lessons {
		if !l.Status.Blocking() {
			continue
		}
		blocked = append(blocked, [2]time.Time{l.DateTime, l.EndTime()})
	}
	weekday := date.Weekday()
	for _, c := range constraints {
		if c.Weekday() != weekday {
			continue
		}
		start, end, err := c.On(date)
		if err != nil {
			continue
		}
		blocked = append(blocked, [2]time.Time{start, end})
	}

	for offset := window.DayStart; offset+duration <= window.DayEnd; offset += window.Granularity {
		start, ok := models.ExactClock(date, offset)
		if !ok {
			continue
		}
		end := start.Add(duration)
		free := true
		for _, b := range blocked {
			if Overlaps(start, end, b[0], b[1]) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, start)
		}
	}
	return slots
}

// FilterBookable drops slots earlier than now+notice and, when leadTime is positive, later than now+leadTime.
func FilterBookable(slots []time.Time, now time.Time, notice, leadTime time.Duration) []time.Time {
	earliest := now.Add(notice)
	out := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		if s.Before(now) || s.Before(earliest) {
			continue
		}
		if leadTime > 0 && s.After(now.Add(leadTime)) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// FindLessonConflict returns the first blocking-or-completed lesson intersecting [start, end).
func FindLessonConflict(start, end time.Time, lessons []models.Lesson) *models.LessonConflict {
	for _, l := range lessons {
		if l.Status == models.LessonStatusCancelled {
			continue
		}
		if Overlaps(start, end, l.DateTime, l.EndTime()) {
			return &models.LessonConflict{
				Dimension: models.ConflictDimensionLesson,
				LessonID:  l.ID,
				Start:     l.DateTime,
				End:       l.EndTime(),
				Status:    l.Status,
			}
		}
	}
	return nil
}

// FindConstraintConflict checks [start, end) against constraints on every calendar day the
// interval touches, in start's location.
func FindConstraintConflict(start, end time.Time, constraints []models.TimeConstraint) *models.LessonConflict {
	for day := models.StartOfDay(start); day.Before(end); day = day.AddDate(0, 0, 1) {
		for _, c := range constraints {
			if c.Weekday() != day.Weekday() {
				continue
			}
			cStart, cEnd, err := c.On(day)
			if err != nil {
				continue
			}
			if Overlaps(start, end, cStart, cEnd) {
				conflict := &models.LessonConflict{
					Dimension:    models.ConflictDimensionConstraint,
					ConstraintID: c.ID,
					Start:        cStart,
					End:          cEnd,
				}
				if c.Note != nil {
					conflict.Note = *c.Note
				}
				return conflict
			}
		}
	}
	return nil
}

// touchedWeekdays lists the weekdays (Sunday=0) covered by [start, end) in start's location.
func touchedWeekdays(start, end time.Time) []int {
	var days []int
	seen := map[time.Weekday]bool{}
	for day := models.StartOfDay(start); day.Before(end); day = day.AddDate(0, 0, 1) {
		if seen[day.Weekday()] {
			continue
		}
		seen[day.Weekday()] = true
		days = append(days, int(day.Weekday()))
	}
	return days
}
