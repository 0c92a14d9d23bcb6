package models

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	cases := map[string]time.Duration{
		"00:00": 0,
		"08:30": 8*time.Hour + 30*time.Minute,
		"24:00": 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseClock(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "8:30", "24:01", "12:60", "ab:cd", "12-30", "-1:00"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestTimeConstraintOnUsesWallClock(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	// 2026-03-29: clocks jump from 02:00 to 03:00.
	day := time.Date(2026, 3, 29, 12, 0, 0, 0, loc)
	c := TimeConstraint{DayOfWeek: int(time.Sunday), StartTime: "09:00", EndTime: "10:00"}

	start, end, err := c.On(day)
	require.NoError(t, err)
	assert.Equal(t, 9, start.Hour())
	assert.Equal(t, 10, end.Hour())
	assert.Equal(t, time.Sunday, c.Weekday())
}

func TestLessonStatusRules(t *testing.T) {
	assert.True(t, LessonStatusBooked.Blocking())
	assert.True(t, LessonStatusInProgress.Blocking())
	assert.False(t, LessonStatusCompleted.Blocking())
	assert.True(t, LessonStatusCancelled.Terminal())
	assert.False(t, LessonStatus("archived").Valid())

	l := Lesson{DateTime: time.Date(2026, 10, 26, 14, 0, 0, 0, time.UTC), DurationMinutes: 90}
	assert.Equal(t, time.Date(2026, 10, 26, 15, 30, 0, 0, time.UTC), l.EndTime())
	assert.False(t, l.HasClockActivity())
}

func TestExactClockRejectsSkippedWallTimes(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	springForward := time.Date(2026, 3, 8, 0, 0, 0, 0, loc)

	got, ok := ExactClock(springForward, 90*time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 1, got.Hour())

	_, ok = ExactClock(springForward, 2*time.Hour+30*time.Minute)
	assert.False(t, ok)

	got, ok = ExactClock(springForward, 24*time.Hour)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, loc), got)
}
