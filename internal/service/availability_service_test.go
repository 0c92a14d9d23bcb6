package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type memoryCache struct {
	mu        sync.Mutex
	data      map[string][]byte
	deleted   []string
	beforeSet func()
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memoryCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	if raw, ok := c.data[key]; ok {
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
	}
	n++
	c.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}
	return nil
}

type blockingLessonStub struct {
	lessons []models.Lesson
	calls   int
}

func (s *blockingLessonStub) ListBlocking(ctx context.Context, teacherID string, from, to time.Time) ([]models.Lesson, error) {
	s.calls++
	return s.lessons, nil
}

type availabilityFixture struct {
	svc     *AvailabilityService
	lessons *blockingLessonStub
	cache   *memoryCache
	metrics *MetricsService
	now     time.Time
}

func newAvailabilityFixture(t *testing.T, loc *time.Location) *availabilityFixture {
	t.Helper()
	f := &availabilityFixture{
		lessons: &blockingLessonStub{},
		cache:   newMemoryCache(),
		metrics: NewMetricsService(),
		now:     fixtureNow,
	}
	users := userDirectoryStub{users: map[string]*models.User{
		"teacher-1": {ID: "teacher-1", Role: models.RoleTeacher, Active: true},
	}}
	f.svc = NewAvailabilityService(AvailabilityServiceParams{
		Lessons:     f.lessons,
		Constraints: &constraintStub{},
		Teachers:    users,
		Cache:       NewCacheService(f.cache, f.metrics, time.Minute, nil, true),
		Policy:      SchedulingPolicy{Location: loc, AdvanceNotice: 24 * time.Hour, MaxLeadTime: 30 * 24 * time.Hour},
		Now:         func() time.Time { return f.now },
	})
	return f
}

func formatSlots(slots []time.Time) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Format(time.RFC3339))
	}
	return out
}

func TestAvailabilityCachesCandidatesAndRefiltersOnHit(t *testing.T) {
	f := newAvailabilityFixture(t, time.UTC)
	f.lessons.lessons = []models.Lesson{{ID: "l-1", DateTime: at(monday, 10, 0), DurationMinutes: 60, Status: models.LessonStatusBooked}}
	req := dto.AvailabilityRequest{TeacherID: "teacher-1", Date: "2026-10-26", Duration: 60, Granularity: 60, DayStart: "09:00", DayEnd: "12:00"}

	resp, hit, err := f.svc.Slots(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"2026-10-26T09:00:00Z", "2026-10-26T11:00:00Z"}, formatSlots(resp.Slots))
	assert.Equal(t, "09:00", resp.DayStart)
	assert.Equal(t, 60, resp.Granularity)
	assert.Contains(t, f.cache.data, "teacher-1:2026-10-26:60:09:00-12:00:60:g0")

	f.now = time.Date(2026, 10, 25, 10, 30, 0, 0, time.UTC)
	resp, hit, err = f.svc.Slots(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"2026-10-26T11:00:00Z"}, formatSlots(resp.Slots))
	assert.Equal(t, 1, f.lessons.calls)

	f.svc.InvalidateTeacher(context.Background(), "teacher-1")
	assert.Equal(t, []string{"teacher-1:*"}, f.cache.deleted)
	_, hit, err = f.svc.Slots(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, f.lessons.calls)

	assert.InDelta(t, 1.0/3.0, testutil.ToFloat64(f.metrics.cacheHitRatio), 0.0001)
}

func TestAvailabilityIgnoresEntriesWrittenAcrossAnInvalidation(t *testing.T) {
	f := newAvailabilityFixture(t, time.UTC)
	req := dto.AvailabilityRequest{TeacherID: "teacher-1", Date: "2026-10-26", Duration: 60, Granularity: 60, DayStart: "09:00", DayEnd: "12:00"}

	// A booking commits after the lessons were read but before the computed slots are cached.
	f.cache.beforeSet = func() {
		f.lessons.lessons = []models.Lesson{{ID: "l-1", DateTime: at(monday, 10, 0), DurationMinutes: 60, Status: models.LessonStatusBooked}}
		f.svc.InvalidateTeacher(context.Background(), "teacher-1")
	}
	stale, hit, err := f.svc.Slots(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, stale.Slots, 3)

	fresh, hit, err := f.svc.Slots(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"2026-10-26T09:00:00Z", "2026-10-26T11:00:00Z"}, formatSlots(fresh.Slots))
	assert.Contains(t, f.cache.data, "teacher-1:2026-10-26:60:09:00-12:00:60:g1")

	cached, hit, err := f.svc.Slots(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, formatSlots(fresh.Slots), formatSlots(cached.Slots))
}

func TestAvailabilityReturnsSlotsInSchedulingLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	f := newAvailabilityFixture(t, loc)

	resp, _, err := f.svc.Slots(context.Background(), dto.AvailabilityRequest{TeacherID: "teacher-1", Date: "2026-10-26", Duration: 60, DayStart: "16:00", DayEnd: "18:00"})
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", resp.Timezone)
	assert.Equal(t, []string{"2026-10-26T16:00:00+01:00", "2026-10-26T16:30:00+01:00", "2026-10-26T17:00:00+01:00"}, formatSlots(resp.Slots))
}

func TestAvailabilityRejectsBadRequests(t *testing.T) {
	f := newAvailabilityFixture(t, time.UTC)
	cases := map[string]dto.AvailabilityRequest{
		"bad date":        {TeacherID: "teacher-1", Date: "26/10/2026", Duration: 60},
		"zero duration":   {TeacherID: "teacher-1", Date: "2026-10-26", Duration: 0},
		"inverted window": {TeacherID: "teacher-1", Date: "2026-10-26", Duration: 60, DayStart: "18:00", DayEnd: "09:00"},
		"bad clock":       {TeacherID: "teacher-1", Date: "2026-10-26", Duration: 60, DayStart: "9am"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.svc.Slots(context.Background(), req)
			requireCode(t, err, appErrors.ErrValidation.Code)
		})
	}

	_, _, err := f.svc.Slots(context.Background(), dto.AvailabilityRequest{TeacherID: "ghost", Date: "2026-10-26", Duration: 60})
	requireCode(t, err, appErrors.ErrNotFound.Code)
	assert.Zero(t, f.lessons.calls)
}

func TestAvailabilityWorksWithoutCache(t *testing.T) {
	svc := NewAvailabilityService(AvailabilityServiceParams{
		Lessons:     &blockingLessonStub{},
		Constraints: &constraintStub{},
		Teachers:    userDirectoryStub{users: map[string]*models.User{"teacher-1": {ID: "teacher-1", Role: models.RoleTeacher, Active: true}}},
		Now:         func() time.Time { return fixtureNow },
	})
	resp, hit, err := svc.Slots(context.Background(), dto.AvailabilityRequest{TeacherID: "teacher-1", Date: "2026-10-26", Duration: 30, DayStart: "08:00", DayEnd: "09:00"})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, resp.Slots, 2)

	var nilSvc *AvailabilityService
	nilSvc.InvalidateTeacher(context.Background(), "teacher-1")
}
