package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type memoryLessonStore struct {
	mu      sync.Mutex
	lessons map[string]*models.Lesson
	seq     int
	// beforeTransition runs inside Transition before the guard is evaluated.
	beforeTransition func(l *models.Lesson)
	lastFilter       models.LessonFilter
}

func newMemoryLessonStore(seed ...models.Lesson) *memoryLessonStore {
	store := &memoryLessonStore{lessons: map[string]*models.Lesson{}}
	for i := range seed {
		l := seed[i]
		store.lessons[l.ID] = &l
	}
	return store
}

func (m *memoryLessonStore) CreateIfNoOverlap(ctx context.Context, lesson *models.Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var existing []models.Lesson
	for _, l := range m.lessons {
		if l.TeacherID == lesson.TeacherID {
			existing = append(existing, *l)
		}
	}
	if conflict := FindLessonConflict(lesson.DateTime, lesson.EndTime(), existing); conflict != nil {
		return &models.LessonConflictError{Message: "overlap", Conflict: *conflict}
	}
	m.seq++
	if lesson.ID == "" {
		lesson.ID = "lesson-" + string(rune('a'+m.seq-1))
	}
	stored := *lesson
	m.lessons[lesson.ID] = &stored
	return nil
}

func (m *memoryLessonStore) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *l
	return &copied, nil
}

func (m *memoryLessonStore) List(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var out []models.Lesson
	for _, l := range m.lessons {
		if filter.TeacherID != "" && l.TeacherID != filter.TeacherID {
			continue
		}
		if filter.ParticipantID != "" && l.BookedBy != filter.ParticipantID {
			continue
		}
		out = append(out, *l)
	}
	return out, len(out), nil
}

func (m *memoryLessonStore) Transition(ctx context.Context, t models.LessonTransition) (*models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[t.LessonID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if m.beforeTransition != nil {
		m.beforeTransition(l)
	}
	if l.Status != t.From || (t.RequireNoClock && l.HasClockActivity()) {
		return nil, sql.ErrNoRows
	}
	l.Status = t.To
	if t.ClockInAt != nil {
		l.ClockInAt = t.ClockInAt
	}
	if t.ClockOutAt != nil {
		l.ClockOutAt = t.ClockOutAt
	}
	if t.WorkedMinutes != nil {
		l.WorkedMinutes = t.WorkedMinutes
	}
	if t.CancelledAt != nil {
		l.CancelledAt = t.CancelledAt
	}
	l.UpdatedAt = t.At
	copied := *l
	return &copied, nil
}

func (m *memoryLessonStore) Delete(ctx context.Context, id string) (*models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	delete(m.lessons, id)
	return l, nil
}

type constraintStub struct {
	items []models.TimeConstraint
}

func (s *constraintStub) ListByTeacherDays(ctx context.Context, teacherID string, days []int) ([]models.TimeConstraint, error) {
	var out []models.TimeConstraint
	for _, c := range s.items {
		if c.TeacherID != teacherID {
			continue
		}
		for _, d := range days {
			if c.DayOfWeek == d {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

type userDirectoryStub struct {
	users map[string]*models.User
}

func (s userDirectoryStub) FindActiveByRole(ctx context.Context, id string, role models.UserRole) (*models.User, error) {
	if u, ok := s.users[id]; ok && u.Role == role && u.Active {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (s userDirectoryStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

type auditStub struct {
	entries []*models.AuditLog
	err     error
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.LessonEvent
}

func (r *eventRecorder) Publish(ctx context.Context, event models.LessonEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type invalidationRecorder struct {
	mu       sync.Mutex
	teachers []string
}

func (r *invalidationRecorder) InvalidateTeacher(ctx context.Context, teacherID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teachers = append(r.teachers, teacherID)
}

type lessonFixture struct {
	svc         *LessonService
	store       *memoryLessonStore
	constraints *constraintStub
	audit       *auditStub
	events      *eventRecorder
	invalidated *invalidationRecorder
	now         time.Time
}

var (
	fixtureNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	parent     = models.Actor{ID: "parent-1", Email: "parent@example.com", Role: models.RoleParent}
	teacher    = models.Actor{ID: "teacher-1", Email: "teacher@example.com", Role: models.RoleTeacher}
	admin      = models.Actor{ID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin}
)

func newLessonFixture(t *testing.T, seed ...models.Lesson) *lessonFixture {
	t.Helper()
	f := &lessonFixture{
		store:       newMemoryLessonStore(seed...),
		constraints: &constraintStub{},
		audit:       &auditStub{},
		events:      &eventRecorder{},
		invalidated: &invalidationRecorder{},
		now:         fixtureNow,
	}
	users := userDirectoryStub{users: map[string]*models.User{
		"teacher-1": {ID: "teacher-1", Email: "teacher@example.com", Role: models.RoleTeacher, Active: true},
		"teacher-2": {ID: "teacher-2", Email: "retired@example.com", Role: models.RoleTeacher, Active: false},
		"student-1": {ID: "student-1", Email: "kid@example.com", Role: models.RoleStudent, Active: true},
	}}
	f.svc = NewLessonService(LessonServiceParams{
		Lessons:      f.store,
		Constraints:  f.constraints,
		Users:        users,
		Audit:        f.audit,
		Events:       f.events,
		Availability: f.invalidated,
		Validator:    validator.New(),
		Logger:       zap.NewNop(),
		Policy: SchedulingPolicy{
			Location:      time.UTC,
			AdvanceNotice: 24 * time.Hour,
			MaxLeadTime:   30 * 24 * time.Hour,
			ClockInLead:   10 * time.Minute,
		},
		Now: func() time.Time { return f.now },
	})
	return f
}

func bookingAt(start time.Time) dto.BookLessonRequest {
	return dto.BookLessonRequest{TeacherID: "teacher-1", StudentEmail: "kid@example.com", DateTime: start, DurationMinutes: 60, Subject: "Math"}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, appErrors.FromError(err).Code, err.Error())
}

func TestBookEnforcesAdvanceNotice(t *testing.T) {
	f := newLessonFixture(t)

	_, err := f.svc.Book(context.Background(), bookingAt(f.now.Add(23*time.Hour)), parent)
	requireCode(t, err, appErrors.ErrValidation.Code)

	lesson, err := f.svc.Book(context.Background(), bookingAt(f.now.Add(25*time.Hour)), parent)
	require.NoError(t, err)
	assert.Equal(t, models.LessonStatusBooked, lesson.Status)
	assert.Equal(t, "parent-1", lesson.BookedBy)
	require.NotNil(t, lesson.StudentID)
	assert.Equal(t, "student-1", *lesson.StudentID)
	assert.Equal(t, []string{"teacher-1"}, f.invalidated.teachers)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.NotificationLessonBooked, f.events.events[0].Kind)
}

func TestBookRejectsBeyondLeadTime(t *testing.T) {
	f := newLessonFixture(t)
	_, err := f.svc.Book(context.Background(), bookingAt(f.now.Add(31*24*time.Hour)), parent)
	requireCode(t, err, appErrors.ErrValidation.Code)
}

func TestBookValidatesPayload(t *testing.T) {
	f := newLessonFixture(t)
	req := bookingAt(f.now.Add(48 * time.Hour))
	req.DurationMinutes = 0
	_, err := f.svc.Book(context.Background(), req, parent)
	requireCode(t, err, appErrors.ErrValidation.Code)

	req = bookingAt(f.now.Add(48 * time.Hour))
	req.StudentEmail = "not-an-email"
	_, err = f.svc.Book(context.Background(), req, parent)
	requireCode(t, err, appErrors.ErrValidation.Code)
}

func TestBookRequiresActiveTeacherAndBookerRole(t *testing.T) {
	f := newLessonFixture(t)
	req := bookingAt(f.now.Add(48 * time.Hour))

	req.TeacherID = "teacher-2"
	_, err := f.svc.Book(context.Background(), req, parent)
	requireCode(t, err, appErrors.ErrNotFound.Code)

	req.TeacherID = "missing"
	_, err = f.svc.Book(context.Background(), req, parent)
	requireCode(t, err, appErrors.ErrNotFound.Code)

	_, err = f.svc.Book(context.Background(), bookingAt(f.now.Add(48*time.Hour)), teacher)
	requireCode(t, err, appErrors.ErrForbidden.Code)
}

func TestBookRejectsConstraintConflict(t *testing.T) {
	f := newLessonFixture(t)
	f.constraints.items = []models.TimeConstraint{{ID: "c-1", TeacherID: "teacher-1", DayOfWeek: int(time.Tuesday), StartTime: "14:00", EndTime: "16:00"}}
	tuesday := time.Date(2026, 10, 20, 15, 30, 0, 0, time.UTC)

	_, err := f.svc.Book(context.Background(), bookingAt(tuesday.Add(24*time.Hour*7)), parent)
	requireCode(t, err, appErrors.ErrConflict.Code)
	conflict, ok := appErrors.FromError(err).Details.(models.LessonConflict)
	require.True(t, ok)
	assert.Equal(t, models.ConflictDimensionConstraint, conflict.Dimension)
	assert.Equal(t, "c-1", conflict.ConstraintID)
	assert.Empty(t, f.store.lessons)
	assert.Empty(t, f.events.events)
}

func TestBookRejectsOverlappingLesson(t *testing.T) {
	start := fixtureNow.Add(72 * time.Hour)
	f := newLessonFixture(t, models.Lesson{ID: "existing", TeacherID: "teacher-1", DateTime: start, DurationMinutes: 60, Status: models.LessonStatusBooked})

	_, err := f.svc.Book(context.Background(), bookingAt(start.Add(30*time.Minute)), parent)
	requireCode(t, err, appErrors.ErrConflict.Code)
	var conflictErr *models.LessonConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, "existing", conflictErr.Conflict.LessonID)

	_, err = f.svc.Book(context.Background(), bookingAt(start.Add(time.Hour)), parent)
	require.NoError(t, err)
}

func TestBookConcurrentOverlapsAdmitOne(t *testing.T) {
	f := newLessonFixture(t)
	start := f.now.Add(48 * time.Hour)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), bookingAt(start.Add(time.Duration(i)*time.Minute)), parent)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case appErrors.HasCode(err, appErrors.ErrConflict.Code):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, conflicts)
	assert.Len(t, f.store.lessons, 1)
}

func seededLesson(id string, start time.Time, status models.LessonStatus) models.Lesson {
	return models.Lesson{ID: id, TeacherID: "teacher-1", StudentEmail: "kid@example.com", BookedBy: "parent-1", Subject: "Math", DateTime: start, DurationMinutes: 60, Status: status}
}

func TestClockInWindow(t *testing.T) {
	start := fixtureNow.Add(2 * time.Hour)
	f := newLessonFixture(t, seededLesson("l-1", start, models.LessonStatusBooked))

	f.now = start.Add(-15 * time.Minute)
	_, err := f.svc.ClockIn(context.Background(), "l-1", teacher)
	requireCode(t, err, appErrors.ErrValidation.Code)

	f.now = start.Add(-5 * time.Minute)
	lesson, err := f.svc.ClockIn(context.Background(), "l-1", teacher)
	require.NoError(t, err)
	assert.Equal(t, models.LessonStatusInProgress, lesson.Status)
	require.NotNil(t, lesson.ClockInAt)
	assert.True(t, lesson.ClockInAt.Equal(f.now))

	_, err = f.svc.ClockIn(context.Background(), "l-1", teacher)
	requireCode(t, err, appErrors.ErrInvalidState.Code)
}

func TestClockInAfterLessonEnded(t *testing.T) {
	start := fixtureNow.Add(-2 * time.Hour)
	f := newLessonFixture(t, seededLesson("l-1", start, models.LessonStatusBooked))
	_, err := f.svc.ClockIn(context.Background(), "l-1", teacher)
	requireCode(t, err, appErrors.ErrValidation.Code)
}

func TestClockInRequiresOwner(t *testing.T) {
	f := newLessonFixture(t, seededLesson("l-1", fixtureNow.Add(5*time.Minute), models.LessonStatusBooked))
	other := models.Actor{ID: "teacher-9", Role: models.RoleTeacher}
	_, err := f.svc.ClockIn(context.Background(), "l-1", other)
	requireCode(t, err, appErrors.ErrForbidden.Code)

	_, err = f.svc.ClockIn(context.Background(), "missing", teacher)
	requireCode(t, err, appErrors.ErrNotFound.Code)
}

func TestClockOutBeforeClockInFails(t *testing.T) {
	f := newLessonFixture(t, seededLesson("l-1", fixtureNow.Add(5*time.Minute), models.LessonStatusBooked))
	_, err := f.svc.ClockOut(context.Background(), "l-1", teacher)
	requireCode(t, err, appErrors.ErrInvalidState.Code)
}

func TestClockOutRoundsWorkedMinutes(t *testing.T) {
	start := fixtureNow
	f := newLessonFixture(t, seededLesson("l-1", start, models.LessonStatusBooked))
	f.now = start.Add(-2 * time.Minute)
	_, err := f.svc.ClockIn(context.Background(), "l-1", teacher)
	require.NoError(t, err)

	f.now = f.now.Add(59*time.Minute + 40*time.Second)
	lesson, err := f.svc.ClockOut(context.Background(), "l-1", teacher)
	require.NoError(t, err)
	assert.Equal(t, models.LessonStatusCompleted, lesson.Status)
	require.NotNil(t, lesson.WorkedMinutes)
	assert.Equal(t, 60, *lesson.WorkedMinutes)
	require.NotNil(t, lesson.ClockOutAt)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.NotificationLessonCompleted, f.events.events[0].Kind)

	_, err = f.svc.ClockOut(context.Background(), "l-1", teacher)
	requireCode(t, err, appErrors.ErrInvalidState.Code)
}

func TestCompleteManually(t *testing.T) {
	past := fixtureNow.Add(-3 * time.Hour)
	future := fixtureNow.Add(3 * time.Hour)
	clocked := seededLesson("l-clock", past, models.LessonStatusInProgress)
	clockIn := past
	clocked.ClockInAt = &clockIn
	f := newLessonFixture(t,
		seededLesson("l-past", past, models.LessonStatusBooked),
		seededLesson("l-future", future, models.LessonStatusBooked),
		clocked,
	)

	_, err := f.svc.CompleteManually(context.Background(), "l-past", dto.CompleteLessonRequest{WorkedMinutes: 0}, teacher)
	requireCode(t, err, appErrors.ErrValidation.Code)

	_, err = f.svc.CompleteManually(context.Background(), "l-future", dto.CompleteLessonRequest{WorkedMinutes: 45}, teacher)
	requireCode(t, err, appErrors.ErrValidation.Code)

	_, err = f.svc.CompleteManually(context.Background(), "l-clock", dto.CompleteLessonRequest{WorkedMinutes: 45}, teacher)
	requireCode(t, err, appErrors.ErrInvalidState.Code)

	lesson, err := f.svc.CompleteManually(context.Background(), "l-past", dto.CompleteLessonRequest{WorkedMinutes: 45}, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.LessonStatusCompleted, lesson.Status)
	assert.Equal(t, 45, *lesson.WorkedMinutes)
	assert.Nil(t, lesson.ClockInAt)
}

func TestCancel(t *testing.T) {
	f := newLessonFixture(t,
		seededLesson("l-future", fixtureNow.Add(48*time.Hour), models.LessonStatusBooked),
		seededLesson("l-done", fixtureNow.Add(-48*time.Hour), models.LessonStatusCompleted),
		seededLesson("l-started", fixtureNow.Add(-10*time.Minute), models.LessonStatusBooked),
	)

	_, err := f.svc.Cancel(context.Background(), "l-future", models.Actor{ID: "parent-2", Role: models.RoleParent})
	requireCode(t, err, appErrors.ErrForbidden.Code)

	_, err = f.svc.Cancel(context.Background(), "l-done", parent)
	requireCode(t, err, appErrors.ErrInvalidState.Code)

	_, err = f.svc.Cancel(context.Background(), "l-started", parent)
	requireCode(t, err, appErrors.ErrValidation.Code)

	lesson, err := f.svc.Cancel(context.Background(), "l-future", parent)
	require.NoError(t, err)
	assert.Equal(t, models.LessonStatusCancelled, lesson.Status)
	require.NotNil(t, lesson.CancelledAt)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.NotificationLessonCancelled, f.events.events[0].Kind)

	_, err = f.svc.Cancel(context.Background(), "l-future", parent)
	requireCode(t, err, appErrors.ErrInvalidState.Code)
}

func TestTransitionRaceReportsStateError(t *testing.T) {
	f := newLessonFixture(t, seededLesson("l-1", fixtureNow.Add(48*time.Hour), models.LessonStatusBooked))
	f.store.beforeTransition = func(l *models.Lesson) {
		l.Status = models.LessonStatusCancelled
	}

	_, err := f.svc.Cancel(context.Background(), "l-1", parent)
	requireCode(t, err, appErrors.ErrInvalidState.Code)
	assert.Empty(t, f.events.events)
}

func TestAdminDelete(t *testing.T) {
	f := newLessonFixture(t, seededLesson("l-1", fixtureNow.Add(-48*time.Hour), models.LessonStatusCompleted))

	err := f.svc.AdminDelete(context.Background(), "l-1", dto.DeleteLessonRequest{Reason: "duplicate"}, teacher, RequestMeta{})
	requireCode(t, err, appErrors.ErrForbidden.Code)

	err = f.svc.AdminDelete(context.Background(), "l-1", dto.DeleteLessonRequest{Reason: "   "}, admin, RequestMeta{})
	requireCode(t, err, appErrors.ErrValidation.Code)

	f.audit.err = errors.New("audit store down")
	require.NoError(t, f.svc.AdminDelete(context.Background(), "l-1", dto.DeleteLessonRequest{Reason: "duplicate"}, admin, RequestMeta{IP: "10.1.1.1"}))
	assert.Empty(t, f.store.lessons)

	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.Equal(t, models.AuditActionLessonDelete, entry.Action)
	assert.Equal(t, "admin-1", *entry.UserID)
	assert.Equal(t, "l-1", *entry.ResourceID)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(entry.NewValues, &payload))
	assert.Equal(t, "duplicate", payload["reason"])

	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.NotificationLessonDeleted, f.events.events[0].Kind)
	assert.Equal(t, "duplicate", f.events.events[0].Reason)

	err = f.svc.AdminDelete(context.Background(), "l-1", dto.DeleteLessonRequest{Reason: "again"}, admin, RequestMeta{})
	requireCode(t, err, appErrors.ErrNotFound.Code)
}

func TestGetAndListAreScoped(t *testing.T) {
	f := newLessonFixture(t, seededLesson("l-1", fixtureNow.Add(48*time.Hour), models.LessonStatusBooked))

	_, err := f.svc.Get(context.Background(), "l-1", parent)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), "l-1", models.Actor{ID: "student-1", Email: "KID@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), "l-1", models.Actor{ID: "teacher-9", Role: models.RoleTeacher})
	requireCode(t, err, appErrors.ErrForbidden.Code)

	_, page, err := f.svc.List(context.Background(), dto.LessonListQuery{TeacherID: "teacher-7", Status: []string{"booked,in_progress"}}, parent)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, "parent-1", f.store.lastFilter.ParticipantID)
	assert.Equal(t, "parent@example.com", f.store.lastFilter.ParticipantEmail)
	assert.Equal(t, []models.LessonStatus{models.LessonStatusBooked, models.LessonStatusInProgress}, f.store.lastFilter.Statuses)

	_, _, err = f.svc.List(context.Background(), dto.LessonListQuery{}, teacher)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", f.store.lastFilter.TeacherID)

	_, _, err = f.svc.List(context.Background(), dto.LessonListQuery{Status: []string{"archived"}}, admin)
	requireCode(t, err, appErrors.ErrValidation.Code)

	_, _, err = f.svc.List(context.Background(), dto.LessonListQuery{From: "2026-10-01", To: "2026-10-31"}, admin)
	require.NoError(t, err)
	require.NotNil(t, f.store.lastFilter.To)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), *f.store.lastFilter.To)
}
