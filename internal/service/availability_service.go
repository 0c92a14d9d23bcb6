package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type availabilityLessonReader interface {
	ListBlocking(ctx context.Context, teacherID string, from, to time.Time) ([]models.Lesson, error)
}

type constraintReader interface {
	ListByTeacherDays(ctx context.Context, teacherID string, days []int) ([]models.TimeConstraint, error)
}

type teacherLookup interface {
	FindActiveByRole(ctx context.Context, id string, role models.UserRole) (*models.User, error)
}

// SchedulingPolicy groups the calendar rules shared by availability and booking.
type SchedulingPolicy struct {
	Location      *time.Location
	Window        SlotWindow
	AdvanceNotice time.Duration
	MaxLeadTime   time.Duration
	ClockInLead   time.Duration
}

func (p SchedulingPolicy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// AvailabilityService loads a teacher's calendar and computes bookable slots.
type AvailabilityService struct {
	lessons     availabilityLessonReader
	constraints constraintReader
	teachers    teacherLookup
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	policy      SchedulingPolicy
	cacheTTL    time.Duration
	now         func() time.Time
}

// AvailabilityServiceParams wires the service dependencies.
type AvailabilityServiceParams struct {
	Lessons     availabilityLessonReader
	Constraints constraintReader
	Teachers    teacherLookup
	Cache       *CacheService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Policy      SchedulingPolicy
	CacheTTL    time.Duration
	Now         func() time.Time
}

// NewAvailabilityService constructs the service.
func NewAvailabilityService(params AvailabilityServiceParams) *AvailabilityService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &AvailabilityService{
		lessons:     params.Lessons,
		constraints: params.Constraints,
		teachers:    params.Teachers,
		cache:       params.Cache,
		validator:   newValidator(params.Validator),
		logger:      logger,
		policy:      params.Policy,
		cacheTTL:    params.CacheTTL,
		now:         now,
	}
}

// Slots returns the bookable start times for the request. The bool reports a cache hit.
func (s *AvailabilityService) Slots(ctx context.Context, req dto.AvailabilityRequest) (*dto.AvailabilityResponse, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Validation(err, "invalid availability request")
	}

	loc := s.policy.location()
	date, err := time.ParseInLocation("2006-01-02", req.Date, loc)
	if err != nil {
		return nil, false, appErrors.Validation(err, "date must be YYYY-MM-DD")
	}

	window, err := s.window(req)
	if err != nil {
		return nil, false, err
	}

	if _, err := s.teachers.FindActiveByRole(ctx, req.TeacherID, models.RoleTeacher); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, false, appErrors.Internal(err, "failed to load teacher")
	}

	resp := &dto.AvailabilityResponse{
		TeacherID:   req.TeacherID,
		Date:        req.Date,
		Duration:    req.Duration,
		Granularity: int(window.Granularity / time.Minute),
		DayStart:    formatClock(window.DayStart),
		DayEnd:      formatClock(window.DayEnd),
		Timezone:    loc.String(),
	}

	now := s.now()
	// The generation is read before the lessons: a booking committed after that read bumps it,
	// so a stale computation lands under a key nobody reads again.
	gen, cacheable := s.cache.Generation(ctx, generationKey(req.TeacherID))
	key := availabilityCacheKey(req.TeacherID, req.Date, req.Duration, window, gen)
	var candidates []time.Time
	hit := cacheable && s.cache.Get(ctx, key, &candidates)
	if !hit {
		candidates, err = s.candidates(ctx, req.TeacherID, date, req.Duration, window)
		if err != nil {
			return nil, false, err
		}
		if cacheable {
			s.cache.Set(ctx, key, candidates, s.cacheTTL)
		}
	}

	slots := FilterBookable(candidates, now, s.policy.AdvanceNotice, s.policy.MaxLeadTime)
	for i := range slots {
		slots[i] = slots[i].In(loc)
	}
	resp.Slots = slots
	return resp, hit, nil
}

// InvalidateTeacher drops every cached availability entry of the teacher.
func (s *AvailabilityService) InvalidateTeacher(ctx context.Context, teacherID string) {
	if s == nil {
		return
	}
	s.cache.Bump(ctx, generationKey(teacherID), generationTTL(s.cacheTTL))
	s.cache.Invalidate(ctx, teacherID+":*")
}

func (s *AvailabilityService) candidates(ctx context.Context, teacherID string, date time.Time, duration int, window SlotWindow) ([]time.Time, error) {
	from := models.AtClock(date, window.DayStart)
	to := models.AtClock(date, window.DayEnd)
	lessons, err := s.lessons.ListBlocking(ctx, teacherID, from, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load lessons")
	}
	constraints, err := s.constraints.ListByTeacherDays(ctx, teacherID, []int{int(date.Weekday())})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load time constraints")
	}
	return CandidateSlots(date, duration, window, lessons, constraints), nil
}

func (s *AvailabilityService) window(req dto.AvailabilityRequest) (SlotWindow, error) {
	window := s.policy.Window.normalized()
	if req.Granularity > 0 {
		window.Granularity = time.Duration(req.Granularity) * time.Minute
	}
	if req.DayStart != "" {
		start, err := models.ParseClock(req.DayStart)
		if err != nil {
			return SlotWindow{}, appErrors.Validation(err, "dayStart must be HH:MM")
		}
		window.DayStart = start
	}
	if req.DayEnd != "" {
		end, err := models.ParseClock(req.DayEnd)
		if err != nil {
			return SlotWindow{}, appErrors.Validation(err, "dayEnd must be HH:MM")
		}
		window.DayEnd = end
	}
	if window.DayStart >= window.DayEnd {
		return SlotWindow{}, appErrors.Clone(appErrors.ErrValidation, "dayStart must be before dayEnd")
	}
	return window, nil
}

func availabilityCacheKey(teacherID, date string, duration int, window SlotWindow, gen int64) string {
	return fmt.Sprintf("%s:%s:%d:%s-%s:%d:g%d", teacherID, date, duration, formatClock(window.DayStart), formatClock(window.DayEnd), int(window.Granularity/time.Minute), gen)
}

func generationKey(teacherID string) string {
	return "generation:" + teacherID
}

// generationTTL keeps a counter well past the entries keyed by it, so a reset to zero
// never revives an old entry.
func generationTTL(cacheTTL time.Duration) time.Duration {
	if keep := 10 * cacheTTL; keep > 24*time.Hour {
		return keep
	}
	return 24 * time.Hour
}

func formatClock(offset time.Duration) string {
	minutes := int(offset / time.Minute)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
