package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

// Lifecycle operation labels used for metrics and logs.
const (
	opBook             = "book"
	opClockIn          = "clock_in"
	opClockOut         = "clock_out"
	opCompleteManually = "complete_manually"
	opCancel           = "cancel"
	opAdminDelete      = "admin_delete"
)

type lessonStore interface {
	CreateIfNoOverlap(ctx context.Context, lesson *models.Lesson) error
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	List(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, int, error)
	Transition(ctx context.Context, t models.LessonTransition) (*models.Lesson, error)
	Delete(ctx context.Context, id string) (*models.Lesson, error)
}

type lessonUserReader interface {
	teacherLookup
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type lessonEventPublisher interface {
	Publish(ctx context.Context, event models.LessonEvent)
}

type availabilityInvalidator interface {
	InvalidateTeacher(ctx context.Context, teacherID string)
}

// RequestMeta carries client details recorded in audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LessonService applies the lesson lifecycle: booking, clocking, completion, cancellation and removal.
type LessonService struct {
	lessons      lessonStore
	constraints  constraintReader
	users        lessonUserReader
	audit        auditLogger
	events       lessonEventPublisher
	availability availabilityInvalidator
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	policy       SchedulingPolicy
	now          func() time.Time
}

// LessonServiceParams wires the lesson service.
type LessonServiceParams struct {
	Lessons      lessonStore
	Constraints  constraintReader
	Users        lessonUserReader
	Audit        auditLogger
	Events       lessonEventPublisher
	Availability availabilityInvalidator
	Metrics      *MetricsService
	Validator    *validator.Validate
	Logger       *zap.Logger
	Policy       SchedulingPolicy
	Now          func() time.Time
}

// NewLessonService constructs the service.
func NewLessonService(params LessonServiceParams) *LessonService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &LessonService{
		lessons:      params.Lessons,
		constraints:  params.Constraints,
		users:        params.Users,
		audit:        params.Audit,
		events:       params.Events,
		availability: params.Availability,
		metrics:      params.Metrics,
		validator:    newValidator(params.Validator),
		logger:       logger,
		policy:       params.Policy,
		now:          now,
	}
}

// Book creates a booked lesson after checking the booking policy, the teacher's constraints and,
// atomically in the store, the teacher's other lessons.
func (s *LessonService) Book(ctx context.Context, req dto.BookLessonRequest, actor models.Actor) (*models.Lesson, error) {
	if !actor.Role.CanBook() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only parents and students can book lessons")
	}
	req.StudentEmail = strings.TrimSpace(req.StudentEmail)
	req.Subject = strings.TrimSpace(req.Subject)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid lesson booking")
	}

	now := s.now()
	start := req.DateTime
	if start.Before(now.Add(s.policy.AdvanceNotice)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lessons must be booked at least %s in advance", s.policy.AdvanceNotice))
	}
	if s.policy.MaxLeadTime > 0 && start.After(now.Add(s.policy.MaxLeadTime)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lessons cannot be booked more than %s ahead", s.policy.MaxLeadTime))
	}

	if _, err := s.users.FindActiveByRole(ctx, req.TeacherID, models.RoleTeacher); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Internal(err, "failed to load teacher")
	}

	loc := s.policy.location()
	localStart := start.In(loc)
	localEnd := localStart.Add(time.Duration(req.DurationMinutes) * time.Minute)
	constraints, err := s.constraints.ListByTeacherDays(ctx, req.TeacherID, touchedWeekdays(localStart, localEnd))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load time constraints")
	}
	if conflict := FindConstraintConflict(localStart, localEnd, constraints); conflict != nil {
		return nil, s.conflictError(&models.LessonConflictError{Message: "teacher is unavailable at this time", Conflict: *conflict})
	}

	lesson := &models.Lesson{
		TeacherID:       req.TeacherID,
		StudentEmail:    req.StudentEmail,
		StudentID:       s.resolveStudent(ctx, req.StudentEmail),
		BookedBy:        actor.ID,
		Subject:         req.Subject,
		DateTime:        start.UTC(),
		DurationMinutes: req.DurationMinutes,
		Status:          models.LessonStatusBooked,
	}
	if err := s.lessons.CreateIfNoOverlap(ctx, lesson); err != nil {
		var conflictErr *models.LessonConflictError
		if errors.As(err, &conflictErr) {
			return nil, s.conflictError(conflictErr)
		}
		return nil, appErrors.Internal(err, "failed to book lesson")
	}

	s.committed(ctx, opBook, lesson, models.NotificationLessonBooked, "")
	return lesson, nil
}

// ClockIn starts a booked lesson. Allowed from ClockInLead before the start until the lesson's end.
func (s *LessonService) ClockIn(ctx context.Context, lessonID string, actor models.Actor) (*models.Lesson, error) {
	lesson, err := s.ownedByTeacher(ctx, lessonID, actor)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonStatusBooked {
		return nil, stateError(lesson, "clock in")
	}
	now := s.now()
	if now.Before(lesson.DateTime.Add(-s.policy.ClockInLead)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("clock-in opens %s before the lesson starts", s.policy.ClockInLead))
	}
	if !now.Before(lesson.EndTime()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lesson has already ended")
	}

	clockIn := now.UTC()
	updated, err := s.transition(ctx, models.LessonTransition{
		LessonID:  lesson.ID,
		From:      models.LessonStatusBooked,
		To:        models.LessonStatusInProgress,
		ClockInAt: &clockIn,
		At:        clockIn,
	}, "clock in")
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLessonTransition(opClockIn, updated.Status)
	s.logger.Info("lesson clocked in", zap.String("lesson_id", updated.ID), zap.String("teacher_id", updated.TeacherID))
	return updated, nil
}

// ClockOut completes an in-progress lesson, recording worked minutes rounded to the nearest minute.
func (s *LessonService) ClockOut(ctx context.Context, lessonID string, actor models.Actor) (*models.Lesson, error) {
	lesson, err := s.ownedByTeacher(ctx, lessonID, actor)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonStatusInProgress || lesson.ClockInAt == nil {
		return nil, stateError(lesson, "clock out")
	}

	clockOut := s.now().UTC()
	worked := int(math.Round(clockOut.Sub(*lesson.ClockInAt).Minutes()))
	if worked < 0 {
		worked = 0
	}
	updated, err := s.transition(ctx, models.LessonTransition{
		LessonID:      lesson.ID,
		From:          models.LessonStatusInProgress,
		To:            models.LessonStatusCompleted,
		ClockOutAt:    &clockOut,
		WorkedMinutes: &worked,
		At:            clockOut,
	}, "clock out")
	if err != nil {
		return nil, err
	}
	s.committed(ctx, opClockOut, updated, models.NotificationLessonCompleted, "")
	return updated, nil
}

// CompleteManually marks a past booked lesson without clock activity as completed.
func (s *LessonService) CompleteManually(ctx context.Context, lessonID string, req dto.CompleteLessonRequest, actor models.Actor) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "workedMinutes must be a positive integer")
	}
	lesson, err := s.ownedByTeacher(ctx, lessonID, actor)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonStatusBooked {
		return nil, stateError(lesson, "complete")
	}
	if lesson.HasClockActivity() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "lesson has clock activity and must be clocked out")
	}
	now := s.now()
	if !lesson.DateTime.Before(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lesson has not started yet")
	}

	worked := req.WorkedMinutes
	updated, err := s.transition(ctx, models.LessonTransition{
		LessonID:       lesson.ID,
		From:           models.LessonStatusBooked,
		To:             models.LessonStatusCompleted,
		WorkedMinutes:  &worked,
		RequireNoClock: true,
		At:             now.UTC(),
	}, "complete")
	if err != nil {
		return nil, err
	}
	s.committed(ctx, opCompleteManually, updated, models.NotificationLessonCompleted, "")
	return updated, nil
}

// Cancel cancels a future booked lesson on behalf of the actor who booked it.
func (s *LessonService) Cancel(ctx context.Context, lessonID string, actor models.Actor) (*models.Lesson, error) {
	lesson, err := s.load(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanBook() || lesson.BookedBy != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the booker can cancel this lesson")
	}
	if lesson.Status != models.LessonStatusBooked {
		return nil, stateError(lesson, "cancel")
	}
	now := s.now()
	if !lesson.DateTime.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lesson has already started")
	}

	cancelledAt := now.UTC()
	updated, err := s.transition(ctx, models.LessonTransition{
		LessonID:    lesson.ID,
		From:        models.LessonStatusBooked,
		To:          models.LessonStatusCancelled,
		CancelledAt: &cancelledAt,
		At:          cancelledAt,
	}, "cancel")
	if err != nil {
		return nil, err
	}
	s.committed(ctx, opCancel, updated, models.NotificationLessonCancelled, "")
	return updated, nil
}

// AdminDelete removes a lesson in any status and records the reason in the audit log.
func (s *LessonService) AdminDelete(ctx context.Context, lessonID string, req dto.DeleteLessonRequest, actor models.Actor, meta RequestMeta) error {
	if !actor.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "only administrators can delete lessons")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Validation(err, "a reason is required")
	}

	deleted, err := s.lessons.Delete(ctx, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return appErrors.Internal(err, "failed to delete lesson")
	}

	s.recordDeletion(ctx, deleted, req.Reason, actor, meta)
	s.committed(ctx, opAdminDelete, deleted, models.NotificationLessonDeleted, req.Reason)
	return nil
}

// Get returns a lesson visible to the actor.
func (s *LessonService) Get(ctx context.Context, lessonID string, actor models.Actor) (*models.Lesson, error) {
	lesson, err := s.load(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, lesson) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "lesson is not accessible")
	}
	return lesson, nil
}

// List returns lessons scoped to the actor: admins see all, teachers their own calendar,
// parents and students the lessons they booked or attend.
func (s *LessonService) List(ctx context.Context, query dto.LessonListQuery, actor models.Actor) ([]models.Lesson, *models.Pagination, error) {
	filter := models.LessonFilter{
		TeacherID: query.TeacherID,
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortOrder: query.SortOrder,
	}
	for _, raw := range query.Status {
		for _, part := range strings.Split(raw, ",") {
			status := models.LessonStatus(strings.TrimSpace(part))
			if status == "" {
				continue
			}
			if !status.Valid() {
				return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown lesson status %q", status))
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	var err error
	if filter.From, err = parseDateParam(query.From, s.policy.location()); err != nil {
		return nil, nil, appErrors.Validation(err, "from must be YYYY-MM-DD")
	}
	if filter.To, err = parseDateParam(query.To, s.policy.location()); err != nil {
		return nil, nil, appErrors.Validation(err, "to must be YYYY-MM-DD")
	}
	if filter.To != nil {
		end := filter.To.AddDate(0, 0, 1)
		filter.To = &end
	}

	switch {
	case actor.IsAdmin():
	case actor.Role == models.RoleTeacher:
		filter.TeacherID = actor.ID
	case actor.Role.CanBook():
		filter.ParticipantID = actor.ID
		filter.ParticipantEmail = actor.Email
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	lessons, total, err := s.lessons.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list lessons")
	}
	return lessons, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *LessonService) load(ctx context.Context, lessonID string) (*models.Lesson, error) {
	if strings.TrimSpace(lessonID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lesson id is required")
	}
	lesson, err := s.lessons.FindByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Internal(err, "failed to load lesson")
	}
	return lesson, nil
}

func (s *LessonService) ownedByTeacher(ctx context.Context, lessonID string, actor models.Actor) (*models.Lesson, error) {
	lesson, err := s.load(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleTeacher || lesson.TeacherID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "lesson belongs to another teacher")
	}
	return lesson, nil
}

// transition applies the conditional update; a guard miss is resolved by re-reading the row.
func (s *LessonService) transition(ctx context.Context, t models.LessonTransition, action string) (*models.Lesson, error) {
	updated, err := s.lessons.Transition(ctx, t)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to update lesson")
	}
	current, loadErr := s.load(ctx, t.LessonID)
	if loadErr != nil {
		return nil, loadErr
	}
	return nil, stateError(current, action)
}

func (s *LessonService) conflictError(conflict *models.LessonConflictError) error {
	s.metrics.RecordBookingConflict(conflict.Conflict.Dimension)
	appErr := appErrors.Wrap(conflict, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, conflict.Message)
	appErr.Details = conflict.Conflict
	return appErr
}

func (s *LessonService) resolveStudent(ctx context.Context, email string) *string {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("resolve student by email failed", zap.Error(err))
		}
		return nil
	}
	if user.Role != models.RoleStudent {
		return nil
	}
	id := user.ID
	return &id
}

// committed runs the post-commit side effects. None of them can fail the operation.
func (s *LessonService) committed(ctx context.Context, operation string, lesson *models.Lesson, kind models.NotificationKind, reason string) {
	s.metrics.RecordLessonTransition(operation, lesson.Status)
	if s.availability != nil {
		s.availability.InvalidateTeacher(ctx, lesson.TeacherID)
	}
	if s.events != nil {
		s.events.Publish(ctx, models.LessonEvent{Kind: kind, Lesson: *lesson, Reason: reason, At: s.now().UTC()})
	}
	s.logger.Info("lesson "+operation,
		zap.String("lesson_id", lesson.ID),
		zap.String("teacher_id", lesson.TeacherID),
		zap.String("status", string(lesson.Status)),
	)
}

func (s *LessonService) recordDeletion(ctx context.Context, lesson *models.Lesson, reason string, actor models.Actor, meta RequestMeta) {
	if s.audit == nil {
		return
	}
	oldValues, err := json.Marshal(lesson)
	if err != nil {
		s.logger.Warn("marshal deleted lesson", zap.Error(err))
	}
	newValues, _ := json.Marshal(map[string]string{"reason": reason})
	actorID := actor.ID
	resourceID := lesson.ID
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionLessonDelete,
		Resource:   "lesson",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Error("audit lesson deletion failed", zap.String("lesson_id", lesson.ID), zap.Error(err))
	}
}

func stateError(lesson *models.Lesson, action string) error {
	return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot %s a %s lesson", action, lesson.Status))
}

func canView(actor models.Actor, lesson *models.Lesson) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.Role == models.RoleTeacher:
		return lesson.TeacherID == actor.ID
	case actor.Role.CanBook():
		if lesson.BookedBy == actor.ID {
			return true
		}
		if lesson.StudentID != nil && *lesson.StudentID == actor.ID {
			return true
		}
		return actor.Email != "" && strings.EqualFold(lesson.StudentEmail, actor.Email)
	}
	return false
}

func parseDateParam(value string, loc *time.Location) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
