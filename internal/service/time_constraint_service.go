package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type timeConstraintStore interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]models.TimeConstraint, error)
	FindByID(ctx context.Context, id string) (*models.TimeConstraint, error)
	Create(ctx context.Context, item *models.TimeConstraint) error
	Update(ctx context.Context, item *models.TimeConstraint) error
	Delete(ctx context.Context, id, teacherID string) error
}

// TimeConstraintService manages a teacher's weekly unavailability. Changes never touch existing
// lessons; they only affect future availability and bookings.
type TimeConstraintService struct {
	repo         timeConstraintStore
	availability availabilityInvalidator
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewTimeConstraintService constructs the service.
func NewTimeConstraintService(repo timeConstraintStore, availability availabilityInvalidator, validate *validator.Validate, logger *zap.Logger) *TimeConstraintService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeConstraintService{repo: repo, availability: availability, validator: newValidator(validate), logger: logger}
}

// List returns the constraints of teacherID. Only the teacher and admins may read them.
func (s *TimeConstraintService) List(ctx context.Context, teacherID string, actor models.Actor) ([]models.TimeConstraint, error) {
	if !actor.IsAdmin() && !(actor.Role == models.RoleTeacher && actor.ID == teacherID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "constraints are private to the teacher")
	}
	items, err := s.repo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list time constraints")
	}
	return items, nil
}

// Create adds a constraint for the acting teacher.
func (s *TimeConstraintService) Create(ctx context.Context, req dto.TimeConstraintRequest, actor models.Actor) (*models.TimeConstraint, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers manage time constraints")
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	item := &models.TimeConstraint{
		TeacherID: actor.ID,
		DayOfWeek: *req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Note:      normalizeNote(req.Note),
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, appErrors.Internal(err, "failed to create time constraint")
	}
	s.changed(ctx, "created", item)
	return item, nil
}

// Update replaces a constraint owned by the acting teacher.
func (s *TimeConstraintService) Update(ctx context.Context, id string, req dto.TimeConstraintRequest, actor models.Actor) (*models.TimeConstraint, error) {
	item, err := s.owned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	item.DayOfWeek = *req.DayOfWeek
	item.StartTime = req.StartTime
	item.EndTime = req.EndTime
	item.Note = normalizeNote(req.Note)
	if err := s.repo.Update(ctx, item); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "time constraint not found")
		}
		return nil, appErrors.Internal(err, "failed to update time constraint")
	}
	s.changed(ctx, "updated", item)
	return item, nil
}

// Delete removes a constraint owned by the acting teacher.
func (s *TimeConstraintService) Delete(ctx context.Context, id string, actor models.Actor) error {
	item, err := s.owned(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, item.ID, actor.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "time constraint not found")
		}
		return appErrors.Internal(err, "failed to delete time constraint")
	}
	s.changed(ctx, "deleted", item)
	return nil
}

func (s *TimeConstraintService) owned(ctx context.Context, id string, actor models.Actor) (*models.TimeConstraint, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers manage time constraints")
	}
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "time constraint not found")
		}
		return nil, appErrors.Internal(err, "failed to load time constraint")
	}
	if item.TeacherID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "time constraint belongs to another teacher")
	}
	return item, nil
}

func (s *TimeConstraintService) validate(req dto.TimeConstraintRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Validation(err, "invalid time constraint")
	}
	start, _ := models.ParseClock(req.StartTime)
	end, _ := models.ParseClock(req.EndTime)
	if start >= end {
		return appErrors.Clone(appErrors.ErrValidation, "startTime must be before endTime")
	}
	return nil
}

func (s *TimeConstraintService) changed(ctx context.Context, action string, item *models.TimeConstraint) {
	if s.availability != nil {
		s.availability.InvalidateTeacher(ctx, item.TeacherID)
	}
	s.logger.Info("time constraint "+action,
		zap.String("constraint_id", item.ID),
		zap.String("teacher_id", item.TeacherID),
		zap.Int("day_of_week", item.DayOfWeek),
	)
}

func normalizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
