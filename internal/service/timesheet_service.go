package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/export"
)

type completedLessonReader interface {
	ListCompleted(ctx context.Context, filter models.TimesheetFilter) ([]models.TimesheetEntry, error)
}

// Renderer turns a dataset into a downloadable document.
type Renderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	ContentType() string
	Extension() string
}

// TimesheetFile is a rendered timesheet export.
type TimesheetFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// TimesheetService reports completed lessons and worked minutes per teacher.
type TimesheetService struct {
	lessons   completedLessonReader
	renderers map[string]Renderer
	validator *validator.Validate
	logger    *zap.Logger
	location  *time.Location
	maxRange  time.Duration
}

// NewTimesheetService constructs the service with CSV and PDF renderers.
func NewTimesheetService(lessons completedLessonReader, location *time.Location, maxRange time.Duration, validate *validator.Validate, logger *zap.Logger) *TimesheetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &TimesheetService{
		lessons: lessons,
		renderers: map[string]Renderer{
			"csv": export.NewCSVExporter(),
			"pdf": export.NewPDFExporter(),
		},
		validator: newValidator(validate),
		logger:    logger,
		location:  location,
		maxRange:  maxRange,
	}
}

// Get returns the timesheet for [from, to] inclusive of both calendar days.
func (s *TimesheetService) Get(ctx context.Context, query dto.TimesheetQuery, actor models.Actor) (*models.Timesheet, error) {
	filter, err := s.filter(query, actor)
	if err != nil {
		return nil, err
	}
	entries, err := s.lessons.ListCompleted(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load timesheet")
	}
	sheet := &models.Timesheet{
		TeacherID: filter.TeacherID,
		From:      filter.From,
		To:        filter.To,
		Entries:   make([]models.TimesheetEntry, 0, len(entries)),
	}
	for _, e := range entries {
		e.DateTime = e.DateTime.In(s.location)
		sheet.Entries = append(sheet.Entries, e)
		sheet.TotalMinutes += e.WorkedMinutes
	}
	sheet.TotalLessons = len(sheet.Entries)
	sheet.TotalHours = math.Round(float64(sheet.TotalMinutes)/60*100) / 100
	return sheet, nil
}

// Export renders the timesheet as CSV (default) or PDF.
func (s *TimesheetService) Export(ctx context.Context, query dto.TimesheetQuery, actor models.Actor) (*TimesheetFile, error) {
	format := query.Format
	if format == "" {
		format = "csv"
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	sheet, err := s.Get(ctx, query, actor)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"date", "start", "subject", "student", "scheduled_minutes", "worked_minutes", "source"},
		Footer: map[string]string{
			"date":           "TOTAL",
			"worked_minutes": strconv.Itoa(sheet.TotalMinutes),
		},
	}
	for _, e := range sheet.Entries {
		source := "clock"
		if e.Manual() {
			source = "manual"
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"date":              e.DateTime.Format("2006-01-02"),
			"start":             e.DateTime.Format("15:04"),
			"subject":           e.Subject,
			"student":           e.StudentEmail,
			"scheduled_minutes": strconv.Itoa(e.ScheduledMins),
			"worked_minutes":    strconv.Itoa(e.WorkedMinutes),
			"source":            source,
		})
	}

	lastDay := sheet.To.AddDate(0, 0, -1)
	title := fmt.Sprintf("Timesheet %s to %s", sheet.From.Format("2006-01-02"), lastDay.Format("2006-01-02"))
	body, err := renderer.Render(dataset, title)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render timesheet")
	}
	s.logger.Info("timesheet exported",
		zap.String("teacher_id", sheet.TeacherID),
		zap.String("format", format),
		zap.Int("lessons", sheet.TotalLessons),
	)
	return &TimesheetFile{
		Filename:    fmt.Sprintf("timesheet_%s_%s_%s.%s", sheet.TeacherID, sheet.From.Format("20060102"), lastDay.Format("20060102"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func (s *TimesheetService) filter(query dto.TimesheetQuery, actor models.Actor) (models.TimesheetFilter, error) {
	teacherID := query.TeacherID
	switch {
	case actor.IsAdmin():
		if teacherID == "" {
			return models.TimesheetFilter{}, appErrors.Clone(appErrors.ErrValidation, "teacherId is required")
		}
	case actor.Role == models.RoleTeacher:
		if teacherID != "" && teacherID != actor.ID {
			return models.TimesheetFilter{}, appErrors.Clone(appErrors.ErrForbidden, "teachers can only view their own timesheet")
		}
		teacherID = actor.ID
	default:
		return models.TimesheetFilter{}, appErrors.Clone(appErrors.ErrForbidden, "timesheets are available to teachers and admins")
	}

	if err := s.validator.Struct(query); err != nil {
		return models.TimesheetFilter{}, appErrors.Validation(err, "from and to must be YYYY-MM-DD")
	}
	from, err := time.ParseInLocation("2006-01-02", query.From, s.location)
	if err != nil {
		return models.TimesheetFilter{}, appErrors.Validation(err, "from must be YYYY-MM-DD")
	}
	to, err := time.ParseInLocation("2006-01-02", query.To, s.location)
	if err != nil {
		return models.TimesheetFilter{}, appErrors.Validation(err, "to must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return models.TimesheetFilter{}, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	to = to.AddDate(0, 0, 1)
	if s.maxRange > 0 && to.Sub(from) > s.maxRange {
		return models.TimesheetFilter{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("range must not exceed %d days", int(s.maxRange.Hours()/24)))
	}
	return models.TimesheetFilter{TeacherID: teacherID, From: from, To: to}, nil
}
