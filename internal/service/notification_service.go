package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/jobs"
)

// NotificationJobType tags lesson notification jobs on the queue.
const NotificationJobType = "lesson.notification"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, recipientID, recipientEmail string, at time.Time) (bool, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// NotificationService turns lesson events into inbox messages and serves the inbox.
// Publishing is fire-and-forget: failures are logged and counted, never returned.
type NotificationService struct {
	store    notificationStore
	queue    jobEnqueuer
	metrics  *MetricsService
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time
}

// NewNotificationService constructs the service.
func NewNotificationService(store notificationStore, queue jobEnqueuer, metrics *MetricsService, location *time.Location, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &NotificationService{store: store, queue: queue, metrics: metrics, logger: logger, location: location, now: time.Now}
}

// Publish enqueues the messages for every participant of the lesson.
func (s *NotificationService) Publish(ctx context.Context, event models.LessonEvent) {
	notifications := s.build(event)
	if len(notifications) == 0 {
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: NotificationJobType, Payload: notifications}
	if err := s.queue.Enqueue(job); err != nil {
		s.metrics.RecordNotification(event.Kind, "dropped")
		s.logger.Warn("notification not enqueued",
			zap.String("lesson_id", event.Lesson.ID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordNotification(event.Kind, "enqueued")
}

// List returns the actor's inbox.
func (s *NotificationService) List(ctx context.Context, query dto.NotificationListQuery, actor models.Actor) ([]models.Notification, *models.Pagination, error) {
	if actor.ID == "" {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.NotificationFilter{
		RecipientID:    actor.ID,
		RecipientEmail: actor.Email,
		UnreadOnly:     query.UnreadOnly,
		Page:           query.Page,
		PageSize:       query.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list notifications")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// MarkRead marks one of the actor's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string, actor models.Actor) error {
	if actor.ID == "" {
		return appErrors.ErrUnauthorized
	}
	ok, err := s.store.MarkRead(ctx, id, actor.ID, actor.Email, s.now().UTC())
	if err != nil {
		return appErrors.Internal(err, "failed to update notification")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

func (s *NotificationService) build(event models.LessonEvent) []models.Notification {
	lesson := event.Lesson
	message := s.message(event)
	createdAt := event.At
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	var out []models.Notification
	seen := map[string]bool{}
	addID := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		recipient := id
		out = append(out, models.Notification{ID: uuid.NewString(), RecipientID: &recipient, LessonID: lesson.ID, Kind: event.Kind, Message: message, CreatedAt: createdAt})
	}

	addID(lesson.TeacherID)
	addID(lesson.BookedBy)
	switch {
	case lesson.StudentID != nil:
		addID(*lesson.StudentID)
	case lesson.StudentEmail != "":
		email := strings.ToLower(lesson.StudentEmail)
		out = append(out, models.Notification{ID: uuid.NewString(), RecipientEmail: &email, LessonID: lesson.ID, Kind: event.Kind, Message: message, CreatedAt: createdAt})
	}
	return out
}

func (s *NotificationService) message(event models.LessonEvent) string {
	lesson := event.Lesson
	when := lesson.DateTime.In(s.location).Format("Mon 02 Jan 2006 15:04")
	switch event.Kind {
	case models.NotificationLessonBooked:
		return fmt.Sprintf("%s lesson booked for %s (%d min).", lesson.Subject, when, lesson.DurationMinutes)
	case models.NotificationLessonCancelled:
		return fmt.Sprintf("%s lesson on %s was cancelled.", lesson.Subject, when)
	case models.NotificationLessonCompleted:
		worked := 0
		if lesson.WorkedMinutes != nil {
			worked = *lesson.WorkedMinutes
		}
		return fmt.Sprintf("%s lesson on %s was completed (%d min).", lesson.Subject, when, worked)
	case models.NotificationLessonDeleted:
		if event.Reason != "" {
			return fmt.Sprintf("%s lesson on %s was removed by an administrator: %s", lesson.Subject, when, event.Reason)
		}
		return fmt.Sprintf("%s lesson on %s was removed by an administrator.", lesson.Subject, when)
	}
	return fmt.Sprintf("%s lesson on %s was updated.", lesson.Subject, when)
}

// NotificationWorker persists queued lesson notifications.
type NotificationWorker struct {
	store   notificationStore
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationWorker constructs the worker.
func NewNotificationWorker(store notificationStore, metrics *MetricsService, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{store: store, metrics: metrics, logger: logger}
}

// Handle processes a queue job. Returning an error lets the queue retry; inserts are idempotent by id.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	notifications, ok := job.Payload.([]models.Notification)
	if !ok {
		w.logger.Sugar().Errorw("unexpected notification payload", "job_id", job.ID, "type", job.Type)
		return nil
	}
	for i := range notifications {
		n := notifications[i]
		if err := w.store.Create(ctx, &n); err != nil {
			w.metrics.RecordNotification(n.Kind, "failed")
			return fmt.Errorf("store notification %s: %w", n.ID, err)
		}
		w.metrics.RecordNotification(n.Kind, "stored")
	}
	return nil
}

// GiveUp counts every notification in a job the queue stopped retrying.
func (w *NotificationWorker) GiveUp(job jobs.Job, err error) {
	notifications, ok := job.Payload.([]models.Notification)
	if !ok {
		return
	}
	for _, n := range notifications {
		w.metrics.RecordNotification(n.Kind, "abandoned")
	}
	w.logger.Sugar().Errorw("lesson notifications abandoned", "job_id", job.ID, "count", len(notifications), "error", err)
}
