package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutoring-api/internal/models"
)

const lessonColumns = `id, teacher_id, student_email, student_id, booked_by, subject, date_time, duration_minutes, status, clock_in_at, clock_out_at, worked_minutes, cancelled_at, created_at, updated_at`

// LessonRepository persists lessons and guards the per-teacher no-overlap invariant.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository constructs a lesson repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// CreateIfNoOverlap inserts the lesson unless the teacher already holds a non-cancelled lesson
// intersecting its interval. Concurrent bookings for the same teacher are serialised through a
// transaction-scoped advisory lock, so the overlap check and the insert see a stable calendar.
// On overlap the returned error is a *models.LessonConflictError.
func (r *LessonRepository) CreateIfNoOverlap(ctx context.Context, lesson *models.Lesson) (err error) {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}
	lesson.UpdatedAt = now
	if lesson.Status == "" {
		lesson.Status = models.LessonStatusBooked
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lesson transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lesson.TeacherID); err != nil {
		return fmt.Errorf("lock teacher calendar: %w", err)
	}

	const overlapQuery = `SELECT ` + lessonColumns + ` FROM lessons
WHERE teacher_id = $1
	AND status <> 'cancelled'
	AND date_time < $3
	AND date_time + make_interval(mins => duration_minutes) > $2
ORDER BY date_time ASC
LIMIT 1`
	var existing models.Lesson
	qErr := tx.GetContext(ctx, &existing, overlapQuery, lesson.TeacherID, lesson.DateTime.UTC(), lesson.EndTime().UTC())
	switch {
	case qErr == nil:
		err = &models.LessonConflictError{
			Message: "teacher already has a lesson at this time",
			Conflict: models.LessonConflict{
				Dimension: models.ConflictDimensionLesson,
				LessonID:  existing.ID,
				Start:     existing.DateTime,
				End:       existing.EndTime(),
				Status:    existing.Status,
			},
		}
		return err
	case !errors.Is(qErr, sql.ErrNoRows):
		err = fmt.Errorf("check lesson overlap: %w", qErr)
		return err
	}

	const insertQuery = `INSERT INTO lessons (id, teacher_id, student_email, student_id, booked_by, subject, date_time, duration_minutes, status, created_at, updated_at)
VALUES (:id, :teacher_id, :student_email, :student_id, :booked_by, :subject, :date_time, :duration_minutes, :status, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, lesson); err != nil {
		return fmt.Errorf("insert lesson: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit lesson: %w", err)
	}
	return nil
}

// FindByID returns a lesson by identifier.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	const query = `SELECT ` + lessonColumns + ` FROM lessons WHERE id = $1`
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find lesson: %w", err)
	}
	return &lesson, nil
}

// ListBlocking returns the teacher's booked or in-progress lessons intersecting [from, to).
func (r *LessonRepository) ListBlocking(ctx context.Context, teacherID string, from, to time.Time) ([]models.Lesson, error) {
	const query = `SELECT ` + lessonColumns + ` FROM lessons
WHERE teacher_id = $1
	AND status = ANY($2)
	AND date_time < $4
	AND date_time + make_interval(mins => duration_minutes) > $3
ORDER BY date_time ASC`
	statuses := []string{string(models.LessonStatusBooked), string(models.LessonStatusInProgress)}
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, teacherID, pq.Array(statuses), from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("list blocking lessons: %w", err)
	}
	return lessons, nil
}

// List returns lessons matching the filter together with the total count.
func (r *LessonRepository) List(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, int, error) {
	baseQuery := `FROM lessons WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}
	if filter.ParticipantID != "" || filter.ParticipantEmail != "" {
		args = append(args, filter.ParticipantID)
		idIdx := len(args)
		args = append(args, strings.ToLower(filter.ParticipantEmail))
		emailIdx := len(args)
		conditions = append(conditions, fmt.Sprintf("(booked_by = $%d OR student_id = $%d OR LOWER(student_email) = $%d)", idIdx, idIdx, emailIdx))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.From != nil {
		args = append(args, filter.From.UTC())
		conditions = append(conditions, fmt.Sprintf("date_time >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, filter.To.UTC())
		conditions = append(conditions, fmt.Sprintf("date_time < $%d", len(args)))
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY date_time %s LIMIT %d OFFSET %d", lessonColumns, baseQuery, sortOrder, pageSize, offset)
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list lessons: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count lessons: %w", err)
	}
	return lessons, total, nil
}

// Transition applies a status change only while the row is still in the expected state.
// sql.ErrNoRows is returned when the guard did not match.
func (r *LessonRepository) Transition(ctx context.Context, t models.LessonTransition) (*models.Lesson, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query := `UPDATE lessons SET
	status = $3,
	clock_in_at = COALESCE($4, clock_in_at),
	clock_out_at = COALESCE($5, clock_out_at),
	worked_minutes = COALESCE($6, worked_minutes),
	cancelled_at = COALESCE($7, cancelled_at),
	updated_at = $8
WHERE id = $1 AND status = $2`
	if t.RequireNoClock {
		query += ` AND clock_in_at IS NULL AND clock_out_at IS NULL`
	}
	query += ` RETURNING ` + lessonColumns

	var lesson models.Lesson
	err := r.db.GetContext(ctx, &lesson, query, t.LessonID, t.From, t.To, t.ClockInAt, t.ClockOutAt, t.WorkedMinutes, t.CancelledAt, at)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("transition lesson %s to %s: %w", t.LessonID, t.To, err)
	}
	return &lesson, nil
}

// Delete removes the lesson and returns the deleted row.
func (r *LessonRepository) Delete(ctx context.Context, id string) (*models.Lesson, error) {
	const query = `DELETE FROM lessons WHERE id = $1 RETURNING ` + lessonColumns
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("delete lesson: %w", err)
	}
	return &lesson, nil
}

// ListCompleted returns completed lessons of a teacher for timesheets.
func (r *LessonRepository) ListCompleted(ctx context.Context, filter models.TimesheetFilter) ([]models.TimesheetEntry, error) {
	const query = `SELECT id, subject, student_email, date_time, duration_minutes, COALESCE(worked_minutes, 0) AS worked_minutes, clock_in_at, clock_out_at
FROM lessons
WHERE teacher_id = $1 AND status = 'completed' AND date_time >= $2 AND date_time < $3
ORDER BY date_time ASC`
	var entries []models.TimesheetEntry
	if err := r.db.SelectContext(ctx, &entries, query, filter.TeacherID, filter.From.UTC(), filter.To.UTC()); err != nil {
		return nil, fmt.Errorf("list completed lessons: %w", err)
	}
	return entries, nil
}
