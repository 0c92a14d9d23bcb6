package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutoring-api/internal/models"
)

const timeConstraintColumns = `id, teacher_id, day_of_week, start_time, end_time, note, created_at, updated_at`

// TimeConstraintRepository stores teachers' weekly unavailability windows.
type TimeConstraintRepository struct {
	db *sqlx.DB
}

// NewTimeConstraintRepository constructs the repository.
func NewTimeConstraintRepository(db *sqlx.DB) *TimeConstraintRepository {
	return &TimeConstraintRepository{db: db}
}

// ListByTeacher returns every constraint of a teacher ordered by weekday and start.
func (r *TimeConstraintRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.TimeConstraint, error) {
	const query = `SELECT ` + timeConstraintColumns + ` FROM time_constraints WHERE teacher_id = $1 ORDER BY day_of_week ASC, start_time ASC`
	var items []models.TimeConstraint
	if err := r.db.SelectContext(ctx, &items, query, teacherID); err != nil {
		return nil, fmt.Errorf("list time constraints: %w", err)
	}
	return items, nil
}

// ListByTeacherDays returns the teacher's constraints recurring on any of the given weekdays.
func (r *TimeConstraintRepository) ListByTeacherDays(ctx context.Context, teacherID string, days []int) ([]models.TimeConstraint, error) {
	if len(days) == 0 {
		return nil, nil
	}
	values := make([]int64, 0, len(days))
	for _, d := range days {
		values = append(values, int64(d))
	}
	const query = `SELECT ` + timeConstraintColumns + ` FROM time_constraints WHERE teacher_id = $1 AND day_of_week = ANY($2) ORDER BY day_of_week ASC, start_time ASC`
	var items []models.TimeConstraint
	if err := r.db.SelectContext(ctx, &items, query, teacherID, pq.Array(values)); err != nil {
		return nil, fmt.Errorf("list time constraints by day: %w", err)
	}
	return items, nil
}

// FindByID returns a constraint by id.
func (r *TimeConstraintRepository) FindByID(ctx context.Context, id string) (*models.TimeConstraint, error) {
	const query = `SELECT ` + timeConstraintColumns + ` FROM time_constraints WHERE id = $1`
	var item models.TimeConstraint
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find time constraint: %w", err)
	}
	return &item, nil
}

// Create inserts a new constraint.
func (r *TimeConstraintRepository) Create(ctx context.Context, item *models.TimeConstraint) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	const query = `INSERT INTO time_constraints (id, teacher_id, day_of_week, start_time, end_time, note, created_at, updated_at)
VALUES (:id, :teacher_id, :day_of_week, :start_time, :end_time, :note, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("create time constraint: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of a constraint owned by item.TeacherID.
func (r *TimeConstraintRepository) Update(ctx context.Context, item *models.TimeConstraint) error {
	item.UpdatedAt = time.Now().UTC()
	const query = `UPDATE time_constraints SET day_of_week = :day_of_week, start_time = :start_time, end_time = :end_time, note = :note, updated_at = :updated_at
WHERE id = :id AND teacher_id = :teacher_id`
	res, err := r.db.NamedExecContext(ctx, query, item)
	if err != nil {
		return fmt.Errorf("update time constraint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update time constraint rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a constraint owned by the teacher.
func (r *TimeConstraintRepository) Delete(ctx context.Context, id, teacherID string) error {
	const query = `DELETE FROM time_constraints WHERE id = $1 AND teacher_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, teacherID)
	if err != nil {
		return fmt.Errorf("delete time constraint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete time constraint rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
