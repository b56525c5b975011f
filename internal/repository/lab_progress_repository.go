package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
)

// ErrLabAlreadyCompleted is returned when a completed lab requirement is completed again.
var ErrLabAlreadyCompleted = errors.New("lab requirement already completed")

// LabProgressRepository persists StudentLabProgress rows.
type LabProgressRepository struct {
	db *sqlx.DB
}

// NewLabProgressRepository constructs the repository.
func NewLabProgressRepository(db *sqlx.DB) *LabProgressRepository {
	return &LabProgressRepository{db: db}
}

// ListForStudent returns the student's lab progress rows.
func (r *LabProgressRepository) ListForStudent(ctx context.Context, studentID string) ([]models.StudentLabProgress, error) {
	const query = `SELECT id, student_id, requirement_id, status, completed_at, created_at, updated_at
	FROM student_lab_progress WHERE student_id = $1 ORDER BY created_at ASC`
	var items []models.StudentLabProgress
	if err := r.db.SelectContext(ctx, &items, query, studentID); err != nil {
		return nil, fmt.Errorf("list lab progress: %w", err)
	}
	return items, nil
}

// Complete moves the (student, requirement) row to completed, creating it when absent.
// The transition is one-way; a second completion yields ErrLabAlreadyCompleted.
func (r *LabProgressRepository) Complete(ctx context.Context, studentID, requirementID string, completedAt time.Time, logs []models.TrackingLog) (progress *models.StudentLabProgress, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lab progress transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO student_lab_progress (id, student_id, requirement_id, status, completed_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5, $5)
	ON CONFLICT (student_id, requirement_id) DO UPDATE
	SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at, updated_at = EXCLUDED.updated_at
	WHERE student_lab_progress.status = $6
	RETURNING id, student_id, requirement_id, status, completed_at, created_at, updated_at`
	var row models.StudentLabProgress
	err = tx.GetContext(ctx, &row, query,
		uuid.NewString(),
		studentID,
		requirementID,
		models.LabProgressCompleted,
		completedAt,
		models.LabProgressNotStarted,
	)
	if err != nil {
		if IsNotFound(err) {
			err = ErrLabAlreadyCompleted
			return nil, err
		}
		return nil, fmt.Errorf("complete lab requirement: %w", err)
	}
	if err = insertTrackingLogs(ctx, tx, logs); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lab progress: %w", err)
	}
	return &row, nil
}

// DeleteRequirement removes a lab requirement and every associated student row.
func (r *LabProgressRepository) DeleteRequirement(ctx context.Context, requirementID string) (removed int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin lab requirement delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `DELETE FROM student_lab_progress WHERE requirement_id = $1`, requirementID)
	if err != nil {
		return 0, fmt.Errorf("delete lab progress rows: %w", err)
	}
	if removed, err = result.RowsAffected(); err != nil {
		return 0, fmt.Errorf("check lab progress rows: %w", err)
	}
	result, err = tx.ExecContext(ctx, `DELETE FROM lab_requirements WHERE id = $1`, requirementID)
	if err != nil {
		return 0, fmt.Errorf("delete lab requirement: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check lab requirement rows: %w", err)
	}
	if rows == 0 {
		err = ErrNotFound
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit lab requirement delete: %w", err)
	}
	return removed, nil
}
