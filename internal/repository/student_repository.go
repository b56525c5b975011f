package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
)

// ErrMajorAlreadySet is returned when a conditional major assignment finds a non-null major.
var ErrMajorAlreadySet = errors.New("student major already set")

// StudentRepository reads students and maintains the one-time major choice and semester reachability.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID fetches a student.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, selected_major_id, major_selected_at, created_at, updated_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// SetSelectedMajor assigns the major only while none is set, so the choice can never be overwritten.
func (r *StudentRepository) SetSelectedMajor(ctx context.Context, studentID, majorID string, selectedAt time.Time) error {
	const query = `UPDATE students SET selected_major_id = $1, major_selected_at = $2, updated_at = $2
	WHERE id = $3 AND selected_major_id IS NULL`
	result, err := r.db.ExecContext(ctx, query, majorID, selectedAt, studentID)
	if err != nil {
		return fmt.Errorf("set selected major: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check selected major rows: %w", err)
	}
	if rows == 0 {
		return ErrMajorAlreadySet
	}
	return nil
}

// ListSemesterAccess returns the semesters recorded as reachable for the student.
func (r *StudentRepository) ListSemesterAccess(ctx context.Context, studentID string) ([]models.SemesterAccess, error) {
	const query = `SELECT student_id, semester_id, unlocked_at FROM student_semester_access WHERE student_id = $1 ORDER BY unlocked_at ASC`
	var items []models.SemesterAccess
	if err := r.db.SelectContext(ctx, &items, query, studentID); err != nil {
		return nil, fmt.Errorf("list semester access: %w", err)
	}
	return items, nil
}

// HasSemesterAccess reports whether the semester was marked reachable.
func (r *StudentRepository) HasSemesterAccess(ctx context.Context, studentID, semesterID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM student_semester_access WHERE student_id = $1 AND semester_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, semesterID); err != nil {
		return false, fmt.Errorf("check semester access: %w", err)
	}
	return exists, nil
}

// GrantSemesterAccess marks the semester reachable. It reports false when it already was.
func (r *StudentRepository) GrantSemesterAccess(ctx context.Context, studentID, semesterID string, at time.Time) (bool, error) {
	const query = `INSERT INTO student_semester_access (student_id, semester_id, unlocked_at) VALUES ($1, $2, $3)
	ON CONFLICT (student_id, semester_id) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, studentID, semesterID, at)
	if err != nil {
		return false, fmt.Errorf("grant semester access: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check semester access rows: %w", err)
	}
	return rows > 0, nil
}
