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

	"github.com/noah-isme/curriculum-progress-api/internal/models"
)

var (
	// ErrVersionConflict signals that another writer updated the record first.
	ErrVersionConflict = errors.New("progress version conflict")
	// ErrAlreadyExists signals a concurrent lazy creation of the same key.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrNotFound signals that a delete or conditional write matched no row.
	ErrNotFound = errors.New("record not found")
)

const progressColumns = `id, student_id, course_id, completed_sessions, projects_submitted, project_links, status,
       rejection_reason, approved_at, approved_by, completed_at, version, created_at, updated_at`

// ProgressRepository persists StudentProgress rows with optimistic versioning.
type ProgressRepository struct {
	db *sqlx.DB
}

// NewProgressRepository constructs the repository.
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Get loads the record for a (student, course) key.
func (r *ProgressRepository) Get(ctx context.Context, studentID, courseID string) (*models.StudentProgress, error) {
	const query = `SELECT ` + progressColumns + ` FROM student_progress WHERE student_id = $1 AND course_id = $2`
	var progress models.StudentProgress
	if err := r.db.GetContext(ctx, &progress, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &progress, nil
}

// List returns records for a student, optionally narrowed to one semester or status set.
func (r *ProgressRepository) List(ctx context.Context, filter models.ProgressFilter) ([]models.StudentProgress, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT sp.id, sp.student_id, sp.course_id, sp.completed_sessions, sp.projects_submitted, sp.project_links,
       sp.status, sp.rejection_reason, sp.approved_at, sp.approved_by, sp.completed_at, sp.version, sp.created_at, sp.updated_at
	FROM student_progress sp JOIN courses c ON c.id = sp.course_id
	JOIN semesters s ON s.id = c.semester_id`)

	conditions := make([]string, 0, 4)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("sp.student_id = $%d", len(args)))
	}
	if filter.CourseID != "" {
		args = append(args, filter.CourseID)
		conditions = append(conditions, fmt.Sprintf("sp.course_id = $%d", len(args)))
	}
	if filter.SemesterID != "" {
		args = append(args, filter.SemesterID)
		conditions = append(conditions, fmt.Sprintf("c.semester_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("sp.status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY s.sort_order ASC, c.sort_order ASC")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var records []models.StudentProgress
	if err := r.db.SelectContext(ctx, &records, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list student progress: %w", err)
	}
	return records, nil
}

// ListForCourses returns the student's records for the given courses.
func (r *ProgressRepository) ListForCourses(ctx context.Context, studentID string, courseIDs []string) ([]models.StudentProgress, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT ` + progressColumns + ` FROM student_progress WHERE student_id = $1 AND course_id = ANY($2)`
	var records []models.StudentProgress
	if err := r.db.SelectContext(ctx, &records, query, studentID, pq.Array(courseIDs)); err != nil {
		return nil, fmt.Errorf("list progress for courses: %w", err)
	}
	return records, nil
}

// Create inserts a lazily-initialised record together with its tracking entries.
// A concurrent insert of the same key yields ErrAlreadyExists.
func (r *ProgressRepository) Create(ctx context.Context, progress *models.StudentProgress, logs []models.TrackingLog) (err error) {
	if progress.ID == "" {
		progress.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if progress.CreatedAt.IsZero() {
		progress.CreatedAt = now
	}
	progress.UpdatedAt = progress.CreatedAt
	progress.Version = 1
	if progress.ProjectLinks == nil {
		progress.ProjectLinks = models.StringList{}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin progress transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO student_progress
	(id, student_id, course_id, completed_sessions, projects_submitted, project_links, status, rejection_reason,
	 approved_at, approved_by, completed_at, version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (student_id, course_id) DO NOTHING`
	result, err := tx.ExecContext(ctx, query,
		progress.ID,
		progress.StudentID,
		progress.CourseID,
		progress.CompletedSessions,
		progress.ProjectsSubmitted,
		progress.ProjectLinks,
		progress.Status,
		progress.RejectionReason,
		progress.ApprovedAt,
		progress.ApprovedBy,
		progress.CompletedAt,
		progress.Version,
		progress.CreatedAt,
		progress.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert student progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check progress insert rows: %w", err)
	}
	if rows == 0 {
		err = ErrAlreadyExists
		return err
	}
	if err = insertTrackingLogs(ctx, tx, logs); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit student progress: %w", err)
	}
	return nil
}

// Save writes the record if it still carries expectedVersion, appending tracking entries
// in the same transaction. Zero affected rows yields ErrVersionConflict.
func (r *ProgressRepository) Save(ctx context.Context, progress *models.StudentProgress, expectedVersion int, logs []models.TrackingLog) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin progress transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	updatedAt := progress.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	if progress.ProjectLinks == nil {
		progress.ProjectLinks = models.StringList{}
	}
	const query = `UPDATE student_progress SET
	completed_sessions = $1, projects_submitted = $2, project_links = $3, status = $4, rejection_reason = $5,
	approved_at = $6, approved_by = $7, completed_at = $8, version = version + 1, updated_at = $9
	WHERE id = $10 AND version = $11`
	result, err := tx.ExecContext(ctx, query,
		progress.CompletedSessions,
		progress.ProjectsSubmitted,
		progress.ProjectLinks,
		progress.Status,
		progress.RejectionReason,
		progress.ApprovedAt,
		progress.ApprovedBy,
		progress.CompletedAt,
		updatedAt,
		progress.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update student progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check progress update rows: %w", err)
	}
	if rows == 0 {
		err = ErrVersionConflict
		return err
	}
	if err = insertTrackingLogs(ctx, tx, logs); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit student progress: %w", err)
	}
	progress.Version = expectedVersion + 1
	progress.UpdatedAt = updatedAt
	return nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
