package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
)

// CatalogRepository reads semesters, courses, majors and lab requirements.
// The engine never writes the catalog.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListSemesters returns every semester ordered by sort order.
func (r *CatalogRepository) ListSemesters(ctx context.Context) ([]models.Semester, error) {
	const query = `SELECT id, name, sort_order, requires_major_selection, is_active, created_at, updated_at
	FROM semesters ORDER BY sort_order ASC`
	var semesters []models.Semester
	if err := r.db.SelectContext(ctx, &semesters, query); err != nil {
		return nil, fmt.Errorf("list semesters: %w", err)
	}
	return semesters, nil
}

// GetSemester fetches a semester by id.
func (r *CatalogRepository) GetSemester(ctx context.Context, id string) (*models.Semester, error) {
	const query = `SELECT id, name, sort_order, requires_major_selection, is_active, created_at, updated_at
	FROM semesters WHERE id = $1`
	var semester models.Semester
	if err := r.db.GetContext(ctx, &semester, query, id); err != nil {
		return nil, err
	}
	return &semester, nil
}

// GetCourse fetches a course by id.
func (r *CatalogRepository) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, semester_id, title, sort_order, required_sessions, required_projects, created_at, updated_at
	FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ListCoursesBySemester returns the semester's courses ordered by sort order.
func (r *CatalogRepository) ListCoursesBySemester(ctx context.Context, semesterID string) ([]models.Course, error) {
	const query = `SELECT id, semester_id, title, sort_order, required_sessions, required_projects, created_at, updated_at
	FROM courses WHERE semester_id = $1 ORDER BY sort_order ASC, id ASC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, semesterID); err != nil {
		return nil, fmt.Errorf("list courses for semester %s: %w", semesterID, err)
	}
	return courses, nil
}

// GetMajor fetches a major by id.
func (r *CatalogRepository) GetMajor(ctx context.Context, id string) (*models.Major, error) {
	const query = `SELECT id, name, description, is_active, created_at FROM majors WHERE id = $1`
	var major models.Major
	if err := r.db.GetContext(ctx, &major, query, id); err != nil {
		return nil, err
	}
	return &major, nil
}

// ListMajorCourses returns the major's track with each course's semester.
func (r *CatalogRepository) ListMajorCourses(ctx context.Context, majorID string) ([]models.MajorCourse, error) {
	const query = `SELECT mc.major_id, mc.course_id, c.semester_id, mc.sort_order, mc.required
	FROM major_courses mc JOIN courses c ON c.id = mc.course_id
	WHERE mc.major_id = $1 ORDER BY mc.sort_order ASC`
	var items []models.MajorCourse
	if err := r.db.SelectContext(ctx, &items, query, majorID); err != nil {
		return nil, fmt.Errorf("list major courses: %w", err)
	}
	return items, nil
}

// GetLabRequirement fetches a lab requirement by id.
func (r *CatalogRepository) GetLabRequirement(ctx context.Context, id string) (*models.LabRequirement, error) {
	const query = `SELECT id, course_id, title, created_at FROM lab_requirements WHERE id = $1`
	var requirement models.LabRequirement
	if err := r.db.GetContext(ctx, &requirement, query, id); err != nil {
		return nil, err
	}
	return &requirement, nil
}
