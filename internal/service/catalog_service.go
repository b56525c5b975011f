package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/internal/repository"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

const (
	cacheKeySemesters      = "catalog:semesters"
	cacheKeySemesterCourse = "catalog:semester:%s:courses"
	cacheKeyMajorCourses   = "catalog:major:%s:courses"
	cachePatternCatalog    = "catalog:*"
)

type catalogStore interface {
	ListSemesters(ctx context.Context) ([]models.Semester, error)
	GetSemester(ctx context.Context, id string) (*models.Semester, error)
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	ListCoursesBySemester(ctx context.Context, semesterID string) ([]models.Course, error)
	GetMajor(ctx context.Context, id string) (*models.Major, error)
	ListMajorCourses(ctx context.Context, majorID string) ([]models.MajorCourse, error)
	GetLabRequirement(ctx context.Context, id string) (*models.LabRequirement, error)
}

// CatalogService is the read-only boundary to semesters, courses and majors. Every ordered
// listing is checked for duplicate order values before it is handed to the engine.
type CatalogService struct {
	store    catalogStore
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewCatalogService constructs the catalog reader. cache may be nil.
func NewCatalogService(store catalogStore, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{store: store, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// ListSemesters returns every semester in strictly increasing order.
func (s *CatalogService) ListSemesters(ctx context.Context) ([]models.Semester, error) {
	semesters, err := readThrough(ctx, s.cache, cacheKeySemesters, s.cacheTTL, s.store.ListSemesters)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list semesters")
	}
	for i := 1; i < len(semesters); i++ {
		if semesters[i].Order <= semesters[i-1].Order {
			s.logger.Error("semester order conflict",
				zap.String("semester_id", semesters[i].ID),
				zap.String("other_semester_id", semesters[i-1].ID),
				zap.Int("order", semesters[i].Order))
			return nil, appErrors.Clone(appErrors.ErrSemesterOrderConflict,
				fmt.Sprintf("semesters %s and %s share order %d", semesters[i-1].ID, semesters[i].ID, semesters[i].Order))
		}
	}
	return semesters, nil
}

// GetSemester fetches a semester.
func (s *CatalogService) GetSemester(ctx context.Context, id string) (*models.Semester, error) {
	semester, err := s.store.GetSemester(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}
	return semester, nil
}

// GetCourse fetches a course.
func (s *CatalogService) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.store.GetCourse(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// ListCourses returns the semester's courses in strictly increasing order.
func (s *CatalogService) ListCourses(ctx context.Context, semesterID string) ([]models.Course, error) {
	key := fmt.Sprintf(cacheKeySemesterCourse, semesterID)
	courses, err := readThrough(ctx, s.cache, key, s.cacheTTL, func(ctx context.Context) ([]models.Course, error) {
		return s.store.ListCoursesBySemester(ctx, semesterID)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	for i := 1; i < len(courses); i++ {
		if courses[i].Order <= courses[i-1].Order {
			s.logger.Error("course order conflict",
				zap.String("semester_id", semesterID),
				zap.String("course_id", courses[i].ID),
				zap.String("other_course_id", courses[i-1].ID),
				zap.Int("order", courses[i].Order))
			return nil, appErrors.Clone(appErrors.ErrCourseOrderConflict,
				fmt.Sprintf("courses %s and %s in semester %s share order %d", courses[i-1].ID, courses[i].ID, semesterID, courses[i].Order))
		}
	}
	return courses, nil
}

// SemesterTrack returns the courses a student works through in a semester, in order. A
// selected major with required courses in the semester narrows the list to those courses;
// otherwise every course of the semester is on the track.
func (s *CatalogService) SemesterTrack(ctx context.Context, semesterID, majorID string) ([]models.Course, error) {
	courses, err := s.ListCourses(ctx, semesterID)
	if err != nil || majorID == "" {
		return courses, err
	}
	items, err := s.MajorCourses(ctx, majorID)
	if err != nil {
		return nil, err
	}
	required := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.SemesterID == semesterID && item.Required {
			required[item.CourseID] = struct{}{}
		}
	}
	if len(required) == 0 {
		return courses, nil
	}
	track := make([]models.Course, 0, len(required))
	for _, c := range courses {
		if _, ok := required[c.ID]; ok {
			track = append(track, c)
		}
	}
	return track, nil
}

// trackAround returns the track containing course. Courses outside the major's track
// (electives) follow the full semester order.
func (s *CatalogService) trackAround(ctx context.Context, course *models.Course, majorID string) ([]models.Course, error) {
	track, err := s.SemesterTrack(ctx, course.SemesterID, majorID)
	if err != nil || majorID == "" {
		return track, err
	}
	for i := range track {
		if track[i].ID == course.ID {
			return track, nil
		}
	}
	return s.ListCourses(ctx, course.SemesterID)
}

// NextCourse returns the course following course on the student's track, or nil when it is
// the last. An empty majorID walks the full semester order.
func (s *CatalogService) NextCourse(ctx context.Context, course *models.Course, majorID string) (*models.Course, error) {
	courses, err := s.trackAround(ctx, course, majorID)
	if err != nil {
		return nil, err
	}
	for i := range courses {
		if courses[i].Order > course.Order {
			next := courses[i]
			return &next, nil
		}
	}
	return nil, nil
}

// PreviousCourse returns the course preceding course on the student's track, or nil when it
// is the first.
func (s *CatalogService) PreviousCourse(ctx context.Context, course *models.Course, majorID string) (*models.Course, error) {
	courses, err := s.trackAround(ctx, course, majorID)
	if err != nil {
		return nil, err
	}
	var previous *models.Course
	for i := range courses {
		if courses[i].Order >= course.Order {
			break
		}
		c := courses[i]
		previous = &c
	}
	return previous, nil
}

// FirstCourse returns the first course of a semester on the student's track, or nil when the
// semester has none.
func (s *CatalogService) FirstCourse(ctx context.Context, semesterID, majorID string) (*models.Course, error) {
	courses, err := s.SemesterTrack(ctx, semesterID, majorID)
	if err != nil {
		return nil, err
	}
	if len(courses) == 0 {
		return nil, nil
	}
	first := courses[0]
	return &first, nil
}

// NextSemester returns the next active semester after semester, or nil at the end of the program.
func (s *CatalogService) NextSemester(ctx context.Context, semester *models.Semester) (*models.Semester, error) {
	semesters, err := s.ListSemesters(ctx)
	if err != nil {
		return nil, err
	}
	for i := range semesters {
		if semesters[i].Order > semester.Order && semesters[i].IsActive {
			next := semesters[i]
			return &next, nil
		}
	}
	return nil, nil
}

// FirstSemester returns the lowest-ordered active semester, which is always reachable.
func (s *CatalogService) FirstSemester(ctx context.Context) (*models.Semester, error) {
	semesters, err := s.ListSemesters(ctx)
	if err != nil {
		return nil, err
	}
	for i := range semesters {
		if semesters[i].IsActive {
			first := semesters[i]
			return &first, nil
		}
	}
	return nil, nil
}

// GetMajor fetches a major.
func (s *CatalogService) GetMajor(ctx context.Context, id string) (*models.Major, error) {
	major, err := s.store.GetMajor(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "major not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load major")
	}
	return major, nil
}

// MajorCourses returns the major's ordered course track.
func (s *CatalogService) MajorCourses(ctx context.Context, majorID string) ([]models.MajorCourse, error) {
	key := fmt.Sprintf(cacheKeyMajorCourses, majorID)
	items, err := readThrough(ctx, s.cache, key, s.cacheTTL, func(ctx context.Context) ([]models.MajorCourse, error) {
		return s.store.ListMajorCourses(ctx, majorID)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list major courses")
	}
	return items, nil
}

// GetLabRequirement fetches a lab requirement.
func (s *CatalogService) GetLabRequirement(ctx context.Context, id string) (*models.LabRequirement, error) {
	requirement, err := s.store.GetLabRequirement(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lab requirement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lab requirement")
	}
	return requirement, nil
}

// Invalidate drops every cached catalog snapshot.
func (s *CatalogService) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx, cachePatternCatalog)
}
