package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/internal/repository"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

type gateStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	SetSelectedMajor(ctx context.Context, studentID, majorID string, selectedAt time.Time) error
	ListSemesterAccess(ctx context.Context, studentID string) ([]models.SemesterAccess, error)
	HasSemesterAccess(ctx context.Context, studentID, semesterID string) (bool, error)
}

type gateCatalog interface {
	GetSemester(ctx context.Context, id string) (*models.Semester, error)
	ListSemesters(ctx context.Context) ([]models.Semester, error)
	FirstSemester(ctx context.Context) (*models.Semester, error)
	GetMajor(ctx context.Context, id string) (*models.Major, error)
}

const gateReasonMajorRequired = "semester requires a major to be selected before its content can be accessed"

// EvaluateGate decides access for a (student, semester) pair. Access is denied if and only if
// the semester requires a major and the student has not selected one.
func EvaluateGate(student *models.Student, semester *models.Semester) dto.GateDecision {
	decision := dto.GateDecision{
		StudentID:              student.ID,
		SemesterID:             semester.ID,
		RequiresMajorSelection: semester.RequiresMajorSelection,
		HasSelectedMajor:       student.HasSelectedMajor(),
		Allowed:                true,
	}
	if decision.HasSelectedMajor {
		decision.SelectedMajorID = *student.SelectedMajorID
	}
	if decision.RequiresMajorSelection && !decision.HasSelectedMajor {
		decision.Allowed = false
		decision.Reason = gateReasonMajorRequired
	}
	return decision
}

// MajorGateService answers access questions and records the one-time major selection.
type MajorGateService struct {
	students gateStudentStore
	catalog  gateCatalog
	logger   *zap.Logger
	now      func() time.Time
}

// MajorGateOption customises the gate service.
type MajorGateOption func(*MajorGateService)

// WithMajorGateClock overrides the clock, mainly for tests.
func WithMajorGateClock(now func() time.Time) MajorGateOption {
	return func(s *MajorGateService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMajorGateService constructs the gate.
func NewMajorGateService(students gateStudentStore, catalog gateCatalog, logger *zap.Logger, opts ...MajorGateOption) *MajorGateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &MajorGateService{
		students: students,
		catalog:  catalog,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CanAccessSemester evaluates the gate without mutating anything.
func (s *MajorGateService) CanAccessSemester(ctx context.Context, studentID, semesterID string) (*dto.GateDecision, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	semester, err := s.catalog.GetSemester(ctx, semesterID)
	if err != nil {
		return nil, err
	}
	decision := EvaluateGate(student, semester)
	return &decision, nil
}

// IsSemesterReachable reports whether the student's progress has reached the semester.
// The first active semester is always reachable.
func (s *MajorGateService) IsSemesterReachable(ctx context.Context, studentID, semesterID string) (bool, error) {
	first, err := s.catalog.FirstSemester(ctx)
	if err != nil {
		return false, err
	}
	if first != nil && first.ID == semesterID {
		return true, nil
	}
	reachable, err := s.students.HasSemesterAccess(ctx, studentID, semesterID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check semester access")
	}
	return reachable, nil
}

// SelectMajor records the student's major. The choice is irrevocable and only permitted once a
// semester that requires it has been reached.
func (s *MajorGateService) SelectMajor(ctx context.Context, studentID string, req dto.SelectMajorRequest) (*models.Student, error) {
	majorID := strings.TrimSpace(req.MajorID)
	if majorID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "majorId is required")
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student.HasSelectedMajor() {
		return nil, appErrors.ErrMajorAlreadySelected
	}
	major, err := s.catalog.GetMajor(ctx, majorID)
	if err != nil {
		return nil, err
	}
	if !major.IsActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "major is not open for selection")
	}

	reached, err := s.reachedSelectionSemester(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !reached {
		return nil, appErrors.ErrMajorSelectionBlocked
	}

	selectedAt := s.now()
	if err := s.students.SetSelectedMajor(ctx, studentID, majorID, selectedAt); err != nil {
		if errors.Is(err, repository.ErrMajorAlreadySet) {
			return nil, appErrors.ErrMajorAlreadySelected
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to select major")
	}
	student.SelectedMajorID = &majorID
	student.MajorSelectedAt = &selectedAt
	s.logger.Info("major selected", zap.String("student_id", studentID), zap.String("major_id", majorID))
	return student, nil
}

func (s *MajorGateService) reachedSelectionSemester(ctx context.Context, studentID string) (bool, error) {
	semesters, err := s.catalog.ListSemesters(ctx)
	if err != nil {
		return false, err
	}
	access, err := s.students.ListSemesterAccess(ctx, studentID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list semester access")
	}
	reachable := make(map[string]struct{}, len(access)+1)
	for _, item := range access {
		reachable[item.SemesterID] = struct{}{}
	}
	firstActive := true
	for _, semester := range semesters {
		if !semester.IsActive {
			continue
		}
		_, ok := reachable[semester.ID]
		if (ok || firstActive) && semester.RequiresMajorSelection {
			return true, nil
		}
		firstActive = false
	}
	return false, nil
}

func (s *MajorGateService) loadStudent(ctx context.Context, studentID string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}
