package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/internal/repository"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

type progressStore interface {
	Get(ctx context.Context, studentID, courseID string) (*models.StudentProgress, error)
	List(ctx context.Context, filter models.ProgressFilter) ([]models.StudentProgress, error)
	Create(ctx context.Context, progress *models.StudentProgress, logs []models.TrackingLog) error
	Save(ctx context.Context, progress *models.StudentProgress, expectedVersion int, logs []models.TrackingLog) error
}

type progressCatalog interface {
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	PreviousCourse(ctx context.Context, course *models.Course, majorID string) (*models.Course, error)
}

type semesterGate interface {
	CanAccessSemester(ctx context.Context, studentID, semesterID string) (*dto.GateDecision, error)
	IsSemesterReachable(ctx context.Context, studentID, semesterID string) (bool, error)
}

type unlockDispatcher interface {
	Dispatch(ctx context.Context, studentID, courseID string)
}

type progressNotifier interface {
	Notify(ctx context.Context, event models.ProgressEvent)
}

// ProgressConfig tunes the ledger.
type ProgressConfig struct {
	MaxWriteRetries int
	BulkConcurrency int
	BulkMaxItems    int
}

// ProgressService is the progress ledger. It owns every StudentProgress status change and
// writes each change together with its tracking entries.
type ProgressService struct {
	store     progressStore
	catalog   progressCatalog
	gate      semesterGate
	unlocker  unlockDispatcher
	notifier  progressNotifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    ProgressConfig
	now       func() time.Time
}

// ProgressOption customises the ledger.
type ProgressOption func(*ProgressService)

// WithProgressClock overrides the clock, mainly for tests.
func WithProgressClock(now func() time.Time) ProgressOption {
	return func(s *ProgressService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithProgressMetrics attaches metrics.
func WithProgressMetrics(metrics *MetricsService) ProgressOption {
	return func(s *ProgressService) {
		s.metrics = metrics
	}
}

// WithProgressNotifier attaches the event notifier.
func WithProgressNotifier(notifier progressNotifier) ProgressOption {
	return func(s *ProgressService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithUnlockDispatcher attaches the cascade triggered after approval.
func WithUnlockDispatcher(unlocker unlockDispatcher) ProgressOption {
	return func(s *ProgressService) {
		if unlocker != nil {
			s.unlocker = unlocker
		}
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, models.ProgressEvent) {}

type noopUnlocker struct{}

func (noopUnlocker) Dispatch(context.Context, string, string) {}

// NewProgressService constructs the ledger.
func NewProgressService(store progressStore, catalog progressCatalog, gate semesterGate, validate *validator.Validate, logger *zap.Logger, cfg ProgressConfig, opts ...ProgressOption) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWriteRetries <= 0 {
		cfg.MaxWriteRetries = 3
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 4
	}
	if cfg.BulkMaxItems <= 0 {
		cfg.BulkMaxItems = 500
	}
	svc := &ProgressService{
		store:     store,
		catalog:   catalog,
		gate:      gate,
		unlocker:  noopUnlocker{},
		notifier:  noopNotifier{},
		validator: newProgressValidator(validate),
		logger:    logger,
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// OpenCourse returns the student's record for the course, creating it on first access.
// The record starts not_started when the prerequisite is satisfied and locked otherwise.
// Access is refused while the major gate denies the course's semester.
func (s *ProgressService) OpenCourse(ctx context.Context, studentID, courseID, actorID string) (*models.StudentProgress, error) {
	if strings.TrimSpace(studentID) == "" || strings.TrimSpace(courseID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentId and courseId are required")
	}
	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	decision, err := s.gate.CanAccessSemester(ctx, studentID, course.SemesterID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrMajorSelectionRequired, decision.Reason)
	}
	return s.ensureProgress(ctx, studentID, course, decision.SelectedMajorID, actorID)
}

func (s *ProgressService) ensureProgress(ctx context.Context, studentID string, course *models.Course, majorID, actorID string) (*models.StudentProgress, error) {
	existing, err := s.store.Get(ctx, studentID, course.ID)
	if err == nil {
		return existing, nil
	}
	if !repository.IsNotFound(err) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress")
	}

	unlocked, err := s.prerequisiteSatisfied(ctx, studentID, course, majorID)
	if err != nil {
		return nil, err
	}
	status := models.ProgressStatusLocked
	if unlocked {
		status = models.ProgressStatusNotStarted
	}
	now := s.now()
	progress := &models.StudentProgress{
		StudentID:    studentID,
		CourseID:     course.ID,
		ProjectLinks: models.StringList{},
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	entry := s.logEntry(studentID, course.ID, models.TrackingActionCreate, nil, strPtr(string(status)), actorID)
	if err := s.store.Create(ctx, progress, []models.TrackingLog{entry}); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			existing, getErr := s.store.Get(ctx, studentID, course.ID)
			if getErr != nil {
				return nil, appErrors.Wrap(getErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress")
			}
			return existing, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create progress")
	}
	s.logger.Debug("progress opened", zap.String("student_id", studentID), zap.String("course_id", course.ID), zap.String("status", string(status)))
	return progress, nil
}

// prerequisiteSatisfied checks the previous course on the student's major track, or the
// semester's reachability for the first course on it.
func (s *ProgressService) prerequisiteSatisfied(ctx context.Context, studentID string, course *models.Course, majorID string) (bool, error) {
	previous, err := s.catalog.PreviousCourse(ctx, course, majorID)
	if err != nil {
		return false, err
	}
	if previous == nil {
		return s.gate.IsSemesterReachable(ctx, studentID, course.SemesterID)
	}
	prior, err := s.store.Get(ctx, studentID, previous.ID)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisite progress")
	}
	return prior.Status == models.ProgressStatusCompleted, nil
}

// GetProgress is OpenCourse for read paths.
func (s *ProgressService) GetProgress(ctx context.Context, studentID, courseID, actorID string) (*models.StudentProgress, error) {
	return s.OpenCourse(ctx, studentID, courseID, actorID)
}

// ListProgress returns a student's records in curriculum order.
func (s *ProgressService) ListProgress(ctx context.Context, studentID, semesterID string, statuses []models.ProgressStatus) ([]models.StudentProgress, error) {
	for _, status := range statuses {
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown status "+string(status))
		}
	}
	records, err := s.store.List(ctx, models.ProgressFilter{StudentID: studentID, SemesterID: semesterID, Status: statuses})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list progress")
	}
	if records == nil {
		records = []models.StudentProgress{}
	}
	return records, nil
}

// UpdateProgress applies a count/link patch. Counts are bound-checked, links must be http(s)
// URLs, and the status is re-derived from the new counts. Lowering a count requires an admin
// correction. Each distinct change is logged separately.
func (s *ProgressService) UpdateProgress(ctx context.Context, studentID, courseID string, req dto.UpdateProgressRequest, actor *models.JWTClaims) (*models.StudentProgress, error) {
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if req.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no progress fields supplied")
	}
	if req.Correction && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may correct progress counts")
	}
	if (req.CompletedSessions != nil && *req.CompletedSessions < 0) || (req.ProjectsSubmitted != nil && *req.ProjectsSubmitted < 0) {
		return nil, appErrors.ErrNegativeCount
	}
	var links []string
	if req.ProjectLinks != nil {
		validated, err := validateProjectLinks(s.validator, req.ProjectLinks)
		if err != nil {
			return nil, err
		}
		links = validated
	}

	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if req.CompletedSessions != nil && *req.CompletedSessions > course.RequiredSessions {
		return nil, appErrors.ErrSessionsExceedRequired
	}
	if req.ProjectsSubmitted != nil && *req.ProjectsSubmitted > course.RequiredProjects {
		return nil, appErrors.ErrProjectsExceedRequired
	}

	return s.withRetry(ctx, studentID, courseID, func() (*models.StudentProgress, error) {
		current, err := s.OpenCourse(ctx, studentID, courseID, actor.UserID)
		if err != nil {
			return nil, err
		}
		next, logs, err := s.applyPatch(current, course, req, links, actor.UserID)
		if err != nil {
			return nil, err
		}
		if len(logs) == 0 {
			return current, nil
		}
		if err := s.store.Save(ctx, next, current.Version, logs); err != nil {
			return nil, err
		}
		s.metrics.RecordTransition(string(current.Status), string(next.Status))
		return next, nil
	})
}

// applyPatch computes the patched record and its tracking entries without touching storage.
func (s *ProgressService) applyPatch(current *models.StudentProgress, course *models.Course, req dto.UpdateProgressRequest, links []string, actorID string) (*models.StudentProgress, []models.TrackingLog, error) {
	switch current.Status {
	case models.ProgressStatusLocked:
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidStatusTransition, "course is locked")
	case models.ProgressStatusCompleted:
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidStatusTransition, "course is already completed")
	}

	sessions := current.CompletedSessions
	if req.CompletedSessions != nil {
		sessions = *req.CompletedSessions
	}
	projects := current.ProjectsSubmitted
	if req.ProjectsSubmitted != nil {
		projects = *req.ProjectsSubmitted
	}
	if err := ValidateCounts(course, sessions, projects); err != nil {
		return nil, nil, err
	}
	if !req.Correction && (sessions < current.CompletedSessions || projects < current.ProjectsSubmitted) {
		return nil, nil, appErrors.ErrCountDecreaseNotAllowed
	}

	var added, removed []string
	if req.ProjectLinks != nil {
		added, removed = diffLinks(current.ProjectLinks, links)
	}
	sessionsChanged := sessions != current.CompletedSessions
	projectsChanged := projects != current.ProjectsSubmitted
	linksChanged := len(added) > 0 || len(removed) > 0

	// a rejected record is re-evaluated on any resubmission, even with unchanged counts
	status := current.Status
	if sessionsChanged || projectsChanged || current.Status == models.ProgressStatusRejected {
		derived, err := NextStatus(current.Status, sessions, projects, course)
		if err != nil {
			return nil, nil, err
		}
		status = derived
	}
	if !sessionsChanged && !projectsChanged && !linksChanged && status == current.Status {
		return current, nil, nil
	}

	next := current.Clone()
	next.CompletedSessions = sessions
	next.ProjectsSubmitted = projects
	if req.ProjectLinks != nil {
		next.ProjectLinks = models.StringList(links)
	}
	next.Status = status
	if next.Status != models.ProgressStatusRejected {
		next.RejectionReason = nil
	}
	next.UpdatedAt = s.now()

	logs := make([]models.TrackingLog, 0, 4+len(added)+len(removed))
	if sessionsChanged {
		action := models.TrackingActionUpdateSessions
		if req.Correction {
			action = models.TrackingActionCorrectSessions
		}
		logs = append(logs, s.logEntry(current.StudentID, current.CourseID, action,
			strPtr(strconv.Itoa(current.CompletedSessions)), strPtr(strconv.Itoa(sessions)), actorID))
	}
	if projectsChanged {
		action := models.TrackingActionUpdateProjects
		if req.Correction {
			action = models.TrackingActionCorrectProjects
		}
		logs = append(logs, s.logEntry(current.StudentID, current.CourseID, action,
			strPtr(strconv.Itoa(current.ProjectsSubmitted)), strPtr(strconv.Itoa(projects)), actorID))
	}
	for _, link := range added {
		logs = append(logs, s.logEntry(current.StudentID, current.CourseID, models.TrackingActionAddProjectLink, nil, strPtr(link), actorID))
	}
	for _, link := range removed {
		logs = append(logs, s.logEntry(current.StudentID, current.CourseID, models.TrackingActionRemoveProjectLink, strPtr(link), nil, actorID))
	}
	if next.Status != current.Status {
		logs = append(logs, s.logEntry(current.StudentID, current.CourseID, models.TrackingActionStatusChange,
			strPtr(string(current.Status)), strPtr(string(next.Status)), actorID))
	}
	return next, logs, nil
}

// Approve moves a pending_approval record to completed, then triggers the unlock cascade.
// Cascade outcomes never affect the returned record.
func (s *ProgressService) Approve(ctx context.Context, studentID, courseID, approvedBy string) (*models.StudentProgress, error) {
	approvedBy = strings.TrimSpace(approvedBy)
	if approvedBy == "" {
		return nil, appErrors.ErrApproverRequired
	}
	approved, err := s.withRetry(ctx, studentID, courseID, func() (*models.StudentProgress, error) {
		current, err := s.loadExisting(ctx, studentID, courseID)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case models.ProgressStatusCompleted:
			return nil, appErrors.ErrAlreadyApproved
		case models.ProgressStatusPendingApproval:
		default:
			return nil, appErrors.Clone(appErrors.ErrNotPendingApproval, "progress is "+string(current.Status))
		}

		now := s.now()
		next := current.Clone()
		next.Status = models.ProgressStatusCompleted
		next.ApprovedAt = &now
		next.ApprovedBy = &approvedBy
		next.CompletedAt = &now
		next.RejectionReason = nil
		next.UpdatedAt = now
		entry := s.logEntry(studentID, courseID, models.TrackingActionApprove,
			strPtr(string(current.Status)), strPtr(string(next.Status)), approvedBy)
		if err := s.store.Save(ctx, next, current.Version, []models.TrackingLog{entry}); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(models.ProgressStatusPendingApproval), string(models.ProgressStatusCompleted))
	s.logger.Info("progress approved", zap.String("student_id", studentID), zap.String("course_id", courseID), zap.String("approved_by", approvedBy))
	s.notifier.Notify(ctx, models.ProgressEvent{Type: models.ProgressEventApprove, StudentID: studentID, TargetID: courseID, Timestamp: s.now()})
	s.unlocker.Dispatch(ctx, studentID, courseID)
	return approved, nil
}

// Reject moves a pending_approval record to rejected. Counts are kept so the student can resubmit.
func (s *ProgressService) Reject(ctx context.Context, studentID, courseID, reason, actorID string) (*models.StudentProgress, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.ErrRejectionReasonRequired
	}
	rejected, err := s.withRetry(ctx, studentID, courseID, func() (*models.StudentProgress, error) {
		current, err := s.loadExisting(ctx, studentID, courseID)
		if err != nil {
			return nil, err
		}
		if err := ValidateTransition(current.Status, models.ProgressStatusRejected); err != nil {
			return nil, err
		}
		next := current.Clone()
		next.Status = models.ProgressStatusRejected
		next.RejectionReason = &reason
		next.UpdatedAt = s.now()
		entry := s.logEntry(studentID, courseID, models.TrackingActionReject, strPtr(string(current.Status)), strPtr(reason), actorID)
		if err := s.store.Save(ctx, next, current.Version, []models.TrackingLog{entry}); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(models.ProgressStatusPendingApproval), string(models.ProgressStatusRejected))
	s.notifier.Notify(ctx, models.ProgressEvent{Type: models.ProgressEventReject, StudentID: studentID, TargetID: courseID, Timestamp: s.now()})
	return rejected, nil
}

// BulkApprove fans Approve out over independent keys. Failures are reported per item and
// never roll back or block other items.
func (s *ProgressService) BulkApprove(ctx context.Context, req dto.BulkApproveRequest, approvedBy string) (*dto.BulkApproveResult, error) {
	if strings.TrimSpace(approvedBy) == "" {
		return nil, appErrors.ErrApproverRequired
	}
	if len(req.Items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "items must not be empty")
	}
	if len(req.Items) > s.config.BulkMaxItems {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d items per request", s.config.BulkMaxItems))
	}

	result := &dto.BulkApproveResult{Total: len(req.Items), Items: make([]dto.BulkApproveItem, len(req.Items))}
	sem := make(chan struct{}, s.config.BulkConcurrency)
	var wg sync.WaitGroup
	for i, key := range req.Items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, key models.ProgressKey) {
			defer wg.Done()
			defer func() { <-sem }()
			item := dto.BulkApproveItem{StudentID: key.StudentID, CourseID: key.CourseID}
			var err error
			if err = s.validator.Struct(key); err != nil {
				err = appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "studentId and courseId are required")
			} else {
				var approved *models.StudentProgress
				if approved, err = s.Approve(ctx, key.StudentID, key.CourseID, approvedBy); err == nil {
					item.Approved = true
					item.Status = approved.Status
				}
			}
			if err != nil {
				item.Error = appErrors.FromError(err)
			}
			s.metrics.RecordBulkItem(item.Approved)
			result.Items[i] = item
		}(i, key)
	}
	wg.Wait()

	for _, item := range result.Items {
		if item.Approved {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	if result.Failed > 0 {
		result.Error = appErrors.Clone(appErrors.ErrBulkPartialFailure, fmt.Sprintf("%d of %d items could not be approved", result.Failed, result.Total))
		s.logger.Warn("bulk approve partial failure", zap.Int("failed", result.Failed), zap.Int("total", result.Total))
	}
	return result, nil
}

// withRetry runs a read-validate-write cycle, re-reading on optimistic conflicts.
func (s *ProgressService) withRetry(ctx context.Context, studentID, courseID string, attempt func() (*models.StudentProgress, error)) (*models.StudentProgress, error) {
	for i := 0; i <= s.config.MaxWriteRetries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "request cancelled")
		}
		progress, err := attempt()
		if err == nil {
			return progress, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			var appErr *appErrors.Error
			if errors.As(err, &appErr) {
				return nil, err
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save progress")
		}
		s.metrics.RecordWriteConflict()
		s.logger.Warn("progress write conflict", zap.String("student_id", studentID), zap.String("course_id", courseID), zap.Int("attempt", i+1))
	}
	return nil, appErrors.ErrWriteConflict
}

func (s *ProgressService) loadExisting(ctx context.Context, studentID, courseID string) (*models.StudentProgress, error) {
	progress, err := s.store.Get(ctx, studentID, courseID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "progress not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress")
	}
	return progress, nil
}

func (s *ProgressService) logEntry(studentID, courseID string, action models.TrackingAction, previous, next *string, actorID string) models.TrackingLog {
	if actorID == "" {
		actorID = models.SystemActor
	}
	return models.TrackingLog{
		StudentID:     studentID,
		CourseID:      courseID,
		Action:        action,
		PreviousValue: previous,
		NewValue:      next,
		PerformedBy:   actorID,
		Timestamp:     s.now(),
	}
}

func strPtr(v string) *string {
	return &v
}
