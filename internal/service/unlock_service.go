package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/internal/repository"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
	"github.com/noah-isme/curriculum-progress-api/pkg/jobs"
)

// UnlockJobType identifies cascade jobs on the worker queue.
const UnlockJobType = "unlock_cascade"

// UnlockJobPayload is the queued cascade request.
type UnlockJobPayload struct {
	StudentID string
	CourseID  string
}

type unlockProgressStore interface {
	Get(ctx context.Context, studentID, courseID string) (*models.StudentProgress, error)
	ListForCourses(ctx context.Context, studentID string, courseIDs []string) ([]models.StudentProgress, error)
	Create(ctx context.Context, progress *models.StudentProgress, logs []models.TrackingLog) error
	Save(ctx context.Context, progress *models.StudentProgress, expectedVersion int, logs []models.TrackingLog) error
}

type unlockCatalog interface {
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	GetSemester(ctx context.Context, id string) (*models.Semester, error)
	SemesterTrack(ctx context.Context, semesterID, majorID string) ([]models.Course, error)
	NextCourse(ctx context.Context, course *models.Course, majorID string) (*models.Course, error)
	FirstCourse(ctx context.Context, semesterID, majorID string) (*models.Course, error)
	NextSemester(ctx context.Context, semester *models.Semester) (*models.Semester, error)
}

type unlockStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	GrantSemesterAccess(ctx context.Context, studentID, semesterID string, at time.Time) (bool, error)
}

type trackingAppender interface {
	Append(ctx context.Context, logs ...models.TrackingLog) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// UnlockService resolves the cascade that follows a completed course: the next course in the
// semester, or, once the semester is complete, reachability of the next semester and its first
// course. Every run is idempotent; re-running it for the same completed course is a no-op.
type UnlockService struct {
	progress   unlockProgressStore
	catalog    unlockCatalog
	students   unlockStudentStore
	tracking   trackingAppender
	notifier   progressNotifier
	metrics    *MetricsService
	logger     *zap.Logger
	queue      jobEnqueuer
	maxRetries int
	now        func() time.Time
}

// UnlockOption customises the resolver.
type UnlockOption func(*UnlockService)

// WithUnlockQueue runs dispatched cascades on a worker queue instead of inline.
func WithUnlockQueue(queue jobEnqueuer) UnlockOption {
	return func(s *UnlockService) {
		s.queue = queue
	}
}

// WithUnlockMetrics attaches metrics.
func WithUnlockMetrics(metrics *MetricsService) UnlockOption {
	return func(s *UnlockService) {
		s.metrics = metrics
	}
}

// WithUnlockNotifier attaches the notifier.
func WithUnlockNotifier(notifier progressNotifier) UnlockOption {
	return func(s *UnlockService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithUnlockClock overrides the clock, mainly for tests.
func WithUnlockClock(now func() time.Time) UnlockOption {
	return func(s *UnlockService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewUnlockService constructs the resolver.
func NewUnlockService(progress unlockProgressStore, catalog unlockCatalog, students unlockStudentStore, tracking trackingAppender, logger *zap.Logger, opts ...UnlockOption) *UnlockService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &UnlockService{
		progress:   progress,
		catalog:    catalog,
		students:   students,
		tracking:   tracking,
		notifier:   noopNotifier{},
		logger:     logger,
		maxRetries: 3,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Dispatch schedules a cascade for a just-completed course. Errors are recorded, never returned:
// the approval that triggered the cascade is already final.
func (s *UnlockService) Dispatch(ctx context.Context, studentID, courseID string) {
	if s.queue != nil {
		job := jobs.Job{
			ID:      fmt.Sprintf("%s:%s", studentID, courseID),
			Type:    UnlockJobType,
			Payload: UnlockJobPayload{StudentID: studentID, CourseID: courseID},
		}
		err := s.queue.Enqueue(job)
		if err == nil {
			return
		}
		s.logger.Warn("enqueue unlock cascade, running inline", zap.String("student_id", studentID), zap.String("course_id", courseID), zap.Error(err))
	}
	result, err := s.Resolve(ctx, studentID, courseID)
	if err != nil {
		s.logger.Warn("unlock cascade failed", zap.String("student_id", studentID), zap.String("course_id", courseID), zap.Error(err))
		return
	}
	s.recordSignals(ctx, result)
}

// HandleJob is the queue handler. Precondition failures and catalog order conflicts are not
// retried; a retry cannot fix either.
func (s *UnlockService) HandleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(UnlockJobPayload)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected unlock payload %T", job.Payload))
	}
	result, err := s.Resolve(ctx, payload.StudentID, payload.CourseID)
	switch {
	case err == nil:
		s.recordSignals(ctx, result)
		return nil
	case !appErrors.HasCode(err, appErrors.ErrUnlockFailed.Code),
		errors.Is(err, appErrors.ErrCourseOrderConflict),
		errors.Is(err, appErrors.ErrSemesterOrderConflict):
		return jobs.Permanent(err)
	default:
		return err
	}
}

// RecordAbandoned is the queue's failure hook: a cascade that exhausted its retries or was
// dropped on shutdown leaves an unlock_failed entry for operators to re-run.
func (s *UnlockService) RecordAbandoned(ctx context.Context, job jobs.Job, cause error) {
	payload, ok := job.Payload.(UnlockJobPayload)
	if !ok {
		s.logger.Error("abandoned job with unexpected payload", zap.String("job_id", job.ID), zap.Error(cause))
		return
	}
	if appErrors.HasCode(cause, appErrors.ErrUnlockFailed.Code) {
		// Resolve already appended the failure entry for this attempt
		return
	}
	s.recordFailure(ctx, payload.StudentID, payload.CourseID, cause)
}

// Resolve runs the cascade for (studentID, courseID). The course must be completed.
// Cascade failures are appended to the tracking log as unlock_failed and returned wrapped in
// ErrUnlockFailed.
func (s *UnlockService) Resolve(ctx context.Context, studentID, courseID string) (*dto.UnlockResult, error) {
	source, err := s.progress.Get(ctx, studentID, courseID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "progress not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress")
	}
	if source.Status != models.ProgressStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatusTransition, "unlock requires a completed course")
	}

	result := &dto.UnlockResult{StudentID: studentID, CourseID: courseID}
	if err := s.resolve(ctx, result); err != nil {
		result.Outcome = dto.UnlockOutcomeFailed
		s.metrics.RecordUnlockOutcome(string(result.Outcome))
		s.recordFailure(ctx, studentID, courseID, err)
		return result, appErrors.Wrap(err, appErrors.ErrUnlockFailed.Code, appErrors.ErrUnlockFailed.Status, appErrors.ErrUnlockFailed.Message)
	}
	s.metrics.RecordUnlockOutcome(string(result.Outcome))
	s.logger.Info("unlock cascade resolved",
		zap.String("student_id", studentID),
		zap.String("course_id", courseID),
		zap.String("outcome", string(result.Outcome)),
		zap.Strings("signals", result.Signals))
	return result, nil
}

func (s *UnlockService) resolve(ctx context.Context, result *dto.UnlockResult) error {
	course, err := s.catalog.GetCourse(ctx, result.CourseID)
	if err != nil {
		return err
	}
	student, err := s.students.FindByID(ctx, result.StudentID)
	if err != nil {
		return fmt.Errorf("load student: %w", err)
	}
	majorID := majorOf(student)
	next, err := s.catalog.NextCourse(ctx, course, majorID)
	if err != nil {
		return err
	}
	if next != nil {
		outcome, err := s.unlockCourse(ctx, result.StudentID, next.ID, result.CourseID)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		result.UnlockedCourseID = &next.ID
		return nil
	}

	result.Signals = append(result.Signals, appErrors.ErrNoNextCourse.Code)
	complete, err := s.semesterComplete(ctx, student.ID, course.SemesterID, majorID)
	if err != nil {
		return err
	}
	if !complete {
		result.Outcome = dto.UnlockOutcomeSemesterIncomplete
		return nil
	}

	semester, err := s.catalog.GetSemester(ctx, course.SemesterID)
	if err != nil {
		return err
	}
	nextSemester, err := s.catalog.NextSemester(ctx, semester)
	if err != nil {
		return err
	}
	if nextSemester == nil {
		result.Signals = append(result.Signals, appErrors.ErrNoNextSemester.Code)
		result.Outcome = dto.UnlockOutcomeProgramCompleted
		return nil
	}

	now := s.now()
	granted, err := s.students.GrantSemesterAccess(ctx, result.StudentID, nextSemester.ID, now)
	if err != nil {
		return err
	}
	result.UnlockedSemesterID = &nextSemester.ID
	if granted {
		entry := models.TrackingLog{
			StudentID:     result.StudentID,
			CourseID:      result.CourseID,
			Action:        models.TrackingActionUnlockSemester,
			PreviousValue: &semester.ID,
			NewValue:      &nextSemester.ID,
			PerformedBy:   models.SystemActor,
			Timestamp:     now,
		}
		if err := s.tracking.Append(ctx, entry); err != nil {
			return err
		}
		s.notifier.Notify(ctx, models.ProgressEvent{Type: models.ProgressEventUnlock, StudentID: result.StudentID, TargetID: nextSemester.ID, Timestamp: now})
	}

	// major-gated semesters are still marked reachable; content access is enforced by the gate
	first, err := s.catalog.FirstCourse(ctx, nextSemester.ID, majorID)
	if err != nil {
		return err
	}
	courseOutcome := dto.UnlockOutcomeAlreadyUnlocked
	if first != nil {
		if courseOutcome, err = s.unlockCourse(ctx, result.StudentID, first.ID, result.CourseID); err != nil {
			return err
		}
		result.UnlockedCourseID = &first.ID
	}
	result.Outcome = dto.UnlockOutcomeSemesterUnlocked
	if !granted && courseOutcome == dto.UnlockOutcomeAlreadyUnlocked {
		result.Outcome = dto.UnlockOutcomeAlreadyUnlocked
	}
	return nil
}

// semesterComplete checks that every course on the student's track in the semester is completed.
func (s *UnlockService) semesterComplete(ctx context.Context, studentID, semesterID, majorID string) (bool, error) {
	track, err := s.catalog.SemesterTrack(ctx, semesterID, majorID)
	if err != nil {
		return false, err
	}
	if len(track) == 0 {
		return true, nil
	}
	required := make([]string, 0, len(track))
	for _, c := range track {
		required = append(required, c.ID)
	}
	records, err := s.progress.ListForCourses(ctx, studentID, required)
	if err != nil {
		return false, err
	}
	completed := make(map[string]bool, len(records))
	for _, r := range records {
		completed[r.CourseID] = r.Status == models.ProgressStatusCompleted
	}
	for _, id := range required {
		if !completed[id] {
			return false, nil
		}
	}
	return true, nil
}

func majorOf(student *models.Student) string {
	if !student.HasSelectedMajor() {
		return ""
	}
	return *student.SelectedMajorID
}

// unlockCourse moves the target from locked (or absent) to not_started.
func (s *UnlockService) unlockCourse(ctx context.Context, studentID, targetID, sourceCourseID string) (dto.UnlockOutcome, error) {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		now := s.now()
		entry := models.TrackingLog{
			StudentID:   studentID,
			CourseID:    targetID,
			Action:      models.TrackingActionUnlockCourse,
			NewValue:    strPtr(string(models.ProgressStatusNotStarted)),
			PerformedBy: models.SystemActor,
			Timestamp:   now,
		}

		current, err := s.progress.Get(ctx, studentID, targetID)
		switch {
		case repository.IsNotFound(err):
			record := &models.StudentProgress{
				StudentID:    studentID,
				CourseID:     targetID,
				ProjectLinks: models.StringList{},
				Status:       models.ProgressStatusNotStarted,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := s.progress.Create(ctx, record, []models.TrackingLog{entry}); err != nil {
				if errors.Is(err, repository.ErrAlreadyExists) {
					continue
				}
				return "", err
			}
		case err != nil:
			return "", err
		case current.Status != models.ProgressStatusLocked:
			return dto.UnlockOutcomeAlreadyUnlocked, nil
		default:
			next := current.Clone()
			next.Status = models.ProgressStatusNotStarted
			next.UpdatedAt = now
			entry.PreviousValue = strPtr(string(current.Status))
			if err := s.progress.Save(ctx, next, current.Version, []models.TrackingLog{entry}); err != nil {
				if errors.Is(err, repository.ErrVersionConflict) {
					s.metrics.RecordWriteConflict()
					continue
				}
				return "", err
			}
			s.metrics.RecordTransition(string(models.ProgressStatusLocked), string(models.ProgressStatusNotStarted))
		}

		s.logger.Debug("course unlocked", zap.String("student_id", studentID), zap.String("course_id", targetID), zap.String("after", sourceCourseID))
		s.notifier.Notify(ctx, models.ProgressEvent{Type: models.ProgressEventUnlock, StudentID: studentID, TargetID: targetID, Timestamp: now})
		return dto.UnlockOutcomeCourseUnlocked, nil
	}
	return "", appErrors.ErrWriteConflict
}

// recordSignals appends the terminal signals of an approval-triggered cascade. Manual re-runs
// through Resolve do not call it, so the trail holds one entry per approval.
func (s *UnlockService) recordSignals(ctx context.Context, result *dto.UnlockResult) {
	var entries []models.TrackingLog
	now := s.now()
	outcome := string(result.Outcome)
	if result.HasSignal(appErrors.ErrNoNextCourse.Code) {
		entries = append(entries, models.TrackingLog{
			StudentID:   result.StudentID,
			CourseID:    result.CourseID,
			Action:      models.TrackingActionNoNextCourse,
			NewValue:    &outcome,
			PerformedBy: models.SystemActor,
			Timestamp:   now,
		})
	}
	if result.Outcome == dto.UnlockOutcomeProgramCompleted {
		entries = append(entries, models.TrackingLog{
			StudentID:   result.StudentID,
			CourseID:    result.CourseID,
			Action:      models.TrackingActionProgramCompleted,
			NewValue:    &outcome,
			PerformedBy: models.SystemActor,
			Timestamp:   now,
		})
	}
	if len(entries) == 0 {
		return
	}
	if err := s.tracking.Append(context.WithoutCancel(ctx), entries...); err != nil {
		s.logger.Error("record unlock signals", zap.String("student_id", result.StudentID), zap.String("course_id", result.CourseID), zap.Error(err))
	}
}

func (s *UnlockService) recordFailure(ctx context.Context, studentID, courseID string, cause error) {
	detail := appErrors.FromError(cause)
	message := detail.Code + ": " + cause.Error()
	entry := models.TrackingLog{
		StudentID:   studentID,
		CourseID:    courseID,
		Action:      models.TrackingActionUnlockFailed,
		NewValue:    &message,
		PerformedBy: models.SystemActor,
		Timestamp:   s.now(),
	}
	if err := s.tracking.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("record unlock failure", zap.String("student_id", studentID), zap.String("course_id", courseID), zap.Error(err))
		return
	}
	s.logger.Warn("unlock cascade failed", zap.String("student_id", studentID), zap.String("course_id", courseID), zap.Error(cause))
}
