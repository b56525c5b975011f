package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
	"github.com/noah-isme/curriculum-progress-api/pkg/jobs"
)

type recordingEnqueuer struct {
	jobs []jobs.Job
	err  error
}

func (e *recordingEnqueuer) Enqueue(job jobs.Job) error {
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

func completedRecord(studentID, courseID string) models.StudentProgress {
	return models.StudentProgress{StudentID: studentID, CourseID: courseID, Status: models.ProgressStatusCompleted}
}

func TestSemesterCompletionUnlocksNextSemester(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	h.db.seed(completedRecord("st1", "c1"))
	h.db.seed(models.StudentProgress{StudentID: "st1", CourseID: "c2", CompletedSessions: 2, Status: models.ProgressStatusPendingApproval})

	_, err := h.progress.Approve(ctx, "st1", "c2", "admin-1")
	require.NoError(t, err)

	assert.True(t, h.db.hasAccess("st1", "s2"))
	first := h.db.record("st1", "c3")
	require.NotNil(t, first)
	assert.Equal(t, models.ProgressStatusNotStarted, first.Status)

	semesterLogs := h.db.logsFor("st1", "c2")
	require.Len(t, semesterLogs, 3)
	assert.Equal(t, models.TrackingActionApprove, semesterLogs[0].Action)
	assert.Equal(t, models.TrackingActionUnlockSemester, semesterLogs[1].Action)
	assert.Equal(t, "s1", *semesterLogs[1].PreviousValue)
	assert.Equal(t, "s2", *semesterLogs[1].NewValue)
	assert.Equal(t, models.SystemActor, semesterLogs[1].PerformedBy)
	assert.Equal(t, models.TrackingActionNoNextCourse, semesterLogs[2].Action)
	assert.Equal(t, string(dto.UnlockOutcomeSemesterUnlocked), *semesterLogs[2].NewValue)
	assert.Equal(t, models.SystemActor, semesterLogs[2].PerformedBy)

	// re-running the cascade changes nothing
	logCount := len(h.db.logsFor("st1", ""))
	result, err := h.unlock.Resolve(ctx, "st1", "c2")
	require.NoError(t, err)
	assert.Equal(t, dto.UnlockOutcomeAlreadyUnlocked, result.Outcome)
	assert.True(t, result.HasSignal(appErrors.ErrNoNextCourse.Code))
	require.NotNil(t, result.UnlockedSemesterID)
	assert.Equal(t, "s2", *result.UnlockedSemesterID)
	assert.Len(t, h.db.logsFor("st1", ""), logCount)
}

func TestReachedMajorSemesterStillGatesContent(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	h.db.seed(completedRecord("st1", "c1"))
	h.db.seed(completedRecord("st1", "c2"))

	result, err := h.unlock.Resolve(ctx, "st1", "c2")
	require.NoError(t, err)
	assert.Equal(t, dto.UnlockOutcomeSemesterUnlocked, result.Outcome)

	_, err = h.progress.OpenCourse(ctx, "st1", "c3", "st1")
	assert.ErrorIs(t, err, appErrors.ErrMajorSelectionRequired)

	_, err = h.gate.SelectMajor(ctx, "st1", dto.SelectMajorRequest{MajorID: "m1"})
	require.NoError(t, err)

	record, err := h.progress.OpenCourse(ctx, "st1", "c3", "st1")
	require.NoError(t, err)
	assert.Equal(t, models.ProgressStatusNotStarted, record.Status)
}

func TestIncompleteSemesterStops(t *testing.T) {
	h := newEngineHarness(t)
	h.db.seed(models.StudentProgress{StudentID: "st1", CourseID: "c1", CompletedSessions: 3, Status: models.ProgressStatusInProgress})
	h.db.seed(completedRecord("st1", "c2"))

	result, err := h.unlock.Resolve(context.Background(), "st1", "c2")
	require.NoError(t, err)
	assert.Equal(t, dto.UnlockOutcomeSemesterIncomplete, result.Outcome)
	assert.True(t, result.HasSignal(appErrors.ErrNoNextCourse.Code))
	assert.False(t, h.db.hasAccess("st1", "s2"))
}

func TestMajorTrackCompletesSemesterWithoutElectives(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	h.db.seed(completedRecord("st1", "c1"))
	h.db.seed(completedRecord("st1", "c2"))
	h.db.access["st1"] = map[string]time.Time{"s2": testNow}
	_, err := h.gate.SelectMajor(ctx, "st1", dto.SelectMajorRequest{MajorID: "m1"})
	require.NoError(t, err)

	// c4 is the first course on m1's track even though the elective c3 precedes it
	opened, err := h.progress.OpenCourse(ctx, "st1", "c4", "st1")
	require.NoError(t, err)
	assert.Equal(t, models.ProgressStatusNotStarted, opened.Status)

	updated, err := h.progress.UpdateProgress(ctx, "st1", "c4", dto.UpdateProgressRequest{CompletedSessions: intPtr(1)}, studentClaims)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressStatusPendingApproval, updated.Status)

	_, err = h.progress.Approve(ctx, "st1", "c4", "admin-1")
	require.NoError(t, err)
	assert.Nil(t, h.db.record("st1", "c3"))
	assert.True(t, h.db.hasAccess("st1", "s3"))
	next := h.db.record("st1", "c5")
	require.NotNil(t, next)
	assert.Equal(t, models.ProgressStatusNotStarted, next.Status)
	assert.Equal(t, []models.TrackingAction{
		models.TrackingActionApprove,
		models.TrackingActionUnlockSemester,
		models.TrackingActionNoNextCourse,
	}, h.db.actions("st1", "c4"))
}

func TestSemesterWithoutMajorWaitsForEveryCourse(t *testing.T) {
	h := newEngineHarness(t)
	h.db.access["st2"] = map[string]time.Time{"s2": testNow}
	h.db.seed(models.StudentProgress{StudentID: "st2", CourseID: "c3", Status: models.ProgressStatusInProgress})
	h.db.seed(completedRecord("st2", "c4"))

	result, err := h.unlock.Resolve(context.Background(), "st2", "c4")
	require.NoError(t, err)
	assert.Equal(t, dto.UnlockOutcomeSemesterIncomplete, result.Outcome)
	assert.False(t, h.db.hasAccess("st2", "s3"))
}

func TestApprovingLastCourseRecordsProgramCompletion(t *testing.T) {
	h := newEngineHarness(t)
	h.db.seed(models.StudentProgress{StudentID: "st1", CourseID: "c5", CompletedSessions: 1, Status: models.ProgressStatusPendingApproval})

	_, err := h.progress.Approve(context.Background(), "st1", "c5", "admin-1")
	require.NoError(t, err)

	assert.Equal(t, []models.TrackingAction{
		models.TrackingActionApprove,
		models.TrackingActionNoNextCourse,
		models.TrackingActionProgramCompleted,
	}, h.db.actions("st1", "c5"))
	logs := h.db.logsFor("st1", "c5")
	require.Len(t, logs, 3)
	assert.Equal(t, string(dto.UnlockOutcomeProgramCompleted), *logs[2].NewValue)
	assert.Equal(t, models.SystemActor, logs[2].PerformedBy)
}

func TestLastSemesterCompletesProgram(t *testing.T) {
	h := newEngineHarness(t)
	h.db.seed(completedRecord("st1", "c5"))

	result, err := h.unlock.Resolve(context.Background(), "st1", "c5")
	require.NoError(t, err)
	assert.Equal(t, dto.UnlockOutcomeProgramCompleted, result.Outcome)
	assert.True(t, result.HasSignal(appErrors.ErrNoNextCourse.Code))
	assert.True(t, result.HasSignal(appErrors.ErrNoNextSemester.Code))
	assert.False(t, h.db.hasAccess("st1", "s4"))
}

func TestResolveRequiresCompletedCourse(t *testing.T) {
	h := newEngineHarness(t)
	h.db.seed(models.StudentProgress{StudentID: "st1", CourseID: "c1", CompletedSessions: 10, ProjectsSubmitted: 1, Status: models.ProgressStatusPendingApproval})

	_, err := h.unlock.Resolve(context.Background(), "st1", "c1")
	assert.ErrorIs(t, err, appErrors.ErrInvalidStatusTransition)

	_, err = h.unlock.Resolve(context.Background(), "st1", "c2")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCourseOrderConflictDoesNotUndoApproval(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	h.db.courses = append(h.db.courses, models.Course{ID: "c2b", SemesterID: "s1", Title: "Duplicate", Order: 2, RequiredSessions: 1})
	h.db.seed(models.StudentProgress{StudentID: "st1", CourseID: "c1", CompletedSessions: 10, ProjectsSubmitted: 1, Status: models.ProgressStatusPendingApproval})

	approved, err := h.progress.Approve(ctx, "st1", "c1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ProgressStatusCompleted, approved.Status)
	assert.Equal(t, models.ProgressStatusCompleted, h.db.record("st1", "c1").Status)

	logs := h.db.logsFor("st1", "c1")
	require.Len(t, logs, 2)
	assert.Equal(t, models.TrackingActionUnlockFailed, logs[1].Action)
	assert.Contains(t, *logs[1].NewValue, appErrors.ErrCourseOrderConflict.Code)

	result, err := h.unlock.Resolve(ctx, "st1", "c1")
	assert.ErrorIs(t, err, appErrors.ErrUnlockFailed)
	assert.ErrorIs(t, err, appErrors.ErrCourseOrderConflict)
	assert.Equal(t, dto.UnlockOutcomeFailed, result.Outcome)
}

func TestDispatchEnqueuesWhenQueueConfigured(t *testing.T) {
	h := newEngineHarness(t)
	h.db.seed(completedRecord("st1", "c1"))
	queue := &recordingEnqueuer{}
	h.unlock = queuedUnlock(h, queue)

	h.unlock.Dispatch(context.Background(), "st1", "c1")
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, UnlockJobType, queue.jobs[0].Type)
	assert.Equal(t, UnlockJobPayload{StudentID: "st1", CourseID: "c1"}, queue.jobs[0].Payload)
	assert.Nil(t, h.db.record("st1", "c2"))

	require.NoError(t, h.unlock.HandleJob(context.Background(), queue.jobs[0]))
	assert.Equal(t, models.ProgressStatusNotStarted, h.db.record("st1", "c2").Status)
}

func TestDispatchFallsBackInlineWhenEnqueueFails(t *testing.T) {
	h := newEngineHarness(t)
	h.db.seed(completedRecord("st1", "c1"))
	h.unlock = queuedUnlock(h, &recordingEnqueuer{err: errors.New("queue full")})

	h.unlock.Dispatch(context.Background(), "st1", "c1")
	assert.Equal(t, models.ProgressStatusNotStarted, h.db.record("st1", "c2").Status)
}

func TestHandleJobMarksPreconditionFailuresPermanent(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	err := h.unlock.HandleJob(ctx, jobs.Job{Type: UnlockJobType, Payload: "bogus"})
	assert.True(t, jobs.IsPermanent(err))

	err = h.unlock.HandleJob(ctx, jobs.Job{Type: UnlockJobType, Payload: UnlockJobPayload{StudentID: "st1", CourseID: "c1"}})
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	h.db.courses = append(h.db.courses, models.Course{ID: "c2b", SemesterID: "s1", Order: 2})
	h.db.seed(completedRecord("st1", "c1"))
	err = h.unlock.HandleJob(ctx, jobs.Job{Type: UnlockJobType, Payload: UnlockJobPayload{StudentID: "st1", CourseID: "c1"}})
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, appErrors.ErrCourseOrderConflict)
}

type failingListProgressStore struct {
	memoryProgressStore
}

func (failingListProgressStore) ListForCourses(context.Context, string, []string) ([]models.StudentProgress, error) {
	return nil, errors.New("connection reset")
}

func TestHandleJobRetriesTransientFailures(t *testing.T) {
	h := newEngineHarness(t)
	h.db.seed(completedRecord("st1", "c2"))
	svc := NewUnlockService(failingListProgressStore{memoryProgressStore{db: h.db}}, h.catalog, memoryStudentStore{db: h.db}, memoryTrackingStore{db: h.db}, zap.NewNop(),
		WithUnlockClock(func() time.Time { return testNow }))

	err := svc.HandleJob(context.Background(), jobs.Job{Type: UnlockJobType, Payload: UnlockJobPayload{StudentID: "st1", CourseID: "c2"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrUnlockFailed)
	assert.False(t, jobs.IsPermanent(err))
}

func TestRecordAbandonedLeavesFailureEntry(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := jobs.Job{ID: "st1:c1", Type: UnlockJobType, Payload: UnlockJobPayload{StudentID: "st1", CourseID: "c1"}}

	h.unlock.RecordAbandoned(ctx, job, jobs.ErrQueueStopped)
	logs := h.db.logsFor("st1", "c1")
	require.Len(t, logs, 1)
	assert.Equal(t, models.TrackingActionUnlockFailed, logs[0].Action)
	assert.Contains(t, *logs[0].NewValue, jobs.ErrQueueStopped.Error())

	// a failure Resolve already recorded is not written twice
	h.unlock.RecordAbandoned(ctx, job, appErrors.Wrap(errors.New("boom"), appErrors.ErrUnlockFailed.Code, appErrors.ErrUnlockFailed.Status, appErrors.ErrUnlockFailed.Message))
	assert.Len(t, h.db.logsFor("st1", "c1"), 1)

	h.unlock.RecordAbandoned(ctx, jobs.Job{Payload: "bogus"}, jobs.ErrQueueStopped)
	assert.Len(t, h.db.logsFor("st1", ""), 1)
}

func queuedUnlock(h *engineHarness, queue jobEnqueuer) *UnlockService {
	return NewUnlockService(memoryProgressStore{db: h.db}, h.catalog, memoryStudentStore{db: h.db}, memoryTrackingStore{db: h.db}, zap.NewNop(),
		WithUnlockClock(func() time.Time { return testNow }), WithUnlockQueue(queue))
}
