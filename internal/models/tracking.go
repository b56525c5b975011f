package models

import "time"

// TrackingAction enumerates audited progress mutations.
type TrackingAction string

const (
	TrackingActionCreate            TrackingAction = "create"
	TrackingActionUpdateSessions    TrackingAction = "update_sessions"
	TrackingActionUpdateProjects    TrackingAction = "update_projects"
	TrackingActionCorrectSessions   TrackingAction = "correct_sessions"
	TrackingActionCorrectProjects   TrackingAction = "correct_projects"
	TrackingActionAddProjectLink    TrackingAction = "add_project_link"
	TrackingActionRemoveProjectLink TrackingAction = "remove_project_link"
	TrackingActionStatusChange      TrackingAction = "status_change"
	TrackingActionApprove           TrackingAction = "approve"
	TrackingActionReject            TrackingAction = "reject"
	TrackingActionUnlockCourse      TrackingAction = "unlock_course"
	TrackingActionUnlockSemester    TrackingAction = "unlock_semester"
	TrackingActionUnlockFailed      TrackingAction = "unlock_failed"
	TrackingActionCompleteLab       TrackingAction = "complete_lab_requirement"
	TrackingActionNoNextCourse      TrackingAction = "no_next_course"
	TrackingActionProgramCompleted  TrackingAction = "program_completed"
)

// SystemActor is recorded as performedBy for engine-initiated mutations.
const SystemActor = "system"

// TrackingLog is an immutable audit entry. Entries are only ever inserted.
type TrackingLog struct {
	ID            string         `db:"id" json:"id"`
	StudentID     string         `db:"student_id" json:"studentId"`
	CourseID      string         `db:"course_id" json:"courseId"`
	Action        TrackingAction `db:"action" json:"action"`
	PreviousValue *string        `db:"previous_value" json:"previousValue,omitempty"`
	NewValue      *string        `db:"new_value" json:"newValue,omitempty"`
	PerformedBy   string         `db:"performed_by" json:"performedBy"`
	Timestamp     time.Time      `db:"created_at" json:"timestamp"`
}

// TrackingLogFilter supports lookups by student, course, actor or any combination.
type TrackingLogFilter struct {
	StudentID   string
	CourseID    string
	PerformedBy string
	Action      TrackingAction
	Limit       int
	Offset      int
}
