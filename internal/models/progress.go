package models

import "time"

// ProgressStatus captures the lifecycle of a student's completion of a course.
type ProgressStatus string

const (
	ProgressStatusLocked          ProgressStatus = "locked"
	ProgressStatusNotStarted      ProgressStatus = "not_started"
	ProgressStatusInProgress      ProgressStatus = "in_progress"
	ProgressStatusPendingApproval ProgressStatus = "pending_approval"
	ProgressStatusCompleted       ProgressStatus = "completed"
	ProgressStatusRejected        ProgressStatus = "rejected"
)

// Valid reports whether the status is a known state.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressStatusLocked, ProgressStatusNotStarted, ProgressStatusInProgress,
		ProgressStatusPendingApproval, ProgressStatusCompleted, ProgressStatusRejected:
		return true
	}
	return false
}

// StudentProgress is the per-student, per-course completion record.
type StudentProgress struct {
	ID                string         `db:"id" json:"id"`
	StudentID         string         `db:"student_id" json:"studentId"`
	CourseID          string         `db:"course_id" json:"courseId"`
	CompletedSessions int            `db:"completed_sessions" json:"completedSessions"`
	ProjectsSubmitted int            `db:"projects_submitted" json:"projectsSubmitted"`
	ProjectLinks      StringList     `db:"project_links" json:"projectLinks"`
	Status            ProgressStatus `db:"status" json:"status"`
	RejectionReason   *string        `db:"rejection_reason" json:"rejectionReason,omitempty"`
	ApprovedAt        *time.Time     `db:"approved_at" json:"approvedAt,omitempty"`
	ApprovedBy        *string        `db:"approved_by" json:"approvedBy,omitempty"`
	CompletedAt       *time.Time     `db:"completed_at" json:"completedAt,omitempty"`
	Version           int            `db:"version" json:"version"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy so callers can diff before/after states.
func (p *StudentProgress) Clone() *StudentProgress {
	if p == nil {
		return nil
	}
	out := *p
	out.ProjectLinks = append(StringList(nil), p.ProjectLinks...)
	if p.RejectionReason != nil {
		v := *p.RejectionReason
		out.RejectionReason = &v
	}
	if p.ApprovedAt != nil {
		v := *p.ApprovedAt
		out.ApprovedAt = &v
	}
	if p.ApprovedBy != nil {
		v := *p.ApprovedBy
		out.ApprovedBy = &v
	}
	if p.CompletedAt != nil {
		v := *p.CompletedAt
		out.CompletedAt = &v
	}
	return &out
}

// ProgressFilter constrains progress listings.
type ProgressFilter struct {
	StudentID  string
	CourseID   string
	SemesterID string
	Status     []ProgressStatus
	Limit      int
	Offset     int
}

// ProgressKey identifies a progress record.
type ProgressKey struct {
	StudentID string `json:"studentId" validate:"required"`
	CourseID  string `json:"courseId" validate:"required"`
}
