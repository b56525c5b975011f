package models

import "time"

// LabProgressStatus is one-way: not_started -> completed.
type LabProgressStatus string

const (
	LabProgressNotStarted LabProgressStatus = "not_started"
	LabProgressCompleted  LabProgressStatus = "completed"
)

// StudentLabProgress tracks a student's completion of a lab requirement.
type StudentLabProgress struct {
	ID            string            `db:"id" json:"id"`
	StudentID     string            `db:"student_id" json:"studentId"`
	RequirementID string            `db:"requirement_id" json:"requirementId"`
	Status        LabProgressStatus `db:"status" json:"status"`
	CompletedAt   *time.Time        `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updatedAt"`
}
