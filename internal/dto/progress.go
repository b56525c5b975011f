package dto

import (
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

// UpdateProgressRequest patches counts and links. Nil fields are left untouched;
// an empty projectLinks array clears every link.
type UpdateProgressRequest struct {
	CompletedSessions *int     `json:"completedSessions"`
	ProjectsSubmitted *int     `json:"projectsSubmitted"`
	ProjectLinks      []string `json:"projectLinks"`
	// Correction allows admins to lower counts; the change is audited as a correction.
	Correction bool `json:"correction"`
}

// Empty reports whether the patch carries no field at all.
func (r UpdateProgressRequest) Empty() bool {
	return r.CompletedSessions == nil && r.ProjectsSubmitted == nil && r.ProjectLinks == nil
}

// RejectProgressRequest carries the mandatory rejection reason.
type RejectProgressRequest struct {
	Reason string `json:"reason"`
}

// BulkApproveRequest lists the progress records to approve.
type BulkApproveRequest struct {
	Items []models.ProgressKey `json:"items" validate:"required,min=1,dive"`
}

// BulkApproveItem reports the outcome for a single pair.
type BulkApproveItem struct {
	StudentID string                `json:"studentId"`
	CourseID  string                `json:"courseId"`
	Approved  bool                  `json:"approved"`
	Status    models.ProgressStatus `json:"status,omitempty"`
	Error     *appErrors.Error      `json:"error,omitempty"`
}

// BulkApproveResult aggregates per-item outcomes. Error is set when any item failed.
type BulkApproveResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     []BulkApproveItem `json:"items"`
	Error     *appErrors.Error  `json:"error,omitempty"`
}

// UnlockOutcome describes what an unlock cascade run achieved.
type UnlockOutcome string

const (
	UnlockOutcomeCourseUnlocked     UnlockOutcome = "course_unlocked"
	UnlockOutcomeAlreadyUnlocked    UnlockOutcome = "already_unlocked"
	UnlockOutcomeSemesterUnlocked   UnlockOutcome = "semester_unlocked"
	UnlockOutcomeSemesterIncomplete UnlockOutcome = "semester_incomplete"
	UnlockOutcomeProgramCompleted   UnlockOutcome = "program_completed"
	UnlockOutcomeFailed             UnlockOutcome = "failed"
)

// UnlockResult is returned by the resolver for inspection and re-trigger endpoints.
type UnlockResult struct {
	StudentID          string        `json:"studentId"`
	CourseID           string        `json:"courseId"`
	Outcome            UnlockOutcome `json:"outcome"`
	UnlockedCourseID   *string       `json:"unlockedCourseId,omitempty"`
	UnlockedSemesterID *string       `json:"unlockedSemesterId,omitempty"`
	// Signals holds non-fatal cascade codes such as NO_NEXT_COURSE and NO_NEXT_SEMESTER.
	Signals []string `json:"signals,omitempty"`
}

// HasSignal reports whether the cascade emitted the given code.
func (r *UnlockResult) HasSignal(code string) bool {
	if r == nil {
		return false
	}
	for _, s := range r.Signals {
		if s == code {
			return true
		}
	}
	return false
}
