package dto

// SelectMajorRequest is the one-shot major choice payload.
type SelectMajorRequest struct {
	MajorID string `json:"majorId" validate:"required"`
}

// GateDecision is the major gate verdict for a (student, semester) pair.
type GateDecision struct {
	StudentID              string `json:"studentId"`
	SemesterID             string `json:"semesterId"`
	Allowed                bool   `json:"allowed"`
	RequiresMajorSelection bool   `json:"requiresMajorSelection"`
	HasSelectedMajor       bool   `json:"hasSelectedMajor"`
	SelectedMajorID        string `json:"selectedMajorId,omitempty"`
	Reason                 string `json:"reason,omitempty"`
}
