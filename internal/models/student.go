package models

import "time"

// Student is the engine's view of a learner: identity plus the one-time major choice.
type Student struct {
	ID              string     `db:"id" json:"id"`
	FullName        string     `db:"full_name" json:"fullName"`
	SelectedMajorID *string    `db:"selected_major_id" json:"selectedMajorId,omitempty"`
	MajorSelectedAt *time.Time `db:"major_selected_at" json:"majorSelectedAt,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

// HasSelectedMajor reports whether the irrevocable major choice has been made.
func (s *Student) HasSelectedMajor() bool {
	return s != nil && s.SelectedMajorID != nil && *s.SelectedMajorID != ""
}

// SemesterAccess records that a semester became reachable for a student.
type SemesterAccess struct {
	StudentID  string    `db:"student_id" json:"studentId"`
	SemesterID string    `db:"semester_id" json:"semesterId"`
	UnlockedAt time.Time `db:"unlocked_at" json:"unlockedAt"`
}
