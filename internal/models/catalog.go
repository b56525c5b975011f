package models

import "time"

// Semester groups courses into an ordered curriculum step.
type Semester struct {
	ID                     string    `db:"id" json:"id"`
	Name                   string    `db:"name" json:"name"`
	Order                  int       `db:"sort_order" json:"order"`
	RequiresMajorSelection bool      `db:"requires_major_selection" json:"requiresMajorSelection"`
	IsActive               bool      `db:"is_active" json:"isActive"`
	CreatedAt              time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time `db:"updated_at" json:"updatedAt"`
}

// Course belongs to exactly one semester and defines completion thresholds.
type Course struct {
	ID               string    `db:"id" json:"id"`
	SemesterID       string    `db:"semester_id" json:"semesterId"`
	Title            string    `db:"title" json:"title"`
	Order            int       `db:"sort_order" json:"order"`
	RequiredSessions int       `db:"required_sessions" json:"requiredSessions"`
	RequiredProjects int       `db:"required_projects" json:"requiredProjects"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

// Major is a selectable specialisation track.
type Major struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// MajorCourse links a course into a major's ordered track.
type MajorCourse struct {
	MajorID    string `db:"major_id" json:"majorId"`
	CourseID   string `db:"course_id" json:"courseId"`
	SemesterID string `db:"semester_id" json:"semesterId"`
	Order      int    `db:"sort_order" json:"order"`
	Required   bool   `db:"required" json:"required"`
}

// LabRequirement is a simple checklist item attached to a course.
type LabRequirement struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"courseId"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
