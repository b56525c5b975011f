package dto

import "time"

// ExportFormat enumerates supported tracking log export encodings.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// TrackingLogQuery mirrors supported tracking log filters.
type TrackingLogQuery struct {
	StudentID   string
	CourseID    string
	PerformedBy string
	Action      string
	Page        int
	PageSize    int
	// Offset, when set, takes precedence over Page.
	Offset *int
}

// ExportTrackingLogsRequest selects the entries and encoding of an export.
type ExportTrackingLogsRequest struct {
	StudentID   string       `json:"studentId"`
	CourseID    string       `json:"courseId"`
	PerformedBy string       `json:"performedBy"`
	Format      ExportFormat `json:"format" validate:"required,oneof=csv pdf xlsx"`
}

// ExportResult captures the signed download link of a rendered export.
type ExportResult struct {
	Token     string       `json:"token"`
	URL       string       `json:"url"`
	Format    ExportFormat `json:"format"`
	Rows      int          `json:"rows"`
	ExpiresAt time.Time    `json:"expiresAt"`
}
