package models

import "time"

// ProgressEventType enumerates notifier events.
type ProgressEventType string

const (
	ProgressEventUnlock  ProgressEventType = "unlock"
	ProgressEventApprove ProgressEventType = "approve"
	ProgressEventReject  ProgressEventType = "reject"
)

// ProgressEvent is emitted fire-and-forget to the notifier.
type ProgressEvent struct {
	Type      ProgressEventType `json:"type"`
	StudentID string            `json:"studentId"`
	TargetID  string            `json:"targetId"`
	Timestamp time.Time         `json:"timestamp"`
}
