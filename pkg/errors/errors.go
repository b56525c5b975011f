package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned errors compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Generic errors.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Validation errors: rejected before any state is touched.
var (
	ErrSessionsExceedRequired  = New("SESSIONS_EXCEED_REQUIRED", http.StatusBadRequest, "completed sessions exceed required sessions")
	ErrProjectsExceedRequired  = New("PROJECTS_EXCEED_REQUIRED", http.StatusBadRequest, "submitted projects exceed required projects")
	ErrNegativeCount           = New("NEGATIVE_COUNT", http.StatusBadRequest, "counts must not be negative")
	ErrInvalidProjectURL       = New("INVALID_PROJECT_URL", http.StatusBadRequest, "project link must be an http or https url")
	ErrRejectionReasonRequired = New("REJECTION_REASON_REQUIRED", http.StatusBadRequest, "rejection reason is required")
	ErrApproverRequired        = New("APPROVER_REQUIRED", http.StatusBadRequest, "approver identity is required")
	ErrCountDecreaseNotAllowed = New("COUNT_DECREASE_NOT_ALLOWED", http.StatusBadRequest, "counts can only be lowered through an admin correction")
)

// State-conflict errors: precondition mismatches, never retried automatically.
var (
	ErrInvalidStatusTransition = New("INVALID_STATUS_TRANSITION", http.StatusConflict, "invalid status transition")
	ErrAlreadyApproved         = New("ALREADY_APPROVED", http.StatusConflict, "progress already approved")
	ErrNotPendingApproval      = New("NOT_PENDING_APPROVAL", http.StatusConflict, "progress is not pending approval")
	ErrMajorAlreadySelected    = New("MAJOR_ALREADY_SELECTED", http.StatusConflict, "major already selected")
	ErrMajorSelectionBlocked   = New("MAJOR_SELECTION_BLOCKED", http.StatusConflict, "no semester requiring major selection has been reached")
	ErrWriteConflict           = New("WRITE_CONFLICT", http.StatusConflict, "progress was modified concurrently, retry later")
	ErrMajorSelectionRequired  = New("MAJOR_SELECTION_REQUIRED", http.StatusForbidden, "select a major before accessing this semester")
)

// Cascade outcomes. They never fail the approval that triggered them.
var (
	ErrNoNextCourse   = New("NO_NEXT_COURSE", http.StatusOK, "no next course in semester")
	ErrNoNextSemester = New("NO_NEXT_SEMESTER", http.StatusOK, "no next semester, program completed")
	ErrUnlockFailed   = New("UNLOCK_FAILED", http.StatusInternalServerError, "unlock cascade failed")
)

// Data integrity and batch errors.
var (
	ErrCourseOrderConflict   = New("COURSE_ORDER_CONFLICT", http.StatusInternalServerError, "two courses in the same semester share an order value")
	ErrSemesterOrderConflict = New("SEMESTER_ORDER_CONFLICT", http.StatusInternalServerError, "two semesters share an order value")
	ErrBulkPartialFailure    = New("BULK_PASS_PARTIAL_FAILURE", http.StatusMultiStatus, "some items could not be approved")
)

// Export download errors.
var (
	ErrExportExpired = New("EXPORT_EXPIRED", http.StatusGone, "download link expired")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether err carries the given domain code.
func HasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
