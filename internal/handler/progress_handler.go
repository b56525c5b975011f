package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/pkg/response"
)

type progressService interface {
	GetProgress(ctx context.Context, studentID, courseID, actorID string) (*models.StudentProgress, error)
	ListProgress(ctx context.Context, studentID, semesterID string, statuses []models.ProgressStatus) ([]models.StudentProgress, error)
	UpdateProgress(ctx context.Context, studentID, courseID string, req dto.UpdateProgressRequest, actor *models.JWTClaims) (*models.StudentProgress, error)
	Approve(ctx context.Context, studentID, courseID, approvedBy string) (*models.StudentProgress, error)
	Reject(ctx context.Context, studentID, courseID, reason, actorID string) (*models.StudentProgress, error)
	BulkApprove(ctx context.Context, req dto.BulkApproveRequest, approvedBy string) (*dto.BulkApproveResult, error)
}

type unlockResolver interface {
	Resolve(ctx context.Context, studentID, courseID string) (*dto.UnlockResult, error)
}

// ProgressHandler exposes the progress ledger.
type ProgressHandler struct {
	progress progressService
	unlock   unlockResolver
}

// NewProgressHandler constructs ProgressHandler.
func NewProgressHandler(progress progressService, unlock unlockResolver) *ProgressHandler {
	return &ProgressHandler{progress: progress, unlock: unlock}
}

// Get godoc
// @Summary Get course progress
// @Description Opens the record lazily on first access. Gated semesters require a selected major.
// @Tags Progress
// @Produce json
// @Param studentId path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /students/{studentId}/courses/{courseId}/progress [get]
func (h *ProgressHandler) Get(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	record, err := h.progress.GetProgress(c.Request.Context(), c.Param("studentId"), c.Param("courseId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// List godoc
// @Summary List a student's progress
// @Tags Progress
// @Produce json
// @Param studentId path string true "Student ID"
// @Param semesterId query string false "Filter by semester"
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/progress [get]
func (h *ProgressHandler) List(c *gin.Context) {
	var statuses []models.ProgressStatus
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			statuses = append(statuses, models.ProgressStatus(raw))
		}
	}
	records, err := h.progress.ListProgress(c.Request.Context(), c.Param("studentId"), strings.TrimSpace(c.Query("semesterId")), statuses)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil, map[string]interface{}{"count": len(records)})
}

// Update godoc
// @Summary Update sessions, projects and links
// @Tags Progress
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Param payload body dto.UpdateProgressRequest true "Progress patch"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{studentId}/courses/{courseId}/progress [patch]
func (h *ProgressHandler) Update(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.UpdateProgressRequest
	if !bindJSON(c, &req) {
		return
	}
	record, err := h.progress.UpdateProgress(c.Request.Context(), c.Param("studentId"), c.Param("courseId"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Approve godoc
// @Summary Approve a pending submission
// @Tags Progress
// @Produce json
// @Param studentId path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{studentId}/courses/{courseId}/progress/approve [post]
func (h *ProgressHandler) Approve(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	record, err := h.progress.Approve(c.Request.Context(), c.Param("studentId"), c.Param("courseId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Reject godoc
// @Summary Reject a pending submission
// @Tags Progress
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Param payload body dto.RejectProgressRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{studentId}/courses/{courseId}/progress/reject [post]
func (h *ProgressHandler) Reject(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.RejectProgressRequest
	if !bindJSON(c, &req) {
		return
	}
	record, err := h.progress.Reject(c.Request.Context(), c.Param("studentId"), c.Param("courseId"), req.Reason, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Unlock godoc
// @Summary Re-run the unlock cascade for a completed course
// @Tags Progress
// @Produce json
// @Param studentId path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{studentId}/courses/{courseId}/progress/unlock [post]
func (h *ProgressHandler) Unlock(c *gin.Context) {
	result, err := h.unlock.Resolve(c.Request.Context(), c.Param("studentId"), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// BulkApprove godoc
// @Summary Approve many submissions
// @Description Items are processed independently. Partial failure responds 207 with per-item results.
// @Tags Progress
// @Accept json
// @Produce json
// @Param payload body dto.BulkApproveRequest true "Items to approve"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /progress/bulk-approve [post]
func (h *ProgressHandler) BulkApprove(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.BulkApproveRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.progress.BulkApprove(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Partial(c, result, result.Error)
}
