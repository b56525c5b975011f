package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/pkg/response"
)

type labProgressService interface {
	ListLabProgress(ctx context.Context, studentID string) ([]models.StudentLabProgress, error)
	CompleteLabRequirement(ctx context.Context, studentID, requirementID, actorID string) (*models.StudentLabProgress, error)
	DeleteLabRequirement(ctx context.Context, requirementID, actorID string) (int64, error)
}

// LabProgressHandler exposes lab requirement progress.
type LabProgressHandler struct {
	labs labProgressService
}

// NewLabProgressHandler constructs LabProgressHandler.
func NewLabProgressHandler(labs labProgressService) *LabProgressHandler {
	return &LabProgressHandler{labs: labs}
}

// List godoc
// @Summary List lab progress
// @Tags Labs
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/lab-progress [get]
func (h *LabProgressHandler) List(c *gin.Context) {
	items, err := h.labs.ListLabProgress(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Complete godoc
// @Summary Complete a lab requirement
// @Tags Labs
// @Produce json
// @Param studentId path string true "Student ID"
// @Param requirementId path string true "Lab requirement ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{studentId}/lab-requirements/{requirementId}/complete [post]
func (h *LabProgressHandler) Complete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	item, err := h.labs.CompleteLabRequirement(c.Request.Context(), c.Param("studentId"), c.Param("requirementId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete a lab requirement and its progress rows
// @Tags Labs
// @Produce json
// @Param requirementId path string true "Lab requirement ID"
// @Success 200 {object} response.Envelope
// @Router /lab-requirements/{requirementId} [delete]
func (h *LabProgressHandler) Delete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	removed, err := h.labs.DeleteLabRequirement(c.Request.Context(), c.Param("requirementId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"requirementId": c.Param("requirementId"), "removedProgress": removed}, nil)
}
