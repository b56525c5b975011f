package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/pkg/response"
)

type majorGateService interface {
	CanAccessSemester(ctx context.Context, studentID, semesterID string) (*dto.GateDecision, error)
	SelectMajor(ctx context.Context, studentID string, req dto.SelectMajorRequest) (*models.Student, error)
}

// MajorHandler exposes the major gate.
type MajorHandler struct {
	gate majorGateService
}

// NewMajorHandler constructs MajorHandler.
func NewMajorHandler(gate majorGateService) *MajorHandler {
	return &MajorHandler{gate: gate}
}

// Access godoc
// @Summary Check semester access
// @Tags Majors
// @Produce json
// @Param studentId path string true "Student ID"
// @Param semesterId path string true "Semester ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/semesters/{semesterId}/access [get]
func (h *MajorHandler) Access(c *gin.Context) {
	decision, err := h.gate.CanAccessSemester(c.Request.Context(), c.Param("studentId"), c.Param("semesterId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Select godoc
// @Summary Select a major
// @Description The choice is permanent and only allowed once a semester requiring it has been reached.
// @Tags Majors
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body dto.SelectMajorRequest true "Major choice"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{studentId}/major [post]
func (h *MajorHandler) Select(c *gin.Context) {
	var req dto.SelectMajorRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.gate.SelectMajor(c.Request.Context(), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
