package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/pkg/response"
)

type catalogReader interface {
	ListSemesters(ctx context.Context) ([]models.Semester, error)
	ListCourses(ctx context.Context, semesterID string) ([]models.Course, error)
	MajorCourses(ctx context.Context, majorID string) ([]models.MajorCourse, error)
}

// CatalogHandler serves read-only curriculum data.
type CatalogHandler struct {
	catalog catalogReader
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(catalog catalogReader) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Semesters godoc
// @Summary List active semesters in order
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /catalog/semesters [get]
func (h *CatalogHandler) Semesters(c *gin.Context) {
	semesters, err := h.catalog.ListSemesters(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, semesters, nil)
}

// Courses godoc
// @Summary List a semester's courses in order
// @Tags Catalog
// @Produce json
// @Param semesterId path string true "Semester ID"
// @Success 200 {object} response.Envelope
// @Router /catalog/semesters/{semesterId}/courses [get]
func (h *CatalogHandler) Courses(c *gin.Context) {
	courses, err := h.catalog.ListCourses(c.Request.Context(), c.Param("semesterId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, nil)
}

// MajorCourses godoc
// @Summary List the courses of a major track
// @Tags Catalog
// @Produce json
// @Param majorId path string true "Major ID"
// @Success 200 {object} response.Envelope
// @Router /catalog/majors/{majorId}/courses [get]
func (h *CatalogHandler) MajorCourses(c *gin.Context) {
	courses, err := h.catalog.MajorCourses(c.Request.Context(), c.Param("majorId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, nil)
}
