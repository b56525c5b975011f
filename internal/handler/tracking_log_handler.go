package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/internal/service"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
	"github.com/noah-isme/curriculum-progress-api/pkg/response"
)

type trackingLogReader interface {
	List(ctx context.Context, query dto.TrackingLogQuery) ([]models.TrackingLog, *models.Pagination, error)
}

type trackingLogExporter interface {
	ExportTrackingLogs(ctx context.Context, req dto.ExportTrackingLogsRequest) (*dto.ExportResult, error)
	Open(token string) (*service.ExportDownload, error)
}

// TrackingLogHandler exposes the audit trail and its exports.
type TrackingLogHandler struct {
	logs    trackingLogReader
	exports trackingLogExporter
}

// NewTrackingLogHandler constructs TrackingLogHandler.
func NewTrackingLogHandler(logs trackingLogReader, exports trackingLogExporter) *TrackingLogHandler {
	return &TrackingLogHandler{logs: logs, exports: exports}
}

// List godoc
// @Summary List tracking log entries
// @Tags TrackingLogs
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param courseId query string false "Filter by course"
// @Param performedBy query string false "Filter by actor"
// @Param action query string false "Filter by action"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param offset query int false "Row offset, overrides page"
// @Success 200 {object} response.Envelope
// @Router /tracking-logs [get]
func (h *TrackingLogHandler) List(c *gin.Context) {
	query := dto.TrackingLogQuery{
		StudentID:   strings.TrimSpace(c.Query("studentId")),
		CourseID:    strings.TrimSpace(c.Query("courseId")),
		PerformedBy: strings.TrimSpace(c.Query("performedBy")),
		Action:      strings.TrimSpace(c.Query("action")),
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		query.PageSize = size
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "offset must be a non-negative integer"))
			return
		}
		query.Offset = &offset
	}

	logs, pagination, err := h.logs.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// Export godoc
// @Summary Export tracking log entries
// @Tags TrackingLogs
// @Accept json
// @Produce json
// @Param payload body dto.ExportTrackingLogsRequest true "Export request"
// @Success 201 {object} response.Envelope
// @Router /tracking-logs/export [post]
func (h *TrackingLogHandler) Export(c *gin.Context) {
	var req dto.ExportTrackingLogsRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.exports.ExportTrackingLogs(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download an exported tracking log
// @Tags TrackingLogs
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /tracking-logs/export/{token} [get]
func (h *TrackingLogHandler) Download(c *gin.Context) {
	download, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	c.Header("Content-Type", download.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, download.File); err != nil {
		_ = c.Error(err)
	}
}
