package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/internal/service"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

type fakeTrackingLogs struct {
	logs      []models.TrackingLog
	err       error
	lastQuery dto.TrackingLogQuery
}

func (f *fakeTrackingLogs) List(_ context.Context, query dto.TrackingLogQuery) ([]models.TrackingLog, *models.Pagination, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.logs, &models.Pagination{Page: query.Page, PageSize: query.PageSize, TotalCount: len(f.logs)}, nil
}

type fakeExporter struct {
	result   *dto.ExportResult
	download *service.ExportDownload
	err      error
	lastReq  dto.ExportTrackingLogsRequest
}

func (f *fakeExporter) ExportTrackingLogs(_ context.Context, req dto.ExportTrackingLogsRequest) (*dto.ExportResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeExporter) Open(string) (*service.ExportDownload, error) {
	return f.download, f.err
}

func TestTrackingLogHandlerListFilters(t *testing.T) {
	logs := &fakeTrackingLogs{logs: []models.TrackingLog{{ID: "l1", Action: models.TrackingActionApprove}}}
	handler := NewTrackingLogHandler(logs, &fakeExporter{})

	c, rec := newTestContext(http.MethodGet, "/tracking-logs?studentId=st1&courseId=c1&performedBy=admin-1&action=approve&limit=20&page=3", nil, nil, adminUser)
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.TrackingLogQuery{
		StudentID: "st1", CourseID: "c1", PerformedBy: "admin-1", Action: "approve", Page: 3, PageSize: 20,
	}, logs.lastQuery)
	envelope := decodeEnvelope(t, rec)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 3, envelope.Pagination.Page)
}

func TestTrackingLogHandlerListPassesOffsetThrough(t *testing.T) {
	logs := &fakeTrackingLogs{}
	handler := NewTrackingLogHandler(logs, &fakeExporter{})

	c, rec := newTestContext(http.MethodGet, "/tracking-logs?limit=10&offset=5", nil, nil, adminUser)
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, logs.lastQuery.Offset)
	assert.Equal(t, 5, *logs.lastQuery.Offset)
	assert.Equal(t, 10, logs.lastQuery.PageSize)
}

func TestTrackingLogHandlerListRejectsBadOffset(t *testing.T) {
	handler := NewTrackingLogHandler(&fakeTrackingLogs{}, &fakeExporter{})
	c, rec := newTestContext(http.MethodGet, "/tracking-logs?offset=-5", nil, nil, adminUser)
	handler.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackingLogHandlerListUnknownAction(t *testing.T) {
	handler := NewTrackingLogHandler(&fakeTrackingLogs{err: appErrors.Clone(appErrors.ErrValidation, "unknown tracking action")}, &fakeExporter{})
	c, rec := newTestContext(http.MethodGet, "/tracking-logs?action=teleport", nil, nil, adminUser)
	handler.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackingLogHandlerExport(t *testing.T) {
	exporter := &fakeExporter{result: &dto.ExportResult{Token: "tok", URL: "/api/v1/tracking-logs/export/tok", Format: dto.ExportFormatCSV, Rows: 4, ExpiresAt: time.Now().Add(time.Hour)}}
	handler := NewTrackingLogHandler(&fakeTrackingLogs{}, exporter)

	c, rec := newTestContext(http.MethodPost, "/tracking-logs/export", map[string]string{"studentId": "st1", "format": "csv"}, nil, adminUser)
	handler.Export(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, dto.ExportFormatCSV, exporter.lastReq.Format)
	assert.Equal(t, "st1", exporter.lastReq.StudentID)
}

func TestTrackingLogHandlerDownloadStreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,action\nl1,approve\n"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	handler := NewTrackingLogHandler(&fakeTrackingLogs{}, &fakeExporter{download: &service.ExportDownload{
		File: file, Filename: "tracking-log-export.csv", ContentType: "text/csv",
	}})
	c, rec := newTestContext(http.MethodGet, "/tracking-logs/export/tok", nil, gin.Params{{Key: "token", Value: "tok"}}, nil)
	handler.Download(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="tracking-log-export.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "id,action\nl1,approve\n", rec.Body.String())
}

func TestTrackingLogHandlerDownloadExpired(t *testing.T) {
	handler := NewTrackingLogHandler(&fakeTrackingLogs{}, &fakeExporter{err: appErrors.ErrExportExpired})
	c, rec := newTestContext(http.MethodGet, "/tracking-logs/export/tok", nil, gin.Params{{Key: "token", Value: "tok"}}, nil)
	handler.Download(c)
	assert.Equal(t, http.StatusGone, rec.Code)
}
