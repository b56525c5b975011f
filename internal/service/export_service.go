package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
	"github.com/noah-isme/curriculum-progress-api/pkg/export"
	"github.com/noah-isme/curriculum-progress-api/pkg/storage"
)

const (
	exportPageSize = 500
	exportMaxRows  = 20000
)

var trackingExportHeaders = []string{"timestamp", "student_id", "course_id", "action", "previous_value", "new_value", "performed_by"}

type trackingLogLister interface {
	List(ctx context.Context, filter models.TrackingLogFilter) ([]models.TrackingLog, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportDownload is an opened export ready to be streamed.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
}

// ExportService renders tracking log snapshots and serves them through signed links.
type ExportService struct {
	logs      trackingLogLister
	storage   fileStorage
	signer    *storage.SignedURLSigner
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(logs trackingLogLister, files fileStorage, signer *storage.SignedURLSigner, metrics *MetricsService, validate *validator.Validate, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		logs:      logs,
		storage:   files,
		signer:    signer,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// ExportTrackingLogs renders the filtered log in the requested format and returns a signed link.
func (s *ExportService) ExportTrackingLogs(ctx context.Context, req dto.ExportTrackingLogsRequest) (*dto.ExportResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be one of csv, pdf, xlsx")
	}
	renderer, err := export.ForFormat(string(req.Format))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	filter := models.TrackingLogFilter{
		StudentID:   strings.TrimSpace(req.StudentID),
		CourseID:    strings.TrimSpace(req.CourseID),
		PerformedBy: strings.TrimSpace(req.PerformedBy),
	}
	dataset, err := s.buildDataset(ctx, filter)
	if err != nil {
		return nil, err
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	exportID := uuid.NewString()
	relPath, err := s.storage.Save(fmt.Sprintf("tracking/%s.%s", exportID, renderer.Extension()), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(exportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.metrics.RecordExport(string(req.Format))
	s.logger.Info("tracking log export rendered",
		zap.String("export_id", exportID),
		zap.String("format", string(req.Format)),
		zap.Int("rows", len(dataset.Rows)))
	return &dto.ExportResult{
		Token:     token,
		URL:       fmt.Sprintf("%s/tracking-logs/export/%s", prefix, token),
		Format:    req.Format,
		Rows:      len(dataset.Rows),
		ExpiresAt: expiresAt,
	}, nil
}

func (s *ExportService) buildDataset(ctx context.Context, filter models.TrackingLogFilter) (export.Dataset, error) {
	dataset := export.Dataset{Title: "Progress tracking log", Headers: trackingExportHeaders}
	filter.Limit = exportPageSize
	for filter.Offset = 0; filter.Offset < exportMaxRows; filter.Offset += exportPageSize {
		page, err := s.logs.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read tracking logs")
		}
		for _, entry := range page {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"timestamp":      entry.Timestamp.UTC().Format(time.RFC3339),
				"student_id":     entry.StudentID,
				"course_id":      entry.CourseID,
				"action":         string(entry.Action),
				"previous_value": deref(entry.PreviousValue),
				"new_value":      deref(entry.NewValue),
				"performed_by":   entry.PerformedBy,
			})
		}
		if len(page) < exportPageSize {
			break
		}
	}
	return dataset, nil
}

// Open resolves a download token to the stored file.
func (s *ExportService) Open(token string) (*ExportDownload, error) {
	parsed, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.ErrExportExpired
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	file, err := s.storage.Open(parsed.Path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}
	contentType := "application/octet-stream"
	if idx := strings.LastIndex(parsed.Path, "."); idx >= 0 {
		if renderer, err := export.ForFormat(parsed.Path[idx+1:]); err == nil {
			contentType = renderer.ContentType()
		}
	}
	name := parsed.Path
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return &ExportDownload{File: file, Filename: "tracking-log-" + name, ContentType: contentType}, nil
}

// Cleanup removes exports older than the link lifetime.
func (s *ExportService) Cleanup() {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
	}
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *ExportService) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
