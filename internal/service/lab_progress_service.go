package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/internal/repository"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

type labProgressStore interface {
	ListForStudent(ctx context.Context, studentID string) ([]models.StudentLabProgress, error)
	Complete(ctx context.Context, studentID, requirementID string, completedAt time.Time, logs []models.TrackingLog) (*models.StudentLabProgress, error)
	DeleteRequirement(ctx context.Context, requirementID string) (int64, error)
}

type labRequirementLookup interface {
	GetLabRequirement(ctx context.Context, id string) (*models.LabRequirement, error)
}

// LabProgressService manages the one-way lab checklist: not_started -> completed, no approval.
type LabProgressService struct {
	store   labProgressStore
	catalog labRequirementLookup
	logger  *zap.Logger
	now     func() time.Time
}

// NewLabProgressService constructs the service.
func NewLabProgressService(store labProgressStore, catalog labRequirementLookup, logger *zap.Logger) *LabProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LabProgressService{store: store, catalog: catalog, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ListLabProgress returns the student's lab rows.
func (s *LabProgressService) ListLabProgress(ctx context.Context, studentID string) ([]models.StudentLabProgress, error) {
	items, err := s.store.ListForStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lab progress")
	}
	if items == nil {
		items = []models.StudentLabProgress{}
	}
	return items, nil
}

// CompleteLabRequirement marks the requirement completed for the student. Completing twice fails.
func (s *LabProgressService) CompleteLabRequirement(ctx context.Context, studentID, requirementID, actorID string) (*models.StudentLabProgress, error) {
	if strings.TrimSpace(studentID) == "" || strings.TrimSpace(requirementID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentId and requirementId are required")
	}
	requirement, err := s.catalog.GetLabRequirement(ctx, requirementID)
	if err != nil {
		return nil, err
	}
	if actorID == "" {
		actorID = models.SystemActor
	}
	now := s.now()
	previous := string(models.LabProgressNotStarted)
	entry := models.TrackingLog{
		StudentID:     studentID,
		CourseID:      requirement.CourseID,
		Action:        models.TrackingActionCompleteLab,
		PreviousValue: &previous,
		NewValue:      &requirement.ID,
		PerformedBy:   actorID,
		Timestamp:     now,
	}
	progress, err := s.store.Complete(ctx, studentID, requirement.ID, now, []models.TrackingLog{entry})
	if err != nil {
		if errors.Is(err, repository.ErrLabAlreadyCompleted) {
			return nil, appErrors.Clone(appErrors.ErrInvalidStatusTransition, "lab requirement already completed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete lab requirement")
	}
	return progress, nil
}

// DeleteLabRequirement removes the requirement and every student row attached to it.
func (s *LabProgressService) DeleteLabRequirement(ctx context.Context, requirementID, actorID string) (int64, error) {
	removed, err := s.store.DeleteRequirement(ctx, requirementID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "lab requirement not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lab requirement")
	}
	s.logger.Info("lab requirement deleted",
		zap.String("requirement_id", requirementID),
		zap.Int64("student_rows_removed", removed),
		zap.String("performed_by", actorID))
	return removed, nil
}
