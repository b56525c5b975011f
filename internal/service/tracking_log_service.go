package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

type trackingLogStore interface {
	Append(ctx context.Context, logs ...models.TrackingLog) error
	List(ctx context.Context, filter models.TrackingLogFilter) ([]models.TrackingLog, error)
	Count(ctx context.Context, filter models.TrackingLogFilter) (int, error)
}

var trackingActions = map[models.TrackingAction]struct{}{
	models.TrackingActionCreate:            {},
	models.TrackingActionUpdateSessions:    {},
	models.TrackingActionUpdateProjects:    {},
	models.TrackingActionCorrectSessions:   {},
	models.TrackingActionCorrectProjects:   {},
	models.TrackingActionAddProjectLink:    {},
	models.TrackingActionRemoveProjectLink: {},
	models.TrackingActionStatusChange:      {},
	models.TrackingActionApprove:           {},
	models.TrackingActionReject:            {},
	models.TrackingActionUnlockCourse:      {},
	models.TrackingActionUnlockSemester:    {},
	models.TrackingActionUnlockFailed:      {},
	models.TrackingActionCompleteLab:       {},
	models.TrackingActionNoNextCourse:      {},
	models.TrackingActionProgramCompleted:  {},
}

// TrackingLogService is the read side of the audit trail plus a standalone append used by
// operations that have no progress row to write alongside.
type TrackingLogService struct {
	store  trackingLogStore
	logger *zap.Logger
}

// NewTrackingLogService constructs the service.
func NewTrackingLogService(store trackingLogStore, logger *zap.Logger) *TrackingLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingLogService{store: store, logger: logger}
}

// Append records entries. Entries are never merged.
func (s *TrackingLogService) Append(ctx context.Context, logs ...models.TrackingLog) error {
	if err := s.store.Append(ctx, logs...); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append tracking log")
	}
	return nil
}

// List returns entries oldest first, filtered by any combination of student, course, actor and action.
func (s *TrackingLogService) List(ctx context.Context, query dto.TrackingLogQuery) ([]models.TrackingLog, *models.Pagination, error) {
	filter, page, size, err := s.filterFromQuery(query)
	if err != nil {
		return nil, nil, err
	}
	logs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tracking logs")
	}
	if logs == nil {
		logs = []models.TrackingLog{}
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count tracking logs")
	}
	return logs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *TrackingLogService) filterFromQuery(query dto.TrackingLogQuery) (models.TrackingLogFilter, int, int, error) {
	action := models.TrackingAction(strings.TrimSpace(query.Action))
	if action != "" {
		if _, ok := trackingActions[action]; !ok {
			return models.TrackingLogFilter{}, 0, 0, appErrors.Clone(appErrors.ErrValidation, "unknown tracking action "+string(action))
		}
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 {
		size = 50
	}
	if size > 500 {
		size = 500
	}
	offset := (page - 1) * size
	if query.Offset != nil {
		if *query.Offset < 0 {
			return models.TrackingLogFilter{}, 0, 0, appErrors.Clone(appErrors.ErrValidation, "offset must be a non-negative integer")
		}
		offset = *query.Offset
		page = offset/size + 1
	}
	return models.TrackingLogFilter{
		StudentID:   strings.TrimSpace(query.StudentID),
		CourseID:    strings.TrimSpace(query.CourseID),
		PerformedBy: strings.TrimSpace(query.PerformedBy),
		Action:      action,
		Limit:       size,
		Offset:      offset,
	}, page, size, nil
}
