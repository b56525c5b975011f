package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

func TestTrackingLogListFilters(t *testing.T) {
	db := newMemoryDB()
	svc := NewTrackingLogService(memoryTrackingStore{db: db}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.Append(ctx,
		models.TrackingLog{StudentID: "st1", CourseID: "c1", Action: models.TrackingActionCreate, PerformedBy: "st1", Timestamp: testNow},
		models.TrackingLog{StudentID: "st1", CourseID: "c1", Action: models.TrackingActionApprove, PerformedBy: "admin-1", Timestamp: testNow},
		models.TrackingLog{StudentID: "st2", CourseID: "c1", Action: models.TrackingActionApprove, PerformedBy: "admin-1", Timestamp: testNow},
	))

	byStudent, page, err := svc.List(ctx, dto.TrackingLogQuery{StudentID: "st1"})
	require.NoError(t, err)
	assert.Len(t, byStudent, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 50, page.PageSize)

	byActor, _, err := svc.List(ctx, dto.TrackingLogQuery{PerformedBy: "admin-1", Action: "approve"})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	paged, page, err := svc.List(ctx, dto.TrackingLogQuery{CourseID: "c1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalCount)

	none, _, err := svc.List(ctx, dto.TrackingLogQuery{StudentID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestTrackingLogListRejectsUnknownAction(t *testing.T) {
	svc := NewTrackingLogService(memoryTrackingStore{db: newMemoryDB()}, nil)
	_, _, err := svc.List(context.Background(), dto.TrackingLogQuery{Action: "delete"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTrackingLogPageSizeCapped(t *testing.T) {
	svc := NewTrackingLogService(memoryTrackingStore{db: newMemoryDB()}, nil)
	_, page, err := svc.List(context.Background(), dto.TrackingLogQuery{PageSize: 10000})
	require.NoError(t, err)
	assert.Equal(t, 500, page.PageSize)
}

func TestTrackingLogTotalCountSpansPages(t *testing.T) {
	db := newMemoryDB()
	svc := NewTrackingLogService(memoryTrackingStore{db: db}, nil)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		require.NoError(t, svc.Append(ctx, models.TrackingLog{
			StudentID: "st1", CourseID: "c1", Action: models.TrackingActionUpdateSessions, NewValue: strPtr(strconv.Itoa(i)), PerformedBy: "st1", Timestamp: testNow,
		}))
	}
	require.NoError(t, svc.Append(ctx, models.TrackingLog{StudentID: "st2", CourseID: "c1", Action: models.TrackingActionCreate, PerformedBy: "st2", Timestamp: testNow}))

	logs, page, err := svc.List(ctx, dto.TrackingLogQuery{StudentID: "st1", PageSize: 50})
	require.NoError(t, err)
	assert.Len(t, logs, 50)
	assert.Equal(t, 120, page.TotalCount)

	last, page, err := svc.List(ctx, dto.TrackingLogQuery{StudentID: "st1", Page: 3, PageSize: 50})
	require.NoError(t, err)
	assert.Len(t, last, 20)
	assert.Equal(t, 120, page.TotalCount)
}

func TestTrackingLogOffsetIsNotRounded(t *testing.T) {
	db := newMemoryDB()
	svc := NewTrackingLogService(memoryTrackingStore{db: db}, nil)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, svc.Append(ctx, models.TrackingLog{
			StudentID: "st1", CourseID: "c1", Action: models.TrackingActionUpdateSessions, NewValue: strPtr(strconv.Itoa(i)), PerformedBy: "st1", Timestamp: testNow,
		}))
	}

	offset := 5
	logs, page, err := svc.List(ctx, dto.TrackingLogQuery{StudentID: "st1", PageSize: 10, Offset: &offset})
	require.NoError(t, err)
	require.Len(t, logs, 7)
	assert.Equal(t, "5", *logs[0].NewValue)
	assert.Equal(t, 1, page.Page)

	negative := -1
	_, _, err = svc.List(ctx, dto.TrackingLogQuery{Offset: &negative})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
