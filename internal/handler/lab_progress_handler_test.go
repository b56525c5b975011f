package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

type fakeLabService struct {
	items     []models.StudentLabProgress
	item      *models.StudentLabProgress
	removed   int64
	err       error
	lastActor string
}

func (f *fakeLabService) ListLabProgress(context.Context, string) ([]models.StudentLabProgress, error) {
	return f.items, f.err
}

func (f *fakeLabService) CompleteLabRequirement(_ context.Context, _, _, actorID string) (*models.StudentLabProgress, error) {
	f.lastActor = actorID
	return f.item, f.err
}

func (f *fakeLabService) DeleteLabRequirement(_ context.Context, _, actorID string) (int64, error) {
	f.lastActor = actorID
	return f.removed, f.err
}

func TestLabProgressHandlerList(t *testing.T) {
	handler := NewLabProgressHandler(&fakeLabService{items: []models.StudentLabProgress{{RequirementID: "lab-1", Status: models.LabProgressCompleted}}})
	c, rec := newTestContext(http.MethodGet, "/students/st1/lab-progress", nil, gin.Params{{Key: "studentId", Value: "st1"}}, studentUser)
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var items []models.StudentLabProgress
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, models.LabProgressCompleted, items[0].Status)
}

func TestLabProgressHandlerComplete(t *testing.T) {
	svc := &fakeLabService{item: &models.StudentLabProgress{RequirementID: "lab-1", Status: models.LabProgressCompleted}}
	handler := NewLabProgressHandler(svc)
	params := gin.Params{{Key: "studentId", Value: "st1"}, {Key: "requirementId", Value: "lab-1"}}

	c, rec := newTestContext(http.MethodPost, "/students/st1/lab-requirements/lab-1/complete", nil, params, studentUser)
	handler.Complete(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "st1", svc.lastActor)

	svc.err = appErrors.ErrInvalidStatusTransition
	c, rec = newTestContext(http.MethodPost, "/students/st1/lab-requirements/lab-1/complete", nil, params, studentUser)
	handler.Complete(c)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLabProgressHandlerDelete(t *testing.T) {
	svc := &fakeLabService{removed: 3}
	handler := NewLabProgressHandler(svc)
	c, rec := newTestContext(http.MethodDelete, "/lab-requirements/lab-1", nil, gin.Params{{Key: "requirementId", Value: "lab-1"}}, adminUser)
	handler.Delete(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"requirementId":"lab-1","removedProgress":3}`, string(decodeEnvelope(t, rec).Data))
	assert.Equal(t, "admin-1", svc.lastActor)
}
