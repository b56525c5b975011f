package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/curriculum-progress-api/internal/dto"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

func TestEvaluateGate(t *testing.T) {
	major := "m1"
	withMajor := &models.Student{ID: "st1", SelectedMajorID: &major}
	withoutMajor := &models.Student{ID: "st2"}
	gated := &models.Semester{ID: "s2", RequiresMajorSelection: true}
	open := &models.Semester{ID: "s1"}

	cases := []struct {
		name     string
		student  *models.Student
		semester *models.Semester
		allowed  bool
	}{
		{name: "open semester without major", student: withoutMajor, semester: open, allowed: true},
		{name: "open semester with major", student: withMajor, semester: open, allowed: true},
		{name: "gated semester with major", student: withMajor, semester: gated, allowed: true},
		{name: "gated semester without major", student: withoutMajor, semester: gated, allowed: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := EvaluateGate(tc.student, tc.semester)
			assert.Equal(t, tc.allowed, decision.Allowed)
			assert.Equal(t, tc.semester.RequiresMajorSelection, decision.RequiresMajorSelection)
			if tc.allowed {
				assert.Empty(t, decision.Reason)
			} else {
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}

func TestSelectMajorUnlocksGatedSemester(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	h.db.access["st1"] = map[string]time.Time{"s2": testNow}

	before, err := h.gate.CanAccessSemester(ctx, "st1", "s2")
	require.NoError(t, err)
	assert.False(t, before.Allowed)

	student, err := h.gate.SelectMajor(ctx, "st1", dto.SelectMajorRequest{MajorID: " m1 "})
	require.NoError(t, err)
	require.NotNil(t, student.SelectedMajorID)
	assert.Equal(t, "m1", *student.SelectedMajorID)
	require.NotNil(t, student.MajorSelectedAt)
	assert.True(t, student.MajorSelectedAt.Equal(testNow))

	after, err := h.gate.CanAccessSemester(ctx, "st1", "s2")
	require.NoError(t, err)
	assert.True(t, after.Allowed)
	assert.True(t, after.HasSelectedMajor)
}

func TestSelectMajorIsIrrevocable(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	h.db.access["st1"] = map[string]time.Time{"s2": testNow}

	_, err := h.gate.SelectMajor(ctx, "st1", dto.SelectMajorRequest{MajorID: "m1"})
	require.NoError(t, err)

	_, err = h.gate.SelectMajor(ctx, "st1", dto.SelectMajorRequest{MajorID: "m1"})
	assert.ErrorIs(t, err, appErrors.ErrMajorAlreadySelected)
	assert.Equal(t, "m1", *h.db.students["st1"].SelectedMajorID)
}

func TestSelectMajorBlockedBeforeGatedSemesterReached(t *testing.T) {
	h := newEngineHarness(t)
	_, err := h.gate.SelectMajor(context.Background(), "st1", dto.SelectMajorRequest{MajorID: "m1"})
	assert.ErrorIs(t, err, appErrors.ErrMajorSelectionBlocked)
	assert.False(t, h.db.students["st1"].HasSelectedMajor())
}

func TestSelectMajorAllowedWhenFirstSemesterIsGated(t *testing.T) {
	h := newEngineHarness(t)
	h.db.semesters[0].RequiresMajorSelection = true

	_, err := h.gate.SelectMajor(context.Background(), "st1", dto.SelectMajorRequest{MajorID: "m1"})
	require.NoError(t, err)
}

func TestSelectMajorValidation(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	h.db.access["st1"] = map[string]time.Time{"s2": testNow}

	_, err := h.gate.SelectMajor(ctx, "st1", dto.SelectMajorRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = h.gate.SelectMajor(ctx, "st1", dto.SelectMajorRequest{MajorID: "m2"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = h.gate.SelectMajor(ctx, "st1", dto.SelectMajorRequest{MajorID: "missing"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = h.gate.SelectMajor(ctx, "ghost", dto.SelectMajorRequest{MajorID: "m1"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestIsSemesterReachable(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	first, err := h.gate.IsSemesterReachable(ctx, "st1", "s1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := h.gate.IsSemesterReachable(ctx, "st1", "s2")
	require.NoError(t, err)
	assert.False(t, second)

	h.db.access["st1"] = map[string]time.Time{"s2": testNow}
	second, err = h.gate.IsSemesterReachable(ctx, "st1", "s2")
	require.NoError(t, err)
	assert.True(t, second)
}
