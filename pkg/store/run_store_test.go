package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideapanel/ideapanel/internal/testutil"
	"github.com/ideapanel/ideapanel/pkg/apierr"
	"github.com/ideapanel/ideapanel/pkg/models"
	"github.com/ideapanel/ideapanel/pkg/store"
)

func newRun(id string) *models.Run {
	now := time.Now().UTC()
	return &models.Run{
		ID:         id,
		RunType:    models.RunTypeInitial,
		Status:     models.RunStatusQueued,
		Priority:   models.RunPriorityNormal,
		CreatedAt:  now,
		UpdatedAt:  now,
		InputIdea:  "let teams vote on lunch spots with a weekly poll",
		Model:      "claude-opus-5",
		Temperature: 0.2,
	}
}

func TestRunStoreCreateAndGet(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	runs := store.NewRunStore(client)
	ctx := context.Background()

	run := newRun("11111111-1111-1111-1111-111111111111")
	require.NoError(t, runs.Create(ctx, run))

	got, err := runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.InputIdea, got.InputIdea)
	assert.Equal(t, models.RunStatusQueued, got.Status)
	assert.Nil(t, got.ParentRunID)
}

func TestRunStoreGetMissingReturnsErrNotFound(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	runs := store.NewRunStore(client)

	_, err := runs.Get(context.Background(), "22222222-2222-2222-2222-222222222222")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreUpdateStatusGuardsTransition(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	runs := store.NewRunStore(client)
	ctx := context.Background()

	run := newRun("33333333-3333-3333-3333-333333333333")
	require.NoError(t, runs.Create(ctx, run))

	ok, err := runs.UpdateStatus(ctx, run.ID, models.RunStatusQueued, models.RunStatusRunning, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// A second redelivered attempt to make the same transition from "queued"
	// no longer matches the current status and is a safe no-op.
	ok, err = runs.UpdateStatus(ctx, run.ID, models.RunStatusQueued, models.RunStatusRunning, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
}

func TestRunStoreCompleteAndFail(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	runs := store.NewRunStore(client)
	ctx := context.Background()

	approved := newRun("44444444-4444-4444-4444-444444444444")
	require.NoError(t, runs.Create(ctx, approved))
	require.NoError(t, runs.Complete(ctx, approved.ID, models.DecisionApprove, 0.82, time.Now()))

	got, err := runs.Get(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	require.NotNil(t, got.DecisionLabel)
	assert.Equal(t, models.DecisionApprove, *got.DecisionLabel)
	require.NotNil(t, got.OverallWeightedConfidence)
	assert.InDelta(t, 0.82, *got.OverallWeightedConfidence, 0.0001)

	failed := newRun("55555555-5555-5555-5555-555555555555")
	require.NoError(t, runs.Create(ctx, failed))
	require.NoError(t, runs.Fail(ctx, failed.ID, apierr.KindLLMRateLimit, "rate limited after max retries", true, time.Now()))

	got, err = runs.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	require.NotNil(t, got.LastErrorCode)
	assert.Equal(t, string(apierr.KindLLMRateLimit), *got.LastErrorCode)
	assert.NotNil(t, got.DeadLetteredAt)
}

func TestRunStoreIncrementRetryResetsToQueued(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	runs := store.NewRunStore(client)
	ctx := context.Background()

	run := newRun("66666666-6666-6666-6666-666666666666")
	run.Status = models.RunStatusRunning
	require.NoError(t, runs.Create(ctx, run))

	require.NoError(t, runs.IncrementRetry(ctx, run.ID, time.Now()))

	got, err := runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}
