package enqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideapanel/ideapanel/internal/testutil"
	"github.com/ideapanel/ideapanel/pkg/apierr"
	"github.com/ideapanel/ideapanel/pkg/broker"
	"github.com/ideapanel/ideapanel/pkg/models"
	"github.com/ideapanel/ideapanel/pkg/store"
)

func newTestService(t *testing.T) *Service {
	client := testutil.SetupTestDatabase(t)
	runs := store.NewRunStore(client)
	steps := store.NewStepStore(client)
	publisher := broker.NewPublisher(client.DB().DB)
	return NewService(runs, steps, publisher, Defaults{
		Model:                  "claude-opus-5",
		Temperature:            0.7,
		MaxRetries:             3,
		SchemaVersion:          "1.0.0",
		PromptSetVersion:       "1.0.0",
		PersonaTemplateVersion: "1.0.0",
		MaxDeliveryAttempts:    5,
	})
}

func TestSubmitFullReviewRejectsEmptyIdea(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SubmitFullReview(t.Context(), FullReviewInput{})
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestSubmitFullReviewCreatesQueuedRun(t *testing.T) {
	svc := newTestService(t)
	env, err := svc.SubmitFullReview(t.Context(), FullReviewInput{Idea: "Let teams annotate dashboards inline"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, env.Status)
	assert.Equal(t, models.RunTypeInitial, env.RunType)
	assert.NotEmpty(t, env.RunID)
}

func TestSubmitRevisionRejectsUnknownParent(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SubmitRevision(t.Context(), RevisionInput{ParentRunID: "does-not-exist", EditNotes: "tighten scope"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindParentNotFound, apierr.KindOf(err))
}

func TestSubmitRevisionRejectsNonCompletedParent(t *testing.T) {
	svc := newTestService(t)
	parentEnv, err := svc.SubmitFullReview(t.Context(), FullReviewInput{Idea: "Auto-tag support tickets by sentiment"})
	require.NoError(t, err)

	_, err = svc.SubmitRevision(t.Context(), RevisionInput{ParentRunID: parentEnv.RunID, EditNotes: "tighten scope"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindParentNotDone, apierr.KindOf(err))
}

func TestSubmitRevisionRejectsMissingEditInputs(t *testing.T) {
	svc := newTestService(t)
	parentEnv, err := svc.SubmitFullReview(t.Context(), FullReviewInput{Idea: "Auto-tag support tickets by sentiment"})
	require.NoError(t, err)
	require.NoError(t, svc.runs.Complete(t.Context(), parentEnv.RunID, models.DecisionApprove, 0.9, parentEnv.QueuedAt))

	_, err = svc.SubmitRevision(t.Context(), RevisionInput{ParentRunID: parentEnv.RunID})
	require.Error(t, err)
	assert.Equal(t, apierr.KindMissingEditInput, apierr.KindOf(err))
}

func TestSubmitRevisionLinksParent(t *testing.T) {
	svc := newTestService(t)
	parentEnv, err := svc.SubmitFullReview(t.Context(), FullReviewInput{Idea: "Auto-tag support tickets by sentiment"})
	require.NoError(t, err)
	require.NoError(t, svc.runs.Complete(t.Context(), parentEnv.RunID, models.DecisionApprove, 0.9, parentEnv.QueuedAt))

	env, err := svc.SubmitRevision(t.Context(), RevisionInput{ParentRunID: parentEnv.RunID, EditNotes: "tighten scope"})
	require.NoError(t, err)
	assert.Equal(t, models.RunTypeRevision, env.RunType)

	revisions, err := svc.runs.ListRevisions(t.Context(), parentEnv.RunID)
	require.NoError(t, err)
	assert.Len(t, revisions, 2)
}
