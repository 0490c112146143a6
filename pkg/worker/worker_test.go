package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideapanel/ideapanel/internal/testutil"
	"github.com/ideapanel/ideapanel/pkg/broker"
	"github.com/ideapanel/ideapanel/pkg/llm"
	"github.com/ideapanel/ideapanel/pkg/models"
	"github.com/ideapanel/ideapanel/pkg/schema"
	"github.com/ideapanel/ideapanel/pkg/store"
)

// fakeLLM returns one canned structured response per step, counting calls so
// tests can assert idempotent short-circuiting never re-invokes it and can
// simulate a transient failure on a chosen step/attempt.
type fakeLLM struct {
	calls     map[models.StepName]int
	failStep  models.StepName
	failUntil int // fail calls 1..failUntil-1 for failStep, succeed from failUntil on
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{calls: map[models.StepName]int{}}
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.calls[req.StepName]++
	if req.StepName == f.failStep && f.calls[req.StepName] < f.failUntil {
		return nil, fmt.Errorf("simulated transient failure on %q (attempt %d)", req.StepName, f.calls[req.StepName])
	}

	var raw json.RawMessage
	switch req.StepName {
	case models.StepExpand:
		raw, _ = json.Marshal(models.ExpandedProposal{
			Title:            "Weekly digest email",
			Summary:          "Send a weekly summary email to active users.",
			ProblemStatement: "Users miss product updates between sessions.",
			ProposedSolution: "Send a templated weekly digest via the existing mailer.",
			Assumptions:      []string{"users have verified email addresses"},
			ScopeNonGoals:    []string{"no per-user personalization in v1"},
		})
	default:
		raw, _ = json.Marshal(models.ReviewPayload{
			ConfidenceScore: 0.8,
			Strengths:       []string{"low implementation cost"},
			Concerns:        nil,
			Recommendations: []string{"add an unsubscribe link"},
			BlockingIssues:  nil,
			EstimatedEffort: "small",
			DependencyRisks: nil,
		})
	}

	return &llm.Response{
		RawJSON: raw,
		Metadata: llm.Metadata{
			RequestID:    uuid.New().String(),
			Model:        req.Model,
			Temperature:  req.Temperature,
			AttemptCount: f.calls[req.StepName],
			FinishReason: "tool_use",
			Status:       "success",
		},
	}, nil
}

func newTestPool(t *testing.T, llmClient llm.Client) (*Pool, Stores, *store.Client) {
	client := testutil.SetupTestDatabase(t)
	stores := Stores{
		Runs:      store.NewRunStore(client),
		Proposals: store.NewProposalStore(client),
		Reviews:   store.NewReviewStore(client),
		Decisions: store.NewDecisionStore(client),
		Steps:     store.NewStepStore(client),
	}
	queue := broker.NewQueue(client.DB())
	cfg := DefaultConfig()
	cfg.StepTimeout = 10 * time.Second
	pool := NewPool(cfg, queue, stores, llmClient, schema.NewDefaultRegistry())
	return pool, stores, client
}

func seedQueuedRun(t *testing.T, ctx context.Context, client *store.Client, stores Stores) *models.Run {
	t.Helper()
	run := &models.Run{
		ID:          uuid.New().String(),
		RunType:     models.RunTypeInitial,
		Status:      models.RunStatusQueued,
		Priority:    models.RunPriorityNormal,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
		InputIdea:   "Send users a weekly digest email",
		Model:       "claude-opus-5",
		Temperature: 0.3,
		ParametersJSON: models.RunParameters{
			SchemaVersion:          "1.0.0",
			PromptSetVersion:       "1.0.0",
			MaxRetries:             3,
			PersonaTemplateVersion: "1.0.0",
		},
	}
	require.NoError(t, stores.Runs.Create(ctx, run))

	publisher := broker.NewPublisher(client.DB().DB)
	require.NoError(t, publisher.Enqueue(ctx, run.ID, run.Priority, 5))
	return run
}

// TestProcessRunsFullPipelineToCompletion exercises the happy path: every
// LLM-backed S_CANON step calls the LLM exactly once, aggregate_decision
// (pure computation) calls it not at all, and the Run lands in a terminal,
// decided state.
func TestProcessRunsFullPipelineToCompletion(t *testing.T) {
	ctx := t.Context()
	fake := newFakeLLM()
	pool, stores, client := newTestPool(t, fake)
	run := seedQueuedRun(t, ctx, client, stores)

	job, err := pool.queue.Claim(ctx, "test-worker")
	require.NoError(t, err)

	require.NoError(t, pool.process(ctx, "test-worker", job))

	got, err := stores.Runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	require.NotNil(t, got.DecisionLabel)

	for _, step := range models.StepOrder {
		want := 1
		if step == models.StepAggregateDecision {
			want = 0
		}
		assert.Equal(t, want, fake.calls[step], "step %q LLM call count", step)
	}
}

// TestProcessIsIdempotentUnderRedelivery covers spec scenario S5: a second
// delivery of a job whose Run already completed must not re-invoke the LLM
// for any step, and must still ack cleanly.
func TestProcessIsIdempotentUnderRedelivery(t *testing.T) {
	ctx := t.Context()
	fake := newFakeLLM()
	pool, stores, client := newTestPool(t, fake)
	run := seedQueuedRun(t, ctx, client, stores)

	job, err := pool.queue.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, pool.process(ctx, "worker-a", job))

	callsAfterFirstRun := map[models.StepName]int{}
	for k, v := range fake.calls {
		callsAfterFirstRun[k] = v
	}

	// Simulate redelivery: re-publish and re-claim the same run, as broker
	// redelivery of an unacked or retried message would.
	publisher := broker.NewPublisher(client.DB().DB)
	require.NoError(t, publisher.Enqueue(ctx, run.ID, run.Priority, 5))
	redelivered, err := pool.queue.Claim(ctx, "worker-b")
	require.NoError(t, err)

	require.NoError(t, pool.process(ctx, "worker-b", redelivered))

	for step, before := range callsAfterFirstRun {
		assert.Equal(t, before, fake.calls[step], "redelivery must not re-invoke the LLM for %q", step)
	}

	got, err := stores.Runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
}

// TestProcessRecoversFromMidPipelineFailureOnRetry covers spec scenario S6:
// a step fails, the job is nacked for retry, and a subsequent claim resumes
// from the failed step. Already-completed earlier steps are not redone.
func TestProcessRecoversFromMidPipelineFailureOnRetry(t *testing.T) {
	ctx := t.Context()
	fake := newFakeLLM()
	fake.failStep = models.StepReviewOptimist
	fake.failUntil = 2 // first attempt fails, second succeeds
	pool, stores, client := newTestPool(t, fake)
	run := seedQueuedRun(t, ctx, client, stores)

	job, err := pool.queue.Claim(ctx, "worker-a")
	require.NoError(t, err)
	// A handled step failure nacks the job and records the Run as failed
	// rather than returning an error from process itself.
	require.NoError(t, pool.process(ctx, "worker-a", job))

	got, err := stores.Runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)

	expandCallsAfterFailure := fake.calls[models.StepExpand]
	architectCallsAfterFailure := fake.calls[models.StepReviewArchitect]
	criticCallsAfterFailure := fake.calls[models.StepReviewCritic]

	time.Sleep(1100 * time.Millisecond) // outlast retryDelay(1)'s 1s backoff window

	retryJob, err := pool.queue.Claim(ctx, "worker-b")
	require.NoError(t, err)
	require.NoError(t, pool.process(ctx, "worker-b", retryJob))

	assert.Equal(t, expandCallsAfterFailure, fake.calls[models.StepExpand], "completed expand step must not re-run")
	assert.Equal(t, architectCallsAfterFailure, fake.calls[models.StepReviewArchitect], "completed review step must not re-run")
	assert.Equal(t, criticCallsAfterFailure, fake.calls[models.StepReviewCritic], "completed review step must not re-run")
	assert.Equal(t, 2, fake.calls[models.StepReviewOptimist], "the failed step retries exactly once more")

	got, err = stores.Runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
}
