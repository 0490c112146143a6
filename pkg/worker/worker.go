// Package worker is the Pipeline Worker (spec §4.6): one goroutine pool that
// claims queued runs and drives them through S_CANON (expand, five persona
// reviews, aggregate_decision) to completion, generalizing this codebase's
// pkg/queue.Worker poll-claim-execute loop from alert sessions to idea
// evaluation runs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ideapanel/ideapanel/pkg/aggregator"
	"github.com/ideapanel/ideapanel/pkg/apierr"
	"github.com/ideapanel/ideapanel/pkg/broker"
	"github.com/ideapanel/ideapanel/pkg/llm"
	"github.com/ideapanel/ideapanel/pkg/models"
	"github.com/ideapanel/ideapanel/pkg/revision"
	"github.com/ideapanel/ideapanel/pkg/schema"
	"github.com/ideapanel/ideapanel/pkg/store"
)

// Config holds the worker pool's tunables, mirroring this codebase's
// config.QueueConfig field set.
type Config struct {
	WorkerCount    int
	PollInterval   time.Duration // spec WORKER_POLL_INTERVAL_MS
	StepTimeout    time.Duration // spec WORKER_STEP_TIMEOUT_SECONDS
	AckDeadline    time.Duration // spec WORKER_ACK_DEADLINE_SECONDS, reclaims a stale running Run or job
	MaxRetries     int           // per-LLM-call retries, forwarded to llm.Client
	Model          string
	Temperature    float64
	RerunThreshold float64 // spec RERUN_CONFIDENCE_THRESHOLD
}

// DefaultConfig returns the documented worker pool defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:    2,
		PollInterval:   2 * time.Second,
		StepTimeout:    300 * time.Second,
		AckDeadline:    300 * time.Second,
		MaxRetries:     3,
		Model:          "claude-opus-5",
		Temperature:    0.3,
		RerunThreshold: revision.RerunConfidenceThreshold,
	}
}

// Stores bundles the repositories one pipeline worker reads and writes.
type Stores struct {
	Runs      *store.RunStore
	Proposals *store.ProposalStore
	Reviews   *store.ReviewStore
	Decisions *store.DecisionStore
	Steps     *store.StepStore
}

// Pool runs Config.WorkerCount goroutines each polling the same job queue,
// matching this codebase's WorkerPool.Start/Stop lifecycle.
type Pool struct {
	cfg      Config
	queue    *broker.Queue
	stores   Stores
	llm      llm.Client
	registry *schema.Registry
	prompts  *PromptBuilder

	stopCh chan struct{}
	done   chan struct{}
	wake   chan struct{}
}

// NewPool builds a worker pool.
func NewPool(cfg Config, queue *broker.Queue, stores Stores, llmClient llm.Client, registry *schema.Registry) *Pool {
	return &Pool{
		cfg:      cfg,
		queue:    queue,
		stores:   stores,
		llm:      llmClient,
		registry: registry,
		prompts:  NewPromptBuilder(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}, cfg.WorkerCount),
		wake:     make(chan struct{}, cfg.WorkerCount),
	}
}

// Wake cuts a sleeping worker's poll interval short. A broker.Listener calls
// this on every job_queue NOTIFY (spec §4.4); the fixed-interval poll in
// run/sleep remains the fallback for a missed or never-received notification.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start launches the configured number of worker goroutines plus the stale
// claim reclaim loop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		go p.run(ctx, workerID)
	}
	go p.reclaimLoop(ctx)
}

// reclaimLoop periodically resets job_queue rows a worker claimed but never
// acked or nacked within AckDeadline (spec WORKER_ACK_DEADLINE_SECONDS): a
// worker that crashed mid-job leaves its claim locked forever otherwise,
// since Claim's SKIP LOCKED never revisits a locked-but-abandoned row.
// RunStore.Claim applies the matching reclaim to the Run row itself the next
// time some worker picks the job back up.
func (p *Pool) reclaimLoop(ctx context.Context) {
	if p.cfg.AckDeadline <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.AckDeadline / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.ReclaimStale(ctx, p.cfg.AckDeadline)
			if err != nil {
				slog.Error("failed to reclaim stale jobs", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("reclaimed stale jobs", "count", n)
			}
		}
	}
}

// Stop signals every worker goroutine to exit and waits for them.
func (p *Pool) Stop() {
	close(p.stopCh)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		<-p.done
	}
}

func (p *Pool) run(ctx context.Context, workerID string) {
	defer func() { p.done <- struct{}{} }()
	log := slog.With("worker_id", workerID)
	log.Info("pipeline worker started")

	for {
		select {
		case <-p.stopCh:
			log.Info("pipeline worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Claim(ctx, workerID)
		if err != nil {
			if errors.Is(err, broker.ErrNoJob) {
				p.sleep(p.cfg.PollInterval)
				continue
			}
			log.Error("failed to claim job", "error", err)
			p.sleep(time.Second)
			continue
		}

		if err := p.process(ctx, workerID, job); err != nil {
			log.Error("job processing error", "run_id", job.RunID, "error", err)
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-p.wake:
	case <-time.After(d):
	}
}

// process drives one claimed job's Run through every not-yet-completed
// S_CANON step, short-circuiting already-committed steps so redelivery is
// idempotent (spec §5, scenarios S5/S6).
func (p *Pool) process(ctx context.Context, workerID string, job *broker.Job) error {
	log := slog.With("worker_id", workerID, "run_id", job.RunID)

	now := time.Now().UTC()
	run, outcome, err := p.stores.Runs.Claim(ctx, job.RunID, now, p.cfg.AckDeadline)
	if err != nil {
		return fmt.Errorf("failed to claim run: %w", err)
	}

	switch outcome {
	case store.ClaimAlreadyCompleted:
		log.Info("idempotent_skip", "status", run.Status)
		return p.queue.Ack(ctx, job.ID)
	case store.ClaimHeldByOther:
		log.Info("run claimed by another worker, deferring", "status", run.Status)
		return p.queue.Nack(ctx, job.ID, p.cfg.PollInterval, "run held by another worker")
	}

	if err := p.stores.Steps.InitForRun(ctx, run.ID); err != nil {
		return fmt.Errorf("failed to seed step progress: %w", err)
	}

	for _, step := range models.StepOrder {
		progress, err := p.stores.Steps.Get(ctx, run.ID, step)
		if err != nil {
			return fmt.Errorf("failed to load step progress for %q: %w", step, err)
		}
		if progress.Status == models.StepStatusCompleted {
			continue
		}

		if err := p.runStep(ctx, run, step); err != nil {
			failMsg := err.Error()
			if failErr := p.stores.Steps.Fail(ctx, run.ID, step, failMsg, time.Now().UTC()); failErr != nil {
				log.Error("failed to record step failure", "step", step, "error", failErr)
			}
			if runErr := p.stores.Runs.Fail(ctx, run.ID, apierr.KindOf(err), failMsg, job.Attempts >= job.MaxAttempts, time.Now().UTC()); runErr != nil {
				log.Error("failed to record run failure", "error", runErr)
			}
			if job.Attempts >= job.MaxAttempts {
				return p.queue.DeadLetter(ctx, job.ID, failMsg)
			}
			return p.queue.Nack(ctx, job.ID, retryDelay(job.Attempts), failMsg)
		}
	}

	return p.queue.Ack(ctx, job.ID)
}

// retryDelay backs off a failed job's next claim attempt, initial=1s doubling
// per attempt, matching the LLM client's own backoff shape (spec §4.2, §6).
func retryDelay(attempt int) time.Duration {
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

// runStep executes exactly one not-yet-completed canonical step, short
// circuiting on an already-present artifact so a step re-entered after a
// crash between artifact commit and StepProgress commit never re-calls the
// LLM (spec §5 step 2).
func (p *Pool) runStep(ctx context.Context, run *models.Run, step models.StepName) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	startedAt := time.Now().UTC()
	if _, err := p.stores.Steps.TransitionToRunning(ctx, run.ID, step, startedAt); err != nil {
		return fmt.Errorf("failed to transition step %q to running: %w", step, err)
	}

	switch step {
	case models.StepExpand:
		return p.runExpand(stepCtx, run, step)
	case models.StepAggregateDecision:
		return p.runAggregate(stepCtx, run, step)
	default:
		persona, ok := models.StepPersona(step)
		if !ok {
			return fmt.Errorf("step %q has no persona mapping", step)
		}
		return p.runReview(stepCtx, run, step, persona)
	}
}

func (p *Pool) runExpand(ctx context.Context, run *models.Run, step models.StepName) error {
	exists, err := p.stores.Proposals.Exists(ctx, run.ID)
	if err != nil {
		return err
	}
	if exists {
		return p.stores.Steps.Complete(ctx, run.ID, step, time.Now().UTC())
	}

	if run.RunType == models.RunTypeRevision {
		return p.runReexpand(ctx, run, step)
	}

	system, user := p.prompts.BuildExpand(run.InputIdea)
	resp, err := p.llm.Generate(ctx, llm.Request{
		SystemPrompt:    system,
		UserPrompt:      user,
		StepName:        step,
		ToolName:        "submit_expanded_proposal",
		ToolDescription: "Submit the structured expansion of the idea.",
		ToolSchema:      llm.ExpandProposalToolSchema,
		Model:           run.Model,
		Temperature:     run.Temperature,
		MaxTokens:       2048,
		MaxRetries:      p.cfg.MaxRetries,
	})
	if err != nil {
		return err
	}

	var expanded models.ExpandedProposal
	if err := json.Unmarshal(resp.RawJSON, &expanded); err != nil {
		return apierr.Wrap(apierr.KindSchemaValidation, err, "expand step returned malformed JSON")
	}
	expanded.RawIdea = run.InputIdea
	expanded.RawExpandedProposal = string(resp.RawJSON)

	if err := p.registry.Validate(schema.NameExpandedProposal, expanded, resp.Metadata.RequestID); err != nil {
		return err
	}

	version := &models.ProposalVersion{
		ID:                     uuid.New().String(),
		RunID:                  run.ID,
		ExpandedProposalJSON:   expanded,
		PersonaTemplateVersion: run.ParametersJSON.PersonaTemplateVersion,
		CreatedAt:              time.Now().UTC(),
	}
	if err := p.stores.Proposals.Create(ctx, version); err != nil {
		return err
	}
	return p.stores.Steps.Complete(ctx, run.ID, step, time.Now().UTC())
}

// runReexpand implements the revision planner's expand step (spec §4.6 steps
// 1-4) for a RunTypeRevision run: re-expand the parent proposal with the
// caller's edit folded in, diff the result against the parent, persist the
// new version, then decide which of the parent's five persona reviews can be
// reused unchanged versus must be re-run.
func (p *Pool) runReexpand(ctx context.Context, run *models.Run, step models.StepName) error {
	if run.ParentRunID == nil {
		return fmt.Errorf("revision run %q has no parent_run_id", run.ID)
	}
	parentProposal, err := p.stores.Proposals.GetByRun(ctx, *run.ParentRunID)
	if err != nil {
		return fmt.Errorf("failed to load parent proposal for revision: %w", err)
	}

	editSummary := buildEditSummary(run.EditInput)
	system, user := p.prompts.BuildReexpand(parentProposal.ExpandedProposalJSON, editSummary)
	resp, err := p.llm.Generate(ctx, llm.Request{
		SystemPrompt:    system,
		UserPrompt:      user,
		StepName:        step,
		ToolName:        "submit_expanded_proposal",
		ToolDescription: "Submit the structured expansion of the revised idea.",
		ToolSchema:      llm.ExpandProposalToolSchema,
		Model:           run.Model,
		Temperature:     run.Temperature,
		MaxTokens:       2048,
		MaxRetries:      p.cfg.MaxRetries,
	})
	if err != nil {
		return err
	}

	var expanded models.ExpandedProposal
	if err := json.Unmarshal(resp.RawJSON, &expanded); err != nil {
		return apierr.Wrap(apierr.KindSchemaValidation, err, "re-expand step returned malformed JSON")
	}
	expanded.RawIdea = run.InputIdea
	expanded.RawExpandedProposal = string(resp.RawJSON)

	if err := p.registry.Validate(schema.NameExpandedProposal, expanded, resp.Metadata.RequestID); err != nil {
		return err
	}

	diff := revision.Diff(parentProposal.ExpandedProposalJSON, expanded)
	diff.Timestamp = time.Now().UTC()

	version := &models.ProposalVersion{
		ID:                     uuid.New().String(),
		RunID:                  run.ID,
		ExpandedProposalJSON:   expanded,
		ProposalDiffJSON:       diff,
		PersonaTemplateVersion: run.ParametersJSON.PersonaTemplateVersion,
		CreatedAt:              time.Now().UTC(),
	}
	if run.EditInput != nil && run.EditInput.EditNotes != "" {
		notes := run.EditInput.EditNotes
		version.EditNotes = &notes
	}
	if err := p.stores.Proposals.Create(ctx, version); err != nil {
		return err
	}

	if err := p.applyRerunSelection(ctx, run); err != nil {
		return err
	}

	return p.stores.Steps.Complete(ctx, run.ID, step, time.Now().UTC())
}

// buildEditSummary renders a revision's caller-supplied edit into the
// free-text form the re-expand prompt expects, preferring explicit edit
// notes over a bare "proposal replaced" fallback.
func buildEditSummary(input *models.RevisionEditInput) string {
	if input == nil {
		return "No specific changes noted."
	}
	var sb strings.Builder
	if input.EditNotes != "" {
		sb.WriteString(input.EditNotes)
	}
	if input.EditedProposal != nil {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Replacement proposal draft:\nTitle: %s\nSummary: %s\nProblem statement: %s\nProposed solution: %s",
			input.EditedProposal.Title, input.EditedProposal.Summary,
			input.EditedProposal.ProblemStatement, input.EditedProposal.ProposedSolution)
	}
	if sb.Len() == 0 {
		return "No specific changes noted."
	}
	return sb.String()
}

// applyRerunSelection evaluates the parent run's five persona reviews against
// the rerun-confidence threshold (spec §4.6 step 3) and, for every persona
// selected for reuse, copies its parent review onto this run and marks the
// corresponding step complete so the main step loop skips straight past it.
// A persona selected for rerun is left untouched here: its StepProgress stays
// pending and the step loop drives a fresh LLM call for it exactly as it
// would for an initial run.
func (p *Pool) applyRerunSelection(ctx context.Context, run *models.Run) error {
	parentReviews, err := p.stores.Reviews.ListByRun(ctx, *run.ParentRunID)
	if err != nil {
		return fmt.Errorf("failed to load parent reviews for revision: %w", err)
	}
	parentByPersona := make(map[models.PersonaID]*models.PersonaReview, len(parentReviews))
	for _, r := range parentReviews {
		parentByPersona[r.PersonaID] = r
	}

	for _, decision := range revision.SelectRerunSet(parentReviews, p.cfg.RerunThreshold) {
		if decision.Rerun {
			continue
		}
		parentReview, ok := parentByPersona[decision.PersonaID]
		if !ok {
			continue
		}

		reused := revision.ReuseReview(parentReview, run.ID)
		reused.ID = uuid.New().String()
		reused.CreatedAt = time.Now().UTC()
		if err := p.stores.Reviews.Create(ctx, reused); err != nil {
			return fmt.Errorf("failed to persist reused review for %q: %w", decision.PersonaID, err)
		}

		step := models.PersonaStep(decision.PersonaID)
		if step == "" {
			continue
		}
		if _, err := p.stores.Steps.TransitionToRunning(ctx, run.ID, step, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to transition reused step %q to running: %w", step, err)
		}
		if err := p.stores.Steps.Complete(ctx, run.ID, step, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to complete reused step %q: %w", step, err)
		}
	}
	return nil
}

func (p *Pool) runReview(ctx context.Context, run *models.Run, step models.StepName, persona models.PersonaID) error {
	existing, err := p.stores.Reviews.GetByRunAndPersona(ctx, run.ID, persona)
	if err == nil && existing != nil {
		return p.stores.Steps.Complete(ctx, run.ID, step, time.Now().UTC())
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	proposal, err := p.stores.Proposals.GetByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load proposal for review step: %w", err)
	}

	system, user := p.prompts.BuildReview(persona, proposal.ExpandedProposalJSON)
	resp, err := p.llm.Generate(ctx, llm.Request{
		SystemPrompt:    system,
		UserPrompt:      user,
		StepName:        step,
		PersonaID:       persona,
		ToolName:        "submit_persona_review",
		ToolDescription: "Submit the structured review of the proposal.",
		ToolSchema:      llm.PersonaReviewToolSchema,
		Model:           run.Model,
		Temperature:     run.Temperature,
		MaxTokens:       2048,
		MaxRetries:      p.cfg.MaxRetries,
	})
	if err != nil {
		return err
	}

	var payload models.ReviewPayload
	if err := json.Unmarshal(resp.RawJSON, &payload); err != nil {
		return apierr.Wrap(apierr.KindSchemaValidation, err, "review step returned malformed JSON")
	}
	if err := p.registry.Validate(schema.NamePersonaReview, payload, resp.Metadata.RequestID); err != nil {
		return err
	}

	review := models.NewPersonaReview(run.ID, persona, payload, models.PromptParameters{
		Model:                  resp.Metadata.Model,
		Temperature:            run.Temperature,
		PersonaTemplateVersion: proposal.PersonaTemplateVersion,
		AttemptCount:           resp.Metadata.AttemptCount,
	})
	review.ID = uuid.New().String()
	review.CreatedAt = time.Now().UTC()
	if err := p.stores.Reviews.Create(ctx, review); err != nil {
		return err
	}
	return p.stores.Steps.Complete(ctx, run.ID, step, time.Now().UTC())
}

func (p *Pool) runAggregate(ctx context.Context, run *models.Run, step models.StepName) error {
	if _, err := p.stores.Decisions.GetByRun(ctx, run.ID); err == nil {
		return p.stores.Steps.Complete(ctx, run.ID, step, time.Now().UTC())
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	reviews, err := p.stores.Reviews.ListByRun(ctx, run.ID)
	if err != nil {
		return err
	}

	agg, err := aggregator.Aggregate(reviews, models.PersonaWeight)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "aggregation failed")
	}

	if err := p.registry.Validate(schema.NameDecisionAggregation, *agg, ""); err != nil {
		return err
	}

	decision := &models.Decision{
		ID:                        uuid.New().String(),
		RunID:                     run.ID,
		DecisionJSON:              *agg,
		OverallWeightedConfidence: agg.WeightedConfidence,
		CreatedAt:                 time.Now().UTC(),
	}
	if err := p.stores.Decisions.Create(ctx, decision); err != nil {
		return err
	}
	if err := p.stores.Runs.Complete(ctx, run.ID, agg.Decision, agg.WeightedConfidence, time.Now().UTC()); err != nil {
		return err
	}
	return p.stores.Steps.Complete(ctx, run.ID, step, time.Now().UTC())
}

