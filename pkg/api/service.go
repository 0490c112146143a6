package api

import (
	"context"
	"fmt"
	"time"

	"github.com/ideapanel/ideapanel/pkg/apierr"
	"github.com/ideapanel/ideapanel/pkg/enqueue"
	"github.com/ideapanel/ideapanel/pkg/models"
	"github.com/ideapanel/ideapanel/pkg/revision"
	"github.com/ideapanel/ideapanel/pkg/store"
	"github.com/ideapanel/ideapanel/pkg/version"
)

// service is the concrete Service implementation. It has no transport
// binding of its own — a future router would call these methods directly
// from its handlers.
type service struct {
	enqueue   *enqueue.Service
	runs      *store.RunStore
	proposals *store.ProposalStore
	reviews   *store.ReviewStore
	decisions *store.DecisionStore
	steps     *store.StepStore
}

// NewService builds the concrete Service.
func NewService(enqueueSvc *enqueue.Service, runs *store.RunStore, proposals *store.ProposalStore, reviews *store.ReviewStore, decisions *store.DecisionStore, steps *store.StepStore) Service {
	return &service{
		enqueue:   enqueueSvc,
		runs:      runs,
		proposals: proposals,
		reviews:   reviews,
		decisions: decisions,
		steps:     steps,
	}
}

func (s *service) SubmitFullReview(ctx context.Context, req FullReviewRequest) (*JobEnqueuedResponse, *apierr.Error) {
	env, err := s.enqueue.SubmitFullReview(ctx, enqueue.FullReviewInput{
		Idea:         req.Idea,
		ExtraContext: []byte(req.ExtraContext),
	})
	if err != nil {
		return nil, asAPIError(err)
	}
	return toJobEnqueuedResponse(env), nil
}

func (s *service) SubmitRevision(ctx context.Context, runID string, req RevisionRequest) (*JobEnqueuedResponse, *apierr.Error) {
	env, err := s.enqueue.SubmitRevision(ctx, enqueue.RevisionInput{
		ParentRunID:    runID,
		EditedProposal: req.EditedProposal,
		EditNotes:      req.EditNotes,
	})
	if err != nil {
		return nil, asAPIError(err)
	}
	return toJobEnqueuedResponse(env), nil
}

func toJobEnqueuedResponse(env *enqueue.Envelope) *JobEnqueuedResponse {
	return &JobEnqueuedResponse{
		RunID:    env.RunID,
		Status:   env.Status,
		QueuedAt: env.QueuedAt,
		Priority: env.Priority,
		RunType:  env.RunType,
	}
}

func (s *service) GetRun(ctx context.Context, runID string) (*RunDetail, *apierr.Error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, notFoundOr(err, runID)
	}

	detail := &RunDetail{Run: run}

	if proposal, err := s.proposals.GetByRun(ctx, runID); err == nil {
		detail.Proposal = proposal
	} else if err != store.ErrNotFound {
		return nil, asAPIError(err)
	}

	reviews, err := s.reviews.ListByRun(ctx, runID)
	if err != nil {
		return nil, asAPIError(err)
	}
	detail.Reviews = reviews

	if decision, err := s.decisions.GetByRun(ctx, runID); err == nil {
		detail.Decision = decision
	} else if err != store.ErrNotFound {
		return nil, asAPIError(err)
	}

	steps, err := s.steps.ListByRun(ctx, runID)
	if err != nil {
		return nil, asAPIError(err)
	}
	detail.StepProgress = steps

	return detail, nil
}

func (s *service) ListRuns(ctx context.Context, filter RunListFilter) (*RunList, *apierr.Error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	runs, total, err := s.runs.List(ctx, store.ListFilter{
		Status:        filter.Status,
		RunType:       filter.RunType,
		ParentRunID:   filter.ParentRunID,
		Decision:      filter.Decision,
		MinConfidence: filter.MinConfidence,
		From:          filter.From,
		To:            filter.To,
		Limit:         limit,
		Offset:        filter.Offset,
	})
	if err != nil {
		return nil, asAPIError(err)
	}

	return &RunList{Runs: runs, Total: total, Limit: limit, Offset: filter.Offset}, nil
}

func (s *service) DiffRuns(ctx context.Context, runID, otherRunID string) (*RunDiff, *apierr.Error) {
	if runID == otherRunID {
		return nil, apierr.New(apierr.KindValidation, "run_id and other_run_id are identical")
	}

	a, err := s.proposals.GetByRun(ctx, runID)
	if err != nil {
		return nil, notFoundOr(err, runID)
	}
	b, err := s.proposals.GetByRun(ctx, otherRunID)
	if err != nil {
		return nil, notFoundOr(err, otherRunID)
	}

	diff := revision.Diff(a.ExpandedProposalJSON, b.ExpandedProposalJSON)
	diff.Timestamp = time.Now().UTC()
	return &RunDiff{RunID: runID, OtherRunID: otherRunID, Diff: diff}, nil
}

func (s *service) Health(ctx context.Context) (*HealthStatus, *apierr.Error) {
	checks := map[string]string{"persona_weights": "ok"}
	if err := models.ValidatePersonaWeights(); err != nil {
		checks["persona_weights"] = err.Error()
	}
	return &HealthStatus{Status: "ok", Version: version.Full(), Checks: checks}, nil
}

func notFoundOr(err error, runID string) *apierr.Error {
	if err == store.ErrNotFound {
		return apierr.New(apierr.KindParentNotFound, fmt.Sprintf("run %q not found", runID)).WithRunID(runID)
	}
	return asAPIError(err)
}

func asAPIError(err error) *apierr.Error {
	if apiErr, ok := err.(*apierr.Error); ok {
		return apiErr
	}
	return apierr.Wrap(apierr.KindInternal, err, "internal error")
}
