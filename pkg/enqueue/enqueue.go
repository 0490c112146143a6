// Package enqueue implements the two synchronous entry points that create a
// Run and hand it to the pipeline worker (spec §4.8): full-review submission
// and revision submission. Grounded directly on this codebase's
// services.AlertService.SubmitAlert — validate, create the row in a queued
// state, publish, and return immediately; the worker does everything else.
package enqueue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ideapanel/ideapanel/pkg/apierr"
	"github.com/ideapanel/ideapanel/pkg/broker"
	"github.com/ideapanel/ideapanel/pkg/models"
	"github.com/ideapanel/ideapanel/pkg/store"
)

// Envelope is the response shape both flavors return (spec §4.8 / §6
// JobEnqueued).
type Envelope struct {
	RunID    string             `json:"run_id"`
	Status   models.RunStatus   `json:"status"`
	QueuedAt time.Time          `json:"queued_at"`
	Priority models.RunPriority `json:"priority"`
	RunType  models.RunType     `json:"run_type"`
}

// Defaults carries the process-wide settings a submission falls back to when
// the caller doesn't override them, mirroring services.AlertService's
// *config.Defaults dependency.
type Defaults struct {
	Model                  string
	Temperature            float64
	MaxRetries             int
	SchemaVersion          string
	PromptSetVersion       string
	PersonaTemplateVersion string
	MaxDeliveryAttempts    int
}

// Service creates Runs and publishes them for pickup.
type Service struct {
	runs      *store.RunStore
	steps     *store.StepStore
	publisher *broker.Publisher
	defaults  Defaults
}

// NewService builds an enqueue Service.
func NewService(runs *store.RunStore, steps *store.StepStore, publisher *broker.Publisher, defaults Defaults) *Service {
	return &Service{runs: runs, steps: steps, publisher: publisher, defaults: defaults}
}

// FullReviewInput is the domain-level payload for POST /v1/full-review.
type FullReviewInput struct {
	Idea         string
	ExtraContext []byte // caller-normalized JSON, may be nil
}

// SubmitFullReview creates and publishes a fresh initial Run.
func (s *Service) SubmitFullReview(ctx context.Context, input FullReviewInput) (*Envelope, error) {
	if input.Idea == "" {
		return nil, apierr.New(apierr.KindValidation, "idea is required")
	}

	now := time.Now().UTC()
	run := &models.Run{
		ID:        uuid.New().String(),
		RunType:   models.RunTypeInitial,
		Status:    models.RunStatusQueued,
		Priority:  models.RunPriorityNormal,
		CreatedAt: now,
		UpdatedAt: now,
		QueuedAt:  &now,
		InputIdea: input.Idea,
		Model:     s.defaults.Model,
		Temperature: s.defaults.Temperature,
		ParametersJSON: models.RunParameters{
			SchemaVersion:          s.defaults.SchemaVersion,
			PromptSetVersion:       s.defaults.PromptSetVersion,
			MaxRetries:             s.defaults.MaxRetries,
			PersonaTemplateVersion: s.defaults.PersonaTemplateVersion,
		},
	}
	if len(input.ExtraContext) > 0 {
		run.ExtraContext = input.ExtraContext
	}

	return s.createAndPublish(ctx, run)
}

// RevisionInput is the domain-level payload for POST /v1/runs/{run_id}/revisions.
type RevisionInput struct {
	ParentRunID     string
	EditedProposal  *models.ExpandedProposal
	EditNotes       string
}

// SubmitRevision loads the parent Run, validates it is eligible, and creates
// a linked revision Run. The revision planner (re-expand, diff, persona
// re-run selection) runs inside the worker, not here (spec §4.8).
func (s *Service) SubmitRevision(ctx context.Context, input RevisionInput) (*Envelope, error) {
	parent, err := s.runs.Get(ctx, input.ParentRunID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.KindParentNotFound, "parent run not found").WithRunID(input.ParentRunID)
		}
		return nil, apierr.Wrap(apierr.KindInternal, err, "failed to load parent run")
	}
	if parent.Status != models.RunStatusCompleted {
		return nil, apierr.New(apierr.KindParentNotDone, "parent run has not completed").WithRunID(parent.ID)
	}
	if input.EditedProposal == nil && input.EditNotes == "" {
		return nil, apierr.New(apierr.KindMissingEditInput, "at least one of edited_proposal or edit_notes is required").WithRunID(parent.ID)
	}

	now := time.Now().UTC()
	parentID := parent.ID
	run := &models.Run{
		ID:          uuid.New().String(),
		ParentRunID: &parentID,
		RunType:     models.RunTypeRevision,
		Status:      models.RunStatusQueued,
		Priority:    models.RunPriorityNormal,
		CreatedAt:   now,
		UpdatedAt:   now,
		QueuedAt:    &now,
		InputIdea:   parent.InputIdea,
		Model:       parent.Model,
		Temperature: parent.Temperature,
		ParametersJSON: models.RunParameters{
			SchemaVersion:          parent.ParametersJSON.SchemaVersion,
			PromptSetVersion:       parent.ParametersJSON.PromptSetVersion,
			MaxRetries:             parent.ParametersJSON.MaxRetries,
			PersonaTemplateVersion: parent.ParametersJSON.PersonaTemplateVersion,
		},
	}
	if input.EditedProposal != nil || input.EditNotes != "" {
		run.EditInput = &models.RevisionEditInput{
			EditedProposal: input.EditedProposal,
			EditNotes:      input.EditNotes,
		}
	}

	return s.createAndPublish(ctx, run)
}

func (s *Service) createAndPublish(ctx context.Context, run *models.Run) (*Envelope, error) {
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "failed to create run")
	}
	if err := s.steps.InitForRun(ctx, run.ID); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "failed to seed step progress")
	}
	if err := s.publisher.Enqueue(ctx, run.ID, run.Priority, s.defaults.MaxDeliveryAttempts); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "failed to publish run")
	}

	return &Envelope{
		RunID:    run.ID,
		Status:   run.Status,
		QueuedAt: *run.QueuedAt,
		Priority: run.Priority,
		RunType:  run.RunType,
	}, nil
}
