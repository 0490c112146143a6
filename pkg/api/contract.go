// Package api defines this service's HTTP contract as Go interfaces and
// DTOs — request/response shapes and the operations a transport binding
// would expose — without wiring an actual router. Routing is explicitly
// left to a future transport binding; an earlier version of this codebase's
// own HTTP layer mixed two competing router choices (gin in one entrypoint,
// echo everywhere else) inconsistently, which is itself a reason not to
// pick one here and imitate it wholesale.
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ideapanel/ideapanel/pkg/apierr"
	"github.com/ideapanel/ideapanel/pkg/models"
)

// FullReviewRequest is the body of POST /v1/full-review.
type FullReviewRequest struct {
	Idea         string          `json:"idea"`
	ExtraContext json.RawMessage `json:"extra_context,omitempty"`
}

// RevisionRequest is the body of POST /v1/runs/{run_id}/revisions.
type RevisionRequest struct {
	EditedProposal *models.ExpandedProposal `json:"edited_proposal,omitempty"`
	EditNotes      string                    `json:"edit_notes,omitempty"`
	Overrides      map[string]string         `json:"overrides,omitempty"`
}

// JobEnqueuedResponse is the 202 response both enqueue endpoints return.
type JobEnqueuedResponse struct {
	RunID    string             `json:"run_id"`
	Status   models.RunStatus   `json:"status"`
	QueuedAt time.Time          `json:"queued_at"`
	Priority models.RunPriority `json:"priority"`
	RunType  models.RunType     `json:"run_type"`
}

// RunListFilter is the query-parameter shape of GET /v1/runs.
type RunListFilter struct {
	Status        *models.RunStatus
	RunType       *models.RunType
	ParentRunID   *string
	Decision      *models.DecisionLabel
	MinConfidence *float64
	From          *time.Time
	To            *time.Time
	Limit         int // capped at 100
	Offset        int
}

// RunDetail is the 200 response of GET /v1/runs/{run_id}: the run plus its
// proposal, reviews, decision, and step progress, exactly as persisted.
type RunDetail struct {
	Run          *models.Run              `json:"run"`
	Proposal     *models.ProposalVersion  `json:"proposal,omitempty"`
	Reviews      []*models.PersonaReview  `json:"reviews,omitempty"`
	Decision     *models.Decision         `json:"decision,omitempty"`
	StepProgress []*models.StepProgress   `json:"step_progress"`
}

// RunList is the 200 response of GET /v1/runs.
type RunList struct {
	Runs   []*models.Run `json:"runs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// RunDiff is the 200 response of GET /v1/runs/{run_id}/diff/{other_run_id}:
// the structured diff computed purely from the two runs' stored
// ExpandedProposal JSON (pkg/revision.Diff), never a fresh LLM call.
type RunDiff struct {
	RunID      string              `json:"run_id"`
	OtherRunID string              `json:"other_run_id"`
	Diff       *models.ProposalDiff `json:"diff"`
}

// HealthStatus is the 200 response of GET /health: liveness plus a
// config-sanity summary (e.g. persona weights validated, schema registry
// seeded), matching this codebase's own HealthResponse shape.
type HealthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// VersionHeaders names the two optional pinning headers spec §6 describes.
const (
	HeaderSchemaVersion     = "X-Schema-Version"
	HeaderPromptSetVersion  = "X-Prompt-Set-Version"
)

// ErrorBody is the shape of every error response: {code, message, run_id?,
// details?, request_id}, mirroring apierr.Error's public fields.
type ErrorBody struct {
	Code      apierr.Kind       `json:"code"`
	Message   string            `json:"message"`
	RunID     string            `json:"run_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id"`
}

// Service is the contract a transport binding (gin, echo, net/http,
// whatever this project eventually picks) would call into. Every method
// signature here matches one row of spec §6's HTTP surface table; none of
// them are implemented by a router in this repository.
type Service interface {
	SubmitFullReview(ctx context.Context, req FullReviewRequest) (*JobEnqueuedResponse, *apierr.Error)
	SubmitRevision(ctx context.Context, runID string, req RevisionRequest) (*JobEnqueuedResponse, *apierr.Error)
	GetRun(ctx context.Context, runID string) (*RunDetail, *apierr.Error)
	ListRuns(ctx context.Context, filter RunListFilter) (*RunList, *apierr.Error)
	DiffRuns(ctx context.Context, runID, otherRunID string) (*RunDiff, *apierr.Error)
	Health(ctx context.Context) (*HealthStatus, *apierr.Error)
}
