// Package models defines the persisted domain entities for the idea review
// pipeline: Run, ProposalVersion, PersonaReview, Decision and StepProgress.
package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

// Run status values. Transitions: queued -> running -> {completed, failed},
// with retry resetting failed -> queued.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunType distinguishes an initial evaluation from a revision of a prior one.
type RunType string

const (
	RunTypeInitial  RunType = "initial"
	RunTypeRevision RunType = "revision"
)

// RunPriority orders broker claims: pending high-priority jobs are claimed
// before normal ones. A running job is never preempted.
type RunPriority string

const (
	RunPriorityNormal RunPriority = "normal"
	RunPriorityHigh   RunPriority = "high"
)

// DecisionLabel is the final verdict attached to a completed Run.
type DecisionLabel string

const (
	DecisionApprove DecisionLabel = "approve"
	DecisionRevise  DecisionLabel = "revise"
	DecisionReject  DecisionLabel = "reject"
)

// RevisionEditInput is the caller-supplied edit driving a revision Run,
// persisted alongside it so the worker's re-expand step (spec §4.6 step 1)
// can read the edit back without the enqueue service reaching into pkg/worker.
type RevisionEditInput struct {
	EditedProposal *ExpandedProposal `json:"edited_proposal,omitempty"`
	EditNotes      string            `json:"edit_notes,omitempty"`
}

// RunParameters captures the knobs a Run was executed with, frozen at
// enqueue time so a later change to defaults never mutates history.
type RunParameters struct {
	SchemaVersion         string  `json:"schema_version"`
	PromptSetVersion      string  `json:"prompt_set_version"`
	MaxRetries            int     `json:"max_retries"`
	PersonaTemplateVersion string `json:"persona_template_version"`
}

// Run is the root aggregate for one evaluation attempt of an idea.
type Run struct {
	ID           string  `db:"id" json:"id"`
	ParentRunID  *string `db:"parent_run_id" json:"parent_run_id,omitempty"`
	RunType      RunType `db:"run_type" json:"run_type"`
	Status       RunStatus `db:"status" json:"status"`
	Priority     RunPriority `db:"priority" json:"priority"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	QueuedAt    *time.Time `db:"queued_at" json:"queued_at,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`

	RetryCount int `db:"retry_count" json:"retry_count"`

	InputIdea    string          `db:"input_idea" json:"input_idea"`
	ExtraContext json.RawMessage `db:"extra_context" json:"extra_context,omitempty"`

	// EditInput is set only on a RunTypeRevision Run: the edit that produced
	// it, consumed by the worker's re-expand step and never touched again
	// once the expand step has written this Run's own ProposalVersion.
	EditInput *RevisionEditInput `db:"edit_input_json" json:"edit_input_json,omitempty"`

	Model           string  `db:"model" json:"model"`
	Temperature     float64 `db:"temperature" json:"temperature"`
	ParametersJSON  RunParameters `db:"parameters_json" json:"parameters_json"`

	OverallWeightedConfidence *float64       `db:"overall_weighted_confidence" json:"overall_weighted_confidence,omitempty"`
	DecisionLabel             *DecisionLabel `db:"decision_label" json:"decision_label,omitempty"`

	ErrorMessage   *string `db:"error_message" json:"error_message,omitempty"`
	LastErrorCode  *string `db:"last_error_code" json:"last_error_code,omitempty"`
	DeadLetteredAt *time.Time `db:"dead_lettered_at" json:"dead_lettered_at,omitempty"`
}

// IsTerminal reports whether the Run has reached a status from which no
// further pipeline steps execute without a fresh retry transition.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
