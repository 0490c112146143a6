package models

import "time"

// ExpandedProposal is the structured output the LLM produces from a raw idea
// during the expand step. It is also the type diffed by the revision planner.
type ExpandedProposal struct {
	Title             string   `json:"title,omitempty" validate:"omitempty,max=200"`
	Summary           string   `json:"summary,omitempty" validate:"omitempty,max=2000"`
	ProblemStatement  string   `json:"problem_statement" validate:"required"`
	ProposedSolution  string   `json:"proposed_solution" validate:"required"`
	Assumptions       []string `json:"assumptions" validate:"required,min=1,dive,required"`
	ScopeNonGoals     []string `json:"scope_non_goals" validate:"required,dive,required"`
	RawIdea           string   `json:"raw_idea" validate:"required"`
	RawExpandedProposal string `json:"raw_expanded_proposal" validate:"required"`
}

// DiffableFields are the six fields the revision planner compares between a
// parent proposal and its edited successor. Order matches spec order.
var DiffableFields = []string{
	"problem_statement",
	"proposed_solution",
	"assumptions",
	"scope_non_goals",
	"title",
	"summary",
}

// FieldChange records the before/after value of one changed field. Values are
// stored as their JSON representation so scalar and list fields share a shape.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// ProposalDiff is the structured output of comparing a parent ExpandedProposal
// against its edited revision.
type ProposalDiff struct {
	ChangedFields map[string]FieldChange `json:"changed_fields"`
	NumChanges    int                    `json:"num_changes"`
	Timestamp     time.Time              `json:"timestamp"`
}

// ProposalVersion is the exactly-one-per-Run expansion artifact.
type ProposalVersion struct {
	ID                    string        `db:"id" json:"id"`
	RunID                 string        `db:"run_id" json:"run_id"`
	ExpandedProposalJSON  ExpandedProposal `db:"expanded_proposal_json" json:"expanded_proposal_json"`
	ProposalDiffJSON      *ProposalDiff `db:"proposal_diff_json" json:"proposal_diff_json,omitempty"`
	EditNotes             *string       `db:"edit_notes" json:"edit_notes,omitempty"`
	PersonaTemplateVersion string       `db:"persona_template_version" json:"persona_template_version"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
}
