package models

import "time"

// Concern is one strength/weakness observation attached to a review.
type Concern struct {
	Text        string `json:"text" validate:"required"`
	IsBlocking  bool   `json:"is_blocking"`
}

// BlockingIssue is a concern severe enough to gate the decision. A blocking
// issue from security_guardian marked SecurityCritical triggers the veto.
type BlockingIssue struct {
	Text             string `json:"text" validate:"required"`
	SecurityCritical bool   `json:"security_critical,omitempty"`
}

// ReviewPayload is the structured output one persona produces for one Run.
type ReviewPayload struct {
	ConfidenceScore   float64         `json:"confidence_score" validate:"gte=0,lte=1"`
	Strengths         []string        `json:"strengths"`
	Concerns          []Concern       `json:"concerns"`
	Recommendations   []string        `json:"recommendations"`
	BlockingIssues    []BlockingIssue `json:"blocking_issues"`
	EstimatedEffort   string          `json:"estimated_effort"`
	DependencyRisks   []string        `json:"dependency_risks"`
}

// BlockingIssuesPresent reports whether this review raised at least one
// blocking issue.
func (r ReviewPayload) BlockingIssuesPresent() bool {
	return len(r.BlockingIssues) > 0
}

// SecurityConcernsPresent reports whether any blocking issue is marked
// security-critical.
func (r ReviewPayload) SecurityConcernsPresent() bool {
	for _, b := range r.BlockingIssues {
		if b.SecurityCritical {
			return true
		}
	}
	return false
}

// PromptParameters records the exact model/version combination a review was
// produced under, for audit and for re-run decisions.
type PromptParameters struct {
	Model                  string `json:"model"`
	Temperature             float64 `json:"temperature"`
	PersonaTemplateVersion string `json:"persona_template_version"`
	AttemptCount           int    `json:"attempt_count"`
	Reused                 bool   `json:"reused,omitempty"`
	SourceRunID            string `json:"source_run_id,omitempty"`
}

// PersonaReview is one persona's evaluation of one Run's proposal. Unique on
// (run_id, persona_id).
type PersonaReview struct {
	ID                      string        `db:"id" json:"id"`
	RunID                   string        `db:"run_id" json:"run_id"`
	PersonaID               PersonaID     `db:"persona_id" json:"persona_id"`
	PersonaName             string        `db:"persona_name" json:"persona_name"`
	ReviewJSON              ReviewPayload `db:"review_json" json:"review_json"`
	ConfidenceScore         float64       `db:"confidence_score" json:"confidence_score"`
	BlockingIssuesPresent   bool          `db:"blocking_issues_present" json:"blocking_issues_present"`
	SecurityConcernsPresent bool          `db:"security_concerns_present" json:"security_concerns_present"`
	PromptParametersJSON    PromptParameters `db:"prompt_parameters_json" json:"prompt_parameters_json"`
	CreatedAt               time.Time     `db:"created_at" json:"created_at"`
}

// NewPersonaReview builds a PersonaReview row from a validated ReviewPayload,
// deriving the two boolean scalars the aggregator and revision planner read
// without re-parsing the JSON blob.
func NewPersonaReview(runID string, id PersonaID, payload ReviewPayload, params PromptParameters) *PersonaReview {
	return &PersonaReview{
		RunID:                   runID,
		PersonaID:               id,
		PersonaName:             PersonaName[id],
		ReviewJSON:              payload,
		ConfidenceScore:         payload.ConfidenceScore,
		BlockingIssuesPresent:   payload.BlockingIssuesPresent(),
		SecurityConcernsPresent: payload.SecurityConcernsPresent(),
		PromptParametersJSON:    params,
	}
}
