package models

import "time"

// StepName is one canonical pipeline unit.
type StepName string

const (
	StepExpand                 StepName = "expand"
	StepReviewArchitect         StepName = "review_architect"
	StepReviewCritic            StepName = "review_critic"
	StepReviewOptimist          StepName = "review_optimist"
	StepReviewSecurityGuardian StepName = "review_security_guardian"
	StepReviewUserAdvocate     StepName = "review_user_advocate"
	StepAggregateDecision       StepName = "aggregate_decision"
)

// StepOrder is S_CANON: the fixed, ordered list of pipeline steps.
var StepOrder = []StepName{
	StepExpand,
	StepReviewArchitect,
	StepReviewCritic,
	StepReviewOptimist,
	StepReviewSecurityGuardian,
	StepReviewUserAdvocate,
	StepAggregateDecision,
}

// stepIndex maps a step name to its fixed position in S_CANON.
var stepIndex = func() map[StepName]int {
	m := make(map[StepName]int, len(StepOrder))
	for i, s := range StepOrder {
		m[s] = i
	}
	return m
}()

// IsCanonicalStep reports whether name is a member of S_CANON.
func IsCanonicalStep(name StepName) bool {
	_, ok := stepIndex[name]
	return ok
}

// StepPersona returns the persona a review step drives, or false if the step
// is not a review step (expand and aggregate_decision have no persona).
func StepPersona(name StepName) (PersonaID, bool) {
	switch name {
	case StepReviewArchitect:
		return PersonaArchitect, true
	case StepReviewCritic:
		return PersonaCritic, true
	case StepReviewOptimist:
		return PersonaOptimist, true
	case StepReviewSecurityGuardian:
		return PersonaSecurityGuardian, true
	case StepReviewUserAdvocate:
		return PersonaUserAdvocate, true
	default:
		return "", false
	}
}

// PersonaStep is the inverse of StepPersona.
func PersonaStep(id PersonaID) StepName {
	switch id {
	case PersonaArchitect:
		return StepReviewArchitect
	case PersonaCritic:
		return StepReviewCritic
	case PersonaOptimist:
		return StepReviewOptimist
	case PersonaSecurityGuardian:
		return StepReviewSecurityGuardian
	case PersonaUserAdvocate:
		return StepReviewUserAdvocate
	default:
		return ""
	}
}

// StepStatus mirrors Run status granularity but scoped to a single step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepProgress is one row per (Run, canonical step). Unique on
// (run_id, step_name); cascade-deleted with its Run.
type StepProgress struct {
	ID           string     `db:"id" json:"id"`
	RunID        string     `db:"run_id" json:"run_id"`
	StepName     StepName   `db:"step_name" json:"step_name"`
	StepOrder    int        `db:"step_order" json:"step_order"`
	Status       StepStatus `db:"status" json:"status"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}

// StepOrderOf returns the fixed position of name in S_CANON. Callers must
// have validated name via IsCanonicalStep first.
func StepOrderOf(name StepName) int {
	return stepIndex[name]
}
