// Package revision implements the revision planner (spec §4.6): re-expanding
// an edited idea, diffing the result against its parent, and selecting which
// persona reviews must be re-run versus reused unchanged.
package revision

import (
	"fmt"

	"github.com/ideapanel/ideapanel/pkg/models"
)

// RerunConfidenceThreshold is the default below which a parent review is
// re-run even with no other disqualifying condition (spec §6,
// RERUN_CONFIDENCE_THRESHOLD).
const RerunConfidenceThreshold = 0.70

// EditInput is the caller-supplied edit driving a revision: either a
// structured replacement proposal, free-text notes, or both.
type EditInput struct {
	EditedProposal *models.ExpandedProposal
	EditNotes      string
}

// Diff computes the field-level diff between a parent proposal and its
// edited successor over the six named fields (spec §4.6 step 2). It never
// invokes the LLM: the comparison is pure struct inspection over already
// stored, already validated values (per this codebase's design note that the
// diff must not be recomputed by a model call). The caller stamps Timestamp
// after calling Diff, keeping this package free of wall-clock reads so it
// stays a pure function under test.
func Diff(parent, edited models.ExpandedProposal) *models.ProposalDiff {
	changed := map[string]models.FieldChange{}

	compareString := func(field, before, after string) {
		if before != after {
			changed[field] = models.FieldChange{Before: before, After: after}
		}
	}
	compareSlice := func(field string, before, after []string) {
		if !stringSlicesEqual(before, after) {
			changed[field] = models.FieldChange{Before: before, After: after}
		}
	}

	compareString("problem_statement", parent.ProblemStatement, edited.ProblemStatement)
	compareString("proposed_solution", parent.ProposedSolution, edited.ProposedSolution)
	compareSlice("assumptions", parent.Assumptions, edited.Assumptions)
	compareSlice("scope_non_goals", parent.ScopeNonGoals, edited.ScopeNonGoals)
	compareString("title", parent.Title, edited.Title)
	compareString("summary", parent.Summary, edited.Summary)

	return &models.ProposalDiff{
		ChangedFields: changed,
		NumChanges:    len(changed),
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RerunDecision is the outcome of evaluating one parent review against the
// selection predicate.
type RerunDecision struct {
	PersonaID PersonaID
	Rerun     bool
	Reason    string
}

// PersonaID re-exports models.PersonaID so callers needn't import both
// packages for the common case of iterating RerunDecision.
type PersonaID = models.PersonaID

// SelectRerunSet applies spec §4.6 step 3 to every parent review: a review
// is re-run if its confidence is below threshold, it has a blocking issue, or
// it is security_guardian with a security concern present. Otherwise it is
// reused. Zero personas selected (all reused) and all five selected are both
// valid outcomes.
func SelectRerunSet(parentReviews []*models.PersonaReview, threshold float64) []RerunDecision {
	decisions := make([]RerunDecision, 0, len(parentReviews))
	for _, r := range parentReviews {
		decisions = append(decisions, evaluate(r, threshold))
	}
	return decisions
}

func evaluate(r *models.PersonaReview, threshold float64) RerunDecision {
	switch {
	case r.ConfidenceScore < threshold:
		return RerunDecision{PersonaID: r.PersonaID, Rerun: true,
			Reason: fmt.Sprintf("confidence %.2f below threshold %.2f", r.ConfidenceScore, threshold)}
	case r.BlockingIssuesPresent:
		return RerunDecision{PersonaID: r.PersonaID, Rerun: true, Reason: "blocking issue present"}
	case r.PersonaID == models.PersonaSecurityGuardian && r.SecurityConcernsPresent:
		return RerunDecision{PersonaID: r.PersonaID, Rerun: true, Reason: "security concern present"}
	default:
		return RerunDecision{PersonaID: r.PersonaID, Rerun: false, Reason: "reused: no disqualifying condition"}
	}
}

// ReuseReview copies a parent review into a new Run, annotating its prompt
// parameters with reused=true and the source run, per spec §4.6 step 4.
func ReuseReview(parentReview *models.PersonaReview, newRunID string) *models.PersonaReview {
	params := parentReview.PromptParametersJSON
	params.Reused = true
	params.SourceRunID = parentReview.RunID
	return models.NewPersonaReview(newRunID, parentReview.PersonaID, parentReview.ReviewJSON, params)
}
