package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ideapanel/ideapanel/pkg/models"
)

func TestDiffDetectsOnlyChangedFields(t *testing.T) {
	parent := models.ExpandedProposal{
		ProblemStatement: "users cannot export data",
		ProposedSolution: "add a CSV export button",
		Assumptions:      []string{"users have a modern browser"},
		ScopeNonGoals:    []string{"no Excel formulas"},
		Title:            "Export",
	}
	edited := parent
	edited.ScopeNonGoals = []string{"no Excel formulas", "no PDF export"}

	diff := Diff(parent, edited)
	assert.Equal(t, 1, diff.NumChanges)
	_, ok := diff.ChangedFields["scope_non_goals"]
	assert.True(t, ok)
	_, ok = diff.ChangedFields["problem_statement"]
	assert.False(t, ok)
}

func TestDiffNoChanges(t *testing.T) {
	p := models.ExpandedProposal{ProblemStatement: "same", Title: "same"}
	diff := Diff(p, p)
	assert.Equal(t, 0, diff.NumChanges)
	assert.Empty(t, diff.ChangedFields)
}

// TestSelectRerunSetS4 replicates spec §8 scenario S4: parent decision
// "revise" with critic.confidence=0.50 (triggers re-run), all others >=0.70
// with no blocking; planner selects exactly {critic}.
func TestSelectRerunSetS4(t *testing.T) {
	parent := []*models.PersonaReview{
		models.NewPersonaReview("parent-run", models.PersonaArchitect, models.ReviewPayload{ConfidenceScore: 0.80}, models.PromptParameters{}),
		models.NewPersonaReview("parent-run", models.PersonaCritic, models.ReviewPayload{ConfidenceScore: 0.50}, models.PromptParameters{}),
		models.NewPersonaReview("parent-run", models.PersonaOptimist, models.ReviewPayload{ConfidenceScore: 0.90}, models.PromptParameters{}),
		models.NewPersonaReview("parent-run", models.PersonaSecurityGuardian, models.ReviewPayload{ConfidenceScore: 0.75}, models.PromptParameters{}),
		models.NewPersonaReview("parent-run", models.PersonaUserAdvocate, models.ReviewPayload{ConfidenceScore: 0.85}, models.PromptParameters{}),
	}

	decisions := SelectRerunSet(parent, RerunConfidenceThreshold)

	var rerun []models.PersonaID
	for _, d := range decisions {
		if d.Rerun {
			rerun = append(rerun, d.PersonaID)
		}
	}
	assert.Equal(t, []models.PersonaID{models.PersonaCritic}, rerun)
}

func TestSelectRerunSetSecurityGuardianWithConcern(t *testing.T) {
	parent := []*models.PersonaReview{
		models.NewPersonaReview("parent-run", models.PersonaSecurityGuardian,
			models.ReviewPayload{
				ConfidenceScore: 0.95,
				BlockingIssues:  []models.BlockingIssue{{Text: "critical hole", SecurityCritical: true}},
			}, models.PromptParameters{}),
	}
	decisions := SelectRerunSet(parent, RerunConfidenceThreshold)
	assert.True(t, decisions[0].Rerun)
}

func TestSelectRerunSetAllReused(t *testing.T) {
	parent := []*models.PersonaReview{
		models.NewPersonaReview("parent-run", models.PersonaArchitect, models.ReviewPayload{ConfidenceScore: 0.90}, models.PromptParameters{}),
	}
	decisions := SelectRerunSet(parent, RerunConfidenceThreshold)
	assert.False(t, decisions[0].Rerun)
}

func TestReuseReviewAnnotatesSourceRun(t *testing.T) {
	parent := models.NewPersonaReview("parent-run", models.PersonaArchitect, models.ReviewPayload{ConfidenceScore: 0.9}, models.PromptParameters{Model: "claude"})
	reused := ReuseReview(parent, "revision-run")

	assert.Equal(t, "revision-run", reused.RunID)
	assert.True(t, reused.PromptParametersJSON.Reused)
	assert.Equal(t, "parent-run", reused.PromptParametersJSON.SourceRunID)
	assert.Equal(t, parent.ReviewJSON, reused.ReviewJSON)
}
