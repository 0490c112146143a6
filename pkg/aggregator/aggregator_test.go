package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideapanel/ideapanel/pkg/models"
)

func review(id models.PersonaID, confidence float64, blocking bool, securityCritical bool) *models.PersonaReview {
	var issues []models.BlockingIssue
	if blocking {
		issues = append(issues, models.BlockingIssue{Text: "blocking concern", SecurityCritical: securityCritical})
	}
	payload := models.ReviewPayload{ConfidenceScore: confidence, BlockingIssues: issues}
	return models.NewPersonaReview("run-1", id, payload, models.PromptParameters{})
}

func panelS1() []*models.PersonaReview {
	return []*models.PersonaReview{
		review(models.PersonaArchitect, 0.80, false, false),
		review(models.PersonaCritic, 0.70, false, false),
		review(models.PersonaOptimist, 0.90, false, false),
		review(models.PersonaSecurityGuardian, 0.75, false, false),
		review(models.PersonaUserAdvocate, 0.85, false, false),
	}
}

func TestAggregateS1HappyPathRevise(t *testing.T) {
	agg, err := Aggregate(panelS1(), models.PersonaWeight)
	require.NoError(t, err)
	assert.InDelta(t, 0.7875, agg.WeightedConfidence, 1e-9)
	assert.Equal(t, models.DecisionRevise, agg.Decision)
	assert.False(t, agg.SecurityVeto)
	assert.False(t, agg.AnyBlocking)
}

func panelS2() []*models.PersonaReview {
	return []*models.PersonaReview{
		review(models.PersonaArchitect, 0.90, false, false),
		review(models.PersonaCritic, 0.85, false, false),
		review(models.PersonaOptimist, 0.92, false, false),
		review(models.PersonaSecurityGuardian, 0.82, false, false),
		review(models.PersonaUserAdvocate, 0.88, false, false),
	}
}

func TestAggregateS2Approval(t *testing.T) {
	agg, err := Aggregate(panelS2(), models.PersonaWeight)
	require.NoError(t, err)
	assert.InDelta(t, 0.875, agg.WeightedConfidence, 1e-9)
	assert.Equal(t, models.DecisionApprove, agg.Decision)
}

func TestAggregateS3SecurityVetoOverridesApprovingScores(t *testing.T) {
	reviews := panelS2()
	reviews[3] = review(models.PersonaSecurityGuardian, 0.82, true, true)

	agg, err := Aggregate(reviews, models.PersonaWeight)
	require.NoError(t, err)
	assert.InDelta(t, 0.875, agg.WeightedConfidence, 1e-9)
	assert.Equal(t, models.DecisionReject, agg.Decision)
	assert.True(t, agg.SecurityVeto)

	found := false
	for _, m := range agg.MinorityReports {
		if m.PersonaID == models.PersonaSecurityGuardian {
			found = true
		}
	}
	assert.True(t, found, "expected a minority report citing security_guardian")
}

func TestDecisionBoundaries(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		want       models.DecisionLabel
	}{
		{"exactly approve threshold", 0.80, models.DecisionApprove},
		{"just under approve threshold", 0.7999, models.DecisionRevise},
		{"exactly revise threshold", 0.60, models.DecisionRevise},
		{"just under revise threshold", 0.5999, models.DecisionReject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reviews := []*models.PersonaReview{
				models.NewPersonaReview("run-1", models.PersonaArchitect, models.ReviewPayload{ConfidenceScore: tc.confidence}, models.PromptParameters{}),
			}
			weights := map[models.PersonaID]float64{models.PersonaArchitect: 1.0}
			agg, err := Aggregate(reviews, weights)
			require.NoError(t, err)
			assert.Equal(t, tc.want, agg.Decision)
		})
	}
}

func TestHighConfidenceWithBlockingIssueStillRejects(t *testing.T) {
	reviews := []*models.PersonaReview{
		review(models.PersonaArchitect, 0.95, true, false),
	}
	weights := map[models.PersonaID]float64{models.PersonaArchitect: 1.0}
	agg, err := Aggregate(reviews, weights)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionReject, agg.Decision)
	assert.True(t, agg.AnyBlocking)
}

func TestAggregateRejectsEmptyReviewSet(t *testing.T) {
	_, err := Aggregate(nil, models.PersonaWeight)
	assert.ErrorIs(t, err, ErrNoReviews)
}

func TestMinorityReportOnLargeConfidenceDivergence(t *testing.T) {
	reviews := panelS2()
	// user_advocate disagrees sharply even though it doesn't flip the band.
	reviews[4] = review(models.PersonaUserAdvocate, 0.40, false, false)

	agg, err := Aggregate(reviews, models.PersonaWeight)
	require.NoError(t, err)

	found := false
	for _, m := range agg.MinorityReports {
		if m.PersonaID == models.PersonaUserAdvocate {
			found = true
		}
	}
	assert.True(t, found, "expected a minority report for a persona that diverges by >0.25 from the aggregate")
}
