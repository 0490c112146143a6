// Package aggregator implements the decision-aggregation rules (spec §4.5)
// as a pure function over PersonaReviews: no I/O, no persistence, so it can
// be unit tested without a database, mirroring how this codebase's
// ScoringAgent keeps scoring logic free of persistence concerns.
package aggregator

import (
	"fmt"
	"math"

	"github.com/ideapanel/ideapanel/pkg/models"
)

// approveThreshold and reviseThreshold are the fixed decision boundaries.
const (
	approveThreshold = 0.80
	reviseThreshold  = 0.60
	// minorityDissentMargin is the confidence-distance that alone triggers a
	// minority report even without a band or blocking-issue disagreement.
	minorityDissentMargin = 0.25
	formula               = "weighted_confidence = sum(weight_i * score_i) over personas that produced a review"
)

// ErrNoReviews is returned when Aggregate is called with zero reviews. A
// zero-review Run is a runtime invariant violation and fails the run.
var ErrNoReviews = fmt.Errorf("aggregator: no persona reviews supplied")

// band classifies a confidence score using the same thresholds as the
// decision rule, ignoring veto/blocking — used only to detect per-persona
// dissent from the final label.
func band(confidence float64) models.DecisionLabel {
	switch {
	case confidence >= approveThreshold:
		return models.DecisionApprove
	case confidence >= reviseThreshold:
		return models.DecisionRevise
	default:
		return models.DecisionReject
	}
}

// Aggregate implements spec §4.5 verbatim: weighted confidence, the
// five-branch decision rule (security veto first), and minority report
// generation. weights must sum to 1.0 (validated once at startup via
// models.ValidatePersonaWeights, not re-checked per call).
func Aggregate(reviews []*models.PersonaReview, weights map[models.PersonaID]float64) (*models.DecisionAggregation, error) {
	if len(reviews) == 0 {
		return nil, ErrNoReviews
	}

	individual := make(map[models.PersonaID]float64, len(reviews))
	contributions := make(map[models.PersonaID]float64, len(reviews))
	var weightedConfidence float64
	var anyBlocking bool
	var securityVeto bool

	for _, r := range reviews {
		w := weights[r.PersonaID]
		individual[r.PersonaID] = r.ConfidenceScore
		contribution := w * r.ConfidenceScore
		contributions[r.PersonaID] = contribution
		weightedConfidence += contribution

		if r.BlockingIssuesPresent {
			anyBlocking = true
		}
		if r.PersonaID == models.PersonaSecurityGuardian && r.SecurityConcernsPresent {
			securityVeto = true
		}
	}

	decision := decide(securityVeto, anyBlocking, weightedConfidence)
	minority := minorityReports(reviews, decision, weightedConfidence)

	return &models.DecisionAggregation{
		Decision:           decision,
		WeightedConfidence: weightedConfidence,
		SecurityVeto:       securityVeto,
		AnyBlocking:        anyBlocking,
		MinorityReports:    minority,
		ScoreBreakdown: models.ScoreBreakdown{
			Weights:               weights,
			IndividualScores:      individual,
			WeightedContributions: contributions,
			Formula:               formula,
		},
	}, nil
}

// decide applies the five-branch decision rule in order; first match wins.
func decide(securityVeto, anyBlocking bool, weightedConfidence float64) models.DecisionLabel {
	switch {
	case securityVeto:
		return models.DecisionReject
	case anyBlocking:
		return models.DecisionReject
	case weightedConfidence >= approveThreshold:
		return models.DecisionApprove
	case weightedConfidence >= reviseThreshold:
		return models.DecisionRevise
	default:
		return models.DecisionReject
	}
}

// minorityReports generates a dissent entry for every persona whose review
// disagrees with the final decision along any of the three spec rules.
func minorityReports(reviews []*models.PersonaReview, finalLabel models.DecisionLabel, weightedConfidence float64) []models.MinorityReport {
	var reports []models.MinorityReport
	for _, r := range reviews {
		dissents := band(r.ConfidenceScore) != finalLabel
		blockingButNotRejected := r.BlockingIssuesPresent && finalLabel != models.DecisionReject
		divergesFromAggregate := math.Abs(r.ConfidenceScore-weightedConfidence) > minorityDissentMargin

		if !dissents && !blockingButNotRejected && !divergesFromAggregate {
			continue
		}

		report := models.MinorityReport{
			PersonaID:       r.PersonaID,
			PersonaName:     r.PersonaName,
			ConfidenceScore: r.ConfidenceScore,
		}
		if r.BlockingIssuesPresent {
			report.BlockingSummary = blockingSummary(r.ReviewJSON.BlockingIssues)
			report.MitigationRecommendation = firstRecommendation(r.ReviewJSON.Recommendations)
		}
		reports = append(reports, report)
	}
	return reports
}

func blockingSummary(issues []models.BlockingIssue) string {
	if len(issues) == 0 {
		return ""
	}
	summary := issues[0].Text
	for _, issue := range issues[1:] {
		summary += "; " + issue.Text
	}
	return summary
}

func firstRecommendation(recs []string) string {
	if len(recs) == 0 {
		return ""
	}
	return recs[0]
}
