package models

import "time"

// MinorityReport is a structured dissent attached to a Decision when a
// persona materially disagrees with the aggregate outcome.
type MinorityReport struct {
	PersonaID               PersonaID `json:"persona_id"`
	PersonaName              string   `json:"persona_name"`
	ConfidenceScore          float64  `json:"confidence_score"`
	BlockingSummary          string   `json:"blocking_summary,omitempty"`
	MitigationRecommendation string   `json:"mitigation_recommendation,omitempty"`
}

// ScoreBreakdown accompanies every decision with the exact inputs used to
// compute it, so a decision can be audited without re-deriving it.
type ScoreBreakdown struct {
	Weights               map[PersonaID]float64 `json:"weights"`
	IndividualScores      map[PersonaID]float64 `json:"individual_scores"`
	WeightedContributions map[PersonaID]float64 `json:"weighted_contributions"`
	Formula               string                `json:"formula"`
}

// DecisionAggregation is the structured payload produced by the aggregator
// and validated by the schema registry before persistence.
type DecisionAggregation struct {
	Decision               DecisionLabel    `json:"decision"`
	WeightedConfidence     float64          `json:"weighted_confidence"`
	SecurityVeto           bool             `json:"security_veto"`
	AnyBlocking            bool             `json:"any_blocking"`
	MinorityReports        []MinorityReport `json:"minority_reports"`
	ScoreBreakdown         ScoreBreakdown   `json:"score_breakdown"`
}

// Decision is the exactly-one-per-completed-Run aggregation result.
type Decision struct {
	ID                        string               `db:"id" json:"id"`
	RunID                     string               `db:"run_id" json:"run_id"`
	DecisionJSON              DecisionAggregation  `db:"decision_json" json:"decision_json"`
	OverallWeightedConfidence float64              `db:"overall_weighted_confidence" json:"overall_weighted_confidence"`
	DecisionNotes             *string              `db:"decision_notes" json:"decision_notes,omitempty"`
	CreatedAt                 time.Time            `db:"created_at" json:"created_at"`
}
