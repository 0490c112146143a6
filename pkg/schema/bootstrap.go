package schema

import "github.com/ideapanel/ideapanel/pkg/models"

// currentSchemaVersion is the semantic version every registered response
// schema carries today. A future breaking change to one of the structured
// types would register a new version here and bump callers' pinned header.
const currentSchemaVersion = "1.0.0"

// NewDefaultRegistry returns a Registry seeded with the three structured
// response types this codebase's pipeline produces, all at the current
// schema version.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameExpandedProposal, currentSchemaVersion, models.ExpandedProposal{})
	r.Register(NamePersonaReview, currentSchemaVersion, models.ReviewPayload{})
	r.Register(NameDecisionAggregation, currentSchemaVersion, models.DecisionAggregation{})
	return r
}
