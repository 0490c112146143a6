package llm

// Tool schemas for the two structured calls the pipeline worker issues
// (expand and persona review; aggregation makes no LLM call). These mirror
// models.ExpandedProposal and models.ReviewPayload field-for-field; keeping them here (rather than
// generating them via reflection) keeps the wire contract explicit and
// reviewable, matching this codebase's general preference for hand-written
// request/response shapes over generated ones outside of ent.

// ExpandProposalToolSchema is the JSON schema for the expand step's tool.
var ExpandProposalToolSchema = map[string]any{
	"title":                 map[string]any{"type": "string"},
	"summary":               map[string]any{"type": "string"},
	"problem_statement":     map[string]any{"type": "string"},
	"proposed_solution":     map[string]any{"type": "string"},
	"assumptions":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	"scope_non_goals":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	"raw_idea":              map[string]any{"type": "string"},
	"raw_expanded_proposal": map[string]any{"type": "string"},
}

// PersonaReviewToolSchema is the JSON schema for a persona review step's tool.
var PersonaReviewToolSchema = map[string]any{
	"confidence_score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	"strengths":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	"concerns": map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":        map[string]any{"type": "string"},
				"is_blocking": map[string]any{"type": "boolean"},
			},
		},
	},
	"recommendations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	"blocking_issues": map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":              map[string]any{"type": "string"},
				"security_critical": map[string]any{"type": "boolean"},
			},
		},
	},
	"estimated_effort": map[string]any{"type": "string"},
	"dependency_risks": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
}
