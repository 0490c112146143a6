package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideapanel/ideapanel/pkg/apierr"
	"github.com/ideapanel/ideapanel/pkg/models"
)

func TestValidateAcceptsWellFormedExpandedProposal(t *testing.T) {
	r := NewDefaultRegistry()
	p := models.ExpandedProposal{
		ProblemStatement:    "users cannot export data",
		ProposedSolution:    "add a CSV export button",
		Assumptions:         []string{"users have a modern browser"},
		ScopeNonGoals:       []string{"no Excel formulas"},
		RawIdea:             "let users export data",
		RawExpandedProposal: "...",
	}
	err := r.Validate(NameExpandedProposal, p, "req-1")
	assert.NoError(t, err)
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	r := NewDefaultRegistry()
	p := models.ExpandedProposal{}
	err := r.Validate(NameExpandedProposal, p, "req-2")
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, NameExpandedProposal, verr.SchemaName)
	assert.NotEmpty(t, verr.Fields)

	apiErr := verr.AsAPIError()
	assert.Equal(t, apierr.KindSchemaValidation, apiErr.Kind)
	assert.Equal(t, "req-2", apiErr.RequestID)
}

func TestValidateRejectsOutOfRangeConfidence(t *testing.T) {
	r := NewDefaultRegistry()
	review := models.ReviewPayload{ConfidenceScore: 1.5}
	err := r.Validate(NamePersonaReview, review, "req-3")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	found := false
	for _, f := range verr.Fields {
		if f.Field == "ConfidenceScore" {
			found = true
		}
	}
	assert.True(t, found, "expected a ConfidenceScore field error, got %+v", verr.Fields)
}

func TestCheckVersionRejectsUnknownPin(t *testing.T) {
	r := NewDefaultRegistry()
	assert.NoError(t, r.CheckVersion(NameExpandedProposal, ""))
	assert.NoError(t, r.CheckVersion(NameExpandedProposal, "1.0.0"))

	err := r.CheckVersion(NameExpandedProposal, "2.0.0")
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnsupportedVersion, apierr.KindOf(err))

	err = r.CheckVersion("NotARegisteredSchema", "")
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnsupportedVersion, apierr.KindOf(err))
}
