package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideapanel/ideapanel/internal/testutil"
	"github.com/ideapanel/ideapanel/pkg/models"
	"github.com/ideapanel/ideapanel/pkg/store"
)

func TestProposalStoreCreateAndGetByRun(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	runs := store.NewRunStore(client)
	proposals := store.NewProposalStore(client)
	ctx := context.Background()

	run := newRun("77777777-7777-7777-7777-777777777777")
	require.NoError(t, runs.Create(ctx, run))

	version := &models.ProposalVersion{
		RunID: run.ID,
		ExpandedProposalJSON: models.ExpandedProposal{
			Title:               "Weekly lunch poll",
			ProblemStatement:    "Teams can't agree on where to eat",
			ProposedSolution:    "A weekly Slack poll over a rotating shortlist",
			Assumptions:         []string{"Slack is the team's primary channel"},
			ScopeNonGoals:       []string{"Does not handle payment splitting"},
			RawIdea:             "let teams vote on lunch spots with a weekly poll",
			RawExpandedProposal: "Weekly lunch poll\n...",
		},
		PersonaTemplateVersion: "v1",
		CreatedAt:              time.Now().UTC(),
	}
	require.NoError(t, proposals.Create(ctx, version))

	exists, err := proposals.Exists(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := proposals.GetByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly lunch poll", got.ExpandedProposalJSON.Title)
	assert.Nil(t, got.ProposalDiffJSON)
}

func TestProposalStoreCreateIsUniquePerRun(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	runs := store.NewRunStore(client)
	proposals := store.NewProposalStore(client)
	ctx := context.Background()

	run := newRun("88888888-8888-8888-8888-888888888888")
	require.NoError(t, runs.Create(ctx, run))

	version := &models.ProposalVersion{
		RunID: run.ID,
		ExpandedProposalJSON: models.ExpandedProposal{
			ProblemStatement:    "p",
			ProposedSolution:    "s",
			Assumptions:         []string{"a"},
			ScopeNonGoals:       []string{},
			RawIdea:             "idea",
			RawExpandedProposal: "expanded",
		},
		PersonaTemplateVersion: "v1",
		CreatedAt:              time.Now().UTC(),
	}
	require.NoError(t, proposals.Create(ctx, version))

	// A redelivered expand step retrying the same run must not silently
	// double-write; the (run_id) UNIQUE constraint rejects the second insert.
	dup := *version
	dup.ID = ""
	err := proposals.Create(ctx, &dup)
	assert.Error(t, err)
}
