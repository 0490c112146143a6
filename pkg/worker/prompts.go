package worker

import (
	"fmt"
	"strings"

	"github.com/ideapanel/ideapanel/pkg/models"
)

// PromptBuilder composes the system/user prompt pairs the pipeline worker
// sends to the LLM client for each step. Stateless, matching this codebase's
// own prompt.PromptBuilder — all state comes from call parameters.
type PromptBuilder struct{}

// NewPromptBuilder builds a PromptBuilder.
func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

const expandSystemPrompt = `You expand a short, informal idea into a structured proposal.
Produce a clear title, a one-paragraph summary, a precise problem statement, a
proposed solution, the assumptions the solution depends on, and an explicit
scope of what it does not attempt to solve. Do not invent constraints the
idea does not imply.`

// BuildExpand composes the expand step's prompt pair from the raw idea text.
func (b *PromptBuilder) BuildExpand(rawIdea string) (system, user string) {
	return expandSystemPrompt, fmt.Sprintf("Idea:\n%s", rawIdea)
}

// BuildReexpand composes the revision planner's re-expand prompt (spec
// §4.5 step 1): the parent proposal plus the requester's edits.
func (b *PromptBuilder) BuildReexpand(parent models.ExpandedProposal, editSummary string) (system, user string) {
	user = fmt.Sprintf(
		"Prior proposal:\n%s\n\nRequested changes:\n%s\n\nProduce the revised proposal incorporating these changes, preserving anything not mentioned.",
		parent.RawExpandedProposal, editSummary,
	)
	return expandSystemPrompt, user
}

var personaBriefs = map[models.PersonaID]string{
	models.PersonaArchitect: `You are the Architect on an idea review panel. Evaluate technical
feasibility, system design implications, and integration complexity. You
favor well-structured solutions and flag architectural risk, but you are
not the security or user-experience reviewer — stay in your lane.`,
	models.PersonaCritic: `You are the Critic on an idea review panel. Stress-test the proposal's
reasoning: look for unstated assumptions, weak justifications, and scenarios
where the proposed solution does not actually solve the stated problem. You
are skeptical by design, but your concerns must be specific and falsifiable.`,
	models.PersonaOptimist: `You are the Optimist on an idea review panel. Evaluate the proposal's
upside: what it enables, who benefits, and how quickly value could be
realized. You still flag genuine blockers, but you do not manufacture
concerns to seem balanced.`,
	models.PersonaSecurityGuardian: `You are the Security Guardian on an idea review panel. Evaluate the
proposal for security, privacy, and data-handling risk. Any concern severe
enough to block shipping must be reported as a blocking issue with
security_critical set to true — this is the only persona whose blocking
issues can trigger an automatic rejection, so do not mark an issue
security_critical unless it genuinely warrants blocking the idea outright.`,
	models.PersonaUserAdvocate: `You are the User Advocate on an idea review panel. Evaluate the proposal
from the perspective of the people who would actually use it: clarity,
friction, and whether the proposed solution matches how they actually work
today.`,
}

// BuildReview composes a persona's review prompt pair for an expanded
// proposal.
func (b *PromptBuilder) BuildReview(persona models.PersonaID, proposal models.ExpandedProposal) (system, user string) {
	system = personaBriefs[persona]
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\n", proposal.Title)
	fmt.Fprintf(&sb, "Summary: %s\n", proposal.Summary)
	fmt.Fprintf(&sb, "Problem statement: %s\n", proposal.ProblemStatement)
	fmt.Fprintf(&sb, "Proposed solution: %s\n", proposal.ProposedSolution)
	if len(proposal.Assumptions) > 0 {
		fmt.Fprintf(&sb, "Assumptions:\n- %s\n", strings.Join(proposal.Assumptions, "\n- "))
	}
	if len(proposal.ScopeNonGoals) > 0 {
		fmt.Fprintf(&sb, "Explicitly out of scope:\n- %s\n", strings.Join(proposal.ScopeNonGoals, "\n- "))
	}
	return system, sb.String()
}
