package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/legalkit/lexor/pkg/models"
)

// plannerInstructions is the system prompt for execution planning.
const plannerInstructions = `## Execution Planner Instructions

You are the execution planner of a legal reasoning engine for Italian law.
Given a structured understanding of a legal question, decide which retrieval
agents to run, which reasoning experts to consult, and how their opinions
should be synthesized.

Available retrieval agents:
- "graph": queries the legal knowledge graph for norms, cases, doctrine, and controversies
- "http": fetches canonical norm texts by article reference from the normative-text service
- "vector": semantic k-NN retrieval over indexed legal documents; supply query rewrites

Available reasoning experts:
- "literal": argues from the letter of the provisions
- "systemic-teleological": argues from purpose and systematic placement
- "principles-balancer": balances competing constitutional principles
- "precedent-analyst": argues empirically from case-law patterns

Synthesis modes:
- "convergent": one narrative, dissent subordinated
- "divergent": preserve disagreement as alternative interpretations
- "auto": let the synthesizer decide from consensus

Planning guidance:
- Simple lookups need few agents and one or two experts; controversial or
  complex questions deserve wider retrieval and more methodologies.
- Schedule the "http" agent only when exact norm references are known.
- Give the "vector" agent two or three rewrites phrased as statements.
- When a refinement directive is present, target its gaps: add agents or
  rewrites that retrieve the missing material and experts able to resolve
  the quality concerns.
- The iteration budget must never be lower than the current iteration.

## Response Schema
{
  "agents": [
    {"agent": "graph | http | vector", "rewrites": ["optional query rewrites"], "filters": {"optional": "key-value filters"}, "top_k": 10}
  ],
  "experts": ["one or more expert tags"],
  "synthesis_mode": "convergent | divergent | auto",
  "iteration_budget": 1,
  "rationale": "one sentence on why this plan fits the question"
}

` + outputRules

// BuildPlan composes the planner prompt from the iteration snapshot. On
// iterations after the first it carries the prior answer digest and the
// refinement directive so the plan can target what is missing.
func BuildPlan(snap models.Snapshot) (system, user string) {
	var sb strings.Builder
	sb.WriteString(FormatQuerySection(snap.Query, snap.Hints))
	sb.WriteString("\n")
	sb.WriteString(FormatContextSection(snap.Context))
	sb.WriteString("\n")
	sb.WriteString(FormatEnrichmentSummary(snap.Enriched))

	if snap.PriorAnswer != nil {
		sb.WriteString("\n")
		sb.WriteString(formatPriorAnswerDigest(snap.PriorAnswer, snap.PriorMetrics))
	}
	if !snap.Directive.IsEmpty() {
		sb.WriteString("\n")
		sb.WriteString(FormatDirectiveSection(snap.Directive))
	}

	fmt.Fprintf(&sb, "\n## Your Task\nThis is iteration %d. Produce the execution plan as JSON.\n", snap.Iteration)
	return plannerInstructions, sb.String()
}

// formatPriorAnswerDigest summarizes the previous iteration's outcome for
// the planner without replaying the full narrative.
func formatPriorAnswerDigest(ans *models.ProvisionalAnswer, metrics *models.IterationMetrics) string {
	var sb strings.Builder
	sb.WriteString("## Previous Iteration\n\n")
	fmt.Fprintf(&sb, "**Mode:** %s | **Confidence:** %.2f | **Consensus:** %.2f\n",
		ans.Mode, ans.Confidence, ans.Consensus)
	if metrics != nil && metrics.RLCFScore != nil {
		fmt.Fprintf(&sb, "**Community Score:** %.2f\n", *metrics.RLCFScore)
	}
	if ans.UncertaintyPreserved {
		sb.WriteString("The previous answer preserved unresolved disagreement between experts.\n")
	}
	sb.WriteString("\n")
	sb.WriteString(truncate(ans.Content, priorAnswerDigestLimit))
	sb.WriteString("\n")
	return sb.String()
}

// priorAnswerDigestLimit caps how much of the previous answer the planner
// sees. Planning needs the gist, not the full narrative.
const priorAnswerDigestLimit = 600

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
