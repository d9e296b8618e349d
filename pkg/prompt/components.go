package prompt

import (
	"fmt"
	"strings"

	"github.com/legalkit/lexor/pkg/models"
)

// outputRules is appended to every system prompt that expects structured
// output. The decoder rejects anything that is not a bare JSON object.
const outputRules = `## Output Rules
Respond with a single JSON object that matches the schema above.
Do not wrap the response in markdown code fences.
Do not add prose, explanations, or comments before or after the JSON.
Omit optional fields instead of returning null or empty placeholders.`

// FormatQuerySection builds the legal question section.
// hints may be nil; the query is passed as-is between markers.
func FormatQuerySection(query string, hints *models.QueryHints) string {
	var sb strings.Builder
	sb.WriteString("## Legal Question\n\n")
	sb.WriteString("<!-- QUERY_START -->\n")
	sb.WriteString(query)
	sb.WriteString("\n<!-- QUERY_END -->\n")

	if hints == nil {
		return sb.String()
	}
	if hints.Jurisdiction != "" {
		sb.WriteString("\n**Jurisdiction:** ")
		sb.WriteString(hints.Jurisdiction)
		sb.WriteString("\n")
	}
	if hints.TemporalReference != "" {
		sb.WriteString("\n**Temporal Reference:** ")
		sb.WriteString(hints.TemporalReference)
		sb.WriteString("\n")
	}
	if hints.Role != "" {
		sb.WriteString("\n**Asking As:** ")
		sb.WriteString(hints.Role)
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatContextSection builds the query-understanding digest section.
func FormatContextSection(qc *models.QueryContext) string {
	if qc == nil {
		return "## Query Understanding\nNo understanding is available for this query.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Query Understanding\n\n")
	fmt.Fprintf(&sb, "**Intent:** %s (confidence %.2f)\n", qc.Intent, qc.IntentConfidence)
	fmt.Fprintf(&sb, "**Complexity:** %.2f\n", qc.Complexity)
	if qc.Jurisdiction != "" {
		fmt.Fprintf(&sb, "**Jurisdiction:** %s\n", qc.Jurisdiction)
	}
	if len(qc.Entities) > 0 {
		sb.WriteString("\n**Entities:**\n")
		for _, e := range qc.Entities {
			fmt.Fprintf(&sb, "- %s (%s)\n", e.Text, e.Type)
		}
	}
	if len(qc.Concepts) > 0 {
		fmt.Fprintf(&sb, "\n**Legal Concepts:** %s\n", strings.Join(qc.Concepts, ", "))
	}
	if len(qc.NormReferences) > 0 {
		fmt.Fprintf(&sb, "\n**Norm References:** %s\n", strings.Join(qc.NormReferences, ", "))
	}
	if len(qc.TemporalHints) > 0 {
		fmt.Fprintf(&sb, "\n**Temporal Hints:** %s\n", strings.Join(qc.TemporalHints, ", "))
	}
	return sb.String()
}

// FormatEnrichmentSummary builds the compact enrichment digest used by the
// planner: counts per source plus controversy flags, no item bodies.
func FormatEnrichmentSummary(ec *models.EnrichedContext) string {
	if ec.IsEmpty() {
		return "## Knowledge Graph Summary\nNo graph enrichment is available for this query.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Knowledge Graph Summary\n\n")
	fmt.Fprintf(&sb, "**Norms:** %d | **Cases:** %d | **Doctrine:** %d | **Community:** %d\n",
		len(ec.Norms), len(ec.Cases), len(ec.Doctrine), len(ec.Community))
	if len(ec.Controversies) > 0 {
		sb.WriteString("\n**Open Controversies:**\n")
		for _, c := range ec.Controversies {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	}
	if ec.Degraded {
		sb.WriteString("\nNote: graph enrichment was degraded; the summary may be incomplete.\n")
	}
	return sb.String()
}

// FormatEnrichmentSection builds the full enrichment section with item
// citations and snippets, grouped by source kind.
func FormatEnrichmentSection(ec *models.EnrichedContext) string {
	if ec.IsEmpty() {
		return "## Knowledge Graph Context\nNo graph enrichment is available for this query.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Knowledge Graph Context\n")
	writeEnrichedGroup(&sb, "Norms", ec.Norms)
	writeEnrichedGroup(&sb, "Case Law", ec.Cases)
	writeEnrichedGroup(&sb, "Doctrine", ec.Doctrine)
	writeEnrichedGroup(&sb, "Community Contributions", ec.Community)
	if len(ec.Controversies) > 0 {
		sb.WriteString("\n### Open Controversies\n")
		for _, c := range ec.Controversies {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func writeEnrichedGroup(sb *strings.Builder, title string, items []models.EnrichedItem) {
	if len(items) == 0 {
		return
	}
	sb.WriteString("\n### ")
	sb.WriteString(title)
	sb.WriteString("\n")
	for _, it := range items {
		fmt.Fprintf(sb, "- [%s] %s", it.SourceID, it.Citation)
		if it.Snippet != "" {
			sb.WriteString(": ")
			sb.WriteString(it.Snippet)
		}
		sb.WriteString("\n")
	}
}

// FormatHitsSection builds the retrieved-sources section. Every hit is
// listed with its source id so downstream provenance can reference it.
func FormatHitsSection(results []models.AgentResult) string {
	total := 0
	for _, r := range results {
		total += len(r.Hits)
	}
	if total == 0 {
		return "## Retrieved Sources\nNo sources were retrieved for this iteration.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Retrieved Sources\n")
	for _, r := range results {
		if len(r.Hits) == 0 && r.Error == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s agent\n", r.Agent)
		if r.Error != "" {
			fmt.Fprintf(&sb, "Retrieval degraded: %s\n", r.Error)
		}
		for _, h := range r.Hits {
			fmt.Fprintf(&sb, "- [%s] %s (relevance %.2f)", h.SourceID, h.Citation, h.Relevance)
			if h.Snippet != "" {
				sb.WriteString("\n  ")
				sb.WriteString(h.Snippet)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FormatOpinionsSection builds the expert-opinions section consumed by the
// synthesizer. Degraded opinions are flagged so the narrative can discount
// them.
func FormatOpinionsSection(opinions []models.ExpertOpinion) string {
	if len(opinions) == 0 {
		return "## Expert Opinions\nNo expert opinions are available.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Expert Opinions\n")
	for _, op := range opinions {
		fmt.Fprintf(&sb, "\n### %s\n", op.Expert)
		fmt.Fprintf(&sb, "**Conclusion:** %s (confidence %.2f)\n", op.ConclusionLabel, op.Confidence)
		if op.Degraded() {
			fmt.Fprintf(&sb, "**Degraded:** %s\n", op.Error)
		}
		if op.Interpretation != "" {
			sb.WriteString("\n")
			sb.WriteString(op.Interpretation)
			sb.WriteString("\n")
		}
		if len(op.LegalBases) > 0 {
			sb.WriteString("\n**Legal Bases:**\n")
			for _, b := range op.LegalBases {
				fmt.Fprintf(&sb, "- %s (%s, weight %.2f)\n", b.Citation, b.Role, b.Weight)
			}
		}
		if op.Limitations != "" {
			fmt.Fprintf(&sb, "\n**Limitations:** %s\n", op.Limitations)
		}
	}
	return sb.String()
}

// FormatDirectiveSection builds the refinement-directive section used when
// the loop re-enters the planner or the experts.
func FormatDirectiveSection(d *models.RefinementDirective) string {
	if d.IsEmpty() {
		return "## Refinement Directive\nThis is the first iteration. No refinement guidance exists yet.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Refinement Directive\n\n")
	if d.AnswerSummary != "" {
		sb.WriteString("**Previous Answer:** ")
		sb.WriteString(d.AnswerSummary)
		sb.WriteString("\n")
	}
	writeDirectiveList(&sb, "Gaps To Close", d.Gaps)
	writeDirectiveList(&sb, "Missing Information", d.MissingInformation)
	writeDirectiveList(&sb, "Quality Concerns", d.QualityConcerns)
	return sb.String()
}

func writeDirectiveList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString("\n**")
	sb.WriteString(title)
	sb.WriteString(":**\n")
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteString("\n")
	}
}
