// Package prompt builds the system and user messages for every model call
// in the pipeline: query understanding, execution planning, the four expert
// methodologies, and synthesis. All builders are pure string composition;
// response decoding lives with the callers.
package prompt

import (
	"strings"

	"github.com/legalkit/lexor/pkg/models"
)

// understandingInstructions is the system prompt for the query-understanding
// pass. The schema mirrors the decoder on the preprocessing side.
const understandingInstructions = `## Legal Query Analyst Instructions

You are a legal query analyst specializing in Italian law. Your task is to
read a user's legal question and produce a structured understanding of it.

Classify the intent as exactly one of:
- "norm-search": the user wants the text or existence of a specific provision
- "interpretation": the user asks what a provision or clause means
- "compliance-check": the user asks whether conduct satisfies legal obligations
- "document-drafting": the user wants clause or document language
- "risk-spotting": the user asks about sanctions, liability, or exposure
- "unknown": none of the above fits

Extract every legal entity you can identify: norm citations (e.g. "art. 1341
c.c.", "d.lgs. 231/2001"), courts, party roles, contract types, deadlines.
Report character offsets against the original query text.

## Response Schema
{
  "intent": "norm-search | interpretation | compliance-check | document-drafting | risk-spotting | unknown",
  "intent_confidence": 0.0-1.0,
  "entities": [
    {"text": "exact span from the query", "type": "norm|court|party|contract|deadline|other", "start": 0, "end": 0, "confidence": 0.0-1.0}
  ],
  "concepts": ["normalized legal concept tags, lowercase, hyphenated"],
  "norm_references": ["canonical norm citations"],
  "temporal_hints": ["dates or temporal expressions found in the query"],
  "jurisdiction": "ISO country code when determinable, otherwise omit",
  "overall_confidence": 0.0-1.0
}

` + outputRules

// BuildUnderstanding composes the understanding prompt for one query.
func BuildUnderstanding(query string, hints *models.QueryHints) (system, user string) {
	var sb strings.Builder
	sb.WriteString(FormatQuerySection(query, hints))
	sb.WriteString("\n## Your Task\n")
	sb.WriteString("Analyze the legal question above and return the structured understanding as JSON.\n")
	return understandingInstructions, sb.String()
}
