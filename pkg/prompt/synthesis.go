package prompt

import (
	"strings"

	"github.com/legalkit/lexor/pkg/models"
)

// convergentInstructions is the system prompt for convergent synthesis.
const convergentInstructions = `## Convergent Synthesis Instructions

You are the synthesizer of a legal reasoning engine. The experts broadly
agree. Write one coherent answer to the legal question that carries the
majority position, in the language of the question.

Rules:
- Lead with the conclusion, then the supporting argument.
- Subordinate dissent: mention a dissenting methodology in passing where it
  adds nuance, never as an alternative answer.
- Every factual or legal assertion must be traceable to the retrieved
  sources and the expert opinions you were given. Never introduce a
  citation that does not appear in them.`

// divergentInstructions is the system prompt for divergent synthesis.
const divergentInstructions = `## Divergent Synthesis Instructions

You are the synthesizer of a legal reasoning engine. The experts genuinely
disagree. Write an answer that preserves the disagreement instead of
papering over it, in the language of the question.

Rules:
- Open by stating that the question is contested and why.
- Present each distinct position with its strongest argument and its
  methodological origin. Do not rank them beyond what the opinions support.
- List each distinct position in "alternatives", one entry per position,
  with the experts that hold it.
- Every factual or legal assertion must be traceable to the retrieved
  sources and the expert opinions you were given. Never introduce a
  citation that does not appear in them.`

// synthesisSchema is the response contract for both synthesis modes. The
// alternatives field is only meaningful for divergent mode; convergent
// synthesis omits it.
const synthesisSchema = `## Response Schema
{
  "content": "the full answer narrative",
  "provenance": [
    {"text": "one claim from the answer", "source_ids": ["ids from the retrieved sources"], "expert_tags": ["experts backing the claim"]}
  ],
  "alternatives": [
    {"position": "one distinct position", "experts": ["experts holding it"], "confidence": 0.0-1.0}
  ]
}

` + outputRules

// SynthesisInstructions returns the system prompt for the given resolved
// mode. Auto must be resolved by the caller before prompting.
func SynthesisInstructions(mode models.SynthesisMode) string {
	if mode == models.SynthesisDivergent {
		return divergentInstructions + "\n\n" + synthesisSchema
	}
	return convergentInstructions + "\n\n" + synthesisSchema
}

// BuildSynthesis composes the synthesis prompt from the consulted opinions
// and the iteration's retrieved sources. The sources section is what makes
// provenance checkable: claims must cite ids listed there.
func BuildSynthesis(mode models.SynthesisMode, snap models.Snapshot, opinions []models.ExpertOpinion) (system, user string) {
	var sb strings.Builder
	sb.WriteString(FormatQuerySection(snap.Query, snap.Hints))
	sb.WriteString("\n")
	sb.WriteString(FormatHitsSection(snap.MergedResults))
	sb.WriteString("\n")
	sb.WriteString(FormatOpinionsSection(opinions))
	sb.WriteString("\n## Your Task\n")
	sb.WriteString("Synthesize the expert opinions into the final answer for this iteration and return it as JSON.\n")
	return SynthesisInstructions(mode), sb.String()
}
