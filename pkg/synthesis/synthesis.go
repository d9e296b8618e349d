// Package synthesis folds the expert opinions of one iteration into a
// provisional answer. The synthesizer resolves auto mode from the measured
// agreement, prompts the model under the JSON-output contract, and validates
// the returned provenance against what was actually retrieved. On contract
// failure it degrades to a deterministic answer built from the strongest
// opinion; it never fails the request.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/llm"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/prompt"
)

// fallbackConfidence is reported when synthesis degrades.
const fallbackConfidence = 0.3

// zeroHitCeiling caps confidence when an answer was produced without any
// retrieved source.
const zeroHitCeiling = 0.5

// droppedClaimPreview bounds the claim text quoted in a provenance warning.
const droppedClaimPreview = 80

// Synthesizer builds the iteration answer from the consulted opinions.
type Synthesizer struct {
	llm       llm.Client
	cfg       *config.Config
	authority map[models.ExpertTag]float64
	logger    *slog.Logger
}

// NewSynthesizer wires the synthesis node. authority weights expert opinions
// in convergent confidence; missing or non-positive entries default to 1.0,
// so nil keeps all experts equal.
func NewSynthesizer(client llm.Client, cfg *config.Config, authority map[models.ExpertTag]float64, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		llm:       client,
		cfg:       cfg,
		authority: authority,
		logger:    logger.With("component", "synthesizer"),
	}
}

// synthesisResponse is the structured output contract for the synthesizer
// prompt. Only the content is schema-enforced: a malformed claim or
// alternative is dropped with a warning instead of burning a retry.
type synthesisResponse struct {
	Content      string                `json:"content" validate:"required"`
	Provenance   []claimResponse       `json:"provenance"`
	Alternatives []alternativeResponse `json:"alternatives"`
}

type claimResponse struct {
	Text       string   `json:"text"`
	SourceIDs  []string `json:"source_ids"`
	ExpertTags []string `json:"expert_tags"`
}

type alternativeResponse struct {
	Position   string   `json:"position"`
	Experts    []string `json:"experts"`
	Confidence float64  `json:"confidence"`
}

// Fold synthesizes the opinions into this iteration's answer. mode is the
// plan's requested mode; auto resolves here from the measured agreement.
// Degraded opinions stay out of the agreement and confidence math but remain
// listed as consulted. Fold always returns an answer.
func (s *Synthesizer) Fold(ctx context.Context, snap models.Snapshot, opinions []models.ExpertOpinion, mode models.SynthesisMode) (*models.ProvisionalAnswer, []models.Warning) {
	ag := computeAgreement(opinions)
	resolved := ag.resolveMode(mode)
	zeroHits := models.TotalHits(snap.MergedResults) == 0

	if len(ag.active) == 0 {
		warn := models.Warning{
			Code:    models.WarnSynthesisDegraded,
			Message: "synthesis skipped: no usable expert opinions",
		}
		s.logger.Warn("Synthesis skipped, all opinions degraded", "trace_id", snap.TraceID, "iteration", snap.Iteration)
		return s.fallbackAnswer(ag, resolved, opinions), []models.Warning{warn}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Synthesizer)
	defer cancel()

	system, user := prompt.BuildSynthesis(resolved, snap, opinions)
	req := llm.Request{
		System:      system,
		User:        user,
		Temperature: s.cfg.LLM.Temperature.Synthesizer,
	}

	started := time.Now()
	var resp synthesisResponse
	if err := llm.CompleteJSON(ctx, s.llm, req, s.cfg.LLM.JSONMaxRetries, &resp); err != nil {
		s.logger.Warn("Synthesis degraded to strongest opinion",
			"trace_id", snap.TraceID,
			"iteration", snap.Iteration,
			"mode", resolved,
			"error", err)
		warn := models.Warning{
			Code:    models.WarnSynthesisDegraded,
			Message: fmt.Sprintf("synthesis failed: %v", err),
		}
		return s.fallbackAnswer(ag, resolved, opinions), []models.Warning{warn}
	}

	answer := &models.ProvisionalAnswer{
		Content:          resp.Content,
		Mode:             resolved,
		Consensus:        ag.majorityShare,
		Confidence:       ag.confidence(resolved, s.authorityOf),
		ExpertsConsulted: expertTags(opinions),
	}

	var warnings []models.Warning
	answer.Provenance, warnings = s.filterProvenance(resp.Provenance, snap, ag)

	if resolved == models.SynthesisDivergent {
		answer.UncertaintyPreserved = true
		answer.Alternatives = s.mapAlternatives(resp.Alternatives, ag)
	}
	if zeroHits {
		// An answer without retrieved backing is inherently tentative.
		answer.UncertaintyPreserved = true
		if answer.Confidence > zeroHitCeiling {
			answer.Confidence = zeroHitCeiling
		}
	}

	s.logger.Info("Synthesis complete",
		"trace_id", snap.TraceID,
		"iteration", snap.Iteration,
		"mode", resolved,
		"consensus", answer.Consensus,
		"confidence", answer.Confidence,
		"claims", len(answer.Provenance),
		"duration_ms", time.Since(started).Milliseconds())
	return answer, warnings
}

// filterProvenance keeps only claims whose source ids were actually retrieved
// this iteration and whose expert tags were actually consulted. A claim that
// loses all of either side is dropped with a warning; fabricated references
// must not reach the caller.
func (s *Synthesizer) filterProvenance(claims []claimResponse, snap models.Snapshot, ag agreement) ([]models.Claim, []models.Warning) {
	retrieved := models.CollectSourceIDs(snap.MergedResults)
	consulted := make(map[models.ExpertTag]struct{}, len(ag.active))
	for i := range ag.active {
		consulted[ag.active[i].Expert] = struct{}{}
	}

	var kept []models.Claim
	var warnings []models.Warning
	for _, c := range claims {
		claim := models.Claim{Text: c.Text}
		for _, id := range c.SourceIDs {
			if _, ok := retrieved[id]; ok {
				claim.SourceIDs = append(claim.SourceIDs, id)
			}
		}
		for _, raw := range c.ExpertTags {
			tag := models.ExpertTag(raw)
			if _, ok := consulted[tag]; ok {
				claim.ExpertTags = append(claim.ExpertTags, tag)
			}
		}
		if c.Text == "" || len(claim.SourceIDs) == 0 || len(claim.ExpertTags) == 0 {
			warnings = append(warnings, models.Warning{
				Code:    models.WarnProvenanceDropped,
				Message: fmt.Sprintf("claim dropped, unverifiable provenance: %q", truncateClaim(c.Text)),
			})
			continue
		}
		kept = append(kept, claim)
	}
	return kept, warnings
}

// mapAlternatives validates the model's alternative list against the active
// experts. When nothing survives, the alternatives are derived from the
// opinions themselves so a divergent answer always carries its positions.
func (s *Synthesizer) mapAlternatives(alts []alternativeResponse, ag agreement) []models.AlternativeInterpretation {
	active := make(map[models.ExpertTag]struct{}, len(ag.active))
	for i := range ag.active {
		active[ag.active[i].Expert] = struct{}{}
	}

	var kept []models.AlternativeInterpretation
	for _, a := range alts {
		if a.Position == "" {
			continue
		}
		alt := models.AlternativeInterpretation{
			Position:   a.Position,
			Confidence: clamp(a.Confidence, 0, 1),
		}
		for _, raw := range a.Experts {
			tag := models.ExpertTag(raw)
			if _, ok := active[tag]; ok {
				alt.Experts = append(alt.Experts, tag)
			}
		}
		if len(alt.Experts) == 0 {
			continue
		}
		kept = append(kept, alt)
	}
	if len(kept) == 0 {
		return ag.alternatives()
	}
	return kept
}

// fallbackAnswer is the deterministic answer used when the model contract
// fails or no opinion survived: the strongest active interpretation carried
// verbatim, flagged uncertain, never confident.
func (s *Synthesizer) fallbackAnswer(ag agreement, resolved models.SynthesisMode, opinions []models.ExpertOpinion) *models.ProvisionalAnswer {
	answer := &models.ProvisionalAnswer{
		Mode:                 resolved,
		Consensus:            ag.majorityShare,
		Confidence:           fallbackConfidence,
		ExpertsConsulted:     expertTags(opinions),
		UncertaintyPreserved: true,
	}
	if best := strongestOpinion(ag.active); best != nil {
		answer.Content = best.Interpretation
	}
	if resolved == models.SynthesisDivergent && len(ag.active) > 0 {
		answer.Alternatives = ag.alternatives()
	}
	return answer
}

func (s *Synthesizer) authorityOf(tag models.ExpertTag) float64 {
	if w, ok := s.authority[tag]; ok && w > 0 {
		return w
	}
	return 1.0
}

func strongestOpinion(opinions []models.ExpertOpinion) *models.ExpertOpinion {
	var best *models.ExpertOpinion
	for i := range opinions {
		if best == nil || opinions[i].Confidence > best.Confidence {
			best = &opinions[i]
		}
	}
	return best
}

func expertTags(opinions []models.ExpertOpinion) []models.ExpertTag {
	tags := make([]models.ExpertTag, len(opinions))
	for i := range opinions {
		tags[i] = opinions[i].Expert
	}
	return tags
}

func truncateClaim(text string) string {
	runes := []rune(text)
	if len(runes) <= droppedClaimPreview {
		return text
	}
	return string(runes[:droppedClaimPreview]) + "…"
}
