// Package experts implements the reasoning layer: four legal methodologies
// behind one contract, and the panel that consults the planned subset
// concurrently. Experts degrade to a minimal opinion instead of failing;
// a lost expert never aborts the request.
package experts

import (
	"context"
	"log/slog"
	"time"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/llm"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/prompt"
)

// Expert is one reasoning methodology. Review never returns an error: a
// failed review yields the minimal degraded opinion.
type Expert interface {
	Tag() models.ExpertTag
	Review(ctx context.Context, snap models.Snapshot) models.ExpertOpinion
}

// fallbackConfidence is the confidence of a degraded opinion.
const fallbackConfidence = 0.3

// LLMExpert runs one methodology through the gateway. The four experts
// differ only in tag and stance prompt.
type LLMExpert struct {
	tag    models.ExpertTag
	llm    llm.Client
	cfg    *config.Config
	logger *slog.Logger
}

// NewLLMExpert builds the expert for one methodology tag.
func NewLLMExpert(tag models.ExpertTag, client llm.Client, cfg *config.Config, logger *slog.Logger) *LLMExpert {
	return &LLMExpert{
		tag:    tag,
		llm:    client,
		cfg:    cfg,
		logger: logger.With("component", "expert", "expert", string(tag)),
	}
}

// AllExperts builds the full methodology set for panel registration.
func AllExperts(client llm.Client, cfg *config.Config, logger *slog.Logger) []Expert {
	tags := models.AllExpertTags()
	list := make([]Expert, 0, len(tags))
	for _, tag := range tags {
		list = append(list, NewLLMExpert(tag, client, cfg, logger))
	}
	return list
}

// Tag implements Expert.
func (e *LLMExpert) Tag() models.ExpertTag { return e.tag }

// opinionResponse is the expert's structured output.
type opinionResponse struct {
	Interpretation  string            `json:"interpretation" validate:"required"`
	ConclusionLabel string            `json:"conclusion_label" validate:"required"`
	LegalBases      []basisResponse   `json:"legal_bases" validate:"omitempty,dive"`
	ReasoningSteps  []string          `json:"reasoning_steps"`
	Confidence      float64           `json:"confidence" validate:"min=0,max=1"`
	Breakdown       breakdownResponse `json:"confidence_breakdown"`
	Limitations     string            `json:"limitations"`
}

type basisResponse struct {
	Citation string  `json:"citation" validate:"required"`
	Role     string  `json:"role" validate:"required,oneof=primary supporting contrary"`
	Weight   float64 `json:"weight" validate:"min=0,max=1"`
}

type breakdownResponse struct {
	NormClarity            float64 `json:"norm_clarity" validate:"min=0,max=1"`
	JurisprudenceAlignment float64 `json:"jurisprudence_alignment" validate:"min=0,max=1"`
	ContextualAmbiguity    float64 `json:"contextual_ambiguity" validate:"min=0,max=1"`
	SourceAvailability     float64 `json:"source_availability" validate:"min=0,max=1"`
}

// Review runs the methodology over the snapshot under the JSON contract.
// Persistent contract failure or a spent deadline yields the minimal
// opinion. Model id and seed are recorded for reproducibility.
func (e *LLMExpert) Review(ctx context.Context, snap models.Snapshot) models.ExpertOpinion {
	started := time.Now()
	system, user := prompt.BuildOpinion(e.tag, snap)

	var resp opinionResponse
	err := llm.CompleteJSON(ctx, e.llm, llm.Request{
		System:      system,
		User:        user,
		Temperature: e.cfg.LLM.Temperature.Expert,
	}, e.cfg.LLM.JSONMaxRetries, &resp)
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		e.logger.Warn("Expert review degraded to minimal opinion",
			"trace_id", snap.TraceID, "error", err)
		op := minimalOpinion(e.tag, err.Error())
		op.LatencyMS = elapsed
		op.ModelID = e.cfg.LLM.Model
		op.Seed = e.cfg.LLM.Seed
		return op
	}

	op := models.ExpertOpinion{
		Expert:          e.tag,
		Interpretation:  resp.Interpretation,
		ConclusionLabel: resp.ConclusionLabel,
		ReasoningSteps:  resp.ReasoningSteps,
		Confidence:      resp.Confidence,
		Breakdown: models.ConfidenceBreakdown{
			NormClarity:            resp.Breakdown.NormClarity,
			JurisprudenceAlignment: resp.Breakdown.JurisprudenceAlignment,
			ContextualAmbiguity:    resp.Breakdown.ContextualAmbiguity,
			SourceAvailability:     resp.Breakdown.SourceAvailability,
		},
		Limitations: resp.Limitations,
		LatencyMS:   elapsed,
		ModelID:     e.cfg.LLM.Model,
		Seed:        e.cfg.LLM.Seed,
	}
	for _, b := range resp.LegalBases {
		op.LegalBases = append(op.LegalBases, models.LegalBasis{
			Citation: b.Citation,
			Role:     b.Role,
			Weight:   b.Weight,
		})
	}
	return op
}

// minimalOpinion is what a failed expert contributes: no interpretation, the
// documented fallback confidence, and the failure annotated.
func minimalOpinion(tag models.ExpertTag, errMsg string) models.ExpertOpinion {
	return models.ExpertOpinion{
		Expert:          tag,
		ConclusionLabel: "unavailable",
		Confidence:      fallbackConfidence,
		Error:           errMsg,
	}
}
