// Package preprocess turns a raw legal question into a structured
// understanding and enriches it from the knowledge graph. Both passes
// degrade instead of failing: a lost model or graph never aborts the
// request.
package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/legalkit/lexor/pkg/cache"
	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/llm"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/prompt"
)

// GraphEnricher is the slice of the graph store preprocessing consumes.
type GraphEnricher interface {
	Enrich(ctx context.Context, qc *models.QueryContext) (*models.EnrichedContext, error)
}

// Service implements the understanding and enrichment passes.
type Service struct {
	llm     llm.Client
	graph   GraphEnricher
	cache   *cache.Store
	cfg     *config.Config
	logger  *slog.Logger
	enabled bool
}

// NewService wires the preprocessing service. graph may be nil when
// enrichment is disabled.
func NewService(llmClient llm.Client, graph GraphEnricher, cacheStore *cache.Store, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		llm:     llmClient,
		graph:   graph,
		cache:   cacheStore,
		cfg:     cfg,
		logger:  logger.With("component", "preprocess"),
		enabled: cfg.Enrichment.Enabled && graph != nil,
	}
}

// understandingResponse is the model's half of the understanding pass.
type understandingResponse struct {
	Intent            string           `json:"intent" validate:"required,oneof=norm-search interpretation compliance-check document-drafting risk-spotting unknown"`
	IntentConfidence  float64          `json:"intent_confidence" validate:"min=0,max=1"`
	Entities          []responseEntity `json:"entities" validate:"omitempty,dive"`
	Concepts          []string         `json:"concepts"`
	NormReferences    []string         `json:"norm_references"`
	TemporalHints     []string         `json:"temporal_hints"`
	Jurisdiction      string           `json:"jurisdiction"`
	OverallConfidence float64          `json:"overall_confidence" validate:"min=0,max=1"`
}

type responseEntity struct {
	Text       string  `json:"text" validate:"required"`
	Type       string  `json:"type" validate:"required"`
	Start      int     `json:"start" validate:"min=0"`
	End        int     `json:"end" validate:"min=0"`
	Confidence float64 `json:"confidence" validate:"min=0,max=1"`
}

// Understand combines the heuristic pass with the model pass. When the
// model call fails permanently the heuristic result stands alone and an
// understanding-degraded warning is returned.
func (s *Service) Understand(ctx context.Context, query string, hints *models.QueryHints) (*models.QueryContext, []models.Warning) {
	heuristic := heuristicUnderstanding(query, hints)

	uctx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Preprocessing)
	defer cancel()

	system, user := prompt.BuildUnderstanding(query, hints)
	var resp understandingResponse
	err := llm.CompleteJSON(uctx, s.llm, llm.Request{
		System:      system,
		User:        user,
		Temperature: s.cfg.LLM.Temperature.Router,
	}, s.cfg.LLM.JSONMaxRetries, &resp)
	if err != nil {
		s.logger.WarnContext(ctx, "Understanding degraded to heuristics", "error", err)
		return heuristic, []models.Warning{{
			Code:    models.WarnUnderstandingDegraded,
			Message: fmt.Sprintf("model understanding unavailable: %v", err),
		}}
	}

	return mergeUnderstanding(heuristic, &resp, hints), nil
}

// mergeUnderstanding unions the heuristic and model results. The model
// wins on intent and on entities whose spans overlap a heuristic span;
// heuristic extras survive the union.
func mergeUnderstanding(heuristic *models.QueryContext, resp *understandingResponse, hints *models.QueryHints) *models.QueryContext {
	qc := &models.QueryContext{
		Intent:            models.IntentTag(resp.Intent),
		IntentConfidence:  resp.IntentConfidence,
		OverallConfidence: resp.OverallConfidence,
	}
	if !qc.Intent.IsValid() {
		qc.Intent = heuristic.Intent
		qc.IntentConfidence = heuristic.IntentConfidence
	}
	qc.Complexity = complexityFrom(qc.OverallConfidence)

	llmEntities := make([]models.Entity, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		llmEntities = append(llmEntities, models.Entity{
			Text:       e.Text,
			Type:       strings.ToLower(e.Type),
			Start:      e.Start,
			End:        e.End,
			Confidence: e.Confidence,
		})
	}
	qc.Entities = mergeEntities(heuristic.Entities, llmEntities)

	qc.Concepts = unionStrings(heuristic.Concepts, normalizeTags(resp.Concepts))
	qc.NormReferences = unionStrings(heuristic.NormReferences, normalizeCitations(resp.NormReferences))
	qc.TemporalHints = unionStrings(heuristic.TemporalHints, resp.TemporalHints)

	qc.Jurisdiction = resp.Jurisdiction
	if qc.Jurisdiction == "" && hints != nil {
		qc.Jurisdiction = hints.Jurisdiction
	}
	return qc
}

// mergeEntities keeps every model entity and the heuristic entities whose
// spans do not overlap a model span.
func mergeEntities(heuristic, fromModel []models.Entity) []models.Entity {
	merged := slices.Clone(fromModel)
	for _, h := range heuristic {
		if !overlapsSpan(fromModel, h.Start, h.End) {
			merged = append(merged, h)
		}
	}
	slices.SortFunc(merged, func(a, b models.Entity) int { return a.Start - b.Start })
	assignEntityIDs(merged)
	return merged
}

// assignEntityIDs derives stable ids from type and normalized text, so the
// same entity fingerprints identically across requests.
func assignEntityIDs(entities []models.Entity) {
	for i := range entities {
		entities[i].ID = entities[i].Type + ":" + slug(entities[i].Text)
	}
}

func slug(s string) string {
	var sb strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		case !lastDash:
			sb.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		t = strings.ReplaceAll(t, " ", "-")
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizeCitations(citations []string) []string {
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		if n := normalizeCitation(c); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	var out []string
	for _, v := range a {
		out = appendUnique(out, v)
	}
	for _, v := range b {
		out = appendUnique(out, v)
	}
	return out
}

// Enrich fetches graph context for the understood query, serving repeated
// fingerprints from cache. Graph loss degrades to an empty context with a
// warning; cache loss only skips caching.
func (s *Service) Enrich(ctx context.Context, qc *models.QueryContext) (*models.EnrichedContext, []models.Warning) {
	if !s.enabled {
		return &models.EnrichedContext{}, nil
	}

	var warnings []models.Warning
	fingerprint := cache.Fingerprint(qc)

	if s.cache != nil {
		if cached, hit, degraded := s.cache.Get(ctx, fingerprint); hit {
			return cached, nil
		} else if degraded {
			warnings = append(warnings, models.Warning{
				Code:    models.WarnCacheDegraded,
				Message: "enrichment cache unavailable, querying graph directly",
			})
		}
	}

	ectx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Preprocessing)
	defer cancel()

	enriched, err := s.graph.Enrich(ectx, qc)
	if err != nil {
		s.logger.WarnContext(ctx, "Graph enrichment degraded", "intent", qc.Intent, "error", err)
		warnings = append(warnings, models.Warning{
			Code:    models.WarnEnrichmentDegraded,
			Message: fmt.Sprintf("graph enrichment unavailable: %v", err),
		})
		return &models.EnrichedContext{Degraded: true}, warnings
	}

	if s.cache != nil {
		s.cache.Put(ctx, fingerprint, enriched)
	}
	return enriched, warnings
}
