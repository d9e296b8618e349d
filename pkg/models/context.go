package models

// Entity is a typed span extracted from the query text.
type Entity struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// QueryContext is the understanding output. Written exactly once by
// preprocessing; read-only for the rest of the request.
type QueryContext struct {
	Intent            IntentTag `json:"intent"`
	IntentConfidence  float64   `json:"intent_confidence"`
	Complexity        float64   `json:"complexity"`
	Entities          []Entity  `json:"entities,omitempty"`
	Concepts          []string  `json:"concepts,omitempty"`
	NormReferences    []string  `json:"norm_references,omitempty"`
	TemporalHints     []string  `json:"temporal_hints,omitempty"`
	Jurisdiction      string    `json:"jurisdiction,omitempty"`
	OverallConfidence float64   `json:"overall_confidence"`
}

// EnrichedItem is a single enrichment record fetched from the graph store.
type EnrichedItem struct {
	SourceID   string    `json:"source_id"`
	Citation   string    `json:"citation"`
	Title      string    `json:"title,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`
	Source     SourceTag `json:"source"`
	Confidence float64   `json:"confidence"`
}

// EnrichedContext is the graph-enrichment output, one per request.
type EnrichedContext struct {
	Norms         []EnrichedItem `json:"norms,omitempty"`
	Cases         []EnrichedItem `json:"cases,omitempty"`
	Doctrine      []EnrichedItem `json:"doctrine,omitempty"`
	Community     []EnrichedItem `json:"community,omitempty"`
	Controversies []string       `json:"controversies,omitempty"`
	FromCache     bool           `json:"from_cache,omitempty"`
	Degraded      bool           `json:"degraded,omitempty"`
}

// IsEmpty reports whether enrichment found nothing at all.
func (e *EnrichedContext) IsEmpty() bool {
	if e == nil {
		return true
	}
	return len(e.Norms) == 0 && len(e.Cases) == 0 &&
		len(e.Doctrine) == 0 && len(e.Community) == 0 &&
		len(e.Controversies) == 0
}

// Warning is a non-fatal degradation recorded on the workflow state.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Warning codes recorded by the runtime and the gate.
const (
	WarnUnderstandingDegraded = "understanding-degraded"
	WarnEnrichmentDegraded    = "enrichment-degraded"
	WarnRateLimitBypassed     = "rate-limit-bypassed"
	WarnAgentDegraded         = "agent-degraded"
	WarnExpertDegraded        = "expert-degraded"
	WarnSynthesisDegraded     = "synthesis-degraded"
	WarnProvenanceDropped     = "provenance-dropped"
	WarnPersistenceDegraded   = "persistence-degraded"
	WarnCacheDegraded         = "cache-degraded"
	WarnTimeout               = "timeout"
)
