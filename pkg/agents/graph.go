package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/legalkit/lexor/pkg/models"
)

// GraphSearcher is the slice of the graph store the graph agent consumes.
type GraphSearcher interface {
	Search(ctx context.Context, terms []string, filters map[string]string, limit int) ([]models.Hit, error)
}

// GraphAgent retrieves norms, case law, doctrine, and community material
// from the legal knowledge graph. One execution can surface several source
// kinds, so hits are split into one result per source tag.
type GraphAgent struct {
	store  GraphSearcher
	logger *slog.Logger
}

// NewGraphAgent wires the agent against the graph store.
func NewGraphAgent(store GraphSearcher, logger *slog.Logger) *GraphAgent {
	return &GraphAgent{store: store, logger: logger.With("component", "agent.graph")}
}

// Tag implements Agent.
func (a *GraphAgent) Tag() models.AgentTag { return models.AgentGraph }

// Execute runs full-text retrieval with the invocation's rewrites plus the
// understanding's concepts and norm references. The jurisdiction filter
// defaults from the understanding when the plan does not set one.
func (a *GraphAgent) Execute(ctx context.Context, inv models.AgentInvocation, snap models.Snapshot) []models.AgentResult {
	started := time.Now()

	terms := graphTerms(inv, snap)
	filters := graphFilters(inv, snap)

	hits, err := a.store.Search(ctx, terms, filters, inv.TopK)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		a.logger.Warn("Graph retrieval failed",
			"trace_id", snap.TraceID, "error", err)
		return []models.AgentResult{{
			Agent:     models.AgentGraph,
			LatencyMS: elapsed,
			Error:     err.Error(),
		}}
	}
	if len(hits) == 0 {
		return []models.AgentResult{{
			Agent:     models.AgentGraph,
			LatencyMS: elapsed,
		}}
	}
	return splitBySource(hits, elapsed)
}

// graphTerms unions the plan's rewrites with the understanding's concepts
// and norm references, falling back to the raw query when all are empty.
func graphTerms(inv models.AgentInvocation, snap models.Snapshot) []string {
	var terms []string
	seen := make(map[string]bool)
	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		terms = append(terms, t)
	}

	for _, rw := range inv.Rewrites {
		add(rw)
	}
	if snap.Context != nil {
		for _, ref := range snap.Context.NormReferences {
			add(ref)
		}
		for _, c := range snap.Context.Concepts {
			add(c)
		}
	}
	if len(terms) == 0 {
		add(snap.Query)
	}
	return terms
}

func graphFilters(inv models.AgentInvocation, snap models.Snapshot) map[string]string {
	filters := make(map[string]string, len(inv.Filters)+1)
	for k, v := range inv.Filters {
		filters[k] = v
	}
	if filters["jurisdiction"] == "" && snap.Context != nil && snap.Context.Jurisdiction != "" {
		filters["jurisdiction"] = snap.Context.Jurisdiction
	}
	return filters
}

// splitBySource groups graph hits by the source tag implied by their node
// kinds. Group order is fixed, and descending relevance survives grouping
// because the store returns hits already ranked.
func splitBySource(hits []models.Hit, elapsed int64) []models.AgentResult {
	groups := make(map[models.SourceTag][]models.Hit)
	for _, hit := range hits {
		src := sourceForKinds(hitKinds(hit))
		groups[src] = append(groups[src], hit)
	}

	order := []models.SourceTag{
		models.SourceNormattiva,
		models.SourceCassazione,
		models.SourceDoctrine,
		models.SourceCommunity,
	}
	results := make([]models.AgentResult, 0, len(groups))
	for _, src := range order {
		if len(groups[src]) == 0 {
			continue
		}
		results = append(results, models.AgentResult{
			Agent:     models.AgentGraph,
			Source:    src,
			Hits:      groups[src],
			LatencyMS: elapsed,
		})
	}
	return results
}

// sourceForKinds maps graph node labels onto source tags. Unlabeled or
// unknown nodes count as community material, the least authoritative bucket.
func sourceForKinds(kinds []string) models.SourceTag {
	for _, k := range kinds {
		switch k {
		case "norm", "obligation", "sanction":
			return models.SourceNormattiva
		case "decision":
			return models.SourceCassazione
		case "doctrine", "controversy":
			return models.SourceDoctrine
		case "contribution":
			return models.SourceCommunity
		}
	}
	return models.SourceCommunity
}

// hitKinds reads the node labels the store records in hit metadata. The
// driver hands list values back as []any.
func hitKinds(hit models.Hit) []string {
	raw, ok := hit.Metadata["kinds"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		kinds := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				kinds = append(kinds, s)
			}
		}
		return kinds
	default:
		return nil
	}
}
