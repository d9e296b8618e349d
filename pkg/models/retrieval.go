package models

// Hit is one retrieval result, normalized across agent kinds.
type Hit struct {
	SourceID  string         `json:"source_id"`
	Citation  string         `json:"citation"`
	Snippet   string         `json:"snippet,omitempty"`
	Relevance float64        `json:"relevance"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AgentResult is the output of one retrieval agent invocation. A degraded
// agent returns an empty hit list with Error set; it never fails the request.
type AgentResult struct {
	Agent     AgentTag  `json:"agent"`
	Source    SourceTag `json:"source"`
	Hits      []Hit     `json:"hits,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// Degraded reports whether the agent failed and returned no usable hits.
func (r *AgentResult) Degraded() bool {
	return r.Error != ""
}

// TotalHits counts hits across a merged result set.
func TotalHits(results []AgentResult) int {
	n := 0
	for _, r := range results {
		n += len(r.Hits)
	}
	return n
}

// CollectSourceIDs returns the set of hit source ids across all results.
// Used to validate answer provenance against what was actually retrieved.
func CollectSourceIDs(results []AgentResult) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, r := range results {
		for _, h := range r.Hits {
			ids[h.SourceID] = struct{}{}
		}
	}
	return ids
}
