package agents

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/normservice"
)

// NormFetcher is the slice of the normative-text client the http agent
// consumes.
type NormFetcher interface {
	FetchArticle(ctx context.Context, reference string) (*normservice.NormText, error)
}

// HTTPAgent fetches canonical norm texts by article reference. References
// come from the plan's rewrites and filters plus the understanding's
// norm-reference list; retries and caching live in the client.
type HTTPAgent struct {
	client NormFetcher
	logger *slog.Logger
}

// NewHTTPAgent wires the agent against the normative-text client.
func NewHTTPAgent(client NormFetcher, logger *slog.Logger) *HTTPAgent {
	return &HTTPAgent{client: client, logger: logger.With("component", "agent.http")}
}

// Tag implements Agent.
func (a *HTTPAgent) Tag() models.AgentTag { return models.AgentHTTP }

// snippetRunes caps how much of a fetched article lands in the hit snippet.
const snippetRunes = 280

// Execute fetches every planned reference. A reference the service does not
// know is a miss, not a failure; the result degrades only when fetch errors
// leave no hits at all.
func (a *HTTPAgent) Execute(ctx context.Context, inv models.AgentInvocation, snap models.Snapshot) []models.AgentResult {
	started := time.Now()
	references := articleReferences(inv, snap)

	result := models.AgentResult{
		Agent:  models.AgentHTTP,
		Source: models.SourceNormattiva,
	}

	var lastErr error
	for _, ref := range references {
		norm, err := a.client.FetchArticle(ctx, ref)
		if err != nil {
			if errors.Is(err, normservice.ErrNormNotFound) {
				a.logger.Debug("Norm reference unknown to service",
					"trace_id", snap.TraceID, "reference", ref)
				continue
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		result.Hits = append(result.Hits, normHit(norm, ref))
	}

	result.LatencyMS = time.Since(started).Milliseconds()
	if len(result.Hits) == 0 && lastErr != nil {
		result.Error = lastErr.Error()
		a.logger.Warn("Norm text retrieval failed",
			"trace_id", snap.TraceID, "error", lastErr)
	}
	return []models.AgentResult{result}
}

// articleReferences collects the references to fetch: an explicit reference
// filter first, then rewrites, then the understanding's norm references,
// deduplicated and capped at the invocation's top-k.
func articleReferences(inv models.AgentInvocation, snap models.Snapshot) []string {
	var refs []string
	seen := make(map[string]bool)
	add := func(ref string) {
		key := strings.Join(strings.Fields(strings.ToLower(ref)), " ")
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, ref)
	}

	if ref := inv.Filters["reference"]; ref != "" {
		add(ref)
	}
	for _, rw := range inv.Rewrites {
		add(rw)
	}
	if snap.Context != nil {
		for _, ref := range snap.Context.NormReferences {
			add(ref)
		}
	}
	if inv.TopK > 0 && len(refs) > inv.TopK {
		refs = refs[:inv.TopK]
	}
	return refs
}

// normHit maps a canonical article text onto a hit. Exact-reference lookups
// are authoritative, so relevance is pinned to 1.
func normHit(norm *normservice.NormText, ref string) models.Hit {
	hit := models.Hit{
		SourceID:  norm.SourceID,
		Citation:  norm.Citation,
		Snippet:   truncateRunes(norm.Text, snippetRunes),
		Relevance: 1.0,
	}
	if hit.SourceID == "" {
		hit.SourceID = strings.Join(strings.Fields(strings.ToLower(ref)), " ")
	}
	if hit.Citation == "" {
		hit.Citation = ref
	}
	if norm.Title != "" {
		hit.Metadata = map[string]any{"title": norm.Title}
	}
	return hit
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
