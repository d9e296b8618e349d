package agents

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/legalkit/lexor/pkg/models"
)

// Embedder turns text into an embedding vector. The gateway client
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the slice of the vector store the vector agent consumes.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]models.Hit, error)
}

// VectorAgent embeds each query rewrite and runs k-NN retrieval, merging
// hits across rewrites by max score.
type VectorAgent struct {
	embedder Embedder
	store    VectorSearcher
	logger   *slog.Logger
}

// NewVectorAgent wires the agent against the embedder and the vector store.
func NewVectorAgent(embedder Embedder, store VectorSearcher, logger *slog.Logger) *VectorAgent {
	return &VectorAgent{
		embedder: embedder,
		store:    store,
		logger:   logger.With("component", "agent.vector"),
	}
}

// Tag implements Agent.
func (a *VectorAgent) Tag() models.AgentTag { return models.AgentVector }

// Execute searches once per rewrite concurrently, falling back to the raw
// query when the plan carries no rewrites. Hits are deduplicated by source
// id keeping the best score, ranked, and cut to top-k. A rewrite that fails
// costs its hits only; the result degrades when every rewrite failed.
func (a *VectorAgent) Execute(ctx context.Context, inv models.AgentInvocation, snap models.Snapshot) []models.AgentResult {
	started := time.Now()

	rewrites := inv.Rewrites
	if len(rewrites) == 0 {
		rewrites = []string{snap.Query}
	}

	var (
		mu      sync.Mutex
		best    = make(map[string]models.Hit)
		lastErr error
	)

	var wg sync.WaitGroup
	for _, rewrite := range rewrites {
		wg.Add(1)
		go func(rewrite string) {
			defer wg.Done()
			hits, err := a.searchRewrite(ctx, rewrite, inv.TopK)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return
			}
			for _, hit := range hits {
				if prev, ok := best[hit.SourceID]; !ok || hit.Relevance > prev.Relevance {
					best[hit.SourceID] = hit
				}
			}
		}(rewrite)
	}
	wg.Wait()

	result := models.AgentResult{
		Agent:     models.AgentVector,
		Source:    models.SourceVector,
		LatencyMS: time.Since(started).Milliseconds(),
	}

	if len(best) == 0 && lastErr != nil {
		result.Error = lastErr.Error()
		a.logger.Warn("Vector retrieval failed",
			"trace_id", snap.TraceID, "error", lastErr)
		return []models.AgentResult{result}
	}

	hits := make([]models.Hit, 0, len(best))
	for _, hit := range best {
		hits = append(hits, hit)
	}
	sortHitsByRelevance(hits)
	if inv.TopK > 0 && len(hits) > inv.TopK {
		hits = hits[:inv.TopK]
	}
	result.Hits = hits
	return []models.AgentResult{result}
}

func (a *VectorAgent) searchRewrite(ctx context.Context, rewrite string, topK int) ([]models.Hit, error) {
	vector, err := a.embedder.Embed(ctx, rewrite)
	if err != nil {
		return nil, err
	}
	return a.store.Search(ctx, vector, topK)
}
