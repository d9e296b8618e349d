// Package agents implements the retrieval layer: graph, http, and vector
// agents behind one contract, plus the fan-out runner that executes a plan's
// invocations concurrently and merges their results.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/models"
)

// Agent is one retrieval kind. Execute returns one result per source tag the
// agent retrieved from; a failed agent returns a single hitless result with
// the error annotated. Execute never returns an error: retrieval failures
// degrade, they do not abort the request.
type Agent interface {
	Tag() models.AgentTag
	Execute(ctx context.Context, inv models.AgentInvocation, snap models.Snapshot) []models.AgentResult
}

// Runner fans a plan's invocations out over the registered agents.
type Runner struct {
	agents  map[models.AgentTag]Agent
	timeout time.Duration
	topK    int
	logger  *slog.Logger
}

// NewRunner registers the given agents. Agents may be omitted when their
// backend is not configured; plans that schedule them degrade instead.
func NewRunner(cfg *config.Config, logger *slog.Logger, list ...Agent) *Runner {
	byTag := make(map[models.AgentTag]Agent, len(list))
	for _, a := range list {
		byTag[a.Tag()] = a
	}
	return &Runner{
		agents:  byTag,
		timeout: cfg.Timeouts.Agent,
		topK:    cfg.Agents.TopKDefault,
		logger:  logger.With("component", "agents"),
	}
}

// Run executes every invocation in the plan concurrently under the per-agent
// timeout, sharing the caller's cancellation. Partial results are kept when
// the request deadline cuts the fan-out short. The merged result list is
// deterministic regardless of completion order, and each degraded result is
// mirrored as an agent-degraded warning.
func (r *Runner) Run(ctx context.Context, plan models.ExecutionPlan, snap models.Snapshot) ([]models.AgentResult, []models.Warning) {
	perInvocation := make([][]models.AgentResult, len(plan.Agents))

	var wg sync.WaitGroup
	for i, inv := range plan.Agents {
		agent, ok := r.agents[inv.Agent]
		if !ok {
			perInvocation[i] = []models.AgentResult{{
				Agent: inv.Agent,
				Error: "agent not available",
			}}
			continue
		}
		if inv.TopK <= 0 {
			inv.TopK = r.topK
		}

		wg.Add(1)
		go func(i int, inv models.AgentInvocation) {
			defer wg.Done()
			actx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			started := time.Now()
			results := agent.Execute(actx, inv, snap)
			r.logger.Debug("Agent finished",
				"trace_id", snap.TraceID,
				"agent", inv.Agent,
				"results", len(results),
				"elapsed_ms", time.Since(started).Milliseconds())
			perInvocation[i] = results
		}(i, inv)
	}
	wg.Wait()

	merged := mergeResults(perInvocation)

	var warnings []models.Warning
	for _, res := range merged {
		if res.Degraded() {
			warnings = append(warnings, models.Warning{
				Code:    models.WarnAgentDegraded,
				Message: fmt.Sprintf("%s agent: %s", res.Agent, res.Error),
			})
		}
	}
	return merged, warnings
}

// mergeResults flattens the per-invocation results into one list ordered by
// source tag, then agent tag. Completion order never shows through. Hits
// inside each result keep their agent-assigned descending-relevance order.
func mergeResults(perInvocation [][]models.AgentResult) []models.AgentResult {
	var merged []models.AgentResult
	for _, results := range perInvocation {
		merged = append(merged, results...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Source != merged[j].Source {
			return merged[i].Source < merged[j].Source
		}
		return merged[i].Agent < merged[j].Agent
	})
	return merged
}

// sortHitsByRelevance orders hits by descending relevance, breaking ties by
// source id so equal scores still merge deterministically.
func sortHitsByRelevance(hits []models.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Relevance != hits[j].Relevance {
			return hits[i].Relevance > hits[j].Relevance
		}
		return hits[i].SourceID < hits[j].SourceID
	})
}
