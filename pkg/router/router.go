// Package router turns an iteration snapshot into an execution plan: which
// retrieval agents to run, which experts to consult, and how to fold their
// opinions. Planning is model-driven with a deterministic fallback, so the
// workflow always receives a valid plan.
package router

import (
	"context"
	"log/slog"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/llm"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/prompt"
)

// Planner asks the model for one execution plan per iteration.
type Planner struct {
	llm    llm.Client
	cfg    *config.Config
	logger *slog.Logger
}

// NewPlanner wires the planner against the shared gateway client.
func NewPlanner(llmClient llm.Client, cfg *config.Config, logger *slog.Logger) *Planner {
	return &Planner{
		llm:    llmClient,
		cfg:    cfg,
		logger: logger.With("component", "router"),
	}
}

// planResponse is the planner's structured output. MinBudget is never part
// of the response; it carries the current iteration so the cross-field rule
// can reject budgets the loop has already spent.
type planResponse struct {
	Agents          []planAgent        `json:"agents" validate:"required,min=1,dive"`
	Experts         []models.ExpertTag `json:"experts" validate:"required,min=1,dive,oneof=literal systemic-teleological principles-balancer precedent-analyst"`
	SynthesisMode   string             `json:"synthesis_mode" validate:"omitempty,oneof=convergent divergent auto"`
	IterationBudget int                `json:"iteration_budget" validate:"gtefield=MinBudget"`
	Rationale       string             `json:"rationale"`

	MinBudget int `json:"-"`
}

type planAgent struct {
	Agent    models.AgentTag   `json:"agent" validate:"required,oneof=graph http vector"`
	Rewrites []string          `json:"rewrites"`
	Filters  map[string]string `json:"filters"`
	TopK     int               `json:"top_k" validate:"omitempty,min=1,max=100"`
}

// Plan produces the execution plan for the snapshot's iteration. The model
// output is schema-validated; invalid plans are retried under the JSON
// contract, and a persistently failing planner yields the deterministic
// fallback plan. Plan never fails and never touches the workflow state.
func (p *Planner) Plan(ctx context.Context, snap models.Snapshot) models.ExecutionPlan {
	system, user := prompt.BuildPlan(snap)

	resp := planResponse{MinBudget: snap.Iteration}
	err := llm.CompleteJSON(ctx, p.llm, llm.Request{
		System:      system,
		User:        user,
		Temperature: p.cfg.LLM.Temperature.Router,
	}, p.cfg.LLM.JSONMaxRetries, &resp)
	if err != nil {
		p.logger.Warn("Planner output unusable, applying fallback plan",
			"trace_id", snap.TraceID, "iteration", snap.Iteration, "error", err)
		return FallbackPlan(snap.Iteration, p.cfg.Agents.TopKDefault)
	}

	plan := p.materialize(resp)
	p.logger.Info("Execution plan ready",
		"trace_id", snap.TraceID,
		"iteration", snap.Iteration,
		"agents", len(plan.Agents),
		"experts", len(plan.Experts),
		"synthesis_mode", plan.SynthesisMode,
		"iteration_budget", plan.IterationBudget)
	return plan
}

// materialize maps the validated response onto the plan model, filling the
// documented defaults: top-k per agent, synthesis mode auto. Duplicate
// experts collapse to the first occurrence.
func (p *Planner) materialize(resp planResponse) models.ExecutionPlan {
	agents := make([]models.AgentInvocation, 0, len(resp.Agents))
	for _, a := range resp.Agents {
		topK := a.TopK
		if topK == 0 {
			topK = p.cfg.Agents.TopKDefault
		}
		agents = append(agents, models.AgentInvocation{
			Agent:    a.Agent,
			Rewrites: a.Rewrites,
			Filters:  a.Filters,
			TopK:     topK,
		})
	}

	experts := make([]models.ExpertTag, 0, len(resp.Experts))
	seen := make(map[models.ExpertTag]bool, len(resp.Experts))
	for _, e := range resp.Experts {
		if seen[e] {
			continue
		}
		seen[e] = true
		experts = append(experts, e)
	}

	mode := models.SynthesisMode(resp.SynthesisMode)
	if mode == "" {
		mode = models.SynthesisAuto
	}

	return models.ExecutionPlan{
		Agents:          agents,
		Experts:         experts,
		SynthesisMode:   mode,
		IterationBudget: resp.IterationBudget,
		Rationale:       resp.Rationale,
	}
}

// FallbackPlan is the deterministic plan used when the planner cannot
// produce a valid one: broad retrieval, the two core methodologies, and no
// extra iterations beyond the current one.
func FallbackPlan(iteration, topK int) models.ExecutionPlan {
	return models.ExecutionPlan{
		Agents: []models.AgentInvocation{
			{Agent: models.AgentGraph, TopK: topK},
			{Agent: models.AgentVector, TopK: topK},
		},
		Experts:         []models.ExpertTag{models.ExpertLiteral, models.ExpertSystemic},
		SynthesisMode:   models.SynthesisAuto,
		IterationBudget: iteration,
		Rationale:       "fallback plan after planner failure",
	}
}
