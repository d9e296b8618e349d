package models

// AgentInvocation is one planned retrieval call.
type AgentInvocation struct {
	Agent    AgentTag          `json:"agent" validate:"required,oneof=graph http vector"`
	Rewrites []string          `json:"rewrites,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
	TopK     int               `json:"top_k,omitempty" validate:"omitempty,min=1,max=100"`
}

// ExecutionPlan is the router's decision for a single iteration. Immutable
// once attached to the state.
type ExecutionPlan struct {
	Agents          []AgentInvocation `json:"agents" validate:"required,min=1,dive"`
	Experts         []ExpertTag       `json:"experts" validate:"required,min=1,dive,oneof=literal systemic-teleological principles-balancer precedent-analyst"`
	SynthesisMode   SynthesisMode     `json:"synthesis_mode" validate:"required,oneof=convergent divergent auto"`
	IterationBudget int               `json:"iteration_budget" validate:"min=1"`
	Rationale       string            `json:"rationale,omitempty"`
}

// HasAgent reports whether the plan schedules the given agent kind.
func (p *ExecutionPlan) HasAgent(tag AgentTag) bool {
	for _, inv := range p.Agents {
		if inv.Agent == tag {
			return true
		}
	}
	return false
}

// RefinementDirective is the structured guidance the iteration controller
// hands to the next router invocation and to the experts.
type RefinementDirective struct {
	AnswerSummary      string   `json:"answer_summary"`
	Gaps               []string `json:"gaps,omitempty"`
	MissingInformation []string `json:"missing_information,omitempty"`
	QualityConcerns    []string `json:"quality_concerns,omitempty"`
}

// IsEmpty reports whether the directive carries no guidance.
func (d *RefinementDirective) IsEmpty() bool {
	if d == nil {
		return true
	}
	return d.AnswerSummary == "" && len(d.Gaps) == 0 &&
		len(d.MissingInformation) == 0 && len(d.QualityConcerns) == 0
}
