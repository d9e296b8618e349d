package models

import "time"

// IterationRecord is the persisted outcome of one loop pass. Records are
// append-only: indexes run 1, 2, 3, … with no gaps, and the current answer is
// always the record with the highest index.
type IterationRecord struct {
	ID          string               `json:"id"`
	TraceID     string               `json:"trace_id"`
	Index       int                  `json:"index"`
	Plan        ExecutionPlan        `json:"plan"`
	Answer      ProvisionalAnswer    `json:"answer"`
	Metrics     IterationMetrics     `json:"metrics"`
	Directive   *RefinementDirective `json:"directive,omitempty"`
	StopReason  StopReason           `json:"stop_reason,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
}

// IterationFrame is the in-memory per-iteration slice of the workflow state.
// Frames are appended by the runtime's single writer and never overwritten.
type IterationFrame struct {
	Index        int
	Plan         ExecutionPlan
	AgentResults []AgentResult
	Opinions     []ExpertOpinion
	Answer       *ProvisionalAnswer
	Metrics      IterationMetrics
	Directive    *RefinementDirective
	StartedAt    time.Time
	CompletedAt  time.Time
}
