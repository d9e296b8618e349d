package models

import "time"

// WorkflowState is the per-request state threaded through the runtime.
// Single-writer discipline: only the engine goroutine mutates it. Nodes
// receive Snapshot values and return new artifacts; the engine appends them.
//
// Invariants: TraceID and Query never change after admission; Context is
// written once by preprocessing; Frames are append-only.
type WorkflowState struct {
	TraceID   string
	Query     string
	SessionID string
	Hints     *QueryHints
	Options   RequestOptions

	Context  *QueryContext
	Enriched *EnrichedContext

	Frames   []IterationFrame
	Warnings []Warning

	StartedAt time.Time
	ElapsedMS int64
}

// NewWorkflowState builds the admission-time state for a request.
func NewWorkflowState(traceID string, req *QueryRequest, opts RequestOptions, now time.Time) *WorkflowState {
	return &WorkflowState{
		TraceID:   traceID,
		Query:     req.Query,
		SessionID: req.SessionID,
		Hints:     req.Hints,
		Options:   opts,
		StartedAt: now,
	}
}

// AddWarning appends a degradation note. Engine-goroutine only.
func (s *WorkflowState) AddWarning(code, message string) {
	s.Warnings = append(s.Warnings, Warning{Code: code, Message: message})
}

// CurrentIteration returns the 1-based index of the latest frame, 0 before
// the first iteration starts.
func (s *WorkflowState) CurrentIteration() int {
	return len(s.Frames)
}

// CurrentFrame returns the latest frame, or nil before the first iteration.
func (s *WorkflowState) CurrentFrame() *IterationFrame {
	if len(s.Frames) == 0 {
		return nil
	}
	return &s.Frames[len(s.Frames)-1]
}

// BestAnswer returns the highest-confidence answer seen so far. Used by the
// timeout short-circuit, which must return the best-seen answer rather than
// the latest one.
func (s *WorkflowState) BestAnswer() *ProvisionalAnswer {
	var best *ProvisionalAnswer
	for i := range s.Frames {
		a := s.Frames[i].Answer
		if a == nil {
			continue
		}
		if best == nil || a.Confidence > best.Confidence {
			best = a
		}
	}
	return best
}

// Snapshot is the read-only view handed to nodes, agents, and experts. It
// copies scalar fields and shares the immutable artifacts; recipients must
// not mutate the shared slices.
type Snapshot struct {
	TraceID   string
	Query     string
	Hints     *QueryHints
	Context   *QueryContext
	Enriched  *EnrichedContext
	Iteration int

	// PriorAnswer and PriorMetrics carry the previous iteration's outcome
	// when the loop re-enters the router.
	PriorAnswer  *ProvisionalAnswer
	PriorMetrics *IterationMetrics
	Directive    *RefinementDirective

	// MergedResults holds the current iteration's retrieval output once the
	// agents have completed; empty during routing.
	MergedResults []AgentResult
}

// Snapshot derives the read-only view for the given 1-based iteration.
func (s *WorkflowState) Snapshot(iteration int, directive *RefinementDirective) Snapshot {
	snap := Snapshot{
		TraceID:   s.TraceID,
		Query:     s.Query,
		Hints:     s.Hints,
		Context:   s.Context,
		Enriched:  s.Enriched,
		Iteration: iteration,
		Directive: directive,
	}
	if prev := s.CurrentFrame(); prev != nil && prev.Answer != nil {
		snap.PriorAnswer = prev.Answer
		m := prev.Metrics
		snap.PriorMetrics = &m
	}
	return snap
}

// WorkflowResult is what the engine returns to the transport layer.
type WorkflowResult struct {
	TraceID    string             `json:"trace_id"`
	Status     RequestStatus      `json:"status"`
	StopReason StopReason         `json:"stop_reason,omitempty"`
	Answer     *ProvisionalAnswer `json:"answer,omitempty"`
	Iterations []IterationRecord  `json:"iterations,omitempty"`
	Warnings   []Warning          `json:"warnings,omitempty"`
	Trace      []TraceEvent       `json:"trace,omitempty"`
	ElapsedMS  int64              `json:"elapsed_ms"`
}
