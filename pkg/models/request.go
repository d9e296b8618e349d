package models

import "time"

// Limits on caller-supplied options. Out-of-range values are rejected at
// admission, not clamped.
const (
	MinIterations = 1
	MaxIterations = 10

	MinRequestTimeoutMS = 1000
	MaxRequestTimeoutMS = 120000
)

// QueryRequest is the caller-supplied input. Immutable after admission.
type QueryRequest struct {
	Query     string          `json:"query"`
	SessionID string          `json:"session_id,omitempty"`
	Hints     *QueryHints     `json:"hints,omitempty"`
	Options   *RequestOptions `json:"options,omitempty"`
}

// QueryHints are optional caller-supplied steering fields.
type QueryHints struct {
	Jurisdiction      string `json:"jurisdiction,omitempty"`
	TemporalReference string `json:"temporal_reference,omitempty"`
	Role              string `json:"role,omitempty"`
}

// RequestOptions bound the execution of a single request.
type RequestOptions struct {
	MaxIterations int  `json:"max_iterations,omitempty"`
	ReturnTrace   bool `json:"return_trace,omitempty"`
	TimeoutMS     int  `json:"timeout_ms,omitempty"`
}

// Timeout returns the request deadline as a duration, falling back to def
// when the caller did not set one.
func (o *RequestOptions) Timeout(def time.Duration) time.Duration {
	if o == nil || o.TimeoutMS == 0 {
		return def
	}
	return time.Duration(o.TimeoutMS) * time.Millisecond
}

// IterationCap returns the caller's iteration budget, falling back to def.
func (o *RequestOptions) IterationCap(def int) int {
	if o == nil || o.MaxIterations == 0 {
		return def
	}
	return o.MaxIterations
}

// RequestRecord is the persisted trace record, written once at admission and
// completed once at termination.
type RequestRecord struct {
	TraceID      string         `json:"trace_id"`
	CredentialID string         `json:"credential_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Query        string         `json:"query"`
	Hints        *QueryHints    `json:"hints,omitempty"`
	Options      RequestOptions `json:"options"`
	Status       RequestStatus  `json:"status"`
	StopReason   StopReason     `json:"stop_reason,omitempty"`
	Warnings     []Warning      `json:"warnings,omitempty"`
	QueryContext *QueryContext  `json:"query_context,omitempty"`
	Trace        []TraceEvent   `json:"trace,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMS   int64          `json:"duration_ms,omitempty"`
}

// TraceEvent is one ordered entry of the per-request execution trace.
type TraceEvent struct {
	Seq     int            `json:"seq"`
	Node    string         `json:"node"`
	Kind    string         `json:"kind"`
	Message string         `json:"message,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	At      time.Time      `json:"at"`
}
