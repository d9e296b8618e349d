package workflow

import (
	"time"

	"github.com/legalkit/lexor/pkg/models"
)

// Trace event kinds. Node names match the pipeline stages.
const (
	traceKindStart    = "start"
	traceKindFinish   = "finish"
	traceKindDegraded = "degraded"
	traceKindStop     = "stop"
	traceKindContinue = "continue"
)

const (
	nodePreprocess  = "preprocess"
	nodeRouter      = "router"
	nodeAgents      = "agents"
	nodeExperts     = "experts"
	nodeSynthesizer = "synthesizer"
	nodeController  = "controller"
	nodeIteration   = "iteration"
)

// recorder accumulates the ordered execution trace for one request. It is
// written only by the engine goroutine, so sequence numbers never collide.
// The trace is always captured: it is persisted with the request record and
// additionally returned to the caller when the request asks for it.
type recorder struct {
	events []models.TraceEvent
	now    func() time.Time
}

func newRecorder() *recorder {
	return &recorder{now: time.Now}
}

func (r *recorder) add(node, kind, message string, meta map[string]any) {
	r.events = append(r.events, models.TraceEvent{
		Seq:     len(r.events) + 1,
		Node:    node,
		Kind:    kind,
		Message: message,
		Meta:    meta,
		At:      r.now(),
	})
}

// degradations mirrors node warnings into the trace so degradation shows up
// in replay order, not just in the flat warning list.
func (r *recorder) degradations(node string, warnings []models.Warning) {
	for _, w := range warnings {
		r.add(node, traceKindDegraded, w.Message, map[string]any{"code": w.Code})
	}
}
