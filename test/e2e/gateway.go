package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/legalkit/lexor/pkg/llm"
	"github.com/legalkit/lexor/pkg/models"
)

// Task lines identifying each pipeline stage in the user prompt. The
// runtime builds every prompt through pkg/prompt, so routing on these
// stable lines keeps scripts declarative: entries register per stage, not
// per call, and stage order does not matter.
const (
	understandingMarker = "return the structured understanding as JSON"
	planMarker          = "Produce the execution plan as JSON"
	synthesisMarker     = "Synthesize the expert opinions into the final answer"
)

// expertMarker returns the task line of one expert's review prompt.
func expertMarker(tag models.ExpertTag) string {
	return fmt.Sprintf("You are the %s expert.", tag)
}

// GatewayEntry is one scripted gateway response.
type GatewayEntry struct {
	// JSON is returned verbatim as the completion text.
	JSON string
	// Err fails the call instead of returning JSON.
	Err error
	// BlockUntilCancelled parks the call until the context is cancelled,
	// then returns ctx.Err(). OnBlock, when set, receives one signal as
	// soon as the call parks.
	BlockUntilCancelled bool
	OnBlock             chan<- struct{}
}

// ScriptedGateway implements llm.Client with per-stage scripted responses.
// Each stage keeps a FIFO queue; a call consumes the head of the queue
// whose marker occurs in the user prompt. A call with no queued entry fails
// loudly, so an unexpected pipeline step shows up as a test failure rather
// than a silent default.
type ScriptedGateway struct {
	mu       sync.Mutex
	queues   map[string][]GatewayEntry
	requests []llm.Request
}

// NewScriptedGateway returns an empty gateway. Register entries per stage
// before driving the pipeline.
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{queues: make(map[string][]GatewayEntry)}
}

// OnUnderstanding queues a response for the next understanding call.
func (g *ScriptedGateway) OnUnderstanding(e GatewayEntry) { g.enqueue(understandingMarker, e) }

// OnPlan queues a response for the next routing call.
func (g *ScriptedGateway) OnPlan(e GatewayEntry) { g.enqueue(planMarker, e) }

// OnExpert queues a response for the next review by the given expert.
func (g *ScriptedGateway) OnExpert(tag models.ExpertTag, e GatewayEntry) {
	g.enqueue(expertMarker(tag), e)
}

// OnSynthesis queues a response for the next synthesis call.
func (g *ScriptedGateway) OnSynthesis(e GatewayEntry) { g.enqueue(synthesisMarker, e) }

func (g *ScriptedGateway) enqueue(marker string, e GatewayEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queues[marker] = append(g.queues[marker], e)
}

// Complete implements llm.Client. At most one marker matches a given
// prompt, so map iteration order is irrelevant.
func (g *ScriptedGateway) Complete(ctx context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)

	var entry *GatewayEntry
	for marker, queue := range g.queues {
		if len(queue) > 0 && strings.Contains(req.User, marker) {
			e := queue[0]
			g.queues[marker] = queue[1:]
			entry = &e
			break
		}
	}
	g.mu.Unlock()

	if entry == nil {
		return "", fmt.Errorf("unscripted gateway call: %q", promptHead(req.User))
	}
	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	if entry.Err != nil {
		return "", entry.Err
	}
	return entry.JSON, nil
}

// Embed implements llm.Client. A fixed vector keeps vector retrieval
// deterministic.
func (g *ScriptedGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	vec[0] = 1
	return vec, nil
}

// CallCount returns how many completions the pipeline requested.
func (g *ScriptedGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Requests returns a copy of every captured completion request, in call
// order.
func (g *ScriptedGateway) Requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.requests...)
}

// promptHead trims a user prompt to its first line for error messages.
func promptHead(user string) string {
	head := strings.TrimSpace(user)
	if i := strings.IndexByte(head, '\n'); i > 0 {
		head = head[:i]
	}
	if len(head) > 80 {
		head = head[:80]
	}
	return head
}
