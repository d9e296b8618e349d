package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/legalkit/lexor/pkg/models"
)

// Admission errors returned by Dispatch.
var (
	// ErrAtCapacity means no execution slot freed up within the caller's wait.
	ErrAtCapacity = errors.New("all execution slots are busy")
	// ErrDraining means the dispatcher no longer admits requests.
	ErrDraining = errors.New("dispatcher is draining")
)

// Executor runs one admitted request to a terminal result.
type Executor interface {
	Execute(ctx context.Context, state *models.WorkflowState) *models.WorkflowResult
}

// Dispatcher bounds concurrent workflow executions and keeps a cancel
// registry of in-flight requests, so shutdown can drain gracefully and a
// stuck request can be cancelled by trace id.
type Dispatcher struct {
	executor Executor
	slots    chan struct{}
	quit     chan struct{}
	logger   *slog.Logger

	// Cancel registry: trace_id → cancel function.
	mu       sync.RWMutex
	active   map[string]context.CancelFunc
	draining bool

	wg sync.WaitGroup
}

// NewDispatcher sizes the slot pool. A maxConcurrent below one is clamped
// to one so the dispatcher always makes progress.
func NewDispatcher(executor Executor, maxConcurrent int, logger *slog.Logger) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		executor: executor,
		slots:    make(chan struct{}, maxConcurrent),
		quit:     make(chan struct{}),
		active:   make(map[string]context.CancelFunc),
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch admits the request and runs it to completion on the calling
// goroutine. It blocks while every slot is busy; the caller's context
// bounds the wait. Admission failures are the only errors: an admitted
// request always comes back as a result.
func (d *Dispatcher) Dispatch(ctx context.Context, state *models.WorkflowState) (*models.WorkflowResult, error) {
	select {
	case d.slots <- struct{}{}:
	case <-d.quit:
		return nil, ErrDraining
	case <-ctx.Done():
		return nil, ErrAtCapacity
	}

	d.wg.Add(1)
	defer d.wg.Done()
	defer func() { <-d.slots }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !d.register(state.TraceID, cancel) {
		return nil, ErrDraining
	}
	defer d.unregister(state.TraceID)

	return d.executor.Execute(runCtx, state), nil
}

// Cancel triggers context cancellation for an in-flight request. Returns
// true when the trace was found and cancelled.
func (d *Dispatcher) Cancel(traceID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if cancel, ok := d.active[traceID]; ok {
		cancel()
		return true
	}
	return false
}

// Stop drains the dispatcher: admission closes immediately, in-flight
// requests get up to budget to finish, and whatever remains is cancelled
// and waited for. Safe to call more than once.
func (d *Dispatcher) Stop(budget time.Duration) {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	remaining := len(d.active)
	d.mu.Unlock()
	close(d.quit)

	d.logger.Info("Stopping dispatcher gracefully", "active", remaining, "budget", budget)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(budget):
		d.logger.Warn("Drain budget exhausted, cancelling remaining requests",
			"remaining", d.Health().Active)
		d.cancelAll()
		<-done
	}

	d.logger.Info("Dispatcher stopped")
}

// DispatcherHealth is the dispatcher's slice of the health endpoint.
type DispatcherHealth struct {
	Active   int  `json:"active"`
	Capacity int  `json:"capacity"`
	Draining bool `json:"draining"`
}

// Health reports slot usage for readiness checks.
func (d *Dispatcher) Health() DispatcherHealth {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DispatcherHealth{
		Active:   len(d.active),
		Capacity: cap(d.slots),
		Draining: d.draining,
	}
}

// register refuses new work once draining started, closing the window
// between slot acquisition and drain.
func (d *Dispatcher) register(traceID string, cancel context.CancelFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		return false
	}
	d.active[traceID] = cancel
	return true
}

func (d *Dispatcher) unregister(traceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, traceID)
}

func (d *Dispatcher) cancelAll() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, cancel := range d.active {
		cancel()
	}
}
