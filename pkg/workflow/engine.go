// Package workflow drives a request through the pipeline: preprocessing
// once, then router → agents → experts → synthesizer per iteration until a
// stopping criterion or the request deadline ends the loop. Node failures
// degrade into warnings; the engine itself never fails a request, it only
// grades the outcome.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/services"
)

// The engine depends on the behavior of each pipeline stage, not on the
// concrete packages, so the loop can be tested over fakes.

// Preprocessor is the understanding and enrichment stage. It runs once per
// request; refinement iterations re-enter at the router.
type Preprocessor interface {
	Understand(ctx context.Context, query string, hints *models.QueryHints) (*models.QueryContext, []models.Warning)
	Enrich(ctx context.Context, qc *models.QueryContext) (*models.EnrichedContext, []models.Warning)
}

// Planner produces the execution plan for one iteration.
type Planner interface {
	Plan(ctx context.Context, snap models.Snapshot) models.ExecutionPlan
}

// AgentRunner executes the plan's retrieval invocations.
type AgentRunner interface {
	Run(ctx context.Context, plan models.ExecutionPlan, snap models.Snapshot) ([]models.AgentResult, []models.Warning)
}

// ExpertPanel consults the plan's selected methodologies.
type ExpertPanel interface {
	Consult(ctx context.Context, tags []models.ExpertTag, snap models.Snapshot) ([]models.ExpertOpinion, []models.Warning)
}

// Synthesizer folds the opinions into a provisional answer.
type Synthesizer interface {
	Fold(ctx context.Context, snap models.Snapshot, opinions []models.ExpertOpinion, mode models.SynthesisMode) (*models.ProvisionalAnswer, []models.Warning)
}

// QualityScorer reads the community-feedback score for a trace. A nil score
// means no expert has reviewed it yet.
type QualityScorer interface {
	Score(ctx context.Context, traceID string) (*float64, error)
}

// FeedbackReader supplies the human signals the stopping criteria and the
// refinement directive consume between iterations.
type FeedbackReader interface {
	LatestUserFeedback(ctx context.Context, traceID string) (*models.UserFeedback, error)
	ListExpertFeedback(ctx context.Context, traceID string) ([]models.ExpertFeedback, error)
}

// RequestStore completes the trace record written at admission.
type RequestStore interface {
	Complete(ctx context.Context, rec *models.RequestRecord) error
}

// IterationStore appends one record per completed iteration.
type IterationStore interface {
	Record(ctx context.Context, rec *models.IterationRecord) error
}

// AnswerStore upserts the final answer for a trace.
type AnswerStore interface {
	Save(ctx context.Context, traceID string, answer *models.ProvisionalAnswer) error
}

// Stores groups the runtime's durable writes. All of them are best-effort:
// a failed write becomes a persistence-degraded warning, never an error. A
// nil store disables that write.
type Stores struct {
	Requests   RequestStore
	Iterations IterationStore
	Answers    AnswerStore
}

// Dependencies wires an engine. Feedback and Quality may be nil: the
// feedback-driven stopping criteria then never fire and directives carry no
// human guidance.
type Dependencies struct {
	Preprocessor Preprocessor
	Planner      Planner
	Agents       AgentRunner
	Experts      ExpertPanel
	Synthesizer  Synthesizer
	Feedback     FeedbackReader
	Quality      QualityScorer
	Stores       Stores
	Config       *config.Config
	Logger       *slog.Logger
}

// Engine runs one request end to end.
type Engine struct {
	deps    Dependencies
	control *Controller
	cfg     *config.Config
	logger  *slog.Logger
}

// NewEngine builds the engine from its wired dependencies.
func NewEngine(deps Dependencies) *Engine {
	return &Engine{
		deps:    deps,
		control: NewController(deps.Config.Iteration),
		cfg:     deps.Config,
		logger:  deps.Logger.With("component", "workflow"),
	}
}

// iterationArtifacts bundles what one loop pass produced with the human
// signals fetched for it, so the controller and the directive builder read
// the same snapshot of feedback.
type iterationArtifacts struct {
	frame    *models.IterationFrame
	feedback *models.UserFeedback
	reviews  []models.ExpertFeedback
}

// Execute runs the request to a terminal status. It never returns an error:
// every failure mode maps to a result carrying status, warnings, and
// whatever answer the loop managed to produce. The caller's context carries
// dispatcher cancellation; the request deadline is applied here.
func (e *Engine) Execute(ctx context.Context, state *models.WorkflowState) *models.WorkflowResult {
	timeout := state.Options.Timeout(e.cfg.Timeouts.Request)
	maxIterations := state.Options.IterationCap(e.cfg.Iteration.Max)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := e.logger.With("trace_id", state.TraceID)
	logger.Info("Workflow started",
		"query_chars", len(state.Query),
		"max_iterations", maxIterations,
		"timeout", timeout)

	trail := newRecorder()

	e.preprocess(ctx, state, trail)
	if ctx.Err() != nil {
		return e.finalizeExpired(ctx, state, trail, nil, logger)
	}

	var (
		records   []models.IterationRecord
		directive *models.RefinementDirective
	)
	for {
		art := e.runIteration(ctx, state, len(state.Frames)+1, directive, trail, logger)
		if art == nil {
			return e.finalizeExpired(ctx, state, trail, records, logger)
		}

		// Criterion 1 caps the loop at maxIterations, so this always
		// terminates even when quality never improves.
		verdict := e.control.Evaluate(state, maxIterations)
		records = append(records, e.persistIteration(ctx, state, art.frame, verdict.Reason, logger))

		if verdict.Stop {
			trail.add(nodeController, traceKindStop, string(verdict.Reason), map[string]any{"iteration": art.frame.Index})
			return e.complete(ctx, state, trail, records, models.StatusSuccess, verdict.Reason, art.frame.Answer, logger)
		}

		directive = buildDirective(art.frame, art.feedback, art.reviews)
		trail.add(nodeController, traceKindContinue, "", map[string]any{
			"iteration": art.frame.Index,
			"gaps":      len(directive.Gaps),
			"concerns":  len(directive.QualityConcerns),
		})
	}
}

// preprocess runs understanding and enrichment once. Degradations are
// recorded; the pipeline proceeds with whatever context survived.
func (e *Engine) preprocess(ctx context.Context, state *models.WorkflowState, trail *recorder) {
	trail.add(nodePreprocess, traceKindStart, "", nil)

	qc, warns := e.deps.Preprocessor.Understand(ctx, state.Query, state.Hints)
	state.Context = qc
	state.Warnings = append(state.Warnings, warns...)
	trail.degradations(nodePreprocess, warns)

	if ctx.Err() != nil {
		return
	}

	enriched, warns := e.deps.Preprocessor.Enrich(ctx, qc)
	state.Enriched = enriched
	state.Warnings = append(state.Warnings, warns...)
	trail.degradations(nodePreprocess, warns)

	trail.add(nodePreprocess, traceKindFinish, "", map[string]any{
		"intent":     string(qc.Intent),
		"complexity": qc.Complexity,
		"entities":   len(qc.Entities),
		"from_cache": enriched != nil && enriched.FromCache,
	})
}

// runIteration executes one router → agents → experts → synthesizer pass.
// The deadline is checked at every node boundary; on expiry the pass is
// abandoned without appending a frame, so a cut-off iteration never counts
// as completed.
func (e *Engine) runIteration(ctx context.Context, state *models.WorkflowState, index int, directive *models.RefinementDirective, trail *recorder, logger *slog.Logger) *iterationArtifacts {
	started := time.Now()
	trail.add(nodeIteration, traceKindStart, "", map[string]any{"index": index})

	snap := state.Snapshot(index, directive)

	plan := e.deps.Planner.Plan(ctx, snap)
	trail.add(nodeRouter, traceKindFinish, "", map[string]any{
		"agents":         len(plan.Agents),
		"experts":        len(plan.Experts),
		"synthesis_mode": string(plan.SynthesisMode),
	})
	if expired := e.checkDeadline(ctx, trail, nodeRouter, index); expired {
		return nil
	}

	results, warns := e.deps.Agents.Run(ctx, plan, snap)
	state.Warnings = append(state.Warnings, warns...)
	trail.degradations(nodeAgents, warns)
	trail.add(nodeAgents, traceKindFinish, "", map[string]any{"hits": models.TotalHits(results)})
	if expired := e.checkDeadline(ctx, trail, nodeAgents, index); expired {
		return nil
	}
	snap.MergedResults = results

	opinions, warns := e.deps.Experts.Consult(ctx, plan.Experts, snap)
	state.Warnings = append(state.Warnings, warns...)
	trail.degradations(nodeExperts, warns)
	trail.add(nodeExperts, traceKindFinish, "", map[string]any{"opinions": len(opinions)})
	if expired := e.checkDeadline(ctx, trail, nodeExperts, index); expired {
		return nil
	}

	answer, warns := e.deps.Synthesizer.Fold(ctx, snap, opinions, plan.SynthesisMode)
	state.Warnings = append(state.Warnings, warns...)
	trail.degradations(nodeSynthesizer, warns)
	trail.add(nodeSynthesizer, traceKindFinish, "", map[string]any{
		"mode":       string(answer.Mode),
		"confidence": answer.Confidence,
		"consensus":  answer.Consensus,
	})
	if expired := e.checkDeadline(ctx, trail, nodeSynthesizer, index); expired {
		return nil
	}

	metrics := models.IterationMetrics{
		Confidence: answer.Confidence,
		Consensus:  answer.Consensus,
	}
	feedback, reviews := e.humanSignals(ctx, state.TraceID, logger)
	if feedback != nil {
		metrics.UserRating = &feedback.Rating
	}
	if e.deps.Quality != nil {
		if score, err := e.deps.Quality.Score(ctx, state.TraceID); err != nil {
			logger.Debug("Community-feedback score unavailable", "error", err)
		} else if score != nil {
			metrics.RLCFScore = score
		}
	}

	state.Frames = append(state.Frames, models.IterationFrame{
		Index:        index,
		Plan:         plan,
		AgentResults: results,
		Opinions:     opinions,
		Answer:       answer,
		Metrics:      metrics,
		Directive:    directive,
		StartedAt:    started,
		CompletedAt:  time.Now(),
	})
	trail.add(nodeIteration, traceKindFinish, "", map[string]any{
		"index":      index,
		"confidence": metrics.Confidence,
		"consensus":  metrics.Consensus,
	})
	logger.Info("Iteration completed",
		"iteration", index,
		"confidence", metrics.Confidence,
		"consensus", metrics.Consensus,
		"hits", models.TotalHits(results),
		"duration_ms", time.Since(started).Milliseconds())

	return &iterationArtifacts{frame: state.CurrentFrame(), feedback: feedback, reviews: reviews}
}

// checkDeadline reports whether the request deadline expired and, if so,
// records where the in-flight pass was abandoned.
func (e *Engine) checkDeadline(ctx context.Context, trail *recorder, node string, index int) bool {
	if ctx.Err() == nil {
		return false
	}
	trail.add(nodeIteration, traceKindDegraded,
		fmt.Sprintf("deadline expired after %s", node), map[string]any{"index": index})
	return true
}

// humanSignals fetches the latest user feedback and the expert reviews for
// the trace. Both reads are best-effort; a missing row is not a failure.
func (e *Engine) humanSignals(ctx context.Context, traceID string, logger *slog.Logger) (*models.UserFeedback, []models.ExpertFeedback) {
	if e.deps.Feedback == nil {
		return nil, nil
	}

	feedback, err := e.deps.Feedback.LatestUserFeedback(ctx, traceID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		logger.Debug("User feedback unavailable", "error", err)
	}
	reviews, err := e.deps.Feedback.ListExpertFeedback(ctx, traceID)
	if err != nil {
		logger.Debug("Expert reviews unavailable", "error", err)
	}
	return feedback, reviews
}

// persistIteration appends the durable record for a completed frame and
// returns it for the result payload. Write failures degrade to warnings.
func (e *Engine) persistIteration(ctx context.Context, state *models.WorkflowState, frame *models.IterationFrame, reason models.StopReason, logger *slog.Logger) models.IterationRecord {
	rec := models.IterationRecord{
		ID:          uuid.New().String(),
		TraceID:     state.TraceID,
		Index:       frame.Index,
		Plan:        frame.Plan,
		Metrics:     frame.Metrics,
		Directive:   frame.Directive,
		StopReason:  reason,
		StartedAt:   frame.StartedAt,
		CompletedAt: frame.CompletedAt,
	}
	if frame.Answer != nil {
		rec.Answer = *frame.Answer
	}

	if e.deps.Stores.Iterations != nil {
		if err := e.deps.Stores.Iterations.Record(ctx, &rec); err != nil {
			logger.Warn("Iteration record write failed", "iteration", frame.Index, "error", err)
			state.AddWarning(models.WarnPersistenceDegraded,
				fmt.Sprintf("iteration %d not recorded: %v", frame.Index, err))
		}
	}
	return rec
}

// finalizeExpired closes a loop cut short by the deadline or a dispatcher
// cancellation: best-seen answer, timeout warning, partial when at least
// one iteration completed and failed otherwise.
func (e *Engine) finalizeExpired(ctx context.Context, state *models.WorkflowState, trail *recorder, records []models.IterationRecord, logger *slog.Logger) *models.WorkflowResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		state.AddWarning(models.WarnTimeout,
			fmt.Sprintf("request deadline exceeded after %d completed iterations", len(state.Frames)))
	} else {
		state.AddWarning(models.WarnTimeout, "request cancelled before completion")
	}

	status := models.StatusPartial
	if len(state.Frames) == 0 {
		status = models.StatusFailed
	}
	return e.complete(ctx, state, trail, records, status, models.StopTimeout, state.BestAnswer(), logger)
}

// complete grades the outcome, writes the terminal records, and builds the
// result. The answer save runs before the request completion so its warning
// still lands on the trace record.
func (e *Engine) complete(ctx context.Context, state *models.WorkflowState, trail *recorder, records []models.IterationRecord, status models.RequestStatus, reason models.StopReason, answer *models.ProvisionalAnswer, logger *slog.Logger) *models.WorkflowResult {
	state.ElapsedMS = time.Since(state.StartedAt).Milliseconds()

	if answer != nil && e.deps.Stores.Answers != nil {
		if err := e.deps.Stores.Answers.Save(ctx, state.TraceID, answer); err != nil {
			logger.Warn("Final answer write failed", "error", err)
			state.AddWarning(models.WarnPersistenceDegraded,
				fmt.Sprintf("final answer not saved: %v", err))
		}
	}

	if e.deps.Stores.Requests != nil {
		now := time.Now()
		record := &models.RequestRecord{
			TraceID:      state.TraceID,
			Status:       status,
			StopReason:   reason,
			Warnings:     state.Warnings,
			QueryContext: state.Context,
			Trace:        trail.events,
			CompletedAt:  &now,
			DurationMS:   state.ElapsedMS,
		}
		if err := e.deps.Stores.Requests.Complete(ctx, record); err != nil {
			logger.Warn("Request record completion failed", "error", err)
			state.AddWarning(models.WarnPersistenceDegraded,
				fmt.Sprintf("request record not completed: %v", err))
		}
	}

	result := &models.WorkflowResult{
		TraceID:    state.TraceID,
		Status:     status,
		StopReason: reason,
		Answer:     answer,
		Iterations: records,
		Warnings:   state.Warnings,
		ElapsedMS:  state.ElapsedMS,
	}
	if state.Options.ReturnTrace {
		result.Trace = trail.events
	}

	logger.Info("Workflow finished",
		"status", status,
		"stop_reason", reason,
		"iterations", len(state.Frames),
		"warnings", len(state.Warnings),
		"duration_ms", state.ElapsedMS)
	return result
}
