// Package rlcf evaluates community feedback. External-expert reviews
// aggregate into an authority-weighted quality score per trace, read by the
// iteration controller; accumulated corrections drive the retrain signal
// returned by the expert-feedback endpoint.
package rlcf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/services"
)

// FeedbackStore is the persistence surface the evaluator reads and writes.
type FeedbackStore interface {
	SaveExpertFeedback(ctx context.Context, fb *models.ExpertFeedback) error
	WeightedExpertScore(ctx context.Context, traceID string) (float64, error)
	CountExpertCorrectionsSince(ctx context.Context, since time.Time) (int, error)
	CountEntityCorrectionsSince(ctx context.Context, since time.Time) (int, error)
}

// Review is an external-expert submission as received on the wire, with the
// overall rating still on the 1..5 review scale.
type Review struct {
	TraceID         string
	ExpertID        string
	AuthorityWeight float64
	Corrections     models.ExpertCorrections
	OverallRating   float64
}

// Evaluator turns stored expert reviews into the per-trace quality score and
// decides when accumulated corrections cross the retrain threshold.
type Evaluator struct {
	store  FeedbackStore
	cfg    *config.RLCFConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewEvaluator wires the community-feedback evaluation.
func NewEvaluator(store FeedbackStore, cfg *config.RLCFConfig, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "rlcf"),
		now:    time.Now,
	}
}

// RecordReview normalizes and stores one expert review, then reports whether
// the retrain threshold is now crossed. A failed threshold check does not
// fail the submission: the review is already durable at that point.
func (e *Evaluator) RecordReview(ctx context.Context, rev Review) (string, bool, error) {
	fb := &models.ExpertFeedback{
		TraceID:         rev.TraceID,
		ExpertID:        rev.ExpertID,
		AuthorityWeight: rev.AuthorityWeight,
		Corrections:     rev.Corrections,
		OverallRating:   NormalizeRating(rev.OverallRating),
	}
	if err := e.store.SaveExpertFeedback(ctx, fb); err != nil {
		return "", false, err
	}

	crossed, err := e.RetrainDue(ctx)
	if err != nil {
		e.logger.Warn("Retrain threshold check failed", "trace_id", rev.TraceID, "error", err)
		return fb.ID, false, nil
	}
	if crossed {
		e.logger.Info("Retrain threshold crossed",
			"threshold", e.cfg.RetrainThreshold,
			"window", e.cfg.RetrainWindow)
	}
	return fb.ID, crossed, nil
}

// Score returns the authority-weighted quality score for a trace, or nil
// when no expert has reviewed it yet.
func (e *Evaluator) Score(ctx context.Context, traceID string) (*float64, error) {
	score, err := e.store.WeightedExpertScore(ctx, traceID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to evaluate trace %s: %w", traceID, err)
	}
	return &score, nil
}

// RetrainDue reports whether the corrections accumulated inside the rolling
// window have reached the retrain threshold. Expert and entity corrections
// both count.
func (e *Evaluator) RetrainDue(ctx context.Context) (bool, error) {
	since := e.now().Add(-e.cfg.RetrainWindow)

	expert, err := e.store.CountExpertCorrectionsSince(ctx, since)
	if err != nil {
		return false, fmt.Errorf("failed to count expert corrections: %w", err)
	}
	entity, err := e.store.CountEntityCorrectionsSince(ctx, since)
	if err != nil {
		return false, fmt.Errorf("failed to count entity corrections: %w", err)
	}
	return expert+entity >= e.cfg.RetrainThreshold, nil
}

// NormalizeRating maps a 1..5 review rating onto the unit quality scale
// stored with the feedback and compared by the stopping criteria.
func NormalizeRating(rating float64) float64 {
	score := (rating - 1) / 4
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
