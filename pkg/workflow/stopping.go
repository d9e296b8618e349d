package workflow

import (
	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/models"
)

// Verdict is the controller's decision after one completed iteration.
type Verdict struct {
	Stop   bool
	Reason models.StopReason
}

// Controller applies the stopping criteria in priority order after each
// synthesis. The first matching criterion wins; when none matches the loop
// continues with a refinement directive.
type Controller struct {
	window     int
	thresholds config.StopThresholds
}

// NewController builds a controller from the loop bounds. The convergence
// window never drops below two frames.
func NewController(cfg *config.IterationConfig) *Controller {
	window := cfg.ConvergenceWindow
	if window < 2 {
		window = 2
	}
	return &Controller{window: window, thresholds: cfg.Stop}
}

// Evaluate judges the frames accumulated so far. maxIterations is the
// per-request cap, which request options may set below the configured
// maximum. Called only after a frame has been appended.
func (c *Controller) Evaluate(state *models.WorkflowState, maxIterations int) Verdict {
	cur := state.CurrentFrame()
	if cur == nil {
		return Verdict{}
	}

	if cur.Index >= maxIterations {
		return Verdict{Stop: true, Reason: models.StopMaxIterations}
	}
	if cur.Metrics.Confidence >= c.thresholds.Confidence &&
		cur.Metrics.Consensus >= c.thresholds.Consensus {
		return Verdict{Stop: true, Reason: models.StopHighQuality}
	}
	if cur.Metrics.RLCFScore != nil && *cur.Metrics.RLCFScore >= c.thresholds.Quality {
		return Verdict{Stop: true, Reason: models.StopRLCFApproved}
	}
	if cur.Metrics.UserRating != nil && *cur.Metrics.UserRating >= c.thresholds.UserRating {
		return Verdict{Stop: true, Reason: models.StopUserSatisfied}
	}

	if len(state.Frames) >= 2 {
		prev := state.Frames[len(state.Frames)-2]
		dConf := cur.Metrics.Confidence - prev.Metrics.Confidence
		dCons := cur.Metrics.Consensus - prev.Metrics.Consensus
		if (dConf+dCons)/2 < c.thresholds.ImprovementDelta {
			return Verdict{Stop: true, Reason: models.StopNoImprovement}
		}
	}

	if len(state.Frames) >= c.window {
		recent := state.Frames[len(state.Frames)-c.window:]
		if spread(recent, confidenceOf) < c.thresholds.ImprovementDelta &&
			spread(recent, consensusOf) < c.thresholds.ImprovementDelta {
			return Verdict{Stop: true, Reason: models.StopConverged}
		}
	}

	return Verdict{}
}

func confidenceOf(f models.IterationFrame) float64 { return f.Metrics.Confidence }
func consensusOf(f models.IterationFrame) float64  { return f.Metrics.Consensus }

func spread(frames []models.IterationFrame, metric func(models.IterationFrame) float64) float64 {
	min, max := metric(frames[0]), metric(frames[0])
	for _, f := range frames[1:] {
		v := metric(f)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}
