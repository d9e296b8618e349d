package experts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/models"
)

// Panel holds the registered experts and fans a plan's selection out over
// them.
type Panel struct {
	experts map[models.ExpertTag]Expert
	timeout time.Duration
	logger  *slog.Logger
}

// NewPanel registers the given experts.
func NewPanel(cfg *config.Config, logger *slog.Logger, list ...Expert) *Panel {
	byTag := make(map[models.ExpertTag]Expert, len(list))
	for _, e := range list {
		byTag[e.Tag()] = e
	}
	return &Panel{
		experts: byTag,
		timeout: cfg.Timeouts.Expert,
		logger:  logger.With("component", "experts"),
	}
}

// Consult runs every selected expert concurrently under the per-expert
// timeout, sharing the caller's cancellation. Opinions come back in the
// plan's tag order regardless of completion order; each degraded opinion is
// mirrored as an expert-degraded warning.
func (p *Panel) Consult(ctx context.Context, tags []models.ExpertTag, snap models.Snapshot) ([]models.ExpertOpinion, []models.Warning) {
	opinions := make([]models.ExpertOpinion, len(tags))

	var wg sync.WaitGroup
	for i, tag := range tags {
		expert, ok := p.experts[tag]
		if !ok {
			opinions[i] = minimalOpinion(tag, "expert not available")
			continue
		}

		wg.Add(1)
		go func(i int, expert Expert) {
			defer wg.Done()
			ectx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			started := time.Now()
			opinions[i] = expert.Review(ectx, snap)
			p.logger.Debug("Expert finished",
				"trace_id", snap.TraceID,
				"expert", expert.Tag(),
				"degraded", opinions[i].Degraded(),
				"elapsed_ms", time.Since(started).Milliseconds())
		}(i, expert)
	}
	wg.Wait()

	var warnings []models.Warning
	for i := range opinions {
		if opinions[i].Degraded() {
			warnings = append(warnings, models.Warning{
				Code:    models.WarnExpertDegraded,
				Message: fmt.Sprintf("%s expert: %s", opinions[i].Expert, opinions[i].Error),
			})
		}
	}
	return opinions, warnings
}
