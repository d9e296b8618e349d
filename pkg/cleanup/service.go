// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/services"
)

// sweepTimeout bounds one retention pass so a shutdown never waits on a
// runaway DELETE.
const sweepTimeout = time.Minute

// Service periodically enforces retention policies:
//   - Deletes completed request records past their window (iterations,
//     answers, and feedback cascade with the request row)
//   - Deletes gate usage rows past their window
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config   *config.RetentionConfig
	requests *services.RequestService
	usage    *services.UsageService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	requests *services.RequestService,
	usage *services.UsageService,
) *Service {
	return &Service{
		config:   cfg,
		requests: requests,
		usage:    usage,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"request_retention_days", s.config.RequestRetentionDays,
		"usage_retention_days", s.config.UsageRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(_ context.Context) {
	s.pruneRequests()
	s.pruneUsage()
}

// Sweeps run detached from the loop context so a shutdown signal does not
// abort a DELETE already in flight.
func (s *Service) pruneRequests() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.RequestRetentionDays)
	count, err := s.requests.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: request sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old request records", "count", count)
	}
}

func (s *Service) pruneUsage() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.UsageRetentionDays)
	count, err := s.usage.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: usage sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old usage rows", "count", count)
	}
}
