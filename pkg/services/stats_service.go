package services

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// SystemStats is the aggregate view served by the admin stats endpoint.
type SystemStats struct {
	TotalRequests    int64            `json:"total_requests"`
	RequestsLast24h  int64            `json:"requests_last_24h"`
	RequestsByStatus map[string]int64 `json:"requests_by_status"`
	StopReasons      map[string]int64 `json:"stop_reasons"`
	AvgDurationMS    float64          `json:"avg_duration_ms"`
	AvgIterations    float64          `json:"avg_iterations"`
	AvgConfidence    float64          `json:"avg_confidence"`
	UserFeedback     int64            `json:"user_feedback"`
	ExpertFeedback   int64            `json:"expert_feedback"`
	EntityFeedback   int64            `json:"entity_feedback"`
}

// StatsService computes aggregate statistics over the persisted records.
type StatsService struct {
	pool *pgxpool.Pool
}

// NewStatsService creates a new StatsService
func NewStatsService(pool *pgxpool.Pool) *StatsService {
	return &StatsService{pool: pool}
}

// Overview collects the system-wide aggregates. The queries run concurrently;
// each goroutine owns distinct fields of the result, so g.Wait is the only
// synchronization needed.
func (s *StatsService) Overview(ctx context.Context) (*SystemStats, error) {
	stats := &SystemStats{
		RequestsByStatus: make(map[string]int64),
		StopReasons:      make(map[string]int64),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := s.pool.Query(gctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
		if err != nil {
			return fmt.Errorf("failed to count requests by status: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var count int64
			if err := rows.Scan(&status, &count); err != nil {
				return fmt.Errorf("failed to scan status count: %w", err)
			}
			stats.RequestsByStatus[status] = count
			stats.TotalRequests += count
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := s.pool.Query(gctx,
			`SELECT stop_reason, COUNT(*) FROM requests WHERE stop_reason IS NOT NULL GROUP BY stop_reason`)
		if err != nil {
			return fmt.Errorf("failed to count stop reasons: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var reason string
			var count int64
			if err := rows.Scan(&reason, &count); err != nil {
				return fmt.Errorf("failed to scan stop reason count: %w", err)
			}
			stats.StopReasons[reason] = count
		}
		return rows.Err()
	})

	scalars := []struct {
		query string
		dest  any
		label string
	}{
		{`SELECT COUNT(*) FROM requests WHERE started_at >= now() - interval '24 hours'`,
			&stats.RequestsLast24h, "recent requests"},
		{`SELECT COALESCE(AVG(duration_ms), 0) FROM requests WHERE completed_at IS NOT NULL`,
			&stats.AvgDurationMS, "average duration"},
		{`SELECT COALESCE(AVG(n), 0) FROM (SELECT COUNT(*) AS n FROM iterations GROUP BY trace_id) per_trace`,
			&stats.AvgIterations, "average iterations"},
		{`SELECT COALESCE(AVG(confidence), 0) FROM answers`,
			&stats.AvgConfidence, "average confidence"},
		{`SELECT COUNT(*) FROM user_feedback`, &stats.UserFeedback, "user feedback"},
		{`SELECT COUNT(*) FROM expert_feedback`, &stats.ExpertFeedback, "expert feedback"},
		{`SELECT COUNT(*) FROM entity_feedback`, &stats.EntityFeedback, "entity feedback"},
	}
	for _, sc := range scalars {
		g.Go(func() error {
			if err := s.pool.QueryRow(gctx, sc.query).Scan(sc.dest); err != nil {
				return fmt.Errorf("failed to compute %s: %w", sc.label, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}
