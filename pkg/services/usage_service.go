package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legalkit/lexor/pkg/models"
)

// UsageService appends gate log entries. Rows are written from a detached
// goroutine after the response is sent, so writes use their own deadline.
type UsageService struct {
	pool *pgxpool.Pool
}

// NewUsageService creates a new UsageService
func NewUsageService(pool *pgxpool.Pool) *UsageService {
	return &UsageService{pool: pool}
}

// Record appends one usage row.
func (s *UsageService) Record(_ context.Context, rec *models.UsageRecord) error {
	if rec.CredentialID == "" {
		return NewValidationError("credential_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), criticalWriteTimeout)
	defer cancel()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_records (credential_id, endpoint, method, status_code, duration_ms, client_addr, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.CredentialID, rec.Endpoint, rec.Method, rec.StatusCode,
		rec.DurationMS, nullable(rec.ClientAddr), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// CountSince counts a credential's usage rows newer than the cutoff. This is
// the durable complement of the Redis window used by the stats endpoint.
func (s *UsageService) CountSince(ctx context.Context, credentialID string, since time.Time) (int, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE credential_id = $1 AND created_at >= $2`,
		credentialID, since)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes usage rows older than the cutoff.
func (s *UsageService) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM usage_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old usage records: %w", err)
	}
	return tag.RowsAffected(), nil
}
