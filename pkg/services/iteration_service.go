package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legalkit/lexor/pkg/models"
)

// IterationService appends per-iteration records. Indexes are 1-based and
// gapless per trace; the unique constraint on (trace_id, idx) backs that.
type IterationService struct {
	pool *pgxpool.Pool
}

// NewIterationService creates a new IterationService
func NewIterationService(pool *pgxpool.Pool) *IterationService {
	return &IterationService{pool: pool}
}

// Record appends one iteration outcome. The record id is assigned here.
func (s *IterationService) Record(_ context.Context, rec *models.IterationRecord) error {
	if rec.TraceID == "" {
		return NewValidationError("trace_id", "required")
	}
	if rec.Index < 1 {
		return NewValidationError("index", "must be 1-based")
	}

	ctx, cancel := context.WithTimeout(context.Background(), criticalWriteTimeout)
	defer cancel()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	plan, err := json.Marshal(rec.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	answer, err := json.Marshal(rec.Answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	directive, err := marshalNullable(rec.Directive)
	if err != nil {
		return fmt.Errorf("failed to marshal directive: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO iterations (id, trace_id, idx, plan, answer, metrics, directive, stop_reason, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.TraceID, rec.Index, plan, answer, metrics, directive,
		nullable(string(rec.StopReason)), rec.StartedAt, rec.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to record iteration: %w", err)
	}
	return nil
}

// ListByTrace returns the iterations of a trace ordered by index.
func (s *IterationService) ListByTrace(ctx context.Context, traceID string) ([]models.IterationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trace_id, idx, plan, answer, metrics, directive, stop_reason, started_at, completed_at
		 FROM iterations WHERE trace_id = $1 ORDER BY idx`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	defer rows.Close()

	var records []models.IterationRecord
	for rows.Next() {
		var (
			rec        models.IterationRecord
			plan       []byte
			answer     []byte
			metrics    []byte
			directive  []byte
			stopReason *string
		)
		if err := rows.Scan(&rec.ID, &rec.TraceID, &rec.Index, &plan, &answer,
			&metrics, &directive, &stopReason, &rec.StartedAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if err := json.Unmarshal(plan, &rec.Plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}
		if err := json.Unmarshal(answer, &rec.Answer); err != nil {
			return nil, fmt.Errorf("failed to decode answer: %w", err)
		}
		if err := json.Unmarshal(metrics, &rec.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
		if err := unmarshalNullable(directive, &rec.Directive); err != nil {
			return nil, fmt.Errorf("failed to decode directive: %w", err)
		}
		if stopReason != nil {
			rec.StopReason = models.StopReason(*stopReason)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
