package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legalkit/lexor/pkg/models"
)

// criticalWriteTimeout bounds the terminal persistence writes that must not
// inherit the request context: an aborted HTTP request still leaves a record.
const criticalWriteTimeout = 10 * time.Second

// RequestService manages the request trace records: one row per trace,
// written at admission and completed exactly once at termination.
type RequestService struct {
	pool *pgxpool.Pool
}

// NewRequestService creates a new RequestService
func NewRequestService(pool *pgxpool.Pool) *RequestService {
	return &RequestService{pool: pool}
}

// Create inserts the admission record with status running. The query text
// must already be masked by the caller.
func (s *RequestService) Create(_ context.Context, rec *models.RequestRecord) error {
	if rec.TraceID == "" {
		return NewValidationError("trace_id", "required")
	}
	if rec.Query == "" {
		return NewValidationError("query", "required")
	}

	// Detached context: admission records survive client disconnects.
	ctx, cancel := context.WithTimeout(context.Background(), criticalWriteTimeout)
	defer cancel()

	hints, err := marshalNullable(rec.Hints)
	if err != nil {
		return fmt.Errorf("failed to marshal hints: %w", err)
	}
	options, err := json.Marshal(rec.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO requests (trace_id, credential_id, session_id, query, hints, options, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.TraceID, nullable(rec.CredentialID), nullable(rec.SessionID), rec.Query,
		hints, options, string(rec.Status), rec.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create request record: %w", err)
	}
	return nil
}

// Complete finalizes the trace record with the terminal status, warnings,
// and the execution trace. Detached from the caller context for the same
// reason as Create.
func (s *RequestService) Complete(_ context.Context, rec *models.RequestRecord) error {
	if rec.TraceID == "" {
		return NewValidationError("trace_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), criticalWriteTimeout)
	defer cancel()

	warnings, err := marshalNullable(rec.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}
	queryContext, err := marshalNullable(rec.QueryContext)
	if err != nil {
		return fmt.Errorf("failed to marshal query context: %w", err)
	}
	trace, err := marshalNullable(rec.Trace)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE requests
		 SET status = $2, stop_reason = $3, warnings = $4, query_context = $5,
		     trace = $6, completed_at = $7, duration_ms = $8
		 WHERE trace_id = $1`,
		rec.TraceID, string(rec.Status), nullable(string(rec.StopReason)),
		warnings, queryContext, trace, rec.CompletedAt, rec.DurationMS)
	if err != nil {
		return fmt.Errorf("failed to complete request record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the trace record for a trace id.
func (s *RequestService) Get(ctx context.Context, traceID string) (*models.RequestRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT trace_id, credential_id, session_id, query, hints, options, status,
		        stop_reason, warnings, query_context, trace, started_at, completed_at, duration_ms
		 FROM requests WHERE trace_id = $1`, traceID)

	var (
		rec          models.RequestRecord
		credentialID *string
		sessionID    *string
		stopReason   *string
		hints        []byte
		options      []byte
		warnings     []byte
		queryContext []byte
		trace        []byte
	)
	err := row.Scan(&rec.TraceID, &credentialID, &sessionID, &rec.Query, &hints, &options,
		&rec.Status, &stopReason, &warnings, &queryContext, &trace,
		&rec.StartedAt, &rec.CompletedAt, &rec.DurationMS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request record: %w", err)
	}

	rec.CredentialID = deref(credentialID)
	rec.SessionID = deref(sessionID)
	if stopReason != nil {
		rec.StopReason = models.StopReason(*stopReason)
	}
	if err := unmarshalNullable(hints, &rec.Hints); err != nil {
		return nil, fmt.Errorf("failed to decode hints: %w", err)
	}
	if err := unmarshalNullable(options, &rec.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if err := unmarshalNullable(warnings, &rec.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode warnings: %w", err)
	}
	if err := unmarshalNullable(queryContext, &rec.QueryContext); err != nil {
		return nil, fmt.Errorf("failed to decode query context: %w", err)
	}
	if err := unmarshalNullable(trace, &rec.Trace); err != nil {
		return nil, fmt.Errorf("failed to decode trace: %w", err)
	}
	return &rec, nil
}

// DeleteOlderThan removes completed request records started before the
// cutoff. Iterations, answers, and feedback cascade with the request row.
func (s *RequestService) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM requests WHERE started_at < $1 AND status != $2`,
		cutoff, string(models.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old request records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// marshalNullable encodes v as JSON, mapping nil-ish values to SQL NULL.
func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

// unmarshalNullable decodes JSONB bytes into target, leaving it untouched
// for SQL NULL.
func unmarshalNullable(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
