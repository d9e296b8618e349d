package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legalkit/lexor/pkg/models"
)

// AnswerService stores the final answer of a trace, one row per trace.
// Saving again replaces the previous answer: the latest iteration wins.
type AnswerService struct {
	pool *pgxpool.Pool
}

// NewAnswerService creates a new AnswerService
func NewAnswerService(pool *pgxpool.Pool) *AnswerService {
	return &AnswerService{pool: pool}
}

// Save upserts the final answer for a trace.
func (s *AnswerService) Save(_ context.Context, traceID string, answer *models.ProvisionalAnswer) error {
	if traceID == "" {
		return NewValidationError("trace_id", "required")
	}
	if answer == nil || answer.Content == "" {
		return NewValidationError("content", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), criticalWriteTimeout)
	defer cancel()

	provenance, err := marshalNullable(answer.Provenance)
	if err != nil {
		return fmt.Errorf("failed to marshal provenance: %w", err)
	}
	experts, err := marshalNullable(answer.ExpertsConsulted)
	if err != nil {
		return fmt.Errorf("failed to marshal experts: %w", err)
	}
	alternatives, err := marshalNullable(answer.Alternatives)
	if err != nil {
		return fmt.Errorf("failed to marshal alternatives: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO answers (id, trace_id, content, mode, confidence, consensus,
		                      provenance, experts_consulted, alternatives, uncertainty_preserved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (trace_id) DO UPDATE SET
		     content = EXCLUDED.content,
		     mode = EXCLUDED.mode,
		     confidence = EXCLUDED.confidence,
		     consensus = EXCLUDED.consensus,
		     provenance = EXCLUDED.provenance,
		     experts_consulted = EXCLUDED.experts_consulted,
		     alternatives = EXCLUDED.alternatives,
		     uncertainty_preserved = EXCLUDED.uncertainty_preserved`,
		uuid.New().String(), traceID, answer.Content, string(answer.Mode),
		answer.Confidence, answer.Consensus, provenance, experts, alternatives,
		answer.UncertaintyPreserved)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to save answer: %w", err)
	}
	return nil
}

// GetByTrace returns the final answer of a trace.
func (s *AnswerService) GetByTrace(ctx context.Context, traceID string) (*models.ProvisionalAnswer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT content, mode, confidence, consensus, provenance, experts_consulted,
		        alternatives, uncertainty_preserved
		 FROM answers WHERE trace_id = $1`, traceID)

	var (
		answer       models.ProvisionalAnswer
		mode         string
		provenance   []byte
		experts      []byte
		alternatives []byte
	)
	err := row.Scan(&answer.Content, &mode, &answer.Confidence, &answer.Consensus,
		&provenance, &experts, &alternatives, &answer.UncertaintyPreserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}

	answer.Mode = models.SynthesisMode(mode)
	if err := unmarshalNullable(provenance, &answer.Provenance); err != nil {
		return nil, fmt.Errorf("failed to decode provenance: %w", err)
	}
	if err := unmarshalNullable(experts, &answer.ExpertsConsulted); err != nil {
		return nil, fmt.Errorf("failed to decode experts: %w", err)
	}
	if err := unmarshalNullable(alternatives, &answer.Alternatives); err != nil {
		return nil, fmt.Errorf("failed to decode alternatives: %w", err)
	}
	return &answer, nil
}
