package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legalkit/lexor/pkg/models"
)

// FeedbackService stores the three feedback record types and serves the
// aggregations the iteration controller and the community-feedback scoring
// read back.
type FeedbackService struct {
	pool *pgxpool.Pool
}

// NewFeedbackService creates a new FeedbackService
func NewFeedbackService(pool *pgxpool.Pool) *FeedbackService {
	return &FeedbackService{pool: pool}
}

// SaveUserFeedback stores an end-user rating for a trace.
func (s *FeedbackService) SaveUserFeedback(ctx context.Context, fb *models.UserFeedback) error {
	if fb.TraceID == "" {
		return NewValidationError("trace_id", "required")
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return NewValidationError("rating", "must be between 1 and 5")
	}

	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}

	categories, err := marshalNullable(fb.CategoryRatings)
	if err != nil {
		return fmt.Errorf("failed to marshal category ratings: %w", err)
	}
	missing, err := marshalNullable(fb.MissingInformation)
	if err != nil {
		return fmt.Errorf("failed to marshal missing information: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_feedback (id, trace_id, rating, comment, category_ratings, missing_information, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fb.ID, fb.TraceID, fb.Rating, nullable(fb.Comment), categories, missing, fb.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to save user feedback: %w", err)
	}
	return nil
}

// SaveExpertFeedback stores an authority-weighted expert review.
func (s *FeedbackService) SaveExpertFeedback(ctx context.Context, fb *models.ExpertFeedback) error {
	if fb.TraceID == "" {
		return NewValidationError("trace_id", "required")
	}
	if fb.ExpertID == "" {
		return NewValidationError("expert_id", "required")
	}
	if fb.OverallRating < 0 || fb.OverallRating > 1 {
		return NewValidationError("overall_rating", "must be between 0 and 1")
	}
	if fb.AuthorityWeight <= 0 {
		return NewValidationError("authority_weight", "must be positive")
	}

	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}

	corrections, err := json.Marshal(fb.Corrections)
	if err != nil {
		return fmt.Errorf("failed to marshal corrections: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO expert_feedback (id, trace_id, expert_id, authority_weight, corrections, overall_rating, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fb.ID, fb.TraceID, fb.ExpertID, fb.AuthorityWeight, corrections, fb.OverallRating, fb.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to save expert feedback: %w", err)
	}
	return nil
}

// SaveEntityFeedback stores an entity-extraction correction.
func (s *FeedbackService) SaveEntityFeedback(ctx context.Context, fb *models.EntityFeedback) error {
	if fb.TraceID == "" {
		return NewValidationError("trace_id", "required")
	}
	if !fb.Kind.IsValid() {
		return NewValidationError("kind", "unknown correction kind")
	}
	if fb.Span.Text == "" {
		return NewValidationError("span.text", "required")
	}

	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}

	span, err := json.Marshal(fb.Span)
	if err != nil {
		return fmt.Errorf("failed to marshal span: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO entity_feedback (id, trace_id, kind, span, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		fb.ID, fb.TraceID, string(fb.Kind), span, fb.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to save entity feedback: %w", err)
	}
	return nil
}

// LatestUserRating returns the most recent user rating for a trace, or
// ErrNotFound when none has been recorded.
func (s *FeedbackService) LatestUserRating(ctx context.Context, traceID string) (float64, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT rating FROM user_feedback WHERE trace_id = $1 ORDER BY created_at DESC LIMIT 1`,
		traceID)

	var rating float64
	if err := row.Scan(&rating); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get latest user rating: %w", err)
	}
	return rating, nil
}

// LatestUserFeedback returns the most recent user feedback for a trace, or
// ErrNotFound when none has been recorded. The refinement-directive builder
// reads the missing-information items from it between iterations.
func (s *FeedbackService) LatestUserFeedback(ctx context.Context, traceID string) (*models.UserFeedback, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, trace_id, rating, comment, category_ratings, missing_information, created_at
		 FROM user_feedback WHERE trace_id = $1 ORDER BY created_at DESC LIMIT 1`,
		traceID)

	var (
		fb         models.UserFeedback
		comment    *string
		categories []byte
		missing    []byte
	)
	if err := row.Scan(&fb.ID, &fb.TraceID, &fb.Rating, &comment, &categories, &missing, &fb.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest user feedback: %w", err)
	}
	fb.Comment = deref(comment)
	if err := unmarshalNullable(categories, &fb.CategoryRatings); err != nil {
		return nil, fmt.Errorf("failed to decode category ratings: %w", err)
	}
	if err := unmarshalNullable(missing, &fb.MissingInformation); err != nil {
		return nil, fmt.Errorf("failed to decode missing information: %w", err)
	}
	return &fb, nil
}

// WeightedExpertScore returns the authority-weighted mean of expert ratings
// for a trace, or ErrNotFound when no expert has reviewed it.
func (s *FeedbackService) WeightedExpertScore(ctx context.Context, traceID string) (float64, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT SUM(overall_rating * authority_weight) / SUM(authority_weight)
		 FROM expert_feedback WHERE trace_id = $1`, traceID)

	var score *float64
	if err := row.Scan(&score); err != nil {
		return 0, fmt.Errorf("failed to get weighted expert score: %w", err)
	}
	if score == nil {
		return 0, ErrNotFound
	}
	return *score, nil
}

// ListExpertFeedback returns all expert reviews for a trace, newest first.
func (s *FeedbackService) ListExpertFeedback(ctx context.Context, traceID string) ([]models.ExpertFeedback, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trace_id, expert_id, authority_weight, corrections, overall_rating, created_at
		 FROM expert_feedback WHERE trace_id = $1 ORDER BY created_at DESC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list expert feedback: %w", err)
	}
	defer rows.Close()

	var feedback []models.ExpertFeedback
	for rows.Next() {
		var (
			fb          models.ExpertFeedback
			corrections []byte
		)
		if err := rows.Scan(&fb.ID, &fb.TraceID, &fb.ExpertID, &fb.AuthorityWeight,
			&corrections, &fb.OverallRating, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expert feedback: %w", err)
		}
		if err := unmarshalNullable(corrections, &fb.Corrections); err != nil {
			return nil, fmt.Errorf("failed to decode corrections: %w", err)
		}
		feedback = append(feedback, fb)
	}
	return feedback, rows.Err()
}

// CountEntityCorrectionsSince counts entity corrections newer than the
// cutoff. The community-feedback retrain signal uses this to decide when
// enough corrections have accumulated.
func (s *FeedbackService) CountEntityCorrectionsSince(ctx context.Context, since time.Time) (int, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM entity_feedback WHERE created_at >= $1`, since)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entity corrections: %w", err)
	}
	return count, nil
}

// CountExpertCorrectionsSince counts expert reviews newer than the cutoff
// that carry at least one structured correction. Reviews that only rate the
// answer do not signal retraining.
func (s *FeedbackService) CountExpertCorrectionsSince(ctx context.Context, since time.Time) (int, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM expert_feedback WHERE created_at >= $1 AND corrections <> '{}'::jsonb`, since)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count expert corrections: %w", err)
	}
	return count, nil
}
