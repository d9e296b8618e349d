package services

import (
	"context"
	"testing"
	"time"

	"github.com/legalkit/lexor/pkg/models"
	testutil "github.com/legalkit/lexor/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackService_SaveUserFeedback(t *testing.T) {
	pool := testutil.SetupTestPool(t)
	service := NewFeedbackService(pool)
	ctx := context.Background()

	t.Run("stores rating with categories", func(t *testing.T) {
		seedRequest(t, pool, "trace-user-fb")

		fb := &models.UserFeedback{
			TraceID:            "trace-user-fb",
			Rating:             4.5,
			Comment:            "Chiara ma manca la giurisprudenza recente",
			CategoryRatings:    map[string]float64{"accuracy": 5, "completeness": 4},
			MissingInformation: []string{"ordinanze 2024"},
		}
		require.NoError(t, service.SaveUserFeedback(ctx, fb))
		assert.NotEmpty(t, fb.ID)
		assert.False(t, fb.CreatedAt.IsZero())

		rating, err := service.LatestUserRating(ctx, "trace-user-fb")
		require.NoError(t, err)
		assert.InDelta(t, 4.5, rating, 1e-9)

		full, err := service.LatestUserFeedback(ctx, "trace-user-fb")
		require.NoError(t, err)
		assert.Equal(t, "Chiara ma manca la giurisprudenza recente", full.Comment)
		assert.Equal(t, []string{"ordinanze 2024"}, full.MissingInformation)
		assert.InDelta(t, 5, full.CategoryRatings["accuracy"], 1e-9)
	})

	t.Run("latest rating wins", func(t *testing.T) {
		seedRequest(t, pool, "trace-user-fb-latest")

		earlier := time.Now().UTC().Add(-time.Hour)
		require.NoError(t, service.SaveUserFeedback(ctx, &models.UserFeedback{
			TraceID: "trace-user-fb-latest", Rating: 2, CreatedAt: earlier,
		}))
		require.NoError(t, service.SaveUserFeedback(ctx, &models.UserFeedback{
			TraceID: "trace-user-fb-latest", Rating: 4,
		}))

		rating, err := service.LatestUserRating(ctx, "trace-user-fb-latest")
		require.NoError(t, err)
		assert.InDelta(t, 4, rating, 1e-9)
	})

	t.Run("rejects out-of-range rating", func(t *testing.T) {
		err := service.SaveUserFeedback(ctx, &models.UserFeedback{TraceID: "trace-user-fb", Rating: 5.5})
		assert.True(t, IsValidationError(err))

		err = service.SaveUserFeedback(ctx, &models.UserFeedback{TraceID: "trace-user-fb", Rating: 0})
		assert.True(t, IsValidationError(err))
	})

	t.Run("unknown trace maps to not found", func(t *testing.T) {
		err := service.SaveUserFeedback(ctx, &models.UserFeedback{TraceID: "trace-ghost", Rating: 3})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no rating yet", func(t *testing.T) {
		seedRequest(t, pool, "trace-user-fb-none")
		_, err := service.LatestUserRating(ctx, "trace-user-fb-none")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = service.LatestUserFeedback(ctx, "trace-user-fb-none")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFeedbackService_SaveExpertFeedback(t *testing.T) {
	pool := testutil.SetupTestPool(t)
	service := NewFeedbackService(pool)
	ctx := context.Background()

	t.Run("stores review and lists newest first", func(t *testing.T) {
		seedRequest(t, pool, "trace-expert-fb")

		older := &models.ExpertFeedback{
			TraceID:         "trace-expert-fb",
			ExpertID:        "prof-rossi",
			AuthorityWeight: 2.0,
			OverallRating:   0.9,
			Corrections:     models.ExpertCorrections{AnswerQuality: "solida"},
			CreatedAt:       time.Now().UTC().Add(-time.Hour),
		}
		require.NoError(t, service.SaveExpertFeedback(ctx, older))
		require.NoError(t, service.SaveExpertFeedback(ctx, &models.ExpertFeedback{
			TraceID:         "trace-expert-fb",
			ExpertID:        "avv-bianchi",
			AuthorityWeight: 1.0,
			OverallRating:   0.6,
			Corrections:     models.ExpertCorrections{RoutingDecision: "manca l'agente grafo"},
		}))

		reviews, err := service.ListExpertFeedback(ctx, "trace-expert-fb")
		require.NoError(t, err)
		require.Len(t, reviews, 2)
		assert.Equal(t, "avv-bianchi", reviews[0].ExpertID)
		assert.Equal(t, "manca l'agente grafo", reviews[0].Corrections.RoutingDecision)
		assert.Equal(t, "prof-rossi", reviews[1].ExpertID)
	})

	t.Run("weighted score favors authority", func(t *testing.T) {
		// (0.9*2 + 0.6*1) / 3 = 0.8
		score, err := service.WeightedExpertScore(ctx, "trace-expert-fb")
		require.NoError(t, err)
		assert.InDelta(t, 0.8, score, 1e-9)
	})

	t.Run("no reviews yet", func(t *testing.T) {
		seedRequest(t, pool, "trace-expert-fb-none")
		_, err := service.WeightedExpertScore(ctx, "trace-expert-fb-none")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rating-only reviews do not count as corrections", func(t *testing.T) {
		require.NoError(t, service.SaveExpertFeedback(ctx, &models.ExpertFeedback{
			TraceID:         "trace-expert-fb",
			ExpertID:        "prof-verdi",
			AuthorityWeight: 1.0,
			OverallRating:   0.7,
		}))

		count, err := service.CountExpertCorrectionsSince(ctx, time.Now().UTC().Add(-2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		count, err = service.CountExpertCorrectionsSince(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("validation", func(t *testing.T) {
		err := service.SaveExpertFeedback(ctx, &models.ExpertFeedback{
			TraceID: "trace-expert-fb", ExpertID: "x", AuthorityWeight: 1, OverallRating: 1.2,
		})
		assert.True(t, IsValidationError(err))

		err = service.SaveExpertFeedback(ctx, &models.ExpertFeedback{
			TraceID: "trace-expert-fb", ExpertID: "x", AuthorityWeight: 0, OverallRating: 0.5,
		})
		assert.True(t, IsValidationError(err))

		err = service.SaveExpertFeedback(ctx, &models.ExpertFeedback{
			TraceID: "trace-expert-fb", AuthorityWeight: 1, OverallRating: 0.5,
		})
		assert.True(t, IsValidationError(err))
	})
}

func TestFeedbackService_SaveEntityFeedback(t *testing.T) {
	pool := testutil.SetupTestPool(t)
	service := NewFeedbackService(pool)
	ctx := context.Background()

	t.Run("stores correction span", func(t *testing.T) {
		seedRequest(t, pool, "trace-entity-fb")

		fb := &models.EntityFeedback{
			TraceID: "trace-entity-fb",
			Kind:    models.CorrectionWrongBoundary,
			Span: models.EntitySpan{
				Text:         "art. 1341 c.c.",
				Start:        10,
				End:          24,
				CorrectLabel: "norm_reference",
			},
		}
		require.NoError(t, service.SaveEntityFeedback(ctx, fb))
		assert.NotEmpty(t, fb.ID)
	})

	t.Run("counts corrections since cutoff", func(t *testing.T) {
		seedRequest(t, pool, "trace-entity-fb-count")

		for _, kind := range []models.EntityCorrectionKind{
			models.CorrectionMissingEntity,
			models.CorrectionSpuriousEntity,
		} {
			require.NoError(t, service.SaveEntityFeedback(ctx, &models.EntityFeedback{
				TraceID: "trace-entity-fb-count",
				Kind:    kind,
				Span:    models.EntitySpan{Text: "legge 241/1990"},
			}))
		}

		count, err := service.CountEntityCorrectionsSince(ctx, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, 2)

		count, err = service.CountEntityCorrectionsSince(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("rejects unknown kind and empty span", func(t *testing.T) {
		err := service.SaveEntityFeedback(ctx, &models.EntityFeedback{
			TraceID: "trace-entity-fb",
			Kind:    models.EntityCorrectionKind("typo"),
			Span:    models.EntitySpan{Text: "x"},
		})
		assert.True(t, IsValidationError(err))

		err = service.SaveEntityFeedback(ctx, &models.EntityFeedback{
			TraceID: "trace-entity-fb",
			Kind:    models.CorrectionWrongType,
		})
		assert.True(t, IsValidationError(err))
	})
}
