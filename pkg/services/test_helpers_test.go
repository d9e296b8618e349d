package services

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/stretchr/testify/require"
)

// seedRequest inserts a minimal admitted request so rows carrying a trace_id
// foreign key have a parent.
func seedRequest(t *testing.T, pool *pgxpool.Pool, traceID string) *models.RequestRecord {
	t.Helper()

	rec := &models.RequestRecord{
		TraceID:      traceID,
		CredentialID: "cred-" + traceID,
		Query:        "Il recesso dal contratto di locazione richiede preavviso?",
		Options:      models.RequestOptions{MaxIterations: 3, TimeoutMS: 30000},
		Status:       models.StatusRunning,
		StartedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, NewRequestService(pool).Create(context.Background(), rec))
	return rec
}

// seedAnswer stores a provisional answer for the trace.
func seedAnswer(t *testing.T, pool *pgxpool.Pool, traceID string, confidence float64) {
	t.Helper()

	answer := &models.ProvisionalAnswer{
		Content:          "Il preavviso è richiesto ai sensi dell'art. 1596 c.c.",
		Mode:             models.SynthesisConvergent,
		Consensus:        0.9,
		Confidence:       confidence,
		ExpertsConsulted: []models.ExpertTag{models.ExpertLiteral},
	}
	require.NoError(t, NewAnswerService(pool).Save(context.Background(), traceID, answer))
}
