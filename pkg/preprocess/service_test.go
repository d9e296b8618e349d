package preprocess

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalkit/lexor/pkg/cache"
	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/llm"
	"github.com/legalkit/lexor/pkg/models"
)

type stubLLM struct {
	response string
	err      error
	calls    int
	lastReq  llm.Request
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubLLM) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("not used")
}

type stubGraph struct {
	enriched *models.EnrichedContext
	err      error
	calls    int
}

func (g *stubGraph) Enrich(context.Context, *models.QueryContext) (*models.EnrichedContext, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.enriched, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Timeouts:   config.DefaultTimeoutConfig(),
		LLM:        config.DefaultLLMConfig(),
		Enrichment: config.DefaultEnrichmentConfig(),
		Cache:      config.DefaultCacheConfig(),
	}
	// Keep failing-model tests off the real retry backoff.
	cfg.LLM.JSONMaxRetries = 0
	return cfg
}

func testCacheStore(t *testing.T) *cache.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewStore(client, config.DefaultCacheConfig())
}

func TestUnderstand_MergesModelAndHeuristics(t *testing.T) {
	query := "Il conduttore può recedere ai sensi dell'art. 1373 c.c.?"
	normStart := strings.Index(query, "art. 1373 c.c.")
	response := map[string]any{
		"intent":            "interpretation",
		"intent_confidence": 0.9,
		"entities": []map[string]any{
			// Overlaps the heuristic norm span: the model entity wins.
			{"text": "art. 1373 c.c.", "type": "norm", "start": normStart, "end": normStart + len("art. 1373 c.c."), "confidence": 0.95},
			{"text": "recedere", "type": "concept", "start": strings.Index(query, "recedere"), "end": strings.Index(query, "recedere") + len("recedere"), "confidence": 0.7},
		},
		"concepts":           []string{"Recesso Unilaterale"},
		"norm_references":    []string{"Art. 1373 C.C."},
		"temporal_hints":     []string{},
		"jurisdiction":       "IT",
		"overall_confidence": 0.8,
	}
	raw, err := json.Marshal(response)
	require.NoError(t, err)

	client := &stubLLM{response: string(raw)}
	svc := NewService(client, &stubGraph{}, nil, testConfig(), slog.Default())

	qc, warnings := svc.Understand(context.Background(), query, &models.QueryHints{Jurisdiction: "IT"})
	assert.Empty(t, warnings)
	assert.Equal(t, models.IntentInterpretation, qc.Intent)
	assert.Equal(t, 0.9, qc.IntentConfidence)
	assert.Equal(t, 0.8, qc.OverallConfidence)
	assert.InDelta(t, 0.2, qc.Complexity, 1e-9)
	assert.Equal(t, "IT", qc.Jurisdiction)

	// Model norm entity replaced the heuristic one; heuristic party and
	// model concept both survive the union.
	var norm, party, concept *models.Entity
	for i := range qc.Entities {
		switch qc.Entities[i].Type {
		case "norm":
			norm = &qc.Entities[i]
		case "party":
			party = &qc.Entities[i]
		case "concept":
			concept = &qc.Entities[i]
		}
	}
	require.NotNil(t, norm)
	assert.Equal(t, 0.95, norm.Confidence)
	assert.Equal(t, "norm:art-1373-c-c", norm.ID)
	require.NotNil(t, party)
	assert.Equal(t, "conduttore", party.Text)
	require.NotNil(t, concept)
	assert.Equal(t, "recedere", concept.Text)

	// Concepts and references are normalized and deduplicated.
	assert.Equal(t, []string{"recesso-unilaterale"}, qc.Concepts)
	assert.Equal(t, []string{"art. 1373 c.c."}, qc.NormReferences)

	// The model call carried the structured-output prompt.
	assert.Contains(t, client.lastReq.System, "Legal Query Analyst Instructions")
	assert.True(t, client.lastReq.JSONOnly)
}

func TestUnderstand_DegradesToHeuristics(t *testing.T) {
	client := &stubLLM{err: errors.New("gateway is down")}
	svc := NewService(client, &stubGraph{}, nil, testConfig(), slog.Default())

	qc, warnings := svc.Understand(context.Background(), "Cosa prevede l'art. 1341 c.c.?", nil)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.WarnUnderstandingDegraded, warnings[0].Code)
	assert.Contains(t, warnings[0].Message, "gateway is down")

	assert.Equal(t, models.IntentNormSearch, qc.Intent)
	assert.Equal(t, []string{"art. 1341 c.c."}, qc.NormReferences)
}

func TestUnderstand_ModelIntentWinsOverHeuristic(t *testing.T) {
	// The heuristic reads this as norm-search; the model's classification
	// takes precedence.
	response := `{"intent":"unknown","intent_confidence":0.2,"concepts":[],"norm_references":[],"temporal_hints":[],"jurisdiction":"","overall_confidence":0.4}`
	client := &stubLLM{response: response}
	svc := NewService(client, &stubGraph{}, nil, testConfig(), slog.Default())

	qc, warnings := svc.Understand(context.Background(), "cosa prevede l'art. 1 c.c.?", nil)
	assert.Empty(t, warnings)
	assert.Equal(t, models.IntentUnknown, qc.Intent)
	assert.Equal(t, 0.2, qc.IntentConfidence)
	assert.InDelta(t, 0.6, qc.Complexity, 1e-9)
}

func TestEnrich_QueriesGraphAndCaches(t *testing.T) {
	enriched := &models.EnrichedContext{
		Norms: []models.EnrichedItem{{SourceID: "cc-1373", Citation: "art. 1373 c.c.", Source: models.SourceNormattiva}},
	}
	graph := &stubGraph{enriched: enriched}
	svc := NewService(&stubLLM{}, graph, testCacheStore(t), testConfig(), slog.Default())

	qc := &models.QueryContext{Intent: models.IntentInterpretation, Concepts: []string{"recesso"}}

	first, warnings := svc.Enrich(context.Background(), qc)
	assert.Empty(t, warnings)
	assert.False(t, first.FromCache)
	require.Len(t, first.Norms, 1)
	assert.Equal(t, 1, graph.calls)

	second, warnings := svc.Enrich(context.Background(), qc)
	assert.Empty(t, warnings)
	assert.True(t, second.FromCache)
	require.Len(t, second.Norms, 1)
	assert.Equal(t, 1, graph.calls, "cache hit must not query the graph again")
}

func TestEnrich_GraphFailureDegrades(t *testing.T) {
	graph := &stubGraph{err: errors.New("connection refused")}
	svc := NewService(&stubLLM{}, graph, testCacheStore(t), testConfig(), slog.Default())

	qc := &models.QueryContext{Intent: models.IntentNormSearch}
	enriched, warnings := svc.Enrich(context.Background(), qc)

	require.Len(t, warnings, 1)
	assert.Equal(t, models.WarnEnrichmentDegraded, warnings[0].Code)
	assert.Contains(t, warnings[0].Message, "connection refused")
	assert.True(t, enriched.Degraded)
	assert.True(t, enriched.IsEmpty())

	// Degraded results are not cached: the next request retries the graph.
	_, _ = svc.Enrich(context.Background(), qc)
	assert.Equal(t, 2, graph.calls)
}

func TestEnrich_DisabledSkipsGraph(t *testing.T) {
	cfg := testConfig()
	cfg.Enrichment = &config.EnrichmentConfig{Enabled: false}
	graph := &stubGraph{enriched: &models.EnrichedContext{}}
	svc := NewService(&stubLLM{}, graph, nil, cfg, slog.Default())

	enriched, warnings := svc.Enrich(context.Background(), &models.QueryContext{Intent: models.IntentUnknown})
	assert.Empty(t, warnings)
	assert.True(t, enriched.IsEmpty())
	assert.Equal(t, 0, graph.calls)
}

func TestEnrich_CacheUnavailableStillQueriesGraph(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewStore(client, config.DefaultCacheConfig())
	mr.Close()

	graph := &stubGraph{enriched: &models.EnrichedContext{
		Cases: []models.EnrichedItem{{SourceID: "cass-1", Source: models.SourceCassazione}},
	}}
	svc := NewService(&stubLLM{}, graph, store, testConfig(), slog.Default())

	enriched, warnings := svc.Enrich(context.Background(), &models.QueryContext{Intent: models.IntentUnknown})
	require.Len(t, warnings, 1)
	assert.Equal(t, models.WarnCacheDegraded, warnings[0].Code)
	require.Len(t, enriched.Cases, 1)
	assert.Equal(t, 1, graph.calls)
}

func TestEnrichFingerprintStability(t *testing.T) {
	a := &models.QueryContext{
		Intent:   models.IntentInterpretation,
		Concepts: []string{"recesso", "locazione"},
		Entities: []models.Entity{{Text: "Art. 1373 c.c."}},
	}
	b := &models.QueryContext{
		Intent:   models.IntentInterpretation,
		Concepts: []string{"locazione", "recesso"},
		Entities: []models.Entity{{Text: "art.  1373  c.c."}},
	}
	assert.Equal(t, cache.Fingerprint(a), cache.Fingerprint(b))
	assert.NotEmpty(t, cache.Fingerprint(a))
}
