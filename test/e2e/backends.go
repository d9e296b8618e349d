package e2e

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legalkit/lexor/pkg/auth"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/normservice"
	"github.com/legalkit/lexor/pkg/services"
)

var errGraphDown = errors.New("neo4j: connection refused")

// fakeGraph stands in for the knowledge graph: canned enrichment and search
// hits, a switch simulating an outage, and call counters for cache
// assertions. The default fixture is the recesso question the scenario
// scripts revolve around.
type fakeGraph struct {
	mu          sync.Mutex
	down        bool
	enrichCalls int
	searchCalls int
	enriched    *models.EnrichedContext
	hits        []models.Hit
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		enriched: &models.EnrichedContext{
			Norms: []models.EnrichedItem{{
				SourceID:   "norm:cc:art1373",
				Citation:   "art. 1373 c.c.",
				Title:      "Recesso unilaterale",
				Source:     models.SourceNormattiva,
				Confidence: 0.95,
			}},
			Cases: []models.EnrichedItem{{
				SourceID:   "cass:2019:12345",
				Citation:   "Cass. civ. 12345/2019",
				Source:     models.SourceCassazione,
				Confidence: 0.8,
			}},
		},
		hits: []models.Hit{
			{
				SourceID:  "norm:cc:art1373",
				Citation:  "art. 1373 c.c.",
				Snippet:   "Se a una delle parti è attribuita la facoltà di recedere dal contratto...",
				Relevance: 0.92,
				Metadata:  map[string]any{"kinds": []string{"norm"}},
			},
			{
				SourceID:  "cass:2019:12345",
				Citation:  "Cass. civ. 12345/2019",
				Snippet:   "Il recesso ad nutum è legittimo quando...",
				Relevance: 0.81,
				Metadata:  map[string]any{"kinds": []string{"decision"}},
			},
		},
	}
}

// SetDown toggles the simulated outage for both enrichment and search.
func (f *fakeGraph) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeGraph) Enrich(ctx context.Context, qc *models.QueryContext) (*models.EnrichedContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrichCalls++
	if f.down {
		return nil, errGraphDown
	}
	return f.enriched, nil
}

func (f *fakeGraph) Search(ctx context.Context, terms []string, filters map[string]string, limit int) ([]models.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.down {
		return nil, errGraphDown
	}
	if limit > 0 && limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

// EnrichCalls reports how often enrichment reached the graph, as opposed to
// being served from the fingerprint cache.
func (f *fakeGraph) EnrichCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrichCalls
}

// fakeVector serves canned k-NN hits regardless of the query vector.
type fakeVector struct {
	mu   sync.Mutex
	hits []models.Hit
}

func newFakeVector() *fakeVector {
	return &fakeVector{hits: []models.Hit{{
		SourceID:  "doc:commentary:recesso",
		Citation:  "Commentario all'art. 1373 c.c.",
		Snippet:   "Il recesso convenzionale presuppone...",
		Relevance: 0.77,
	}}}
}

func (f *fakeVector) Search(ctx context.Context, vector []float32, limit int) ([]models.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > 0 && limit < len(f.hits) {
		return append([]models.Hit(nil), f.hits[:limit]...), nil
	}
	return append([]models.Hit(nil), f.hits...), nil
}

// fakeNorms stands in for the normative-text service. References resolve
// case- and whitespace-insensitively; misses return the canonical
// not-found error.
type fakeNorms struct {
	mu      sync.Mutex
	byRef   map[string]*normservice.NormText
	fetched []string
}

func newFakeNorms() *fakeNorms {
	f := &fakeNorms{byRef: make(map[string]*normservice.NormText)}
	f.add("art. 1373 c.c.", &normservice.NormText{
		SourceID: "normattiva:cc:1373",
		Citation: "art. 1373 c.c.",
		Title:    "Recesso unilaterale",
		Text:     "Se a una delle parti è attribuita la facoltà di recedere dal contratto, tale facoltà può essere esercitata finché il contratto non abbia avuto un principio di esecuzione.",
	})
	return f
}

func (f *fakeNorms) add(reference string, text *normservice.NormText) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byRef[normKey(reference)] = text
}

func (f *fakeNorms) FetchArticle(ctx context.Context, reference string) (*normservice.NormText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, reference)
	if text, ok := f.byRef[normKey(reference)]; ok {
		return text, nil
	}
	return nil, normservice.ErrNormNotFound
}

// Fetched returns every reference the http agent asked for, in order.
func (f *fakeNorms) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func normKey(reference string) string {
	return strings.Join(strings.Fields(strings.ToLower(reference)), " ")
}

// memoryStore is the in-memory stand-in for the PostgreSQL services. One
// instance backs every durable surface except the usage log, whose Record
// signature collides with the iteration store's.
type memoryStore struct {
	mu         sync.Mutex
	requests   map[string]*models.RequestRecord
	iterations map[string][]models.IterationRecord
	answers    map[string]*models.ProvisionalAnswer
	userFB     map[string][]models.UserFeedback
	expertFB   map[string][]models.ExpertFeedback
	entityFB   map[string][]models.EntityFeedback
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		requests:   make(map[string]*models.RequestRecord),
		iterations: make(map[string][]models.IterationRecord),
		answers:    make(map[string]*models.ProvisionalAnswer),
		userFB:     make(map[string][]models.UserFeedback),
		expertFB:   make(map[string][]models.ExpertFeedback),
		entityFB:   make(map[string][]models.EntityFeedback),
	}
}

func (m *memoryStore) Create(ctx context.Context, rec *models.RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.TraceID == "" {
		return services.NewValidationError("trace_id", "required")
	}
	if rec.Query == "" {
		return services.NewValidationError("query", "required")
	}
	if _, ok := m.requests[rec.TraceID]; ok {
		return services.ErrAlreadyExists
	}
	clone := *rec
	m.requests[rec.TraceID] = &clone
	return nil
}

// Complete merges exactly the terminal columns the SQL UPDATE touches:
// status, stop reason, warnings, query context, trace, completion time,
// duration.
func (m *memoryStore) Complete(ctx context.Context, rec *models.RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[rec.TraceID]
	if !ok {
		return services.ErrNotFound
	}
	cur.Status = rec.Status
	cur.StopReason = rec.StopReason
	cur.Warnings = rec.Warnings
	cur.QueryContext = rec.QueryContext
	cur.Trace = rec.Trace
	cur.CompletedAt = rec.CompletedAt
	cur.DurationMS = rec.DurationMS
	return nil
}

func (m *memoryStore) Get(ctx context.Context, traceID string) (*models.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.requests[traceID]
	if !ok {
		return nil, services.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

// Running returns the trace ids of requests still in the running state.
func (m *memoryStore) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, rec := range m.requests {
		if rec.Status == models.StatusRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *memoryStore) Record(ctx context.Context, rec *models.IterationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	m.iterations[rec.TraceID] = append(m.iterations[rec.TraceID], *rec)
	return nil
}

func (m *memoryStore) ListByTrace(ctx context.Context, traceID string) ([]models.IterationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := append([]models.IterationRecord(nil), m.iterations[traceID]...)
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

func (m *memoryStore) Save(ctx context.Context, traceID string, answer *models.ProvisionalAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *answer
	m.answers[traceID] = &clone
	return nil
}

func (m *memoryStore) GetByTrace(ctx context.Context, traceID string) (*models.ProvisionalAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	answer, ok := m.answers[traceID]
	if !ok {
		return nil, services.ErrNotFound
	}
	clone := *answer
	return &clone, nil
}

func (m *memoryStore) SaveUserFeedback(ctx context.Context, fb *models.UserFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Foreign key to the request record, like the real schema.
	if _, ok := m.requests[fb.TraceID]; !ok {
		return services.ErrNotFound
	}
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	m.userFB[fb.TraceID] = append(m.userFB[fb.TraceID], *fb)
	return nil
}

func (m *memoryStore) SaveExpertFeedback(ctx context.Context, fb *models.ExpertFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[fb.TraceID]; !ok {
		return services.ErrNotFound
	}
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	m.expertFB[fb.TraceID] = append(m.expertFB[fb.TraceID], *fb)
	return nil
}

func (m *memoryStore) SaveEntityFeedback(ctx context.Context, fb *models.EntityFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[fb.TraceID]; !ok {
		return services.ErrNotFound
	}
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	m.entityFB[fb.TraceID] = append(m.entityFB[fb.TraceID], *fb)
	return nil
}

func (m *memoryStore) LatestUserFeedback(ctx context.Context, traceID string) (*models.UserFeedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.userFB[traceID]
	if len(list) == 0 {
		return nil, services.ErrNotFound
	}
	latest := list[len(list)-1]
	return &latest, nil
}

func (m *memoryStore) ListExpertFeedback(ctx context.Context, traceID string) ([]models.ExpertFeedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.expertFB[traceID]
	out := make([]models.ExpertFeedback, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// WeightedExpertScore mirrors the SQL aggregate: sum(rating*weight) over
// sum(weight), not-found when no review exists.
func (m *memoryStore) WeightedExpertScore(ctx context.Context, traceID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.expertFB[traceID]
	if len(list) == 0 {
		return 0, services.ErrNotFound
	}
	var num, den float64
	for _, fb := range list {
		num += fb.OverallRating * fb.AuthorityWeight
		den += fb.AuthorityWeight
	}
	return num / den, nil
}

// CountExpertCorrectionsSince counts reviews carrying at least one
// structured correction, matching the jsonb filter in the real store.
func (m *memoryStore) CountExpertCorrectionsSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, list := range m.expertFB {
		for _, fb := range list {
			if fb.CreatedAt.Before(since) {
				continue
			}
			if fb.Corrections != (models.ExpertCorrections{}) {
				count++
			}
		}
	}
	return count, nil
}

func (m *memoryStore) CountEntityCorrectionsSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, list := range m.entityFB {
		for _, fb := range list {
			if !fb.CreatedAt.Before(since) {
				count++
			}
		}
	}
	return count, nil
}

// Overview computes the admin aggregates over the in-memory maps.
func (m *memoryStore) Overview(ctx context.Context) (*services.SystemStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &services.SystemStats{
		RequestsByStatus: make(map[string]int64),
		StopReasons:      make(map[string]int64),
	}
	cutoff := time.Now().Add(-24 * time.Hour)

	var durSum float64
	var completed int64
	for _, rec := range m.requests {
		stats.TotalRequests++
		if rec.StartedAt.After(cutoff) {
			stats.RequestsLast24h++
		}
		stats.RequestsByStatus[string(rec.Status)]++
		if rec.StopReason != "" {
			stats.StopReasons[string(rec.StopReason)]++
		}
		if rec.CompletedAt != nil {
			durSum += float64(rec.DurationMS)
			completed++
		}
	}
	if completed > 0 {
		stats.AvgDurationMS = durSum / float64(completed)
	}

	var iterSum float64
	var itersSeen int64
	for _, records := range m.iterations {
		iterSum += float64(len(records))
		itersSeen++
	}
	if itersSeen > 0 {
		stats.AvgIterations = iterSum / float64(itersSeen)
	}

	var confSum float64
	var answers int64
	for _, answer := range m.answers {
		confSum += answer.Confidence
		answers++
	}
	if answers > 0 {
		stats.AvgConfidence = confSum / float64(answers)
	}

	for _, list := range m.userFB {
		stats.UserFeedback += int64(len(list))
	}
	for _, list := range m.expertFB {
		stats.ExpertFeedback += int64(len(list))
	}
	for _, list := range m.entityFB {
		stats.EntityFeedback += int64(len(list))
	}
	return stats, nil
}

// usageLog captures gate audit rows. Kept apart from memoryStore because
// both surfaces name their append method Record.
type usageLog struct {
	mu   sync.Mutex
	rows []models.UsageRecord
}

func newUsageLog() *usageLog { return &usageLog{} }

func (u *usageLog) Record(ctx context.Context, rec *models.UsageRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	u.rows = append(u.rows, *rec)
	return nil
}

// Rows returns a copy of the captured audit rows.
func (u *usageLog) Rows() []models.UsageRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]models.UsageRecord(nil), u.rows...)
}

// stubVerifier resolves secrets from a fixed map, with the same refusal
// order as the production service: missing, unknown, inactive, expired.
type stubVerifier struct {
	mu     sync.Mutex
	byHash map[string]*models.Credential
}

func newStubVerifier() *stubVerifier {
	return &stubVerifier{byHash: make(map[string]*models.Credential)}
}

func (v *stubVerifier) add(secret string, cred *models.Credential) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byHash[auth.HashCredential(secret)] = cred
}

func (v *stubVerifier) Verify(ctx context.Context, presented string) (*models.Credential, error) {
	if presented == "" {
		return nil, auth.ErrMissingCredential
	}
	v.mu.Lock()
	cred, ok := v.byHash[auth.HashCredential(presented)]
	v.mu.Unlock()
	if !ok {
		return nil, auth.ErrInvalidCredential
	}
	if !cred.Active {
		return nil, auth.ErrInactiveCredential
	}
	if cred.ExpiresAt != nil && cred.ExpiresAt.Before(time.Now()) {
		return nil, auth.ErrExpiredCredential
	}
	return cred, nil
}
