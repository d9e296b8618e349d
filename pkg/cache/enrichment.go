package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/models"
)

const enrichmentKeyPrefix = "lexor:enrich:"

// Store reads and writes enrichment results keyed by query fingerprint.
// All failures are soft: a broken cache degrades to a miss, never to a
// failed request.
type Store struct {
	client  *redis.Client
	ttl     config.CacheTTLConfig
	enabled bool
	logger  *slog.Logger
}

// NewStore creates an enrichment cache over an established Redis client.
func NewStore(client *redis.Client, cfg *config.CacheConfig) *Store {
	return &Store{
		client:  client,
		ttl:     cfg.TTL,
		enabled: cfg.Enabled,
		logger:  slog.With("component", "enrichment_cache"),
	}
}

// Get looks up cached enrichment for a fingerprint. The third return value
// reports cache degradation: true means the lookup failed and the caller
// should record a warning.
func (s *Store) Get(ctx context.Context, fingerprint string) (*models.EnrichedContext, bool, bool) {
	if !s.enabled {
		return nil, false, false
	}

	data, err := s.client.Get(ctx, enrichmentKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, false
		}
		s.logger.WarnContext(ctx, "Enrichment cache lookup failed, treating as miss",
			"fingerprint", fingerprint, "error", err)
		return nil, false, true
	}

	var enriched models.EnrichedContext
	if err := json.Unmarshal(data, &enriched); err != nil {
		s.logger.WarnContext(ctx, "Corrupt enrichment cache entry, treating as miss",
			"fingerprint", fingerprint, "error", err)
		return nil, false, true
	}

	enriched.FromCache = true
	return &enriched, true, false
}

// Put stores enrichment under its fingerprint. Failures are logged and
// swallowed. Degraded results are never cached: they would pin partial data
// for the full TTL.
func (s *Store) Put(ctx context.Context, fingerprint string, enriched *models.EnrichedContext) {
	if !s.enabled || enriched == nil || enriched.Degraded {
		return
	}

	data, err := json.Marshal(enriched)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to encode enrichment for cache",
			"fingerprint", fingerprint, "error", err)
		return
	}

	ttl := s.ttlFor(enriched)
	if err := s.client.Set(ctx, enrichmentKeyPrefix+fingerprint, data, ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "Failed to write enrichment cache entry",
			"fingerprint", fingerprint, "error", err)
	}
}

// ttlFor picks the retention for a mixed enrichment result: the shortest TTL
// among the classes that actually hold data. An entry must not outlive its
// most volatile class. Empty results get the consensus TTL so repeated
// misses are still absorbed briefly.
func (s *Store) ttlFor(enriched *models.EnrichedContext) time.Duration {
	ttl := time.Duration(0)
	consider := func(n int, classTTL time.Duration) {
		if n == 0 {
			return
		}
		if ttl == 0 || classTTL < ttl {
			ttl = classTTL
		}
	}
	consider(len(enriched.Norms), s.ttl.Norm)
	consider(len(enriched.Cases), s.ttl.Case)
	consider(len(enriched.Doctrine), s.ttl.Doctrine)
	consider(len(enriched.Community), s.ttl.Community)

	if ttl == 0 {
		return s.ttl.Consensus
	}
	return ttl
}
