// Package graphstore provides read access to the legal knowledge graph.
// Enrichment runs an intent-shaped set of Cypher queries; the graph
// retrieval agent runs full-text search over the same graph.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/models"
)

// snippetLimit caps the text excerpt returned per graph row.
const snippetLimit = 280

// Store wraps the neo4j driver with the query catalog of this system.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewStore connects to the knowledge graph. The driver pools connections
// internally; Close releases them.
func NewStore(cfg *config.Neo4jConfig, logger *slog.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4jconfig.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}
	return &Store{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.With("component", "graphstore"),
	}, nil
}

// Ping verifies connectivity to the graph.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close releases the driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// run executes one read query and returns the eager record set.
func (s *Store) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

// itemFromRecord maps one graph row onto an enriched item. Missing columns
// leave their zero value; numeric confidence may arrive as int64 or float64.
func itemFromRecord(rec *neo4j.Record, source models.SourceTag) models.EnrichedItem {
	item := models.EnrichedItem{Source: source}
	item.SourceID = recordString(rec, "id")
	item.Citation = recordString(rec, "citation")
	item.Title = recordString(rec, "title")
	item.Snippet = recordString(rec, "snippet")
	item.Confidence = recordFloat(rec, "confidence")
	return item
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordFloat(rec *neo4j.Record, key string) float64 {
	v, ok := rec.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}
