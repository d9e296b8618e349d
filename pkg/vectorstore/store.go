// Package vectorstore provides k-NN retrieval over the indexed legal corpus.
// Vectors are cosine-scored; the collection is created on startup when
// missing, sized to the configured embedding dimension.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/models"
)

// Store wraps the qdrant client for one collection.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger
}

// NewStore connects to the vector database.
func NewStore(cfg *config.QdrantConfig, emb *config.EmbeddingConfig, logger *slog.Logger) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vector client: %w", err)
	}
	return &Store{
		client:     client,
		collection: cfg.Collection,
		dimension:  emb.Dimension,
		logger:     logger.With("component", "vectorstore"),
	}, nil
}

// EnsureCollection creates the collection when it does not exist yet.
// Distance is cosine; the corpus is indexed with unit-normalized vectors.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	s.logger.Info("Created vector collection", "collection", s.collection, "dimension", s.dimension)
	return nil
}

// Search runs one k-NN query and maps the scored points onto hits.
func (s *Store) Search(ctx context.Context, vector []float32, limit int) ([]models.Hit, error) {
	capped := uint64(limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &capped,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	hits := make([]models.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, hitFromPoint(p))
	}
	return hits, nil
}

// Ping verifies connectivity to the vector database.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	return err
}

// Close releases the client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// hitFromPoint maps one scored point onto a hit. The corpus indexes each
// chunk with source_id, citation, and text payload fields; missing payload
// falls back to the point id.
func hitFromPoint(p *qdrant.ScoredPoint) models.Hit {
	hit := models.Hit{
		SourceID:  pointID(p.Id),
		Relevance: clamp01(float64(p.Score)),
	}

	metadata := make(map[string]any, len(p.Payload))
	for key, value := range p.Payload {
		metadata[key] = payloadValue(value)
	}
	if id, ok := metadata["source_id"].(string); ok && id != "" {
		hit.SourceID = id
		delete(metadata, "source_id")
	}
	if citation, ok := metadata["citation"].(string); ok {
		hit.Citation = citation
		delete(metadata, "citation")
	}
	if text, ok := metadata["text"].(string); ok {
		hit.Snippet = text
		delete(metadata, "text")
	}
	if len(metadata) > 0 {
		hit.Metadata = metadata
	}
	return hit
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}

// payloadValue converts a qdrant payload value back to a plain Go value.
func payloadValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		if kind.ListValue == nil {
			return nil
		}
		list := make([]any, len(kind.ListValue.Values))
		for i, item := range kind.ListValue.Values {
			list[i] = payloadValue(item)
		}
		return list
	default:
		return nil
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
