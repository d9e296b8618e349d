package graphstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/sync/errgroup"

	"github.com/legalkit/lexor/pkg/models"
)

// enrichLimit caps the rows each enrichment shape returns.
const enrichLimit = 8

// Enrichment query shapes. All are parameterized by $references (canonical
// norm citations), $concepts (normalized concept tags), and $limit.

const queryNorms = `
MATCH (n:Norm)
WHERE n.citation IN $references
   OR EXISTS { MATCH (n)-[:ABOUT]->(c:Concept) WHERE c.tag IN $concepts }
RETURN n.id AS id, n.citation AS citation, n.title AS title,
       left(coalesce(n.text, ''), $snippet) AS snippet,
       coalesce(n.authority, 0.9) AS confidence
ORDER BY confidence DESC
LIMIT $limit`

const queryObligations = `
MATCH (n:Norm)-[:IMPOSES]->(o:Obligation)
WHERE n.citation IN $references
   OR EXISTS { MATCH (o)-[:ABOUT]->(c:Concept) WHERE c.tag IN $concepts }
RETURN n.id AS id, n.citation AS citation, o.description AS title,
       left(coalesce(n.text, ''), $snippet) AS snippet,
       coalesce(n.authority, 0.9) AS confidence
ORDER BY confidence DESC
LIMIT $limit`

const querySanctions = `
MATCH (n:Norm)-[:SANCTIONS]->(s:Sanction)
WHERE n.citation IN $references
   OR EXISTS { MATCH (n)-[:ABOUT]->(c:Concept) WHERE c.tag IN $concepts }
RETURN n.id AS id, n.citation AS citation, s.description AS title,
       left(coalesce(s.text, coalesce(n.text, '')), $snippet) AS snippet,
       coalesce(s.severity, 0.8) AS confidence
ORDER BY confidence DESC
LIMIT $limit`

const queryCases = `
MATCH (d:Decision)-[:INTERPRETS]->(n:Norm)
WHERE n.citation IN $references
   OR EXISTS { MATCH (d)-[:ABOUT]->(c:Concept) WHERE c.tag IN $concepts }
RETURN d.id AS id, d.citation AS citation, d.summary AS title,
       left(coalesce(d.holding, ''), $snippet) AS snippet,
       coalesce(d.authority, 0.7) AS confidence
ORDER BY confidence DESC
LIMIT $limit`

const queryDoctrine = `
MATCH (w:Doctrine)-[:DISCUSSES]->(n:Norm)
WHERE n.citation IN $references
   OR EXISTS { MATCH (w)-[:ABOUT]->(c:Concept) WHERE c.tag IN $concepts }
RETURN w.id AS id, w.citation AS citation, w.title AS title,
       left(coalesce(w.abstract, ''), $snippet) AS snippet,
       coalesce(w.authority, 0.6) AS confidence
ORDER BY confidence DESC
LIMIT $limit`

const queryCommunity = `
MATCH (k:Contribution)-[:ABOUT]->(c:Concept)
WHERE c.tag IN $concepts
RETURN k.id AS id, k.citation AS citation, k.title AS title,
       left(coalesce(k.body, ''), $snippet) AS snippet,
       coalesce(k.score, 0.5) AS confidence
ORDER BY confidence DESC
LIMIT $limit`

const queryControversies = `
MATCH (v:Controversy)-[:CONCERNS]->(n:Norm)
WHERE n.citation IN $references
   OR EXISTS { MATCH (v)-[:ABOUT]->(c:Concept) WHERE c.tag IN $concepts }
RETURN v.question AS question
LIMIT $limit`

// shape binds one enrichment query to the context field it fills.
type shape struct {
	name   string
	cypher string
	assign func(*models.EnrichedContext, []*neo4j.Record)
}

var (
	shapeNorms = shape{name: "norms", cypher: queryNorms,
		assign: assignItems(models.SourceNormattiva, func(e *models.EnrichedContext, items []models.EnrichedItem) {
			e.Norms = append(e.Norms, items...)
		})}
	shapeObligations = shape{name: "obligations", cypher: queryObligations,
		assign: assignItems(models.SourceNormattiva, func(e *models.EnrichedContext, items []models.EnrichedItem) {
			e.Norms = append(e.Norms, items...)
		})}
	shapeSanctions = shape{name: "sanctions", cypher: querySanctions,
		assign: assignItems(models.SourceNormattiva, func(e *models.EnrichedContext, items []models.EnrichedItem) {
			e.Norms = append(e.Norms, items...)
		})}
	shapeCases = shape{name: "cases", cypher: queryCases,
		assign: assignItems(models.SourceCassazione, func(e *models.EnrichedContext, items []models.EnrichedItem) {
			e.Cases = append(e.Cases, items...)
		})}
	shapeDoctrine = shape{name: "doctrine", cypher: queryDoctrine,
		assign: assignItems(models.SourceDoctrine, func(e *models.EnrichedContext, items []models.EnrichedItem) {
			e.Doctrine = append(e.Doctrine, items...)
		})}
	shapeCommunity = shape{name: "community", cypher: queryCommunity,
		assign: assignItems(models.SourceCommunity, func(e *models.EnrichedContext, items []models.EnrichedItem) {
			e.Community = append(e.Community, items...)
		})}
	shapeControversies = shape{name: "controversies", cypher: queryControversies,
		assign: func(e *models.EnrichedContext, recs []*neo4j.Record) {
			for _, rec := range recs {
				if q := recordString(rec, "question"); q != "" {
					e.Controversies = append(e.Controversies, q)
				}
			}
		}}
)

func assignItems(source models.SourceTag, merge func(*models.EnrichedContext, []models.EnrichedItem)) func(*models.EnrichedContext, []*neo4j.Record) {
	return func(e *models.EnrichedContext, recs []*neo4j.Record) {
		items := make([]models.EnrichedItem, 0, len(recs))
		for _, rec := range recs {
			items = append(items, itemFromRecord(rec, source))
		}
		merge(e, items)
	}
}

// intentShapes maps each understood intent to its enrichment query set.
// Unknown intents take the generic set.
var intentShapes = map[models.IntentTag][]shape{
	models.IntentNormSearch:       {shapeNorms},
	models.IntentInterpretation:   {shapeNorms, shapeDoctrine, shapeControversies},
	models.IntentComplianceCheck:  {shapeObligations, shapeCases, shapeControversies},
	models.IntentRiskSpotting:     {shapeSanctions, shapeCases},
	models.IntentDocumentDrafting: {shapeNorms, shapeDoctrine, shapeCommunity},
	models.IntentUnknown:          {shapeNorms, shapeCases},
}

// shapesForIntent resolves the query set for an intent, falling back to the
// generic set for tags the catalog does not know.
func shapesForIntent(intent models.IntentTag) []shape {
	if shapes, ok := intentShapes[intent]; ok {
		return shapes
	}
	return intentShapes[models.IntentUnknown]
}

// enrichParams builds the shared parameter map for the enrichment shapes.
// Entity texts count as references alongside the canonical citations so a
// citation the understanding pass did not normalize still matches.
func enrichParams(qc *models.QueryContext) map[string]any {
	references := make([]string, 0, len(qc.NormReferences)+len(qc.Entities))
	references = append(references, qc.NormReferences...)
	for _, e := range qc.Entities {
		if e.Type == "norm" {
			references = append(references, e.Text)
		}
	}
	concepts := qc.Concepts
	if concepts == nil {
		concepts = []string{}
	}
	return map[string]any{
		"references": references,
		"concepts":   concepts,
		"limit":      enrichLimit,
		"snippet":    snippetLimit,
	}
}

// Enrich runs the intent's query shapes concurrently and merges the rows
// into one enriched context. Any failing shape fails the whole call; the
// caller decides whether to degrade.
func (s *Store) Enrich(ctx context.Context, qc *models.QueryContext) (*models.EnrichedContext, error) {
	shapes := shapesForIntent(qc.Intent)
	params := enrichParams(qc)

	enriched := &models.EnrichedContext{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shapes {
		g.Go(func() error {
			recs, err := s.run(gctx, sh.cypher, params)
			if err != nil {
				return fmt.Errorf("%s query: %w", sh.name, err)
			}
			mu.Lock()
			sh.assign(enriched, recs)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("Graph enrichment completed",
		"intent", qc.Intent,
		"norms", len(enriched.Norms),
		"cases", len(enriched.Cases),
		"doctrine", len(enriched.Doctrine),
		"community", len(enriched.Community),
		"controversies", len(enriched.Controversies))
	return enriched, nil
}
