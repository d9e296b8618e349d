package graphstore

import (
	"context"
	"strings"

	"github.com/legalkit/lexor/pkg/models"
)

// fulltextIndex is the graph's combined full-text index over Norm,
// Decision, Doctrine, Contribution, and Controversy nodes.
const fulltextIndex = "legal_text"

const querySearch = `
CALL db.index.fulltext.queryNodes($index, $query) YIELD node, score
WHERE ($jurisdiction = '' OR coalesce(node.jurisdiction, '') = $jurisdiction)
RETURN node.id AS id, node.citation AS citation,
       left(coalesce(node.text, coalesce(node.holding, coalesce(node.abstract, coalesce(node.body, '')))), $snippet) AS snippet,
       [l IN labels(node) | toLower(l)] AS kinds,
       score
ORDER BY score DESC
LIMIT $limit`

// Search runs full-text retrieval over the graph for the given terms.
// Filters: "jurisdiction" restricts by node jurisdiction. Scores are
// squashed to (0, 1) since Lucene scores are unbounded.
func (s *Store) Search(ctx context.Context, terms []string, filters map[string]string, limit int) ([]models.Hit, error) {
	query := luceneQuery(terms)
	if query == "" {
		return nil, nil
	}
	params := map[string]any{
		"index":        fulltextIndex,
		"query":        query,
		"jurisdiction": filters["jurisdiction"],
		"snippet":      snippetLimit,
		"limit":        limit,
	}
	recs, err := s.run(ctx, querySearch, params)
	if err != nil {
		return nil, err
	}

	hits := make([]models.Hit, 0, len(recs))
	for _, rec := range recs {
		hit := models.Hit{
			SourceID:  recordString(rec, "id"),
			Citation:  recordString(rec, "citation"),
			Snippet:   recordString(rec, "snippet"),
			Relevance: squashScore(recordFloat(rec, "score")),
		}
		if kinds, ok := rec.Get("kinds"); ok {
			hit.Metadata = map[string]any{"kinds": kinds}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// luceneQuery joins the terms into one OR query, quoting multi-word terms
// and escaping Lucene operators inside them.
func luceneQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		escaped := escapeLucene(t)
		if strings.ContainsRune(escaped, ' ') {
			escaped = `"` + escaped + `"`
		}
		parts = append(parts, escaped)
	}
	return strings.Join(parts, " OR ")
}

// luceneSpecials are the Lucene query operators that must be escaped in
// literal terms. The double quote is included so quoting stays balanced.
const luceneSpecials = `+-&|!(){}[]^"~*?:\/`

func escapeLucene(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(luceneSpecials, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// squashScore maps an unbounded Lucene score onto (0, 1).
func squashScore(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}
