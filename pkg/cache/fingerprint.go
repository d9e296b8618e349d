package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"slices"
	"strings"

	"github.com/legalkit/lexor/pkg/models"
)

// fingerprintVersion is bumped whenever the canonical form changes, so stale
// entries from older releases miss instead of being misread.
const fingerprintVersion = "v1"

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Fingerprint derives a stable cache key component from the understood
// query. Two queries with the same intent, jurisdiction, entities, and
// concepts share enrichment regardless of their surface wording.
func Fingerprint(qc *models.QueryContext) string {
	entities := make([]string, 0, len(qc.Entities))
	for _, e := range qc.Entities {
		entities = append(entities, normalizeText(e.Text))
	}
	slices.Sort(entities)
	entities = slices.Compact(entities)

	concepts := make([]string, 0, len(qc.Concepts))
	for _, c := range qc.Concepts {
		concepts = append(concepts, normalizeText(c))
	}
	slices.Sort(concepts)
	concepts = slices.Compact(concepts)

	canonical := strings.Join([]string{
		fingerprintVersion,
		string(qc.Intent),
		normalizeText(qc.Jurisdiction),
		strings.Join(entities, ","),
		strings.Join(concepts, ","),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
