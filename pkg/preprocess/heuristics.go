package preprocess

import (
	"regexp"
	"strings"

	"github.com/legalkit/lexor/pkg/models"
)

// Heuristic extraction runs before the model call and survives it: when the
// model is unavailable the request proceeds on these results alone.

// normCitationRe matches article citations of the civil, penal, and
// procedural codes and the constitution. Longer code abbreviations come
// first in the alternation so c.p.c. is not cut short to c.p.
var normCitationRe = regexp.MustCompile(`(?i)\bartt?\.\s*\d+(?:\s*-?\s*(?:bis|ter|quater|quinquies|sexies|septies|octies))?(?:\s*,?\s*comma\s*\d+)?(?:\s+(?:del|della|delle))?\s*(?:c\.p\.c\.|c\.p\.p\.|c\.c\.|c\.p\.|cost\.)`)

// decreeRe matches decree and statute references (d.lgs. 231/2001,
// d.p.r. 445/2000, l. 300/1970). The number/year pair is mandatory so a
// bare "l." never matches.
var decreeRe = regexp.MustCompile(`(?i)\b(?:d\.?\s?lgs\.?|d\.?\s?l\.?|d\.?p\.?r\.?|l(?:egge)?\.?)\s*(?:n\.?\s*)?\d+/\d{2,4}\b`)

// numericDateRe matches numeric dates and bare years.
var numericDateRe = regexp.MustCompile(`\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b|\b(?:19|20)\d{2}\b`)

// textualDateRe matches Italian textual dates like "1° gennaio 2024".
var textualDateRe = regexp.MustCompile(`(?i)\b\d{1,2}°?\s+(?:gennaio|febbraio|marzo|aprile|maggio|giugno|luglio|agosto|settembre|ottobre|novembre|dicembre)(?:\s+\d{4})?\b`)

// partyRoles are the contract and labor roles recognized as party entities.
// Multi-word roles precede their substrings so the longest span wins.
var partyRoles = []string{
	"datore di lavoro",
	"locatore", "conduttore", "locatario",
	"lavoratore", "dipendente",
	"venditore", "acquirente", "compratore",
	"appaltatore", "committente",
	"creditore", "debitore", "fideiussore",
	"consumatore", "professionista",
	"mandante", "mandatario",
	"assicuratore", "assicurato",
	"amministratore", "socio",
}

// conceptCatalog maps surface terms to normalized concept tags. Several
// terms can share a tag (affitto and locazione, multa and sanzioni).
var conceptCatalog = []struct {
	term string
	tag  string
}{
	{"clausole vessatorie", "clausole-vessatorie"},
	{"clausola vessatoria", "clausole-vessatorie"},
	{"clausola penale", "clausola-penale"},
	{"dati personali", "protezione-dati"},
	{"recesso", "recesso"},
	{"disdetta", "disdetta"},
	{"preavviso", "preavviso"},
	{"risoluzione", "risoluzione"},
	{"rescissione", "rescissione"},
	{"inadempimento", "inadempimento"},
	{"caparra", "caparra"},
	{"prescrizione", "prescrizione"},
	{"decadenza", "decadenza"},
	{"risarcimento", "risarcimento"},
	{"garanzia", "garanzia"},
	{"licenziamento", "licenziamento"},
	{"locazione", "locazione"},
	{"affitto", "locazione"},
	{"appalto", "appalto"},
	{"privacy", "protezione-dati"},
	{"sanzione", "sanzioni"},
	{"sanzioni", "sanzioni"},
	{"multa", "sanzioni"},
}

// intentSignals holds the keyword cues per intent. Matching is substring
// based over the lowercased query.
var intentSignals = map[models.IntentTag][]string{
	models.IntentNormSearch: {
		"cosa prevede", "cosa dice", "testo dell", "dove è disciplinat", "qual è la norma",
	},
	models.IntentInterpretation: {
		"cosa significa", "come si interpreta", "vuol dire", "si applica", "è valida", "è valido", "richiede",
	},
	models.IntentComplianceCheck: {
		"posso ", "devo ", "è obbligatorio", "è consentito", "è lecito", "siamo tenuti", "in regola", "è conforme",
	},
	models.IntentDocumentDrafting: {
		"redigere", "bozza", "predisporre", "clausola da inserire", "scrivere un",
	},
	models.IntentRiskSpotting: {
		"cosa rischi", "rischia", "rischi ", "sanzion", "conseguenze", "multa", "responsabilità",
	},
}

// heuristicUnderstanding extracts what regex and word lists can find and
// guesses the intent from keyword cues.
func heuristicUnderstanding(query string, hints *models.QueryHints) *models.QueryContext {
	lower := strings.ToLower(query)

	qc := &models.QueryContext{}
	qc.NormReferences = extractNormReferences(query)
	qc.TemporalHints = extractTemporalHints(query)
	qc.Concepts = extractConcepts(lower)
	qc.Entities = extractEntities(query, lower)
	qc.Intent, qc.IntentConfidence = guessIntent(lower)

	if hints != nil {
		qc.Jurisdiction = hints.Jurisdiction
		if hints.TemporalReference != "" {
			qc.TemporalHints = appendUnique(qc.TemporalHints, hints.TemporalReference)
		}
	}

	qc.OverallConfidence = heuristicConfidence(qc)
	qc.Complexity = complexityFrom(qc.OverallConfidence)
	return qc
}

func extractNormReferences(query string) []string {
	var refs []string
	for _, re := range []*regexp.Regexp{normCitationRe, decreeRe} {
		for _, m := range re.FindAllString(query, -1) {
			refs = appendUnique(refs, normalizeCitation(m))
		}
	}
	return refs
}

func extractTemporalHints(query string) []string {
	var hints []string
	for _, re := range []*regexp.Regexp{numericDateRe, textualDateRe} {
		for _, m := range re.FindAllString(query, -1) {
			hints = appendUnique(hints, strings.TrimSpace(m))
		}
	}
	return hints
}

func extractConcepts(lower string) []string {
	var concepts []string
	for _, entry := range conceptCatalog {
		if strings.Contains(lower, entry.term) {
			concepts = appendUnique(concepts, entry.tag)
		}
	}
	return concepts
}

// extractEntities collects norm citations and party roles as typed spans
// with byte offsets into the original query.
func extractEntities(query, lower string) []models.Entity {
	var entities []models.Entity

	for _, re := range []*regexp.Regexp{normCitationRe, decreeRe} {
		for _, loc := range re.FindAllStringIndex(query, -1) {
			entities = append(entities, models.Entity{
				Text:       query[loc[0]:loc[1]],
				Type:       "norm",
				Start:      loc[0],
				End:        loc[1],
				Confidence: 0.9,
			})
		}
	}

	for _, role := range partyRoles {
		idx := 0
		for {
			pos := strings.Index(lower[idx:], role)
			if pos < 0 {
				break
			}
			start := idx + pos
			end := start + len(role)
			if isWordBounded(lower, start, end) && !overlapsSpan(entities, start, end) {
				entities = append(entities, models.Entity{
					Text:       query[start:end],
					Type:       "party",
					Start:      start,
					End:        end,
					Confidence: 0.8,
				})
			}
			idx = end
		}
	}

	assignEntityIDs(entities)
	return entities
}

func guessIntent(lower string) (models.IntentTag, float64) {
	best := models.IntentUnknown
	bestScore := 0
	for _, tag := range []models.IntentTag{
		models.IntentNormSearch,
		models.IntentInterpretation,
		models.IntentComplianceCheck,
		models.IntentDocumentDrafting,
		models.IntentRiskSpotting,
	} {
		score := 0
		for _, signal := range intentSignals[tag] {
			if strings.Contains(lower, signal) {
				score++
			}
		}
		if score > bestScore {
			best = tag
			bestScore = score
		}
	}

	if best == models.IntentUnknown {
		return best, 0.3
	}
	confidence := 0.5 + 0.1*float64(min(bestScore, 3))
	return best, confidence
}

// heuristicConfidence is deliberately capped: regex extraction alone never
// claims high understanding.
func heuristicConfidence(qc *models.QueryContext) float64 {
	confidence := 0.3
	if len(qc.NormReferences) > 0 {
		confidence += 0.2
	}
	if len(qc.Entities) > 0 {
		confidence += 0.1
	}
	if qc.Intent != models.IntentUnknown {
		confidence += 0.1
	}
	if confidence > 0.7 {
		confidence = 0.7
	}
	return confidence
}

func complexityFrom(overall float64) float64 {
	c := 1 - overall
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// normalizeCitation canonicalizes a citation's spacing and case.
func normalizeCitation(citation string) string {
	return strings.Join(strings.Fields(strings.ToLower(citation)), " ")
}

func isWordBounded(s string, start, end int) bool {
	if start > 0 && isWordByte(s[start-1]) {
		return false
	}
	if end < len(s) && isWordByte(s[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func overlapsSpan(entities []models.Entity, start, end int) bool {
	for _, e := range entities {
		if start < e.End && e.Start < end {
			return true
		}
	}
	return false
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
