package workflow

import (
	"fmt"
	"strings"

	"github.com/legalkit/lexor/pkg/models"
)

// answerSummaryLimit caps the directive's summary of the previous answer.
const answerSummaryLimit = 400

// buildDirective assembles the refinement instructions for the next pass:
// what the loop already has, the gaps the experts flagged, what the user
// said is missing, and what external reviewers corrected.
func buildDirective(frame *models.IterationFrame, feedback *models.UserFeedback, reviews []models.ExpertFeedback) *models.RefinementDirective {
	d := &models.RefinementDirective{}

	if frame.Answer != nil {
		d.AnswerSummary = truncateRunes(frame.Answer.Content, answerSummaryLimit)
	}

	for i := range frame.Opinions {
		op := &frame.Opinions[i]
		if op.Degraded() {
			continue
		}
		if lim := strings.TrimSpace(op.Limitations); lim != "" {
			d.Gaps = append(d.Gaps, fmt.Sprintf("%s: %s", op.Expert, lim))
		}
	}

	if feedback != nil {
		for _, item := range feedback.MissingInformation {
			if item = strings.TrimSpace(item); item != "" {
				d.MissingInformation = append(d.MissingInformation, item)
			}
		}
	}

	for _, rev := range reviews {
		appendConcern(&d.QualityConcerns, "concept mapping", rev.Corrections.ConceptMapping)
		appendConcern(&d.QualityConcerns, "routing", rev.Corrections.RoutingDecision)
		appendConcern(&d.QualityConcerns, "answer quality", rev.Corrections.AnswerQuality)
	}

	return d
}

func appendConcern(concerns *[]string, kind, text string) {
	if text = strings.TrimSpace(text); text != "" {
		*concerns = append(*concerns, fmt.Sprintf("%s: %s", kind, text))
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
