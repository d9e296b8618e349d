package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/legalkit/lexor/pkg/models"
)

func TestBuildDirective(t *testing.T) {
	iterFrame := &models.IterationFrame{
		Index:  1,
		Answer: &models.ProvisionalAnswer{Content: "La penale è riducibile d'ufficio."},
		Opinions: []models.ExpertOpinion{
			{Expert: models.ExpertLiteral, Limitations: "manca l'analisi dell'art. 1384 c.c."},
			{Expert: models.ExpertSystemic, Limitations: "   "},
			{Expert: models.ExpertPrecedent, Error: "expert timed out", Limitations: "inutilizzabile"},
		},
	}
	feedback := &models.UserFeedback{
		Rating:             2,
		MissingInformation: []string{" ordinanze 2024 ", ""},
	}
	reviews := []models.ExpertFeedback{{
		Corrections: models.ExpertCorrections{
			RoutingDecision: "servono i precedenti di merito",
			AnswerQuality:   "troppo generico",
		},
	}}

	d := buildDirective(iterFrame, feedback, reviews)

	assert.Equal(t, "La penale è riducibile d'ufficio.", d.AnswerSummary)
	assert.Equal(t, []string{"literal: manca l'analisi dell'art. 1384 c.c."}, d.Gaps,
		"blank and degraded limitations are skipped")
	assert.Equal(t, []string{"ordinanze 2024"}, d.MissingInformation)
	assert.Equal(t, []string{
		"routing: servono i precedenti di merito",
		"answer quality: troppo generico",
	}, d.QualityConcerns)
	assert.False(t, d.IsEmpty())
}

func TestBuildDirective_TruncatesSummary(t *testing.T) {
	long := strings.Repeat("à", answerSummaryLimit+25)
	d := buildDirective(&models.IterationFrame{
		Answer: &models.ProvisionalAnswer{Content: long},
	}, nil, nil)

	runes := []rune(d.AnswerSummary)
	assert.Len(t, runes, answerSummaryLimit+1)
	assert.Equal(t, '…', runes[len(runes)-1])
}

func TestBuildDirective_EmptyWhenNothingLearned(t *testing.T) {
	d := buildDirective(&models.IterationFrame{Answer: &models.ProvisionalAnswer{}}, nil, nil)
	assert.True(t, d.IsEmpty())
}
