package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/llm"
	"github.com/legalkit/lexor/pkg/models"
)

type stubLLM struct {
	response string
	err      error
	calls    int
	lastReq  llm.Request
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubLLM) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("not used")
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Timeouts: config.DefaultTimeoutConfig(),
		LLM:      config.DefaultLLMConfig(),
	}
	// Keep failing-synthesis tests off the real retry backoff.
	cfg.LLM.JSONMaxRetries = 0
	return cfg
}

func testSnapshot() models.Snapshot {
	return models.Snapshot{
		TraceID:   "trace-synthesis",
		Query:     "La clausola penale può essere ridotta d'ufficio?",
		Iteration: 1,
		MergedResults: []models.AgentResult{
			{
				Agent:  models.AgentGraph,
				Source: models.SourceCassazione,
				Hits: []models.Hit{
					{SourceID: "cass-su-18128-2005", Citation: "Cass. SS.UU. 18128/2005", Relevance: 0.9},
				},
			},
			{
				Agent:  models.AgentHTTP,
				Source: models.SourceNormattiva,
				Hits: []models.Hit{
					{SourceID: "cc-1384", Citation: "art. 1384 c.c.", Relevance: 1.0},
				},
			},
		},
	}
}

func opinion(tag models.ExpertTag, label string, conf float64) models.ExpertOpinion {
	return models.ExpertOpinion{
		Expert:          tag,
		Interpretation:  "Interpretazione secondo " + string(tag) + ".",
		ConclusionLabel: label,
		Confidence:      conf,
	}
}

func degradedOpinion(tag models.ExpertTag) models.ExpertOpinion {
	return models.ExpertOpinion{
		Expert:          tag,
		ConclusionLabel: "unavailable",
		Confidence:      0.3,
		Error:           "expert timed out",
	}
}

func synthesisJSON(t *testing.T, overrides map[string]any) string {
	t.Helper()
	body := map[string]any{
		"content": "La clausola penale manifestamente eccessiva è riducibile d'ufficio.",
		"provenance": []map[string]any{
			{
				"text":        "La riduzione d'ufficio è ammessa.",
				"source_ids":  []string{"cass-su-18128-2005"},
				"expert_tags": []string{"literal"},
			},
		},
	}
	for k, v := range overrides {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return string(raw)
}

func newTestSynthesizer(client llm.Client, authority map[models.ExpertTag]float64) *Synthesizer {
	return NewSynthesizer(client, testConfig(), authority, slog.Default())
}

func TestFold_ConvergentIntegratesMajority(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, nil)}
	s := newTestSynthesizer(client, nil)
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.8),
		opinion(models.ExpertSystemic, "riduzione ammessa", 0.85),
		opinion(models.ExpertPrecedent, "riduzione ammessa", 0.9),
		opinion(models.ExpertPrinciples, "riduzione negata", 0.5),
	}

	answer, warnings := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisAuto)

	require.NotNil(t, answer)
	assert.Empty(t, warnings)
	assert.Equal(t, models.SynthesisConvergent, answer.Mode)
	assert.Equal(t, "La clausola penale manifestamente eccessiva è riducibile d'ufficio.", answer.Content)
	assert.Equal(t, 0.75, answer.Consensus)
	// Weighted mean with unit authority: weight = opinion confidence.
	assert.InDelta(t, 2.4225/3.05, answer.Confidence, 1e-9)
	assert.False(t, answer.UncertaintyPreserved)
	assert.Empty(t, answer.Alternatives)
	require.Len(t, answer.Provenance, 1)
	assert.Equal(t, []string{"cass-su-18128-2005"}, answer.Provenance[0].SourceIDs)
	assert.Equal(t, []models.ExpertTag{models.ExpertLiteral}, answer.Provenance[0].ExpertTags)
	assert.Equal(t, []models.ExpertTag{
		models.ExpertLiteral, models.ExpertSystemic, models.ExpertPrecedent, models.ExpertPrinciples,
	}, answer.ExpertsConsulted)
}

func TestFold_AutoPrefersDivergentOnStrongDissent(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, nil)}
	s := newTestSynthesizer(client, nil)
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.8),
		opinion(models.ExpertSystemic, "riduzione ammessa", 0.85),
		opinion(models.ExpertPrecedent, "riduzione ammessa", 0.9),
		opinion(models.ExpertPrinciples, "riduzione negata", 0.7),
	}

	answer, _ := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisAuto)

	require.NotNil(t, answer)
	assert.Equal(t, models.SynthesisDivergent, answer.Mode)
	assert.True(t, answer.UncertaintyPreserved)
	assert.Equal(t, 0.75, answer.Consensus)
	assert.GreaterOrEqual(t, answer.Confidence, 0.3)
	assert.LessOrEqual(t, answer.Confidence, 0.6)
}

func TestFold_AutoPrefersDivergentWithoutMajority(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, nil)}
	s := newTestSynthesizer(client, nil)
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.9),
		opinion(models.ExpertSystemic, "riduzione negata", 0.9),
	}

	answer, _ := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisAuto)

	require.NotNil(t, answer)
	assert.Equal(t, models.SynthesisDivergent, answer.Mode)
	assert.Equal(t, 0.5, answer.Consensus)
}

func TestFold_ConvergentConfidenceIsAuthorityWeighted(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, nil)}
	authority := map[models.ExpertTag]float64{models.ExpertLiteral: 2.0}
	s := newTestSynthesizer(client, authority)
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.9),
		opinion(models.ExpertSystemic, "riduzione ammessa", 0.6),
	}

	answer, _ := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisConvergent)

	require.NotNil(t, answer)
	// Literal carries authority 2.0, systemic defaults to 1.0:
	// (0.9*1.8 + 0.6*0.6) / (1.8 + 0.6).
	assert.InDelta(t, 0.825, answer.Confidence, 1e-9)
}

func TestFold_DivergentConfidenceClamped(t *testing.T) {
	tests := []struct {
		name  string
		confs [2]float64
		want  float64
	}{
		{name: "high agreement hits ceiling", confs: [2]float64{0.9, 0.9}, want: 0.6},
		{name: "low confidence hits floor", confs: [2]float64{0.2, 0.2}, want: 0.3},
		{name: "mid spread stays in band", confs: [2]float64{0.5, 0.7}, want: 0.55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubLLM{response: synthesisJSON(t, nil)}
			s := newTestSynthesizer(client, nil)
			opinions := []models.ExpertOpinion{
				opinion(models.ExpertLiteral, "riduzione ammessa", tt.confs[0]),
				opinion(models.ExpertSystemic, "riduzione negata", tt.confs[1]),
			}

			answer, _ := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisDivergent)

			require.NotNil(t, answer)
			assert.Equal(t, models.SynthesisDivergent, answer.Mode)
			assert.InDelta(t, tt.want, answer.Confidence, 1e-9)
		})
	}
}

func TestFold_SingleActiveExpertIsConvergent(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, nil)}
	s := newTestSynthesizer(client, nil)
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.8),
		degradedOpinion(models.ExpertSystemic),
	}

	answer, _ := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisDivergent)

	require.NotNil(t, answer)
	assert.Equal(t, models.SynthesisConvergent, answer.Mode)
	assert.Equal(t, 1.0, answer.Consensus)
	assert.Equal(t, []models.ExpertTag{models.ExpertLiteral, models.ExpertSystemic}, answer.ExpertsConsulted)
}

func TestFold_ZeroHitsPreservesUncertainty(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, map[string]any{"provenance": []map[string]any{}})}
	s := newTestSynthesizer(client, nil)
	snap := testSnapshot()
	snap.MergedResults = nil
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.9),
		opinion(models.ExpertSystemic, "riduzione ammessa", 0.9),
	}

	answer, warnings := s.Fold(context.Background(), snap, opinions, models.SynthesisConvergent)

	require.NotNil(t, answer)
	assert.Empty(t, warnings)
	assert.Equal(t, models.SynthesisConvergent, answer.Mode)
	assert.True(t, answer.UncertaintyPreserved)
	assert.Equal(t, 0.5, answer.Confidence)
	assert.Empty(t, answer.Provenance)
}

func TestFold_DropsUnverifiableProvenance(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, map[string]any{
		"provenance": []map[string]any{
			{
				"text":        "Claim con fonte reale.",
				"source_ids":  []string{"cc-1384", "invented-source"},
				"expert_tags": []string{"literal", "made-up-expert"},
			},
			{
				"text":        "Claim con fonte inventata.",
				"source_ids":  []string{"invented-source"},
				"expert_tags": []string{"literal"},
			},
			{
				"text":        "Claim senza esperti reali.",
				"source_ids":  []string{"cc-1384"},
				"expert_tags": []string{"made-up-expert"},
			},
		},
	})}
	s := newTestSynthesizer(client, nil)
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.8),
		opinion(models.ExpertSystemic, "riduzione ammessa", 0.8),
	}

	answer, warnings := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisConvergent)

	require.NotNil(t, answer)
	require.Len(t, answer.Provenance, 1)
	assert.Equal(t, "Claim con fonte reale.", answer.Provenance[0].Text)
	assert.Equal(t, []string{"cc-1384"}, answer.Provenance[0].SourceIDs)
	assert.Equal(t, []models.ExpertTag{models.ExpertLiteral}, answer.Provenance[0].ExpertTags)

	require.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.Equal(t, models.WarnProvenanceDropped, w.Code)
	}
	assert.Contains(t, warnings[0].Message, "Claim con fonte inventata.")
	assert.Contains(t, warnings[1].Message, "Claim senza esperti reali.")
}

func TestFold_AllDegradedSkipsModel(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, nil)}
	s := newTestSynthesizer(client, nil)
	opinions := []models.ExpertOpinion{
		degradedOpinion(models.ExpertLiteral),
		degradedOpinion(models.ExpertSystemic),
	}

	answer, warnings := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisAuto)

	require.NotNil(t, answer)
	assert.Zero(t, client.calls)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.WarnSynthesisDegraded, warnings[0].Code)
	assert.Empty(t, answer.Content)
	assert.Equal(t, 0.3, answer.Confidence)
	assert.Zero(t, answer.Consensus)
	assert.True(t, answer.UncertaintyPreserved)
	assert.Equal(t, []models.ExpertTag{models.ExpertLiteral, models.ExpertSystemic}, answer.ExpertsConsulted)
}

func TestFold_ModelFailureFallsBackToStrongestOpinion(t *testing.T) {
	client := &stubLLM{err: errors.New("gateway unavailable")}
	s := newTestSynthesizer(client, nil)
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.7),
		opinion(models.ExpertSystemic, "riduzione ammessa", 0.4),
	}

	answer, warnings := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisConvergent)

	require.NotNil(t, answer)
	assert.Equal(t, 1, client.calls)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.WarnSynthesisDegraded, warnings[0].Code)
	assert.Contains(t, warnings[0].Message, "synthesis failed")
	assert.Equal(t, "Interpretazione secondo literal.", answer.Content)
	assert.Equal(t, 0.3, answer.Confidence)
	assert.True(t, answer.UncertaintyPreserved)
	assert.Equal(t, models.SynthesisConvergent, answer.Mode)
}

func TestFold_DerivesAlternativesWhenModelOmitsThem(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, map[string]any{"provenance": []map[string]any{}})}
	s := newTestSynthesizer(client, nil)
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.8),
		opinion(models.ExpertSystemic, "riduzione negata", 0.6),
		opinion(models.ExpertPrecedent, "riduzione ammessa", 0.7),
	}

	answer, _ := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisDivergent)

	require.NotNil(t, answer)
	require.Len(t, answer.Alternatives, 2)
	assert.Equal(t, "riduzione ammessa", answer.Alternatives[0].Position)
	assert.Equal(t, []models.ExpertTag{models.ExpertLiteral, models.ExpertPrecedent}, answer.Alternatives[0].Experts)
	assert.Equal(t, 0.8, answer.Alternatives[0].Confidence)
	assert.Equal(t, "riduzione negata", answer.Alternatives[1].Position)
	assert.Equal(t, []models.ExpertTag{models.ExpertSystemic}, answer.Alternatives[1].Experts)
}

func TestFold_KeepsModelAlternativesWhenValid(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, map[string]any{
		"provenance": []map[string]any{},
		"alternatives": []map[string]any{
			{"position": "Riducibilità officiosa piena", "experts": []string{"literal", "made-up"}, "confidence": 0.7},
			{"position": "", "experts": []string{"systemic-teleological"}, "confidence": 0.5},
		},
	})}
	s := newTestSynthesizer(client, nil)
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.8),
		opinion(models.ExpertSystemic, "riduzione negata", 0.6),
	}

	answer, _ := s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisDivergent)

	require.NotNil(t, answer)
	require.Len(t, answer.Alternatives, 1)
	assert.Equal(t, "Riducibilità officiosa piena", answer.Alternatives[0].Position)
	assert.Equal(t, []models.ExpertTag{models.ExpertLiteral}, answer.Alternatives[0].Experts)
	assert.Equal(t, 0.7, answer.Alternatives[0].Confidence)
}

func TestFold_SendsResolvedModePrompt(t *testing.T) {
	client := &stubLLM{response: synthesisJSON(t, nil)}
	cfg := testConfig()
	s := NewSynthesizer(client, cfg, nil, slog.Default())
	opinions := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "riduzione ammessa", 0.9),
		opinion(models.ExpertSystemic, "riduzione negata", 0.9),
	}

	_, _ = s.Fold(context.Background(), testSnapshot(), opinions, models.SynthesisAuto)

	require.Equal(t, 1, client.calls)
	assert.Contains(t, client.lastReq.System, "Divergent Synthesis Instructions")
	assert.Contains(t, client.lastReq.User, "La clausola penale può essere ridotta d'ufficio?")
	assert.Contains(t, client.lastReq.User, "## Expert Opinions")
	assert.True(t, client.lastReq.JSONOnly)
	assert.Equal(t, cfg.LLM.Temperature.Synthesizer, client.lastReq.Temperature)
}

func TestComputeAgreement_NormalizesLabelsAndBreaksTiesEarly(t *testing.T) {
	ops := []models.ExpertOpinion{
		opinion(models.ExpertLiteral, "Riduzione  Ammessa", 0.8),
		opinion(models.ExpertSystemic, "riduzione ammessa", 0.7),
		opinion(models.ExpertPrecedent, "riduzione negata", 0.7),
	}

	ag := computeAgreement(ops)

	assert.Equal(t, "riduzione ammessa", ag.majorityLabel)
	assert.InDelta(t, 2.0/3.0, ag.majorityShare, 1e-9)
	require.Len(t, ag.dissenters, 1)
	assert.Equal(t, models.ExpertPrecedent, ag.dissenters[0].Expert)

	// A tie keeps the label seen first across the plan's expert order.
	tie := computeAgreement(ops[1:])
	assert.Equal(t, "riduzione ammessa", tie.majorityLabel)
	assert.Equal(t, 0.5, tie.majorityShare)
}
