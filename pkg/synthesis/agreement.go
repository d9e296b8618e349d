package synthesis

import (
	"math"
	"strings"

	"github.com/legalkit/lexor/pkg/models"
)

// Auto-mode thresholds: convergent needs a dominant label and weak dissent.
const (
	autoMajorityThreshold  = 0.75
	dissenterConfidenceCap = 0.6
)

// Divergent confidence bounds.
const (
	divergentFloor = 0.3
	divergentCeil  = 0.6
)

// agreement is the signal the synthesizer derives from the active opinions:
// degraded opinions carry no conclusion and stay out of it.
type agreement struct {
	active        []models.ExpertOpinion
	majorityLabel string
	majorityShare float64
	dissenters    []models.ExpertOpinion
}

// computeAgreement tallies normalized conclusion labels across non-degraded
// opinions. Label ties break toward the earlier opinion, which follows the
// plan's expert order.
func computeAgreement(opinions []models.ExpertOpinion) agreement {
	var ag agreement
	counts := make(map[string]int)
	var order []string

	for i := range opinions {
		if opinions[i].Degraded() {
			continue
		}
		ag.active = append(ag.active, opinions[i])
		label := normalizeLabel(opinions[i].ConclusionLabel)
		if counts[label] == 0 {
			order = append(order, label)
		}
		counts[label]++
	}
	if len(ag.active) == 0 {
		return ag
	}

	for _, label := range order {
		if counts[label] > counts[ag.majorityLabel] {
			ag.majorityLabel = label
		}
	}
	ag.majorityShare = float64(counts[ag.majorityLabel]) / float64(len(ag.active))

	for i := range ag.active {
		if normalizeLabel(ag.active[i].ConclusionLabel) != ag.majorityLabel {
			ag.dissenters = append(ag.dissenters, ag.active[i])
		}
	}
	return ag
}

// resolveMode turns the plan's mode into the one actually used. Auto goes
// convergent only when the majority is dominant and every dissenter is weak.
// A single active opinion is always convergent: there is nothing to diverge
// from. No active opinions defaults to divergent.
func (ag agreement) resolveMode(planned models.SynthesisMode) models.SynthesisMode {
	switch {
	case len(ag.active) == 0:
		return models.SynthesisDivergent
	case len(ag.active) == 1:
		return models.SynthesisConvergent
	}

	if planned != models.SynthesisAuto {
		return planned
	}
	if ag.majorityShare < autoMajorityThreshold {
		return models.SynthesisDivergent
	}
	for i := range ag.dissenters {
		if ag.dissenters[i].Confidence >= dissenterConfidenceCap {
			return models.SynthesisDivergent
		}
	}
	return models.SynthesisConvergent
}

// confidence computes the answer confidence for the resolved mode.
// Convergent: weighted mean, weight = opinion confidence × expert authority.
// Divergent: mean minus half the spread, clamped to the divergent band.
func (ag agreement) confidence(mode models.SynthesisMode, authority func(models.ExpertTag) float64) float64 {
	if len(ag.active) == 0 {
		return divergentFloor
	}

	confs := make([]float64, len(ag.active))
	for i := range ag.active {
		confs[i] = ag.active[i].Confidence
	}

	if mode == models.SynthesisConvergent {
		var weighted, total float64
		for i := range ag.active {
			w := ag.active[i].Confidence * authority(ag.active[i].Expert)
			weighted += confs[i] * w
			total += w
		}
		if total == 0 {
			return 0
		}
		return weighted / total
	}

	return clamp(mean(confs)-0.5*stddev(confs), divergentFloor, divergentCeil)
}

// alternatives derives one entry per distinct active position, used when a
// divergent synthesis must be built without (or despite) the model's own
// alternative list.
func (ag agreement) alternatives() []models.AlternativeInterpretation {
	byLabel := make(map[string]*models.AlternativeInterpretation)
	var order []string

	for i := range ag.active {
		op := &ag.active[i]
		label := normalizeLabel(op.ConclusionLabel)
		alt, ok := byLabel[label]
		if !ok {
			byLabel[label] = &models.AlternativeInterpretation{
				Position:   op.ConclusionLabel,
				Experts:    []models.ExpertTag{op.Expert},
				Confidence: op.Confidence,
			}
			order = append(order, label)
			continue
		}
		alt.Experts = append(alt.Experts, op.Expert)
		if op.Confidence > alt.Confidence {
			alt.Confidence = op.Confidence
		}
	}

	alts := make([]models.AlternativeInterpretation, 0, len(order))
	for _, label := range order {
		alts = append(alts, *byLabel[label])
	}
	return alts
}

func normalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		sq += (x - m) * (x - m)
	}
	return math.Sqrt(sq / float64(len(xs)))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
