package models

// Claim maps a sentence-level assertion of the answer to its provenance.
// Every claim must reference at least one retrieved source id and at least
// one consulted expert.
type Claim struct {
	Text       string      `json:"text"`
	SourceIDs  []string    `json:"source_ids"`
	ExpertTags []ExpertTag `json:"expert_tags"`
}

// AlternativeInterpretation is one preserved dissenting position of a
// divergent synthesis.
type AlternativeInterpretation struct {
	Position   string      `json:"position"`
	Experts    []ExpertTag `json:"experts"`
	Confidence float64     `json:"confidence"`
}

// ProvisionalAnswer is the synthesizer's output for one iteration.
type ProvisionalAnswer struct {
	Content              string                      `json:"content"`
	Mode                 SynthesisMode               `json:"mode"`
	Consensus            float64                     `json:"consensus"`
	Confidence           float64                     `json:"confidence"`
	Provenance           []Claim                     `json:"provenance,omitempty"`
	ExpertsConsulted     []ExpertTag                 `json:"experts_consulted"`
	UncertaintyPreserved bool                        `json:"uncertainty_preserved"`
	Alternatives         []AlternativeInterpretation `json:"alternatives,omitempty"`
}

// IterationMetrics are the per-iteration quality measurements the stopping
// criteria evaluate.
type IterationMetrics struct {
	Confidence float64  `json:"confidence"`
	Consensus  float64  `json:"consensus"`
	UserRating *float64 `json:"user_rating,omitempty"`
	RLCFScore  *float64 `json:"rlcf_score,omitempty"`
}
