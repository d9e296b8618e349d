package models

// LegalBasis is one citation an expert builds an argument on.
type LegalBasis struct {
	Citation string  `json:"citation"`
	Role     string  `json:"role"`
	Weight   float64 `json:"weight"`
}

// ConfidenceBreakdown decomposes an opinion's confidence by factor.
type ConfidenceBreakdown struct {
	NormClarity            float64 `json:"norm_clarity"`
	JurisprudenceAlignment float64 `json:"jurisprudence_alignment"`
	ContextualAmbiguity    float64 `json:"contextual_ambiguity"`
	SourceAvailability     float64 `json:"source_availability"`
}

// ExpertOpinion is the structured output of one reasoning expert.
type ExpertOpinion struct {
	Expert          ExpertTag           `json:"expert"`
	Interpretation  string              `json:"interpretation"`
	ConclusionLabel string              `json:"conclusion_label"`
	LegalBases      []LegalBasis        `json:"legal_bases,omitempty"`
	ReasoningSteps  []string            `json:"reasoning_steps,omitempty"`
	Confidence      float64             `json:"confidence"`
	Breakdown       ConfidenceBreakdown `json:"confidence_breakdown"`
	Limitations     string              `json:"limitations,omitempty"`
	TokensUsed      int                 `json:"tokens_used,omitempty"`
	LatencyMS       int64               `json:"latency_ms"`
	ModelID         string              `json:"model_id,omitempty"`
	Seed            int                 `json:"seed,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// Degraded reports whether the opinion is a fallback from a failed expert.
func (o *ExpertOpinion) Degraded() bool {
	return o.Error != ""
}
