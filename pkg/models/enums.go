package models

// IntentTag classifies what the user is asking for.
type IntentTag string

const (
	// IntentNormSearch is a lookup of specific norm text
	IntentNormSearch IntentTag = "norm-search"
	// IntentInterpretation asks what a provision means
	IntentInterpretation IntentTag = "interpretation"
	// IntentComplianceCheck asks whether conduct satisfies obligations
	IntentComplianceCheck IntentTag = "compliance-check"
	// IntentDocumentDrafting asks for clause or document language
	IntentDocumentDrafting IntentTag = "document-drafting"
	// IntentRiskSpotting asks for sanctions and exposure
	IntentRiskSpotting IntentTag = "risk-spotting"
	// IntentUnknown is the fallback when classification fails
	IntentUnknown IntentTag = "unknown"
)

// IsValid checks if the intent tag is valid
func (t IntentTag) IsValid() bool {
	switch t {
	case IntentNormSearch,
		IntentInterpretation,
		IntentComplianceCheck,
		IntentDocumentDrafting,
		IntentRiskSpotting,
		IntentUnknown:
		return true
	default:
		return false
	}
}

// AgentTag identifies a retrieval agent kind.
type AgentTag string

const (
	// AgentGraph queries the legal knowledge graph
	AgentGraph AgentTag = "graph"
	// AgentHTTP fetches canonical norm texts from the normative-text service
	AgentHTTP AgentTag = "http"
	// AgentVector runs k-NN retrieval against the vector store
	AgentVector AgentTag = "vector"
)

// IsValid checks if the agent tag is valid
func (t AgentTag) IsValid() bool {
	return t == AgentGraph || t == AgentHTTP || t == AgentVector
}

// ExpertTag identifies a reasoning methodology.
type ExpertTag string

const (
	// ExpertLiteral reasons from the letter of the norm
	ExpertLiteral ExpertTag = "literal"
	// ExpertSystemic reasons from purpose and systematic placement
	ExpertSystemic ExpertTag = "systemic-teleological"
	// ExpertPrinciples balances competing constitutional principles
	ExpertPrinciples ExpertTag = "principles-balancer"
	// ExpertPrecedent reasons empirically from case law
	ExpertPrecedent ExpertTag = "precedent-analyst"
)

// IsValid checks if the expert tag is valid
func (t ExpertTag) IsValid() bool {
	switch t {
	case ExpertLiteral, ExpertSystemic, ExpertPrinciples, ExpertPrecedent:
		return true
	default:
		return false
	}
}

// AllExpertTags lists every known expert in canonical order.
func AllExpertTags() []ExpertTag {
	return []ExpertTag{ExpertLiteral, ExpertSystemic, ExpertPrinciples, ExpertPrecedent}
}

// SynthesisMode selects how expert opinions are folded into an answer.
type SynthesisMode string

const (
	// SynthesisConvergent integrates consensus and subordinates dissent
	SynthesisConvergent SynthesisMode = "convergent"
	// SynthesisDivergent preserves disagreement as alternative readings
	SynthesisDivergent SynthesisMode = "divergent"
	// SynthesisAuto lets the synthesizer choose from opinion spread
	SynthesisAuto SynthesisMode = "auto"
)

// IsValid checks if the synthesis mode is valid
func (m SynthesisMode) IsValid() bool {
	return m == SynthesisConvergent || m == SynthesisDivergent || m == SynthesisAuto
}

// StopReason explains why the iteration loop terminated.
type StopReason string

const (
	StopMaxIterations StopReason = "max-iterations"
	StopHighQuality   StopReason = "high-confidence-and-consensus"
	StopRLCFApproved  StopReason = "rlcf-approved"
	StopUserSatisfied StopReason = "user-satisfied"
	StopNoImprovement StopReason = "no-improvement"
	StopConverged     StopReason = "converged"
	// StopTimeout is set when the request deadline short-circuits the loop
	StopTimeout StopReason = "timeout"
)

// RequestStatus is the terminal status of a processed request.
type RequestStatus string

const (
	// StatusRunning marks an admitted request still in flight
	StatusRunning RequestStatus = "running"
	// StatusSuccess means the loop stopped on its own criteria
	StatusSuccess RequestStatus = "success"
	// StatusPartial means at least one iteration completed before degradation
	StatusPartial RequestStatus = "partial"
	// StatusFailed means no usable answer was produced
	StatusFailed RequestStatus = "failed"
)

// Role is the principal role attached to a credential.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// IsValid checks if the role is valid
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleUser || r == RoleGuest
}

// Satisfies reports whether the role meets the required minimum.
// Ordering: guest < user < admin.
func (r Role) Satisfies(required Role) bool {
	return r.rank() >= required.rank()
}

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	case RoleGuest:
		return 0
	default:
		return -1
	}
}

// Tier is the rate-limit quota class of a credential.
type Tier string

const (
	TierUnlimited Tier = "unlimited"
	TierPremium   Tier = "premium"
	TierStandard  Tier = "standard"
	TierLimited   Tier = "limited"
)

// IsValid checks if the tier is valid
func (t Tier) IsValid() bool {
	switch t {
	case TierUnlimited, TierPremium, TierStandard, TierLimited:
		return true
	default:
		return false
	}
}

// SourceTag labels where retrieval hits came from.
type SourceTag string

const (
	SourceNormattiva SourceTag = "normattiva"
	SourceCassazione SourceTag = "cassazione"
	SourceDoctrine   SourceTag = "doctrine"
	SourceCommunity  SourceTag = "community"
	SourceVector     SourceTag = "vector"
)

// EntityCorrectionKind classifies an entity-span correction.
type EntityCorrectionKind string

const (
	CorrectionMissingEntity  EntityCorrectionKind = "missing-entity"
	CorrectionSpuriousEntity EntityCorrectionKind = "spurious-entity"
	CorrectionWrongBoundary  EntityCorrectionKind = "wrong-boundary"
	CorrectionWrongType      EntityCorrectionKind = "wrong-type"
)

// IsValid checks if the correction kind is valid
func (k EntityCorrectionKind) IsValid() bool {
	switch k {
	case CorrectionMissingEntity, CorrectionSpuriousEntity,
		CorrectionWrongBoundary, CorrectionWrongType:
		return true
	default:
		return false
	}
}
