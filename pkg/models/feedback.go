package models

import "time"

// UserFeedback is an end-user rating of an answer.
type UserFeedback struct {
	ID                 string             `json:"id"`
	TraceID            string             `json:"trace_id"`
	Rating             float64            `json:"rating"`
	Comment            string             `json:"comment,omitempty"`
	CategoryRatings    map[string]float64 `json:"category_ratings,omitempty"`
	MissingInformation []string           `json:"missing_information,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// ExpertCorrections is the structured part of an external-expert review.
type ExpertCorrections struct {
	ConceptMapping  string `json:"concept_mapping,omitempty"`
	RoutingDecision string `json:"routing_decision,omitempty"`
	AnswerQuality   string `json:"answer_quality,omitempty"`
}

// ExpertFeedback is an authority-weighted correction from an external
// domain expert, consumed by the community-feedback evaluation.
type ExpertFeedback struct {
	ID              string            `json:"id"`
	TraceID         string            `json:"trace_id"`
	ExpertID        string            `json:"expert_id"`
	AuthorityWeight float64           `json:"authority_weight"`
	Corrections     ExpertCorrections `json:"corrections"`
	OverallRating   float64           `json:"overall_rating"`
	CreatedAt       time.Time         `json:"created_at"`
}

// EntitySpan locates an entity correction in the original query text.
type EntitySpan struct {
	Text           string `json:"text"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
	CorrectLabel   string `json:"correct_label,omitempty"`
	IncorrectLabel string `json:"incorrect_label,omitempty"`
}

// EntityFeedback is a correction of the entity extraction on a trace.
type EntityFeedback struct {
	ID        string               `json:"id"`
	TraceID   string               `json:"trace_id"`
	Kind      EntityCorrectionKind `json:"kind"`
	Span      EntitySpan           `json:"span"`
	CreatedAt time.Time            `json:"created_at"`
}
