package api

import "github.com/legalkit/lexor/pkg/models"

// SubmitQueryRequest is the HTTP request body for POST /api/v1/queries.
// Option bounds are enforced at binding time; out-of-range values are
// rejected, not clamped.
type SubmitQueryRequest struct {
	Query     string             `json:"query" binding:"required"`
	SessionID string             `json:"session_id,omitempty"`
	Hints     *models.QueryHints `json:"hints,omitempty"`
	Options   *QueryOptionsBody  `json:"options,omitempty" binding:"omitempty"`
}

// QueryOptionsBody bounds a single execution. Zero values mean "use the
// configured default".
type QueryOptionsBody struct {
	MaxIterations int  `json:"max_iterations,omitempty" binding:"omitempty,min=1,max=10"`
	ReturnTrace   bool `json:"return_trace,omitempty"`
	TimeoutMS     int  `json:"timeout_ms,omitempty" binding:"omitempty,min=1000,max=120000"`
}

func (b *QueryOptionsBody) toOptions() models.RequestOptions {
	if b == nil {
		return models.RequestOptions{}
	}
	return models.RequestOptions{
		MaxIterations: b.MaxIterations,
		ReturnTrace:   b.ReturnTrace,
		TimeoutMS:     b.TimeoutMS,
	}
}

// UserFeedbackRequest is the body for POST /api/v1/feedback/user.
type UserFeedbackRequest struct {
	TraceID            string             `json:"trace_id" binding:"required"`
	Rating             float64            `json:"rating" binding:"required,min=1,max=5"`
	Comment            string             `json:"comment,omitempty"`
	CategoryRatings    map[string]float64 `json:"category_ratings,omitempty"`
	MissingInformation []string           `json:"missing_information,omitempty"`
}

// ExpertFeedbackRequest is the body for POST /api/v1/feedback/expert. The
// overall rating arrives on the 1..5 review scale and is normalized before
// storage.
type ExpertFeedbackRequest struct {
	TraceID         string                   `json:"trace_id" binding:"required"`
	ExpertID        string                   `json:"expert_id" binding:"required"`
	AuthorityWeight float64                  `json:"authority_weight" binding:"required,gt=0,max=1"`
	Corrections     models.ExpertCorrections `json:"corrections,omitempty"`
	OverallRating   float64                  `json:"overall_rating" binding:"required,min=1,max=5"`
}

// EntityFeedbackRequest is the body for POST /api/v1/feedback/entity.
type EntityFeedbackRequest struct {
	TraceID string         `json:"trace_id" binding:"required"`
	Kind    string         `json:"kind" binding:"required,oneof=missing-entity spurious-entity wrong-boundary wrong-type"`
	Span    EntitySpanBody `json:"span" binding:"required"`
}

// EntitySpanBody locates the correction in the original query text.
type EntitySpanBody struct {
	Text           string `json:"text" binding:"required"`
	Start          int    `json:"start" binding:"min=0"`
	End            int    `json:"end" binding:"omitempty,gtfield=Start"`
	CorrectLabel   string `json:"correct_label,omitempty"`
	IncorrectLabel string `json:"incorrect_label,omitempty"`
}
