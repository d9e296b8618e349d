package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/services"
)

// bindFeedback invokes one feedback handler directly with a raw body,
// bypassing the router and the gate.
func bindFeedback(s *Server, handler func(*gin.Context), body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	handler(c)
	return rec
}

func TestUserFeedbackHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name string
		body string
	}{
		{"missing trace_id", `{"rating":4}`},
		{"missing rating", `{"trace_id":"t"}`},
		{"rating below scale", `{"trace_id":"t","rating":0.5}`},
		{"rating above scale", `{"trace_id":"t","rating":6}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := bindFeedback(s, s.userFeedbackHandler, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, errValidation, body.Error)
		})
	}
}

func TestUserFeedbackHandler_Saves(t *testing.T) {
	feedback := &stubFeedback{}
	s := testServer(Dependencies{
		Auth:     &stubVerifier{cred: adminCredential()},
		Limiter:  &stubLimiter{result: openWindow()},
		Feedback: feedback,
	})

	body := `{
		"trace_id": "trace-fb",
		"rating": 4,
		"comment": "Risposta chiara ma manca la giurisprudenza recente",
		"category_ratings": {"clarity": 5, "completeness": 3},
		"missing_information": ["Cass. civ. 2024"]
	}`
	rec := doRequest(s.Router(), http.MethodPost, "/api/v1/feedback/user", "secret", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp FeedbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ufb-1", resp.FeedbackID)
	assert.False(t, resp.RetrainThresholdCrossed)

	require.Len(t, feedback.user, 1)
	saved := feedback.user[0]
	assert.Equal(t, "trace-fb", saved.TraceID)
	assert.Equal(t, 4.0, saved.Rating)
	assert.Equal(t, 5.0, saved.CategoryRatings["clarity"])
	assert.Equal(t, []string{"Cass. civ. 2024"}, saved.MissingInformation)
}

func TestUserFeedbackHandler_UnknownTrace(t *testing.T) {
	s := testServer(Dependencies{
		Auth:     &stubVerifier{cred: adminCredential()},
		Limiter:  &stubLimiter{result: openWindow()},
		Feedback: &stubFeedback{saveErr: services.ErrNotFound},
	})

	rec := doRequest(s.Router(), http.MethodPost, "/api/v1/feedback/user", "secret",
		`{"trace_id":"trace-ghost","rating":3}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errNotFound, body.Error)
}

func TestExpertFeedbackHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name string
		body string
	}{
		{"missing expert_id", `{"trace_id":"t","authority_weight":0.8,"overall_rating":4}`},
		{"zero authority weight", `{"trace_id":"t","expert_id":"e","authority_weight":0,"overall_rating":4}`},
		{"authority weight above one", `{"trace_id":"t","expert_id":"e","authority_weight":1.5,"overall_rating":4}`},
		{"missing overall rating", `{"trace_id":"t","expert_id":"e","authority_weight":0.8}`},
		{"overall rating above scale", `{"trace_id":"t","expert_id":"e","authority_weight":0.8,"overall_rating":6}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := bindFeedback(s, s.expertFeedbackHandler, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, errValidation, body.Error)
		})
	}
}

func TestExpertFeedbackHandler_Records(t *testing.T) {
	reviewer := &stubReviewer{id: "efb-7", crossed: true}
	s := testServer(Dependencies{
		Auth:     &stubVerifier{cred: adminCredential()},
		Limiter:  &stubLimiter{result: openWindow()},
		Reviewer: reviewer,
	})

	body := `{
		"trace_id": "trace-exp",
		"expert_id": "avv-rossi",
		"authority_weight": 0.8,
		"corrections": {"concept_mapping": "clausola penale, non caparra confirmatoria"},
		"overall_rating": 4
	}`
	rec := doRequest(s.Router(), http.MethodPost, "/api/v1/feedback/expert", "secret", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp FeedbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "efb-7", resp.FeedbackID)
	assert.True(t, resp.RetrainThresholdCrossed)

	// The review reaches the evaluator on the raw 1..5 scale; normalization
	// happens there, not in the transport layer.
	require.Len(t, reviewer.reviews, 1)
	review := reviewer.reviews[0]
	assert.Equal(t, "trace-exp", review.TraceID)
	assert.Equal(t, "avv-rossi", review.ExpertID)
	assert.Equal(t, 0.8, review.AuthorityWeight)
	assert.Equal(t, 4.0, review.OverallRating)
	assert.Equal(t, "clausola penale, non caparra confirmatoria", review.Corrections.ConceptMapping)
}

func TestEntityFeedbackHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name string
		body string
	}{
		{"missing kind", `{"trace_id":"t","span":{"text":"art. 1341 c.c."}}`},
		{"unknown kind", `{"trace_id":"t","kind":"bogus","span":{"text":"art. 1341 c.c."}}`},
		{"missing span text", `{"trace_id":"t","kind":"missing-entity","span":{"start":0,"end":4}}`},
		{"span end before start", `{"trace_id":"t","kind":"wrong-boundary","span":{"text":"art. 1341","start":5,"end":2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := bindFeedback(s, s.entityFeedbackHandler, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, errValidation, body.Error)
		})
	}
}

func TestEntityFeedbackHandler_Saves(t *testing.T) {
	feedback := &stubFeedback{}
	s := testServer(Dependencies{
		Auth:     &stubVerifier{cred: adminCredential()},
		Limiter:  &stubLimiter{result: openWindow()},
		Feedback: feedback,
	})

	body := `{
		"trace_id": "trace-ent",
		"kind": "wrong-boundary",
		"span": {"text": "art. 1341 c.c.", "start": 12, "end": 26, "correct_label": "norm"}
	}`
	rec := doRequest(s.Router(), http.MethodPost, "/api/v1/feedback/entity", "secret", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp FeedbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "efb-1", resp.FeedbackID)

	require.Len(t, feedback.entity, 1)
	saved := feedback.entity[0]
	assert.Equal(t, "trace-ent", saved.TraceID)
	assert.Equal(t, models.CorrectionWrongBoundary, saved.Kind)
	assert.Equal(t, "art. 1341 c.c.", saved.Span.Text)
	assert.Equal(t, 12, saved.Span.Start)
	assert.Equal(t, 26, saved.Span.End)
	assert.Equal(t, "norm", saved.Span.CorrectLabel)
}
