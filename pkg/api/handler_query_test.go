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

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/masking"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/ratelimit"
	"github.com/legalkit/lexor/pkg/workflow"
)

func TestSubmitQueryHandler_Validation(t *testing.T) {
	// Only binding failures are exercised here: they return 400 before any
	// dependency is touched.
	s := &Server{}

	tests := []struct {
		name string
		body string
	}{
		{"missing query", `{}`},
		{"malformed json", `not-json`},
		{"iteration cap above maximum", `{"query":"q","options":{"max_iterations":11}}`},
		{"timeout below minimum", `{"query":"q","options":{"timeout_ms":500}}`},
		{"timeout above maximum", `{"query":"q","options":{"timeout_ms":200000}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			s.submitQueryHandler(c)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, errValidation, body.Error)
		})
	}
}

func TestSubmitQueryHandler_RunsWorkflow(t *testing.T) {
	executor := &stubExecutor{result: &models.WorkflowResult{
		Status:     models.StatusSuccess,
		StopReason: models.StopHighQuality,
	}}
	requests := &stubRequestStore{}
	s := testServer(Dependencies{
		Auth:     &stubVerifier{cred: adminCredential()},
		Limiter:  &stubLimiter{result: openWindow()},
		Executor: executor,
		Requests: requests,
		Masker:   masking.NewService(&config.MaskingConfig{Enabled: true, Patterns: []string{"email"}}),
	})

	body := `{
		"query": "Il cliente mario.rossi@example.it può recedere dal contratto di locazione?",
		"session_id": "sess-7",
		"options": {"max_iterations": 2, "return_trace": true}
	}`
	rec := doRequest(s.Router(), http.MethodPost, "/api/v1/queries", "secret", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	var result models.WorkflowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.TraceID)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, models.StopHighQuality, result.StopReason)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))

	// The working copy keeps the raw query.
	state := executor.dispatched()
	require.NotNil(t, state)
	assert.Equal(t, result.TraceID, state.TraceID)
	assert.Contains(t, state.Query, "mario.rossi@example.it")
	assert.Equal(t, "sess-7", state.SessionID)
	assert.Equal(t, 2, state.Options.MaxIterations)
	assert.True(t, state.Options.ReturnTrace)

	// The admission record carries the masked copy and the credential.
	require.Len(t, requests.created, 1)
	admitted := requests.created[0]
	assert.Equal(t, result.TraceID, admitted.TraceID)
	assert.Equal(t, "cred-admin", admitted.CredentialID)
	assert.Equal(t, models.StatusRunning, admitted.Status)
	assert.Contains(t, admitted.Query, "[EMAIL]")
	assert.NotContains(t, admitted.Query, "mario.rossi@example.it")
}

func TestSubmitQueryHandler_BypassWarning(t *testing.T) {
	executor := &stubExecutor{}
	s := testServer(Dependencies{
		Auth:     &stubVerifier{cred: adminCredential()},
		Limiter:  &stubLimiter{result: ratelimit.Result{Allowed: true, Bypassed: true}},
		Executor: executor,
	})

	rec := doRequest(s.Router(), http.MethodPost, "/api/v1/queries", "secret",
		`{"query":"È valida la clausola compromissoria?"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	state := executor.dispatched()
	require.NotNil(t, state)
	found := false
	for _, w := range state.Warnings {
		if w.Code == models.WarnRateLimitBypassed {
			found = true
		}
	}
	assert.True(t, found, "bypassed admission must be marked on the state")
}

func TestSubmitQueryHandler_DispatcherRefusals(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"at capacity", workflow.ErrAtCapacity, http.StatusTooManyRequests, errAtCapacity},
		{"draining", workflow.ErrDraining, http.StatusServiceUnavailable, errDraining},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests := &stubRequestStore{}
			s := testServer(Dependencies{
				Auth:     &stubVerifier{cred: adminCredential()},
				Limiter:  &stubLimiter{result: openWindow()},
				Executor: &stubExecutor{err: tt.err},
				Requests: requests,
			})

			rec := doRequest(s.Router(), http.MethodPost, "/api/v1/queries", "secret",
				`{"query":"Quali sono i termini di prescrizione?"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error)
			assert.NotEmpty(t, body.TraceID)

			// The admission record is closed out as failed.
			require.Len(t, requests.completed, 1)
			assert.Equal(t, models.StatusFailed, requests.completed[0].Status)
			require.NotNil(t, requests.completed[0].CompletedAt)

			if tt.err == workflow.ErrAtCapacity {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestSubmitQueryHandler_TimeoutMapsTo408(t *testing.T) {
	executor := &stubExecutor{result: &models.WorkflowResult{
		Status:     models.StatusFailed,
		StopReason: models.StopTimeout,
		Warnings:   []models.Warning{{Code: models.WarnTimeout, Message: "deadline expired before the first iteration completed"}},
	}}
	s := testServer(Dependencies{
		Auth:     &stubVerifier{cred: adminCredential()},
		Limiter:  &stubLimiter{result: openWindow()},
		Executor: executor,
	})

	rec := doRequest(s.Router(), http.MethodPost, "/api/v1/queries", "secret",
		`{"query":"q","options":{"timeout_ms":1000}}`)

	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
	var result models.WorkflowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.StopTimeout, result.StopReason)
}

func TestGetQueryHandler(t *testing.T) {
	record := &models.RequestRecord{
		TraceID: "trace-snap",
		Query:   "Che tutela ha il conduttore in caso di vendita dell'immobile?",
		Status:  models.StatusSuccess,
	}
	answer := &models.ProvisionalAnswer{Content: "Emptio non tollit locatum: il contratto è opponibile.", Confidence: 0.9}
	iteration := models.IterationRecord{TraceID: "trace-snap", Index: 1}
	userFB := &models.UserFeedback{ID: "ufb-9", TraceID: "trace-snap", Rating: 5}

	deps := func(records map[string]*models.RequestRecord, answers *stubAnswers, feedback *stubFeedback) Dependencies {
		return Dependencies{
			Auth:       &stubVerifier{cred: adminCredential()},
			Limiter:    &stubLimiter{result: openWindow()},
			Executor:   &stubExecutor{},
			Requests:   &stubRequestStore{records: records},
			Iterations: &stubIterations{items: []models.IterationRecord{iteration}},
			Answers:    answers,
			Feedback:   feedback,
		}
	}

	t.Run("full snapshot", func(t *testing.T) {
		s := testServer(deps(
			map[string]*models.RequestRecord{"trace-snap": record},
			&stubAnswers{answer: answer},
			&stubFeedback{latest: userFB, expert: []models.ExpertFeedback{{ID: "efb-2", TraceID: "trace-snap"}}},
		))

		rec := doRequest(s.Router(), http.MethodGet, "/api/v1/queries/trace-snap", "secret", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp SnapshotResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Request)
		assert.Equal(t, "trace-snap", resp.Request.TraceID)
		require.Len(t, resp.Iterations, 1)
		require.NotNil(t, resp.Answer)
		assert.Equal(t, answer.Content, resp.Answer.Content)
		require.NotNil(t, resp.Feedback)
		require.NotNil(t, resp.Feedback.User)
		assert.Equal(t, "ufb-9", resp.Feedback.User.ID)
		assert.Len(t, resp.Feedback.Expert, 1)
	})

	t.Run("unknown trace returns 404", func(t *testing.T) {
		s := testServer(deps(map[string]*models.RequestRecord{}, &stubAnswers{}, &stubFeedback{}))

		rec := doRequest(s.Router(), http.MethodGet, "/api/v1/queries/trace-ghost", "secret", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, errNotFound, body.Error)
	})

	t.Run("absent answer and feedback stay omitted", func(t *testing.T) {
		s := testServer(deps(
			map[string]*models.RequestRecord{"trace-snap": record},
			&stubAnswers{},
			&stubFeedback{},
		))

		rec := doRequest(s.Router(), http.MethodGet, "/api/v1/queries/trace-snap", "secret", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp SnapshotResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Nil(t, resp.Answer)
		assert.Nil(t, resp.Feedback)
	})
}

func TestCancelQueryHandler(t *testing.T) {
	t.Run("active request is cancelled", func(t *testing.T) {
		executor := &stubExecutor{cancelOK: true}
		s := testServer(Dependencies{
			Auth:     &stubVerifier{cred: adminCredential()},
			Limiter:  &stubLimiter{result: openWindow()},
			Executor: executor,
		})

		rec := doRequest(s.Router(), http.MethodPost, "/api/v1/queries/trace-x/cancel", "secret", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp CancelResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "trace-x", resp.TraceID)
		assert.True(t, resp.Cancelled)
		assert.Equal(t, []string{"trace-x"}, executor.cancelled)
	})

	t.Run("unknown trace returns 404", func(t *testing.T) {
		s := testServer(Dependencies{
			Auth:     &stubVerifier{cred: adminCredential()},
			Limiter:  &stubLimiter{result: openWindow()},
			Executor: &stubExecutor{cancelOK: false},
		})

		rec := doRequest(s.Router(), http.MethodPost, "/api/v1/queries/trace-x/cancel", "secret", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
