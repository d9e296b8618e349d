package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/services"
)

func TestStatusForResult(t *testing.T) {
	tests := []struct {
		name   string
		result *models.WorkflowResult
		want   int
	}{
		{
			name:   "success is 200",
			result: &models.WorkflowResult{Status: models.StatusSuccess},
			want:   http.StatusOK,
		},
		{
			name: "partial is still 200",
			result: &models.WorkflowResult{
				Status:   models.StatusPartial,
				Warnings: []models.Warning{{Code: models.WarnAgentDegraded}},
			},
			want: http.StatusOK,
		},
		{
			name: "failed on timeout is 408",
			result: &models.WorkflowResult{
				Status:   models.StatusFailed,
				Warnings: []models.Warning{{Code: models.WarnTimeout}},
			},
			want: http.StatusRequestTimeout,
		},
		{
			name:   "failed without timeout is 500",
			result: &models.WorkflowResult{Status: models.StatusFailed},
			want:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForResult(tt.result))
		})
	}
}

func TestMapServiceError(t *testing.T) {
	s := testServer(Dependencies{})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation error", services.NewValidationError("rating", "must be between 0 and 1"), http.StatusBadRequest, errValidation},
		{"not found", services.ErrNotFound, http.StatusNotFound, errNotFound},
		{"wrapped not found", errors.Join(errors.New("lookup"), services.ErrNotFound), http.StatusNotFound, errNotFound},
		{"anything else", errors.New("connection refused"), http.StatusInternalServerError, errInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			s.mapServiceError(c, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error)
		})
	}

	t.Run("validation detail names the field", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		s.mapServiceError(c, services.NewValidationError("authority_weight", "must be positive"))

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body.Detail, "authority_weight")
	})
}
