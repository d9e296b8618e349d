package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legalkit/lexor/pkg/auth"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/services"
	"github.com/legalkit/lexor/pkg/workflow"
)

// Error codes carried in the response body. Credential and quota codes match
// the gate's refusal classes one to one.
const (
	errMissingCredential  = "missing-credential"
	errInvalidCredential  = "invalid-credential"
	errInactiveCredential = "inactive-credential"
	errExpiredCredential  = "expired-credential"
	errForbiddenRole      = "forbidden-role"
	errQuotaExceeded      = "quota-exceeded"
	errValidation         = "input-fails-schema"
	errNotFound           = "not-found"
	errAtCapacity         = "at-capacity"
	errDraining           = "draining"
	errInternal           = "internal"
)

const quotaExceededStatus = http.StatusTooManyRequests

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// refuse rejects a request at the gate. Verification failures map to 401,
// role failures to 403; anything else is a broken credential store.
func (s *Server) refuse(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: errMissingCredential})
	case errors.Is(err, auth.ErrInvalidCredential):
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: errInvalidCredential})
	case errors.Is(err, auth.ErrInactiveCredential):
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: errInactiveCredential})
	case errors.Is(err, auth.ErrExpiredCredential):
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: errExpiredCredential})
	case errors.Is(err, auth.ErrForbiddenRole):
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: errForbiddenRole})
	default:
		s.logger.Error("Credential verification failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: errInternal})
	}
}

// mapServiceError maps persistence-layer errors to HTTP error responses.
func (s *Server) mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: errValidation, Detail: validErr.Error()})
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: errNotFound, Detail: "trace not found"})
		return
	}

	s.logger.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: errInternal})
}

// refuseDispatch rejects a submission the dispatcher would not run.
func (s *Server) refuseDispatch(c *gin.Context, traceID string, err error) {
	switch {
	case errors.Is(err, workflow.ErrDraining):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   errDraining,
			Detail:  "service is shutting down",
			TraceID: traceID,
		})
	case errors.Is(err, workflow.ErrAtCapacity):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:   errAtCapacity,
			Detail:  "no execution slot became free in time",
			TraceID: traceID,
		})
	default:
		s.logger.Error("Dispatch failed", "trace_id", traceID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: errInternal, TraceID: traceID})
	}
}

// statusForResult picks the HTTP status for a completed workflow. Partial
// results are successful responses; a request that timed out with nothing to
// show is a 408, any other empty failure a 500.
func statusForResult(result *models.WorkflowResult) int {
	if result.Status != models.StatusFailed {
		return http.StatusOK
	}
	for _, w := range result.Warnings {
		if w.Code == models.WarnTimeout {
			return http.StatusRequestTimeout
		}
	}
	return http.StatusInternalServerError
}
