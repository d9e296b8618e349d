package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/services"
)

// submitQueryHandler handles POST /api/v1/queries. It admits the request
// (trace id, admission record), dispatches it through the bounded executor,
// and returns the workflow result. The admission record is written with the
// masked query; the working copy handed to the runtime stays unmasked.
func (s *Server) submitQueryHandler(c *gin.Context) {
	var req SubmitQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: errValidation, Detail: err.Error()})
		return
	}

	traceID := uuid.New().String()
	now := time.Now().UTC()
	opts := req.Options.toOptions()

	state := models.NewWorkflowState(traceID, &models.QueryRequest{
		Query:     req.Query,
		SessionID: req.SessionID,
		Hints:     req.Hints,
	}, opts, now)
	if rateLimitBypassed(c) {
		state.AddWarning(models.WarnRateLimitBypassed, "rate limit counter unavailable, request admitted unchecked")
	}

	s.admit(c, traceID, &req, opts, now)

	ctx, cancel := context.WithTimeout(c.Request.Context(), opts.Timeout(s.cfg.Timeouts.Request))
	defer cancel()

	result, err := s.deps.Executor.Dispatch(ctx, state)
	if err != nil {
		s.abandon(c, traceID, now)
		s.refuseDispatch(c, traceID, err)
		return
	}

	c.JSON(statusForResult(result), result)
}

// admit writes the admission record. Failures degrade to a warning on the
// state; a broken durable store never refuses a request.
func (s *Server) admit(c *gin.Context, traceID string, req *SubmitQueryRequest, opts models.RequestOptions, now time.Time) {
	if s.deps.Requests == nil {
		return
	}

	query := req.Query
	if s.deps.Masker != nil {
		query = s.deps.Masker.Mask(query)
	}

	rec := &models.RequestRecord{
		TraceID:   traceID,
		SessionID: req.SessionID,
		Query:     query,
		Hints:     req.Hints,
		Options:   opts,
		Status:    models.StatusRunning,
		StartedAt: now,
	}
	if cred := credentialFrom(c); cred != nil {
		rec.CredentialID = cred.ID
	}

	if err := s.deps.Requests.Create(c.Request.Context(), rec); err != nil {
		s.logger.Warn("Admission record not created", "trace_id", traceID, "error", err)
	}
}

// abandon closes the admission record of a request the dispatcher refused,
// so no row stays running forever. Best-effort like every terminal write.
func (s *Server) abandon(c *gin.Context, traceID string, startedAt time.Time) {
	if s.deps.Requests == nil {
		return
	}
	now := time.Now().UTC()
	err := s.deps.Requests.Complete(c.Request.Context(), &models.RequestRecord{
		TraceID:     traceID,
		Status:      models.StatusFailed,
		CompletedAt: &now,
		DurationMS:  now.Sub(startedAt).Milliseconds(),
	})
	if err != nil {
		s.logger.Warn("Refused request not finalized", "trace_id", traceID, "error", err)
	}
}

// getQueryHandler handles GET /api/v1/queries/:traceID.
func (s *Server) getQueryHandler(c *gin.Context) {
	traceID := c.Param("traceID")
	ctx := c.Request.Context()

	rec, err := s.deps.Requests.Get(ctx, traceID)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}

	resp := &SnapshotResponse{Request: rec}

	if s.deps.Iterations != nil {
		iterations, err := s.deps.Iterations.ListByTrace(ctx, traceID)
		if err != nil {
			s.mapServiceError(c, err)
			return
		}
		resp.Iterations = iterations
	}

	if s.deps.Answers != nil {
		answer, err := s.deps.Answers.GetByTrace(ctx, traceID)
		if err != nil && !errors.Is(err, services.ErrNotFound) {
			s.mapServiceError(c, err)
			return
		}
		resp.Answer = answer
	}

	if s.deps.Feedback != nil {
		resp.Feedback = s.snapshotFeedback(ctx, traceID)
	}

	c.JSON(http.StatusOK, resp)
}

// snapshotFeedback collects the feedback views best-effort: a broken read
// degrades to an absent section rather than failing the whole snapshot.
func (s *Server) snapshotFeedback(ctx context.Context, traceID string) *SnapshotFeedback {
	fb := &SnapshotFeedback{}

	user, err := s.deps.Feedback.LatestUserFeedback(ctx, traceID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		s.logger.Warn("User feedback read failed", "trace_id", traceID, "error", err)
	}
	fb.User = user

	expert, err := s.deps.Feedback.ListExpertFeedback(ctx, traceID)
	if err != nil {
		s.logger.Warn("Expert feedback read failed", "trace_id", traceID, "error", err)
	}
	fb.Expert = expert

	if fb.User == nil && len(fb.Expert) == 0 {
		return nil
	}
	return fb
}

// cancelQueryHandler handles POST /api/v1/queries/:traceID/cancel. Only
// requests still holding an execution slot can be cancelled.
func (s *Server) cancelQueryHandler(c *gin.Context) {
	traceID := c.Param("traceID")

	if !s.deps.Executor.Cancel(traceID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   errNotFound,
			Detail:  "no active request for this trace",
			TraceID: traceID,
		})
		return
	}

	s.logger.Info("Request cancelled", "trace_id", traceID)
	c.JSON(http.StatusOK, CancelResponse{TraceID: traceID, Cancelled: true})
}
