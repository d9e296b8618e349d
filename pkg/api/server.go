// Package api is the HTTP surface: the gin server, the credential gate, and
// the handlers for query submission, state reads, feedback intake, and the
// admin endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/masking"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/ratelimit"
	"github.com/legalkit/lexor/pkg/rlcf"
	"github.com/legalkit/lexor/pkg/services"
	"github.com/legalkit/lexor/pkg/workflow"
)

// Executor admits and runs queries. Satisfied by *workflow.Dispatcher.
type Executor interface {
	Dispatch(ctx context.Context, state *models.WorkflowState) (*models.WorkflowResult, error)
	Cancel(traceID string) bool
	Health() workflow.DispatcherHealth
}

// Verifier resolves presented secrets to credentials. Satisfied by
// *auth.Service.
type Verifier interface {
	Verify(ctx context.Context, presented string) (*models.Credential, error)
}

// QuotaChecker applies the per-credential sliding window. Satisfied by
// *ratelimit.Limiter.
type QuotaChecker interface {
	Check(ctx context.Context, credentialID string, tier models.Tier) ratelimit.Result
}

// Reviewer records external-expert reviews. Satisfied by *rlcf.Evaluator.
type Reviewer interface {
	RecordReview(ctx context.Context, rev rlcf.Review) (string, bool, error)
}

// RequestStore is the admission/terminal surface of the request records.
type RequestStore interface {
	Create(ctx context.Context, rec *models.RequestRecord) error
	Complete(ctx context.Context, rec *models.RequestRecord) error
	Get(ctx context.Context, traceID string) (*models.RequestRecord, error)
}

// IterationLister reads the per-iteration records of a trace.
type IterationLister interface {
	ListByTrace(ctx context.Context, traceID string) ([]models.IterationRecord, error)
}

// AnswerReader reads the final answer of a trace.
type AnswerReader interface {
	GetByTrace(ctx context.Context, traceID string) (*models.ProvisionalAnswer, error)
}

// FeedbackStore covers the feedback writes and the snapshot reads.
type FeedbackStore interface {
	SaveUserFeedback(ctx context.Context, fb *models.UserFeedback) error
	SaveEntityFeedback(ctx context.Context, fb *models.EntityFeedback) error
	LatestUserFeedback(ctx context.Context, traceID string) (*models.UserFeedback, error)
	ListExpertFeedback(ctx context.Context, traceID string) ([]models.ExpertFeedback, error)
}

// UsageLog appends gate audit rows. Satisfied by *services.UsageService.
type UsageLog interface {
	Record(ctx context.Context, rec *models.UsageRecord) error
}

// StatsSource computes the admin aggregates. Satisfied by
// *services.StatsService.
type StatsSource interface {
	Overview(ctx context.Context) (*services.SystemStats, error)
}

// Dependencies bundles everything the handlers call. The optional entries
// (Masker, Usage, Iterations, Answers, Pool) may be nil, which disables the
// corresponding surface; the rest must be wired.
type Dependencies struct {
	Executor   Executor
	Auth       Verifier
	Limiter    QuotaChecker
	Masker     *masking.Service
	Reviewer   Reviewer
	Requests   RequestStore
	Iterations IterationLister
	Answers    AnswerReader
	Feedback   FeedbackStore
	Usage      UsageLog
	Stats      StatsSource

	// Pool backs the database health check only.
	Pool *pgxpool.Pool
}

// Server is the HTTP transport layer.
type Server struct {
	cfg    *config.Config
	deps   Dependencies
	http   *http.Server
	logger *slog.Logger
}

// NewServer wires the transport layer.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: slog.With("component", "api"),
	}
}

// Router builds the gin engine with the middleware chain and every route.
// The health endpoint stays outside the gate so orchestrators can probe
// without a credential.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())

	r.GET("/health", s.healthHandler)

	v1 := r.Group("/api/v1")
	v1.POST("/queries", s.gate(models.RoleGuest), s.submitQueryHandler)
	v1.GET("/queries/:traceID", s.gate(models.RoleGuest), s.getQueryHandler)
	v1.POST("/queries/:traceID/cancel", s.gate(models.RoleAdmin), s.cancelQueryHandler)
	v1.POST("/feedback/user", s.gate(models.RoleUser), s.userFeedbackHandler)
	v1.POST("/feedback/expert", s.gate(models.RoleUser), s.expertFeedbackHandler)
	v1.POST("/feedback/entity", s.gate(models.RoleUser), s.entityFeedbackHandler)
	v1.GET("/stats", s.gate(models.RoleAdmin), s.statsHandler)

	return r
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP server listening", "addr", addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight HTTP exchanges within the context budget.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
