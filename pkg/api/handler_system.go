package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legalkit/lexor/pkg/database"
	"github.com/legalkit/lexor/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only lexor's own components (database, dispatcher) are checked. External
// backends (graph, vector store, LLM service) are excluded so an orchestrator
// does not restart lexor when a dependency it cannot fix is down.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy
	resp := &HealthResponse{Version: version.GitCommit}

	if s.deps.Pool != nil {
		db, err := database.Health(reqCtx, s.deps.Pool)
		if err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
			resp.Database = db
		}
	}

	if s.deps.Executor != nil {
		dispatch := s.deps.Executor.Health()
		resp.Dispatcher = &dispatch
		if dispatch.Draining {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["dispatcher"] = HealthCheck{Status: healthStatusDegraded, Message: "draining"}
		} else {
			checks["dispatcher"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	resp.Status = status
	resp.Checks = checks
	c.JSON(httpStatus, resp)
}

// statsHandler handles GET /api/v1/stats.
func (s *Server) statsHandler(c *gin.Context) {
	stats, err := s.deps.Stats.Overview(c.Request.Context())
	if err != nil {
		s.logger.Error("Stats aggregation failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: errInternal})
		return
	}
	c.JSON(http.StatusOK, stats)
}
