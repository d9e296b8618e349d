package api

import (
	"github.com/legalkit/lexor/pkg/database"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/workflow"
)

// SnapshotResponse is returned by GET /api/v1/queries/:traceID: the full
// durable view of one request.
type SnapshotResponse struct {
	Request    *models.RequestRecord     `json:"request"`
	Iterations []models.IterationRecord  `json:"iterations,omitempty"`
	Answer     *models.ProvisionalAnswer `json:"answer,omitempty"`
	Feedback   *SnapshotFeedback         `json:"feedback,omitempty"`
}

// SnapshotFeedback groups the feedback recorded against a trace.
type SnapshotFeedback struct {
	User   *models.UserFeedback    `json:"user,omitempty"`
	Expert []models.ExpertFeedback `json:"expert,omitempty"`
}

// FeedbackResponse is returned by the three feedback endpoints. The retrain
// flag is only meaningful for expert submissions.
type FeedbackResponse struct {
	FeedbackID              string `json:"feedback_id"`
	RetrainThresholdCrossed bool   `json:"retrain_threshold_crossed,omitempty"`
}

// CancelResponse is returned by POST /api/v1/queries/:traceID/cancel.
type CancelResponse struct {
	TraceID   string `json:"trace_id"`
	Cancelled bool   `json:"cancelled"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version"`
	Checks     map[string]HealthCheck     `json:"checks"`
	Database   *database.HealthStatus     `json:"database,omitempty"`
	Dispatcher *workflow.DispatcherHealth `json:"dispatcher,omitempty"`
}

// HealthCheck is one component's verdict inside the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
