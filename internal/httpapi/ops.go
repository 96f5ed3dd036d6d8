package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ComponentStatus is one backend's health in the ops report.
type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OpsStatusResponse is the body for GET /v1/ops/status.
type OpsStatusResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	LLMBackend string                     `json:"llm_backend"`
	QueueDepth int                        `json:"queue_depth"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleOpsStatus probes every backend. The report degrades rather than
// erroring: a dead backend shows up in its component, the endpoint stays 200.
func (s *Server) handleOpsStatus(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	components := map[string]ComponentStatus{
		"database":     probe(s.repo.Ping(ctx)),
		"raw_storage":  probe(s.raw.Health(ctx)),
		"vector_index": probe(s.vectors.Health(ctx)),
	}

	overall := "ok"
	for _, comp := range components {
		if comp.Status != "ok" {
			overall = "degraded"
			break
		}
	}

	return c.JSON(http.StatusOK, OpsStatusResponse{
		Status:     overall,
		Components: components,
		LLMBackend: s.generator.Backend(),
		QueueDepth: s.queue.Depth(),
	})
}

func probe(err error) ComponentStatus {
	if err != nil {
		return ComponentStatus{Status: "error", Error: err.Error()}
	}
	return ComponentStatus{Status: "ok"}
}
