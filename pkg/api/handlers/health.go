package handlers

import (
	"net/http"

	"github.com/goclaw/recall/pkg/api/response"
	"github.com/goclaw/recall/pkg/engine"
)

// HealthChecker reports engine liveness and readiness.
type HealthChecker interface {
	IsHealthy() bool
	IsReady() bool
	GetStatus() *engine.EngineStatus
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	engine HealthChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(eng HealthChecker) *HealthHandler {
	return &HealthHandler{
		engine: eng,
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.engine.IsHealthy() {
		response.JSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]string{
		"status": "unhealthy",
	})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ready := h.engine.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, map[string]bool{
		"ready": ready,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.engine.GetStatus())
}
