package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlers serves liveness and readiness probes. Checkers are
// optional; a nil checker is skipped.
type HealthHandlers struct {
	checkers map[string]HealthChecker
}

// NewHealthHandlers creates health handlers over the given named checkers.
func NewHealthHandlers(checkers map[string]HealthChecker) *HealthHandlers {
	filtered := make(map[string]HealthChecker, len(checkers))
	for name, checker := range checkers {
		if checker != nil {
			filtered[name] = checker
		}
	}
	return &HealthHandlers{checkers: filtered}
}

// HealthResponse is the body for both probes.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health - process liveness only, no dependency checks.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Ready handles GET /ready - runs every dependency check and returns 503
// if any fails.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "ready",
		Checks:    make(map[string]string, len(h.checkers)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	for name, checker := range h.checkers {
		if err := checker.HealthCheck(ctx); err != nil {
			resp.Checks[name] = "unhealthy: " + err.Error()
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks[name] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
