// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// HealthCheck tracks startup state and the dependencies readiness depends on.
type HealthCheck struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	ready  bool
	checks map[string]CheckFunc
}

// NewHealthCheck creates a new HealthCheck instance. It reports not ready
// until SetReady(true) is called.
func NewHealthCheck(logger *zap.Logger) *HealthCheck {
	return &HealthCheck{
		logger:  logger,
		timeout: 2 * time.Second,
		checks:  make(map[string]CheckFunc),
	}
}

// Register adds a dependency probe consulted by the readiness endpoint
func (hc *HealthCheck) Register(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health requests.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests. Every registered probe runs
// on each call; one failure makes the service not ready.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hc.mu.RLock()
	ready := hc.ready
	checks := make(map[string]CheckFunc, len(hc.checks))
	for name, fn := range hc.checks {
		checks[name] = fn
	}
	hc.mu.RUnlock()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "starting"})
		return
	}

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), hc.timeout)
		err := checks[name](ctx)
		cancel()
		if err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = "unhealthy"
			if resp.Error == "" {
				resp.Error = name + ": " + err.Error()
			}
			resp.Status = "not_ready"
			continue
		}
		resp.Checks[name] = "healthy"
	}

	if resp.Status != "ready" {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// SetReady sets the readiness status.
func (hc *HealthCheck) SetReady(ready bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.ready = ready
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
