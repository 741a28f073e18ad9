package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/upb/rag-gateway/utils"
	"go.uber.org/zap"
)

const readinessTimeout = 3 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CheckFunc reports whether a dependency is reachable
type CheckFunc func(ctx context.Context) error

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]CheckFunc),
		logger: logger,
	}
}

// AddCheck registers a readiness dependency
func (h *HealthHandler) AddCheck(name string, fn CheckFunc) *HealthHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
	return h
}

// HandleHealth handles GET /healthz
// Liveness only; always 200 while the process serves requests
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	h.mu.RLock()
	registered := make(map[string]CheckFunc, len(h.checks))
	names := make([]string, 0, len(h.checks))
	for name, fn := range h.checks {
		registered[name] = fn
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		if err := registered[name](ctx); err != nil {
			h.logger.Warn("readiness check failed",
				zap.String("dependency", name),
				zap.Error(err))
			checks[name] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
