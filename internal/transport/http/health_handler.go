package http

import (
	"log/slog"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/render"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service string
	version string
	started time.Time
	ready   atomic.Bool
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler. It reports ready until
// SetReady(false) is called.
func NewHealthHandler(service, version string, logger *slog.Logger) *HealthHandler {
	h := &HealthHandler{
		service: service,
		version: version,
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
	h.ready.Store(true)
	return h
}

// SetReady flips readiness, typically to false while draining.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
	h.logger.Info("Readiness changed", slog.Bool("ready", ready))
}

// LivenessCheck handles GET /healthz
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// ReadinessCheck handles GET /readyz
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]interface{}{"status": "draining"})
		return
	}
	render.JSON(w, r, map[string]interface{}{"status": "ready"})
}

// Version handles GET /version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"service":    h.service,
		"version":    h.version,
		"go_version": runtime.Version(),
	})
}
