// Package api serves the operational HTTP surface: liveness, readiness
// and Prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is connected to its event
// source and able to process.
type ReadinessChecker interface {
	IsConnected() bool
}

// Handler serves the health and metrics endpoints.
type Handler struct {
	readiness ReadinessChecker
	logger    *slog.Logger
	started   time.Time
}

// NewHandler creates the HTTP handler. readiness may be nil, in which
// case /ready always reports ready.
func NewHandler(readiness ReadinessChecker, logger *slog.Logger) *Handler {
	return &Handler{
		readiness: readiness,
		logger:    logger,
		started:   time.Now(),
	}
}

// Routes returns the mux with all operational endpoints registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Health is the liveness probe. It always returns 200 while the process
// is running.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Ready is the readiness probe. It returns 503 while the event stream
// connection is down so the orchestrator can hold traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.readiness != nil && !h.readiness.IsConnected() {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"reason": "event stream disconnected",
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
