package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"fxalert/internal/metrics"
)

const healthProbeTimeout = 2 * time.Second

// HealthResponse reports the state of the feed and the shared bus.
type HealthResponse struct {
	Status string `json:"status"`
	Feed   string `json:"feed"`
	Redis  string `json:"redis"`
}

// Health always answers 200 so that a feed outage does not get the process restarted;
// status is "degraded" while a dependency is down.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Feed: "connected", Redis: "disabled"}
	if !h.feed.IsConnected() {
		resp.Feed = "disconnected"
		resp.Status = "degraded"
	}
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()
		if err := h.redis.Ping(ctx); err != nil {
			slog.Warn("Redis health probe failed", "error", err)
			resp.Redis = "disconnected"
			resp.Status = "degraded"
		} else {
			resp.Redis = "connected"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// MetricsResponse holds this instance's counters and those reported by every instance.
type MetricsResponse struct {
	Instance  *metrics.InstanceMetrics            `json:"instance"`
	Instances map[string]*metrics.InstanceMetrics `json:"instances,omitempty"`
}

// GetMetrics returns delivery and evaluation counters.
// GET /api/v1/metrics
func (h *Handlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.local == nil {
		http.Error(w, "Metrics not available", http.StatusServiceUnavailable)
		return
	}
	resp := MetricsResponse{Instance: h.local.Snapshot()}
	if h.reader != nil {
		all, err := h.reader.All(r.Context())
		if err != nil {
			slog.Warn("Failed to read instance metrics", "error", err)
		} else {
			resp.Instances = all
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
