// Package handlers provides the HTTP and WebSocket handlers for fxalert.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Handlers wraps dependencies for HTTP handlers.
type Handlers struct {
	feed     Feed
	hub      Hub
	redis    Pinger
	local    Snapshotter
	reader   InstanceReader
	upgrader websocket.Upgrader

	writeTimeout time.Duration
}

// Option is a functional option for configuring Handlers.
type Option func(*Handlers)

// WithRedis reports the Redis connection in /health.
func WithRedis(p Pinger) Option {
	return func(h *Handlers) {
		h.redis = p
	}
}

// WithMetrics serves this instance's counters and, when reader is set, every instance's.
func WithMetrics(local Snapshotter, reader InstanceReader) Option {
	return func(h *Handlers) {
		h.local = local
		h.reader = reader
	}
}

// WithWriteTimeout bounds WebSocket writes that carry no deadline of their own.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handlers) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// NewHandlers creates a new handlers instance.
func NewHandlers(f Feed, hub Hub, opts ...Option) *Handlers {
	h := &Handlers{
		feed: f,
		hub:  hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Access is gated upstream; accept any origin like the CORS policy does.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
