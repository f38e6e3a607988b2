// Package router provides HTTP routing configuration for the fxalert API.
// It sets up routes and applies middleware like CORS.
package router

import (
	"net/http"
	"time"

	"fxalert/internal/handlers"
	"fxalert/internal/metrics"
)

// Router wraps the HTTP mux and provides route configuration.
type Router struct {
	mux      *http.ServeMux
	handlers *handlers.Handlers
	metrics  metrics.Recorder
}

// NewRouter creates a new router with all routes configured. recorder may be nil.
func NewRouter(h *handlers.Handlers, recorder metrics.Recorder) *Router {
	if recorder == nil {
		recorder = metrics.NewNoOp()
	}
	r := &Router{
		mux:      http.NewServeMux(),
		handlers: h,
		metrics:  recorder,
	}
	r.setupRoutes()
	return r
}

// setupRoutes configures all HTTP routes for the API.
func (r *Router) setupRoutes() {
	r.mux.HandleFunc("GET /health", r.handlers.Health)
	r.mux.HandleFunc("GET /ws", r.handlers.ServeWS)

	// Chart data
	r.mux.HandleFunc("GET /api/v1/charts/symbols", r.handlers.ListSymbols)
	r.mux.HandleFunc("GET /api/v1/charts/history/{symbol}", r.handlers.GetHistory)
	r.mux.HandleFunc("GET /api/v1/charts/quote/{symbol}", r.handlers.GetQuote)

	r.mux.HandleFunc("GET /api/v1/metrics", r.handlers.GetMetrics)
}

// Handler returns the HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	return corsMiddleware(metricsMiddleware(r.metrics)(r.mux))
}

// NewServer creates a new HTTP server with the router configured.
func NewServer(port string, h *handlers.Handlers, recorder metrics.Recorder) *http.Server {
	router := NewRouter(h, recorder)
	return &http.Server{
		Addr:         ":" + port,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
