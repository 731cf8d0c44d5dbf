// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/goclaw/recall/config"
	"github.com/goclaw/recall/pkg/api/handlers"
	"github.com/goclaw/recall/pkg/api/middleware"
	"github.com/goclaw/recall/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Memory handles retrieval, working memory and scorer endpoints
	Memory *handlers.MemoryHandler

	// Events streams engine events over websocket
	Events *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))

	// Register routes
	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Memory == nil {
			return
		}

		r.Route("/memories", func(r chi.Router) {
			r.Post("/retrieve", handlers.Memory.Retrieve)
			r.Post("/context", handlers.Memory.FormatContext)
		})

		r.Route("/scopes/{scope}", func(r chi.Router) {
			r.Get("/working-memory", handlers.Memory.WorkingMemory)
			r.Post("/turns", handlers.Memory.RecordTurn)
			r.Post("/consolidate", handlers.Memory.Consolidate)
		})

		r.Get("/scorer/config", handlers.Memory.GetScorerConfig)
		r.Put("/scorer/config", handlers.Memory.UpdateScorerConfig)
		r.Post("/cache/flush", handlers.Memory.FlushCache)
	})

	if handlers.Events != nil {
		r.Get("/ws/events", handlers.Events.ServeHTTP)
	}

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}
}
