// Package api exposes the dashboard over HTTP: read endpoints and a
// websocket stream for consumers, JWT-protected operator actions.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/funneldash/dashcore/internal/auth"
	"github.com/funneldash/dashcore/internal/config"
	"github.com/funneldash/dashcore/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RouterDeps are the collaborators of NewRouter
type RouterDeps struct {
	Dashboard Dashboard
	Auth      *auth.Service
	Hub       *Hub
	Logger    *slog.Logger

	// Metrics serves /metrics when set
	Metrics http.Handler

	CORS           config.CORSConfig
	RefreshTimeout time.Duration
	// TokenTTL bounds tokens issued by login, one hour when zero
	TokenTTL time.Duration
}

// NewRouter creates and configures the API router
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	// CORS (if enabled)
	if deps.CORS.Enabled {
		r.Use(middleware.CORS(deps.CORS))
	}

	healthHandler := NewHealthHandler(deps.Dashboard)
	dashboardHandler := NewDashboardHandler(deps.Dashboard, deps.RefreshTimeout, logger)
	rulesHandler := NewRulesHandler(deps.Dashboard, logger)
	authHandler := NewAuthHandler(deps.Auth, deps.TokenTTL, logger)

	// Public routes (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Post("/api/v1/auth/login", authHandler.Login)

	r.Route("/api/v1/dashboard", func(r chi.Router) {
		// Subscription surface stays open
		r.Get("/metrics", dashboardHandler.Metrics)
		r.Get("/metrics/trend", dashboardHandler.Trend)
		r.Get("/events", dashboardHandler.Events)
		r.Get("/alerts", dashboardHandler.Alerts)
		r.Get("/channels", dashboardHandler.Channels)
		r.Get("/state", dashboardHandler.State)
		if deps.Hub != nil {
			r.Get("/stream", deps.Hub.ServeWs)
		}

		// Protected routes (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(deps.Auth))

			r.Post("/alerts/{id}/resolve", dashboardHandler.ResolveAlert)
			r.Post("/refresh", dashboardHandler.Refresh)
			r.Post("/channels/{name}/reconnect", dashboardHandler.ReconnectChannel)

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", rulesHandler.List)
				r.Post("/", rulesHandler.Create)
				r.Patch("/{id}", rulesHandler.SetEnabled)
				r.Delete("/{id}", rulesHandler.Delete)
				r.Post("/{id}/clear", rulesHandler.Clear)
			})
		})
	})

	return r
}
