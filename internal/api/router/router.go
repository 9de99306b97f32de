package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atendeai/clinic-assistant/internal/http/handlers"
	httpmiddleware "github.com/atendeai/clinic-assistant/internal/http/middleware"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	ChatHandler        *handlers.ChatHandler
	HealthHandler      *handlers.HealthHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimit          float64
	RateBurst          int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.ChatHandler != nil {
		r.Route("/api/conversations", func(api chi.Router) {
			if cfg.RateLimit > 0 {
				api.Use(httpmiddleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
			}
			api.Post("/message", cfg.ChatHandler.HandleMessage)
			api.Post("/message/stream", cfg.ChatHandler.HandleMessageStream)
			api.Get("/{conversationID}/history", cfg.ChatHandler.HandleHistory)
		})
	}

	return r
}
