package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Davezu/chatbot/internal/api/middleware"
	"github.com/Davezu/chatbot/internal/chat"
	"github.com/Davezu/chatbot/internal/config"
	"github.com/Davezu/chatbot/internal/handlers"
	"github.com/Davezu/chatbot/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be
// nil, in which case rate limiting is disabled.
func NewRouter(logger zerolog.Logger, cfg *config.Config, chatSvc *chat.Service, ds store.DataStore, redisStore *store.RedisStore, guestID int64) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting, only when Redis is configured
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	}

	// CORS - the widget is embedded on customer-facing pages
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Chat-Admin"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(chatSvc, ds, redisStore, guestID, logger)
	auth := middleware.NewAuthMiddleware(ds)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Public routes (customer widget)
	r.Post("/login", h.Login)
	r.Post("/conversations", h.StartConversation)
	r.Get("/conversations/{id}/messages", h.GetMessages)
	r.Post("/conversations/{id}/messages", h.SendMessage)
	r.Post("/conversations/{id}/request-human", h.RequestHuman)

	// Admin console routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)

		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations/{id}/admin-messages", h.SendAdminMessage)
		r.Post("/conversations/{id}/assign", h.AssignConversation)
		r.Post("/conversations/{id}/close", h.CloseConversation)
	})

	return r
}
