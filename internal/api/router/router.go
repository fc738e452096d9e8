package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/schooldesk/assistant/internal/http/handlers"
	httpmiddleware "github.com/schooldesk/assistant/internal/http/middleware"
	"github.com/schooldesk/assistant/internal/webchat"
	"github.com/schooldesk/assistant/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	AssistantHandler   *handlers.AssistantHandler
	AdminRouting       *handlers.AdminRoutingHandler
	WebchatHandler     *webchat.Handler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
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

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}

		if cfg.AssistantHandler != nil {
			public.Route("/assistant", func(r chi.Router) {
				r.Use(requireSchoolID)
				r.Post("/messages", cfg.AssistantHandler.ProcessMessage)
				r.Get("/route", cfg.AssistantHandler.Route)
			})
		}
		if cfg.WebchatHandler != nil {
			public.With(requireSchoolID).Get("/webchat/ws", cfg.WebchatHandler.ServeWS)
		}
	})

	// Admin routes (protected by JWT)
	if cfg.AdminAuthSecret != "" && cfg.AdminRouting != nil {
		r.Route("/admin/routing", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			admin.Get("/versions", cfg.AdminRouting.ListVersions)
			admin.Post("/versions", cfg.AdminRouting.CreateVersion)
			admin.Route("/versions/{versionID}", func(version chi.Router) {
				version.Post("/promote", cfg.AdminRouting.PromoteVersion)
				version.Get("/patterns", cfg.AdminRouting.ListPatterns)
				version.Post("/patterns", cfg.AdminRouting.CreatePattern)
				version.Put("/patterns/{patternID}", cfg.AdminRouting.UpdatePattern)
				version.Delete("/patterns/{patternID}", cfg.AdminRouting.DeletePattern)
				version.Put("/templates", cfg.AdminRouting.UpsertTemplate)
			})
			admin.Post("/validate", cfg.AdminRouting.ValidateExpression)
			admin.Post("/reload", cfg.AdminRouting.Reload)
			admin.Get("/cache", cfg.AdminRouting.CacheStats)
		})
	}

	return r
}
