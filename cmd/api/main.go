package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/schooldesk/assistant/internal/api/router"
	"github.com/schooldesk/assistant/internal/classifier"
	appconfig "github.com/schooldesk/assistant/internal/config"
	"github.com/schooldesk/assistant/internal/conversation"
	"github.com/schooldesk/assistant/internal/handlers/fees"
	"github.com/schooldesk/assistant/internal/handlers/general"
	"github.com/schooldesk/assistant/internal/handlers/students"
	httphandlers "github.com/schooldesk/assistant/internal/http/handlers"
	"github.com/schooldesk/assistant/internal/observability/metrics"
	"github.com/schooldesk/assistant/internal/routing"
	"github.com/schooldesk/assistant/internal/webchat"
	"github.com/schooldesk/assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	// Pattern store over pgx; the decision recorder keeps its own database/sql
	// handle so slow log writes never contend with the store's pool.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open logging database", "error", err)
		os.Exit(1)
	}
	defer logDB.Close()

	store := routing.NewStore(pool)
	recorder := routing.NewRecorder(logDB, logger)

	// Optional redis for cross-instance reload notifications.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	notifier := routing.NewReloadNotifier(redisClient, logger)

	// Classifier backend is a soft dependency; the server runs without one.
	clf := buildClassifier(ctx, cfg, logger)

	cache := routing.NewCache(store, logger,
		routing.WithBaseConfidence(cfg.PatternMatchConfidence))
	fusion := routing.NewFusion(cfg.RouterConfidenceThreshold,
		cfg.ClassifierConfidenceThreshold, cfg.FallbackIntent)
	dispatch := routing.NewDispatchTable(general.HandlerName).
		Prefix("students_", students.HandlerName).
		Prefix("fees_", fees.HandlerName)

	routingMetrics := metrics.NewRoutingMetrics(nil)

	engine := conversation.NewEngine(conversation.EngineConfig{
		Cache:      cache,
		Classifier: clf,
		Fusion:     fusion,
		Dispatch:   dispatch,
		Recorder:   recorder,
		Handlers: []conversation.Handler{
			general.New(storeTemplates{store: store, logger: logger}, cfg.FallbackIntent, logger),
			students.New(cfg.SmartEntryCompleteness, logger),
			fees.New(cfg.SmartEntryCompleteness, logger),
		},
		Metrics: routingMetrics,
		Logger:  logger,
	})

	// Initial cache load. A failure here is survivable: the cache reports
	// unloaded and every message falls back until a reload succeeds.
	if err := engine.Reload(ctx); err != nil {
		logger.Error("initial pattern cache load failed", "error", err)
	}

	notifyCtx, stopNotify := context.WithCancel(ctx)
	defer stopNotify()
	notifier.Listen(notifyCtx, engine.Reload)

	// Setup router
	routerCfg := &router.Config{
		Logger:             logger,
		AssistantHandler:   httphandlers.NewAssistantHandler(engine, logger),
		AdminRouting:       httphandlers.NewAdminRoutingHandler(store, engine, notifier, logger),
		WebchatHandler:     webchat.NewHandler(engine, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let in-flight decision log writes finish before the DB handle closes.
	recorder.Wait()

	logger.Info("server stopped")
}

// buildClassifier selects the configured backend. Any misconfiguration logs a
// warning and disables classification rather than refusing to start.
func buildClassifier(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) conversation.IntentClassifier {
	var backend classifier.Backend

	switch cfg.ClassifierBackend {
	case "gemini":
		b, err := classifier.NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini classifier disabled", "error", err)
			return nil
		}
		backend = b
	case "http":
		if cfg.ClassifierBaseURL == "" {
			logger.Warn("http classifier disabled: CLASSIFIER_BASE_URL not set")
			return nil
		}
		b, err := classifier.NewHTTPBackend(classifier.HTTPConfig{
			BaseURL: cfg.ClassifierBaseURL,
			APIKey:  cfg.ClassifierAPIKey,
			Timeout: cfg.ClassifierTimeout,
		})
		if err != nil {
			logger.Warn("http classifier disabled", "error", err)
			return nil
		}
		backend = b
	case "none", "":
		return nil
	default:
		logger.Warn("unknown classifier backend, classification disabled",
			"backend", cfg.ClassifierBackend)
		return nil
	}

	return classifier.NewAdapter(backend, cfg.ClassifierTimeout, logger)
}

// storeTemplates adapts the pattern store to the general handler's template
// lookup. Lookup errors degrade to "no template".
type storeTemplates struct {
	store  *routing.Store
	logger *logging.Logger
}

func (s storeTemplates) Body(ctx context.Context, intent string) (string, bool) {
	tmpl, err := s.store.TemplateForIntent(ctx, intent)
	if err != nil {
		s.logger.Warn("template lookup failed", "intent", intent, "error", err)
		return "", false
	}
	if tmpl == nil {
		return "", false
	}
	return tmpl.Body, true
}
