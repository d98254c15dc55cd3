// Banking alerts assistant server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/alertbot/internal/agent"
	"github.com/ashureev/alertbot/internal/api"
	"github.com/ashureev/alertbot/internal/config"
	"github.com/ashureev/alertbot/internal/identity"
	"github.com/ashureev/alertbot/internal/metrics"
	"github.com/ashureev/alertbot/internal/middleware"
	"github.com/ashureev/alertbot/internal/session"
	"github.com/ashureev/alertbot/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"container", config.IsContainer(),
		"session_timeout", cfg.Session.Timeout(),
		"max_messages", cfg.Session.MaxMessages,
	)

	// Initialize dependencies.
	feedback, err := store.NewSQLite(cfg.Feedback.DBPath)
	if err != nil {
		slog.Error("Failed to initialize feedback database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := feedback.Close(); closeErr != nil {
			slog.Error("Failed to close feedback database", "error", closeErr)
		}
	}()

	if err := feedback.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Feedback database connected", "path", cfg.Feedback.DBPath)

	sessions := session.NewStore(session.StoreConfig{
		MaxMessages: cfg.Session.MaxMessages,
		Timeout:     cfg.Session.Timeout(),
	})

	var classifier agent.Classifier = agent.KeywordClassifier{}
	if cfg.RemoteClassifierEnabled() {
		classifier = agent.NewRemoteClassifier(cfg.Remote.ClassifierURL, cfg.Remote.ClassifierAPIKey, cfg.Remote.Timeout, logger)
		slog.Info("Using remote classifier", "url", cfg.Remote.ClassifierURL)
	}
	var executor agent.Executor = agent.CannedExecutor{}
	if cfg.RemoteActionEnabled() {
		executor = agent.NewRemoteExecutor(cfg.Remote.ActionURL, cfg.Remote.ActionAPIKey, cfg.Remote.Timeout, logger)
		slog.Info("Using remote action service", "url", cfg.Remote.ActionURL)
	}

	svc := agent.NewService(sessions, classifier, agent.RuleValidator{}, executor, agent.ServiceConfig{
		PacingDelay: cfg.Stream.PacingDelay,
		Logger:      logger,
	})

	// Initialize handlers.
	agentHandler := agent.NewHandler(svc, cfg)
	defer agentHandler.Close()

	baseHandler := api.NewHandler(sessions, feedback,
		api.WithMaxBodySize(cfg.Limits.MaxRequestBodySize),
		api.WithInvalidateHook(agentHandler.CloseSession),
	)
	sessionHandler := api.NewSessionHandler(baseHandler)
	feedbackHandler := api.NewFeedbackHandler(baseHandler)
	healthHandler := api.NewHealthHandler(baseHandler)

	registry := metrics.NewRegistry()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware())

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", metrics.Handler(registry))

	sessionHandler.RegisterRoutes(r)
	feedbackHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create server.
	// Note: SSE turns are bounded by the stream idle timeout, not WriteTimeout.
	// Request contexts derive from ctx so in-flight turns see shutdown.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	sweeper := session.StartSweeper(ctx, sessions, cfg.Session.SweepInterval, metrics.RecordSweep)
	defer sweeper.Stop()
	slog.Info("Session sweeper started", "interval", cfg.Session.SweepInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
