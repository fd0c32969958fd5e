// Agent Mailbox Relay Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/agent-mailbox/internal/api"
	"github.com/ashureev/agent-mailbox/internal/config"
	"github.com/ashureev/agent-mailbox/internal/crypto"
	"github.com/ashureev/agent-mailbox/internal/middleware"
	"github.com/ashureev/agent-mailbox/internal/push"
	"github.com/ashureev/agent-mailbox/internal/store"
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

	slog.Info("Starting relay", "port", cfg.Port)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var envelope *crypto.Envelope
	if cfg.EncryptionKey != "" {
		key, err := crypto.ParseKey(cfg.EncryptionKey)
		if err != nil {
			slog.Error("Failed to parse MAILBOX_ENCRYPTION_KEY", "error", err)
			os.Exit(1)
		}
		envelope, err = crypto.NewEnvelope(key)
		if err != nil {
			slog.Error("Failed to build encryption envelope", "error", err)
			os.Exit(1)
		}
		slog.Info("At-rest message encryption enabled")
	} else {
		slog.Warn("MAILBOX_ENCRYPTION_KEY not set, messages stored in plaintext")
	}

	hub := push.NewHub()
	baseHandler := api.NewHandler(repo, hub, envelope)
	endpoint := push.NewEndpoint(hub, repo, cfg.AllowedOrigin)

	router := api.NewRouter(baseHandler, endpoint, []string{cfg.AllowedOrigin},
		chiMiddleware.RequestID,
		chiMiddleware.RealIP,
		chiMiddleware.Logger,
		chiMiddleware.Recoverer,
		chiMiddleware.Heartbeat("/ping"),
		middleware.CORS([]string{cfg.AllowedOrigin}),
	)

	janitor := store.NewJanitor(repo, cfg.Janitor.Schedule, cfg.Janitor.ExpiryGrace)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := janitor.Start(ctx); err != nil {
		slog.Error("Failed to start janitor", "error", err)
		os.Exit(1)
	}
	defer janitor.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout, required for long-lived push connections
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

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
