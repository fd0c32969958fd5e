// Agent Mailbox Bridge Daemon
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/agent-mailbox/internal/bridge"
	"github.com/ashureev/agent-mailbox/internal/config"
	"github.com/ashureev/agent-mailbox/internal/executor"
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

	cfg, err := config.LoadBridge()
	if err != nil {
		slog.Error("Failed to load bridge configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting bridge", "server_url", cfg.ServerURL, "gateway_url", cfg.GatewayURL)

	gateway := executor.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayToken, cfg.HookURL, cfg.HookToken)
	d := bridge.New(cfg, gateway)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.Run(ctx)
	slog.Info("Bridge stopped")
}
