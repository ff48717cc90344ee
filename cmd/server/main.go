// Package main implements the entry point for the PixelVault queue API,
// the coordination service between gallery clients submitting generation
// requests and the worker fleet executing them.
package main

import (
	"log"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/pixelvault/pixelvault-api/internal/config"
	"github.com/pixelvault/pixelvault-api/internal/platform/logger"
)

func main() {
	// Load .env if present; real deployments use environment variables.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded environment from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.Setup(cfg.Server)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"max_queued_per_user", cfg.Queue.MaxQueuedPerUser)

	app, err := newApplication(cfg, appLogger)
	if err != nil {
		appLogger.Error("failed to initialize application", "error", err)
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.run(); err != nil {
		appLogger.Error("server exited with error", "error", err)
		log.Fatalf("Server exited with error: %v", err)
	}
}
