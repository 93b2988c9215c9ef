// Package main implements the entry point for the recurrence core: the
// service that computes successor occurrences for recurring tasks, schedules
// exact-time reminder delivery, and escalates exhausted retries to the dead
// letter queue.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/phrazzld/recur-api/internal/config"
	"github.com/phrazzld/recur-api/internal/platform/logger"
)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.Setup(cfg.Server)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"bus_kind", cfg.Bus.Kind)

	app, err := newApplication(cfg, appLogger)
	if err != nil {
		appLogger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- app.run(ctx) }()

	select {
	case <-ctx.Done():
		appLogger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			appLogger.Error("application failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app.shutdown(shutdownCtx)
}
