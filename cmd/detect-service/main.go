// Package main is the entry point for the detection service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/siem-platform/detect-service/internal/api"
	"github.com/siem-platform/detect-service/internal/config"
	"github.com/siem-platform/detect-service/internal/consumer"
	"github.com/siem-platform/detect-service/internal/engine"
	"github.com/siem-platform/detect-service/internal/rules"
	"github.com/siem-platform/detect-service/internal/state"
	"github.com/siem-platform/detect-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.Port,
		"nats_url", cfg.NATS.URL,
		"stream", cfg.NATS.Stream,
		"state_backend", cfg.State.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// State store
	var store state.Store
	switch cfg.State.Backend {
	case "redis":
		redisStore, err := state.NewRedisStore(cfg.State.Redis)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		store = redisStore
		slog.Info("redis state store initialized", "addr", cfg.State.Redis.Addr)
	default:
		store = state.NewMemoryStore()
		slog.Info("in-memory state store initialized")
	}

	// Alert sink
	slog.Info("initializing ClickHouse storage",
		"hosts", cfg.Storage.ClickHouse.Hosts,
		"database", cfg.Storage.ClickHouse.Database,
	)
	chClient, err := storage.NewClickHouseClient(cfg.Storage.ClickHouse)
	if err != nil {
		slog.Error("failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}
	defer chClient.Close()

	slog.Info("running database migrations")
	migrator := storage.NewMigrator(chClient, logger)
	if err := migrator.Run(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	alertWriter := storage.NewAlertWriter(chClient, logger)

	// Detection engine
	ruleSet := []rules.Rule{
		rules.NewFailedLoginRule(store, cfg.Detection.FailedLogin),
	}
	detectionEngine := engine.New(store, ruleSet)

	// Event consumer
	eventConsumer := consumer.New(cfg.NATS, detectionEngine, alertWriter)
	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- eventConsumer.Start(ctx)
	}()

	// Operational HTTP server
	handler := api.NewHandler(eventConsumer, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("starting http server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal or consumer failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-consumerErr:
		if err != nil {
			slog.Error("consumer stopped", "error", err)
		}
	}

	// Graceful shutdown: stop consuming first so no event is half-processed,
	// then drain the HTTP server.
	cancel()
	eventConsumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}

	m := eventConsumer.Metrics()
	slog.Info("shutdown complete", "consumed", m.Consumed, "acked", m.Acked, "naked", m.Naked)
}

func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
