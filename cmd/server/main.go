package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/resqnet-dispatch/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/resqnet-dispatch/internal/adapter/kafka"
	"github.com/couchcryptid/resqnet-dispatch/internal/adapter/mapbox"
	"github.com/couchcryptid/resqnet-dispatch/internal/adapter/sqlite"
	"github.com/couchcryptid/resqnet-dispatch/internal/adapter/websocket"
	"github.com/couchcryptid/resqnet-dispatch/internal/config"
	"github.com/couchcryptid/resqnet-dispatch/internal/dispatch"
	"github.com/couchcryptid/resqnet-dispatch/internal/observability"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment is authoritative.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	repo, err := sqlite.OpenIncidents(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open incident store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	opts := dispatch.Options{RecentLimit: cfg.RecentLimit}

	// Place enrichment is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		opts.Geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		opts.Publisher = writer
		logger.Info("incident event stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// The hub needs the service for initial snapshots and the service needs
	// the hub to broadcast, so the predictor is bound after construction.
	predictor := &lazyPredictor{}
	hub := websocket.NewHub(predictor, logger, metrics)
	opts.Broadcaster = hub

	svc := dispatch.NewService(repo, opts, logger, metrics)
	predictor.svc = svc

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	<-hubDone
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := repo.Close(); err != nil {
		logger.Error("incident store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
