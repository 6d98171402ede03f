package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/wildfire-fusion/internal/adapter/archive"
	"github.com/couchcryptid/wildfire-fusion/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/wildfire-fusion/internal/adapter/kafka"
	"github.com/couchcryptid/wildfire-fusion/internal/adapter/openmeteo"
	"github.com/couchcryptid/wildfire-fusion/internal/config"
	"github.com/couchcryptid/wildfire-fusion/internal/observability"
	"github.com/couchcryptid/wildfire-fusion/internal/pipeline"
	"github.com/couchcryptid/wildfire-fusion/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Expired events go to pebble when ARCHIVE_PATH is set, otherwise memory.
	var storeOpts []store.Option
	var pebbleArchive *archive.PebbleArchive
	if cfg.ArchivePath != "" {
		pebbleArchive, err = archive.Open(cfg.ArchivePath)
		if err != nil {
			logger.Error("failed to open archive", "path", cfg.ArchivePath, "error", err)
			os.Exit(1)
		}
		storeOpts = append(storeOpts, store.WithArchive(pebbleArchive))
		logger.Info("event archive opened", "path", cfg.ArchivePath)
	}

	components := pipeline.ComponentsFromConfig(cfg, logger, storeOpts...)
	if cfg.WeatherEnabled {
		client := openmeteo.NewClient(cfg.WeatherBaseURL, cfg.WeatherTimeout, metrics, logger)
		components.Weather = openmeteo.NewCachedLookup(client, cfg.WeatherCacheSize, metrics)
		metrics.WeatherEnabled.Set(1)
		logger.Info("weather lookups enabled", "base_url", cfg.WeatherBaseURL,
			"cache_size", cfg.WeatherCacheSize, "timeout", cfg.WeatherTimeout)
	} else {
		logger.Info("weather lookups disabled")
	}
	engine := pipeline.NewEngine(components, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, engine, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler, err := pipeline.NewScheduler(ctx, cfg.CycleSchedule, p.Tick, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start fusion pipeline and lifecycle ticks.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()
	scheduler.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if pebbleArchive != nil {
		if err := pebbleArchive.Close(); err != nil {
			logger.Error("archive close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
