package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	httpadapter "github.com/couchcryptid/ensemble-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/ensemble-etl/internal/adapter/kafka"
	"github.com/couchcryptid/ensemble-etl/internal/config"
	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
	"github.com/couchcryptid/ensemble-etl/internal/observability"
	"github.com/couchcryptid/ensemble-etl/internal/pipeline"
	"github.com/couchcryptid/ensemble-etl/internal/products"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	grid, err := ensemble.NewGrid(cfg.GridNY, cfg.GridNX)
	if err != nil {
		logger.Error("invalid grid", "error", err)
		os.Exit(1)
	}
	members, err := ensemble.NewMemberSet(cfg.Members...)
	if err != nil {
		logger.Error("invalid ensemble members", "error", err)
		os.Exit(1)
	}
	catalog, err := products.LoadCatalog(cfg.ProductCatalog)
	if err != nil {
		logger.Error("failed to load product catalog", "error", err, "path", cfg.ProductCatalog)
		os.Exit(1)
	}
	processor, err := products.NewProcessor(grid, catalog, products.Options{
		DefaultRadius: cfg.LPMMRadius,
		Workers:       cfg.LPMMWorkers,
	}, logger, metrics)
	if err != nil {
		logger.Error("failed to build product processor", "error", err)
		os.Exit(1)
	}
	logger.Info("ensemble configured",
		"grid", grid.String(),
		"members", members.Len(),
		"steps", cfg.Steps(),
		"quantities", len(catalog.Quantities),
		"lpmm_radius", cfg.LPMMRadius,
		"workers", cfg.LPMMWorkers,
	)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(processor, pipeline.RunLayout{
		Members:       members,
		Grid:          grid,
		StepHours:     cfg.StepHours,
		ForecastHours: cfg.ForecastHours,
		CacheSize:     cfg.RunCacheSize,
	}, logger, metrics)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, transformer, catalog, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
