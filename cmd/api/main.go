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

	"golang.org/x/sync/errgroup"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/api"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/application/factories/infrastructure"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/config"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/infrastructure/postgres"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/usecase"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := postgres.EnsureSchema(ctx, pgPool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// Redis only backs the summary cache and the idempotency keys
	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Warn("redis unavailable, serving without cache", "error", err)
		redisClient = nil
	}

	// Repositories
	metricRepo := postgres.NewMetricRepository(pgPool)
	configRepo := postgres.NewProducerConfigRepository(pgPool)

	// UseCases
	queryMetricsUC := usecase.NewQueryMetrics(metricRepo)
	getSummaryUC := usecase.NewGetSummary(redisClient, metricRepo)
	getConfigUC := usecase.NewGetProducerConfig(configRepo)
	updateConfigUC := usecase.NewUpdateProducerConfig(configRepo)

	handlers := api.NewHandlers(queryMetricsUC, getSummaryUC, getConfigUC, updateConfigUC, logger)
	apiHandler := api.NewRouter(handlers, redisClient, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           apiHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
