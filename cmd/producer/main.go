package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/application/factories/infrastructure"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/config"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/producerconfig"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/infrastructure/postgres"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/simulator"
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

	fallback := producerconfig.Config{
		SensorCount:    cfg.Producer.SensorCount,
		EventsPerSec:   cfg.Producer.EventsPerSec,
		RunDurationSec: cfg.Producer.RunDurationSec,
		KafkaBrokers:   strings.Join(cfg.Kafka.Brokers, ","),
		KafkaTopic:     cfg.Kafka.Topic,
	}

	// The stored config wins; without postgres the environment is used.
	var store simulator.ConfigStore
	if pgPool, err := infraFactory.Postgres(ctx); err != nil {
		logger.Warn("postgres unavailable, producer config from environment", "error", err)
	} else {
		store = postgres.NewProducerConfigRepository(pgPool)
	}
	runCfg := simulator.ResolveConfig(ctx, store, fallback, logger)

	producer := infraFactory.Producer(simulator.Brokers(runCfg), runCfg.KafkaTopic)
	runner := simulator.NewRunner(runCfg, producer, logger)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Producer.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Producer metrics listening", "port", cfg.Producer.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
		return runner.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("producer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("producer exited")
}
