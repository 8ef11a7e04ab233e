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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/application/factories/infrastructure"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/config"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/infrastructure/kafka"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/infrastructure/postgres"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/ingest"
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

	ledgerRepo := postgres.NewLedgerRepository(pgPool)
	metricRepo := postgres.NewMetricRepository(pgPool)

	var opts []ingest.Option
	if cfg.Consumer.AtomicLedger {
		opts = append(opts, ingest.WithAtomicLedger(postgres.NewTxManager(pgPool)))
		logger.Warn("Atomic ledger mode enabled: ledger and metrics are written in one transaction")
	}
	processor := ingest.NewProcessor(ledgerRepo, metricRepo, logger, opts...)

	consumer := kafka.NewConsumer(infraFactory.ConsumerConfig(), logger)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Consumer.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Consumer metrics listening", "port", cfg.Consumer.MetricsPort)
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
		return supervise(gctx, logger, consumer, processor, cfg.Consumer)
	})

	logger.Info("Sensor metrics consumer started",
		"topic", cfg.Kafka.Topic,
		"group_id", cfg.Kafka.GroupID,
		"atomic_ledger", cfg.Consumer.AtomicLedger)

	if err := g.Wait(); err != nil {
		logger.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer exited")
}

// supervise restarts the consumer after a crash, backing off between
// attempts, until ctx is cancelled.
func supervise(ctx context.Context, logger *slog.Logger, consumer *kafka.Consumer, processor *ingest.Processor, cfg config.Consumer) error {
	handle := func(ctx context.Context, b *kafka.Batch) error {
		return processor.HandleBatch(ctx, b)
	}

	backoff := cfg.RetryBackoff
	for {
		err := consumer.Run(ctx, handle)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		logger.Error("Consumer stopped, restarting", "error", err, "backoff", backoff, "crashed", errors.Is(err, kafka.ErrCrashed))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, cfg.MaxRetryBackoff)
	}
}
