package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/config"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/infrastructure/kafka"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/infrastructure/postgres"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/infrastructure/redis"

	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	go_redis "github.com/redis/go-redis/v9"
)

const (
	postgresAttempts   = 5
	postgresRetryDelay = 2 * time.Second
)

// Factory lazily builds the shared clients of a process and closes them.
type Factory struct {
	cfg      *config.Config
	log      *slog.Logger
	pgPool   *pgxpool.Pool
	redisCli *go_redis.Client
	producer *kafka.Producer

	pgAttempts   int
	pgRetryDelay time.Duration
}

func NewFactory(cfg *config.Config, log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{
		cfg:          cfg,
		log:          log,
		pgAttempts:   postgresAttempts,
		pgRetryDelay: postgresRetryDelay,
	}
}

func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pgPool != nil {
		return f.pgPool, nil
	}

	var pool *pgxpool.Pool
	var err error

	for i := 1; i <= f.pgAttempts; i++ {
		pool, err = postgres.NewClient(ctx, postgres.Config{
			Host:           f.cfg.Postgres.Host,
			Port:           f.cfg.Postgres.Port,
			User:           f.cfg.Postgres.User,
			Password:       f.cfg.Postgres.Password,
			DBName:         f.cfg.Postgres.DBName,
			MaxConns:       f.cfg.Postgres.MaxConns,
			ConnectTimeout: f.cfg.Postgres.ConnectTimeout,
		})
		if err == nil || i == f.pgAttempts {
			break
		}
		f.log.Warn("Failed to connect to postgres, retrying",
			slog.Int("attempt", i),
			slog.Int("max_attempts", f.pgAttempts),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.pgRetryDelay):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to init postgres after retries: %w", err)
	}

	f.pgPool = pool
	return pool, nil
}

func (f *Factory) Redis(ctx context.Context) (*go_redis.Client, error) {
	if f.redisCli != nil {
		return f.redisCli, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Addr: f.cfg.Redis.Addr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.redisCli = client
	return client, nil
}

// Producer builds a writer for the given brokers and topic. The first call
// wins; later calls return the same producer.
func (f *Factory) Producer(brokers []string, topic string) *kafka.Producer {
	if f.producer == nil {
		f.producer = kafka.NewProducer(kafka.ProducerConfig{Brokers: brokers, Topic: topic})
	}
	return f.producer
}

func (f *Factory) ConsumerConfig() kafka.Config {
	k, c := f.cfg.Kafka, f.cfg.Consumer
	return kafka.Config{
		Brokers:              k.Brokers,
		Topic:                k.Topic,
		GroupID:              k.GroupID,
		SessionTimeout:       k.SessionTimeout,
		HeartbeatInterval:    k.HeartbeatInterval,
		StartOffset:          k.StartOffset,
		MinBytes:             k.MinBytes,
		MaxBytes:             k.MaxBytes,
		MaxBytesPerPartition: k.MaxBytesPerPartition,
		MaxWait:              k.MaxWait,
		CommitInterval:       c.CommitInterval,
		RetryBackoff:         c.RetryBackoff,
		MaxRetryBackoff:      c.MaxRetryBackoff,
	}
}

func (f *Factory) Close() {
	if f.producer != nil {
		if err := f.producer.Close(); err != nil {
			f.log.Warn("Failed to close kafka producer", slog.Any("error", err))
		}
	}
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisCli != nil {
		f.redisCli.Close()
	}
}
