package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/config"
)

func TestFactory_RedisIsBuiltOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	f := NewFactory(&config.Config{Redis: config.Redis{Addr: mr.Addr()}}, nil)
	defer f.Close()

	first, err := f.Redis(context.Background())
	require.NoError(t, err)
	second, err := f.Redis(context.Background())
	require.NoError(t, err)

	assert.True(t, first == second)
}

func TestFactory_PostgresGivesUpWhenContextEnds(t *testing.T) {
	f := NewFactory(&config.Config{Postgres: config.Postgres{
		Host:           "127.0.0.1",
		Port:           "1",
		User:           "metrics",
		DBName:         "metrics",
		ConnectTimeout: 50 * time.Millisecond,
	}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := f.Postgres(ctx)
	require.Error(t, err)
}

func TestFactory_ConsumerConfigCarriesSettings(t *testing.T) {
	cfg := &config.Config{
		Kafka: config.Kafka{
			Brokers:     []string{"k1:9092"},
			Topic:       "sensor_metrics",
			GroupID:     "sensor-metrics-consumer",
			StartOffset: "earliest",
			MaxWait:     100 * time.Millisecond,
		},
		Consumer: config.Consumer{CommitInterval: 2500 * time.Millisecond},
	}

	kc := NewFactory(cfg, nil).ConsumerConfig()
	assert.Equal(t, []string{"k1:9092"}, kc.Brokers)
	assert.Equal(t, "earliest", kc.StartOffset)
	assert.Equal(t, 2500*time.Millisecond, kc.CommitInterval)
	assert.Equal(t, 100*time.Millisecond, kc.MaxWait)
}

func TestFactory_PostgresDoesNotWaitAfterLastAttempt(t *testing.T) {
	f := NewFactory(&config.Config{Postgres: config.Postgres{
		Host:           "127.0.0.1",
		Port:           "1",
		User:           "metrics",
		DBName:         "metrics",
		ConnectTimeout: 50 * time.Millisecond,
	}}, nil)
	f.pgAttempts = 2
	f.pgRetryDelay = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started := time.Now()
	_, err := f.Postgres(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "after retries")

	f.pgAttempts = 1
	f.pgRetryDelay = time.Hour
	_, err = f.Postgres(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 4*time.Second)
}
