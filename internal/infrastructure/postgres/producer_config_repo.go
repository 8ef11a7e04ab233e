package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/producerconfig"
)

type ProducerConfigRepository struct {
	db DB
}

func NewProducerConfigRepository(db DB) *ProducerConfigRepository {
	return &ProducerConfigRepository{db: db}
}

// Get returns the stored configuration, or the defaults when none was saved yet.
func (r *ProducerConfigRepository) Get(ctx context.Context) (producerconfig.Config, error) {
	const sql = `
		SELECT sensor_count, events_per_sec, run_duration_sec, kafka_brokers, kafka_topic, updated_at
		FROM producer_config
		WHERE id = 1
	`

	var c producerconfig.Config
	err := r.db.QueryRow(ctx, sql).Scan(&c.SensorCount, &c.EventsPerSec, &c.RunDurationSec, &c.KafkaBrokers, &c.KafkaTopic, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return producerconfig.Defaults(), nil
		}
		return producerconfig.Config{}, fmt.Errorf("get producer config: %w", err)
	}
	return c, nil
}

func (r *ProducerConfigRepository) Upsert(ctx context.Context, c producerconfig.Config) (producerconfig.Config, error) {
	const sql = `
		INSERT INTO producer_config (id, sensor_count, events_per_sec, run_duration_sec, kafka_brokers, kafka_topic)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			sensor_count = EXCLUDED.sensor_count,
			events_per_sec = EXCLUDED.events_per_sec,
			run_duration_sec = EXCLUDED.run_duration_sec,
			kafka_brokers = EXCLUDED.kafka_brokers,
			kafka_topic = EXCLUDED.kafka_topic,
			updated_at = NOW()
		RETURNING updated_at
	`

	merged := c.Merge()
	err := r.db.QueryRow(ctx, sql,
		merged.SensorCount, merged.EventsPerSec, merged.RunDurationSec, merged.KafkaBrokers, merged.KafkaTopic,
	).Scan(&merged.UpdatedAt)
	if err != nil {
		return producerconfig.Config{}, fmt.Errorf("upsert producer config: %w", err)
	}
	return merged, nil
}
