package postgres

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS processed_events (
	event_id     TEXT PRIMARY KEY,
	sensor_id    TEXT NOT NULL,
	partition    INTEGER NOT NULL,
	"offset"     TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS metrics (
	sensor_id   TEXT NOT NULL,
	event_id    TEXT PRIMARY KEY,
	"timestamp" TIMESTAMPTZ NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS metrics_timestamp_idx ON metrics ("timestamp");
CREATE INDEX IF NOT EXISTS metrics_sensor_timestamp_idx ON metrics (sensor_id, "timestamp");

CREATE TABLE IF NOT EXISTS producer_config (
	id               INTEGER PRIMARY KEY DEFAULT 1,
	sensor_count     INTEGER NOT NULL,
	events_per_sec   INTEGER NOT NULL,
	run_duration_sec INTEGER NOT NULL,
	kafka_brokers    TEXT NOT NULL,
	kafka_topic      TEXT NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the tables used by the ingestion and API services.
// It is safe to run on every start.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
