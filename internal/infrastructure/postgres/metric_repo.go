package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/metric"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/sensor"
)

type MetricRepository struct {
	db DB
	tx *TxManager
}

func NewMetricRepository(db DB) *MetricRepository {
	return &MetricRepository{db: db, tx: NewTxManager(db)}
}

const insertMetricsSQL = `
	INSERT INTO metrics (sensor_id, event_id, "timestamp", value)
	SELECT * FROM unnest($1::text[], $2::text[], $3::timestamptz[], $4::double precision[])
	ON CONFLICT (event_id) DO NOTHING
`

// InsertBatch writes events in one transaction with a single multi-row
// insert. Either every row is written or none is.
func (r *MetricRepository) InsertBatch(ctx context.Context, events []sensor.Event) error {
	if len(events) == 0 {
		return nil
	}

	sensors := make([]string, len(events))
	ids := make([]string, len(events))
	timestamps := make([]time.Time, len(events))
	values := make([]float64, len(events))
	for i, e := range events {
		sensors[i] = e.SensorID
		ids[i] = e.EventID
		timestamps[i] = e.Timestamp
		values[i] = e.Value
	}

	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := GetTx(ctx).Exec(ctx, insertMetricsSQL, sensors, ids, timestamps, values); err != nil {
			return fmt.Errorf("insert metrics: %w", err)
		}
		return nil
	})
}

func (r *MetricRepository) Query(ctx context.Context, f metric.Filter, p metric.Page) ([]*metric.Record, error) {
	where, args := filterClause(f)
	args = append(args, p.Limit, p.Offset)

	sql := fmt.Sprintf(`
		SELECT sensor_id, event_id, "timestamp", value, created_at
		FROM metrics
		%s
		ORDER BY "timestamp" DESC
		LIMIT $%d
		OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	records := make([]*metric.Record, 0)
	for rows.Next() {
		m := &metric.Record{}
		if err := rows.Scan(&m.SensorID, &m.EventID, &m.Timestamp, &m.Value, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		records = append(records, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}

	return records, nil
}

func (r *MetricRepository) Summary(ctx context.Context, f metric.Filter) (metric.Summary, error) {
	where, args := filterClause(f)

	sql := fmt.Sprintf(`
		SELECT
			COUNT(*)::bigint,
			MIN("timestamp"),
			MAX("timestamp"),
			CASE
				WHEN MAX("timestamp") IS NULL THEN NULL
				ELSE EXTRACT(EPOCH FROM (NOW() - MAX("timestamp")))::double precision
			END
		FROM metrics
		%s
	`, where)

	var s metric.Summary
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&s.TotalEvents, &s.From, &s.To, &s.LagSeconds); err != nil {
		return metric.Summary{}, fmt.Errorf("summarize metrics: %w", err)
	}
	return s, nil
}

func filterClause(f metric.Filter) (string, []any) {
	var conditions []string
	var args []any

	if f.From != nil {
		args = append(args, *f.From)
		conditions = append(conditions, fmt.Sprintf(`"timestamp" >= $%d`, len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conditions = append(conditions, fmt.Sprintf(`"timestamp" <= $%d`, len(args)))
	}
	if f.SensorID != "" {
		args = append(args, f.SensorID)
		conditions = append(conditions, fmt.Sprintf(`sensor_id = $%d`, len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
