package postgres

import (
	"context"
	"fmt"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/ledger"
)

type LedgerRepository struct {
	db DB
	tx *TxManager
}

func NewLedgerRepository(db DB) *LedgerRepository {
	return &LedgerRepository{db: db, tx: NewTxManager(db)}
}

// A single set-based statement: concurrent callers racing on the same
// event_id are arbitrated by the primary key, and a repeated event_id inside
// one call is inserted once.
const markNewSQL = `
	INSERT INTO processed_events (event_id, sensor_id, partition, "offset")
	SELECT * FROM unnest($1::text[], $2::text[], $3::integer[], $4::text[])
	ON CONFLICT (event_id) DO NOTHING
	RETURNING event_id
`

// MarkNew records entries in the ledger and reports, per distinct event_id,
// whether this call was the first ever to see it.
func (r *LedgerRepository) MarkNew(ctx context.Context, entries []ledger.Entry) (map[string]bool, error) {
	result := make(map[string]bool, len(entries))
	if len(entries) == 0 {
		return result, nil
	}

	ids := make([]string, len(entries))
	sensors := make([]string, len(entries))
	partitions := make([]int32, len(entries))
	offsets := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.EventID
		sensors[i] = e.SensorID
		partitions[i] = e.Partition
		offsets[i] = e.Offset
		result[e.EventID] = false
	}

	err := r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		rows, err := GetTx(ctx).Query(ctx, markNewSQL, ids, sensors, partitions, offsets)
		if err != nil {
			return fmt.Errorf("insert processed events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan processed event: %w", err)
			}
			result[id] = true
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("insert processed events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *LedgerRepository) GetByEventID(ctx context.Context, eventID string) (*ledger.Entry, error) {
	const sql = `
		SELECT event_id, sensor_id, partition, "offset", processed_at
		FROM processed_events
		WHERE event_id = $1
	`

	var e ledger.Entry
	err := r.db.QueryRow(ctx, sql, eventID).Scan(&e.EventID, &e.SensorID, &e.Partition, &e.Offset, &e.ProcessedAt)
	if err != nil {
		return nil, fmt.Errorf("get processed event: %w", err)
	}
	return &e, nil
}

func (r *LedgerRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM processed_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count processed events: %w", err)
	}
	return n, nil
}

// Orphans lists ledger entries that have no metrics row. They are events a
// failed metrics write left marked as processed.
func (r *LedgerRepository) Orphans(ctx context.Context, limit int) ([]ledger.Entry, error) {
	const sql = `
		SELECT p.event_id, p.sensor_id, p.partition, p."offset", p.processed_at
		FROM processed_events p
		LEFT JOIN metrics m ON m.event_id = p.event_id
		WHERE m.event_id IS NULL
		ORDER BY p.processed_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query orphaned ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.EventID, &e.SensorID, &e.Partition, &e.Offset, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
