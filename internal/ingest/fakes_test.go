package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/ledger"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/sensor"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/stream"
)

// memLedger enforces event_id uniqueness under a lock, standing in for the
// primary key of processed_events.
type memLedger struct {
	mu      sync.Mutex
	rows    map[string]ledger.Entry
	calls   int
	failErr error
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]ledger.Entry)}
}

func (l *memLedger) MarkNew(_ context.Context, entries []ledger.Entry) (map[string]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failErr != nil {
		return nil, l.failErr
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		if _, ok := l.rows[e.EventID]; ok {
			if _, seen := out[e.EventID]; !seen {
				out[e.EventID] = false
			}
			continue
		}
		l.rows[e.EventID] = e
		out[e.EventID] = true
	}
	return out, nil
}

func (l *memLedger) snapshot() map[string]ledger.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make(map[string]ledger.Entry, len(l.rows))
	for k, v := range l.rows {
		cp[k] = v
	}
	return cp
}

func (l *memLedger) restore(rows map[string]ledger.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = rows
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

type memMetrics struct {
	mu      sync.Mutex
	rows    map[string]sensor.Event
	calls   int
	failErr error
}

func newMemMetrics() *memMetrics {
	return &memMetrics{rows: make(map[string]sensor.Event)}
}

func (m *memMetrics) InsertBatch(_ context.Context, events []sensor.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failErr != nil {
		return m.failErr
	}
	for _, e := range events {
		if _, ok := m.rows[e.EventID]; ok {
			continue
		}
		m.rows[e.EventID] = e
	}
	return nil
}

func (m *memMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memTx rolls the ledger back when the wrapped function fails.
type memTx struct {
	ledger *memLedger
}

func (tx memTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	before := tx.ledger.snapshot()
	if err := fn(ctx); err != nil {
		tx.ledger.restore(before)
		return err
	}
	return nil
}

type fakeBatch struct {
	partition  int
	messages   []stream.Message
	resolved   []int64
	heartbeats int
	stopped    bool
	// staleAfter > 0 makes IsStale report true from that call on.
	staleAfter int
	staleCalls int
}

func (b *fakeBatch) Topic() string              { return "sensor_metrics" }
func (b *fakeBatch) Partition() int             { return b.partition }
func (b *fakeBatch) Messages() []stream.Message { return b.messages }
func (b *fakeBatch) IsRunning() bool            { return !b.stopped }
func (b *fakeBatch) ResolveOffset(offset int64) { b.resolved = append(b.resolved, offset) }

func (b *fakeBatch) IsStale() bool {
	b.staleCalls++
	return b.staleAfter > 0 && b.staleCalls >= b.staleAfter
}

func (b *fakeBatch) Heartbeat(context.Context) error {
	b.heartbeats++
	return nil
}

// MockGate is a testify mock of Gate.
type MockGate struct {
	mock.Mock
}

func (m *MockGate) MarkNew(ctx context.Context, entries []ledger.Entry) (map[string]bool, error) {
	args := m.Called(ctx, entries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

var errStoreDown = errors.New("store unavailable")
