package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/ledger"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/sensor"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/stream"
)

var (
	ErrGate    = errors.New("idempotency gate")
	ErrPersist = errors.New("bulk persist")
)

// Batch is the control surface the stream consumer exposes for one
// partition batch.
type Batch interface {
	Topic() string
	Partition() int
	Messages() []stream.Message
	// IsRunning is false once the process is stopping or the partition was revoked.
	IsRunning() bool
	// IsStale is true once a rebalance made this batch's assignment obsolete.
	IsStale() bool
	Heartbeat(ctx context.Context) error
	// ResolveOffset marks one message consumed. It does not commit.
	ResolveOffset(offset int64)
}

// Gate reports, per distinct event_id, whether the call was the first to see it.
type Gate interface {
	MarkNew(ctx context.Context, entries []ledger.Entry) (map[string]bool, error)
}

type Persister interface {
	InsertBatch(ctx context.Context, events []sensor.Event) error
}

type Transactor interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
}

type Processor struct {
	gate      Gate
	persister Persister
	tx        Transactor
	offsets   *offsetCoordinator
	log       *slog.Logger
}

type Option func(*Processor)

// WithAtomicLedger runs the ledger write and the metrics write in one
// transaction. Without it the ledger commits first, so a failed metrics write
// leaves ledger entries behind and the redelivered events are treated as
// duplicates and never stored.
func WithAtomicLedger(tx Transactor) Option {
	return func(p *Processor) {
		p.tx = tx
	}
}

func NewProcessor(gate Gate, persister Persister, log *slog.Logger, opts ...Option) *Processor {
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		gate:      gate,
		persister: persister,
		offsets:   &offsetCoordinator{log: log},
		log:       log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type candidate struct {
	event sensor.Event
	msg   stream.Message
}

// HandleBatch decodes, deduplicates and persists one partition batch.
// Offsets are resolved only after the batch is durably handled; a returned
// error means nothing but dropped payloads was resolved and the batch must be
// redelivered.
func (p *Processor) HandleBatch(ctx context.Context, b Batch) error {
	started := time.Now()
	log := p.log.With(slog.String("topic", b.Topic()), slog.Int("partition", b.Partition()))

	msgs := b.Messages()
	examined := make([]stream.Message, 0, len(msgs))
	candidates := make([]candidate, 0, len(msgs))

	for _, msg := range msgs {
		if !b.IsRunning() || b.IsStale() {
			batchesAborted.Inc()
			log.Warn("Consumer stopped or stale, aborting batch",
				slog.Int64("offset", msg.Offset),
				slog.Int("remaining", len(msgs)-len(examined)))
			break
		}
		examined = append(examined, msg)

		ev, err := Decode(msg)
		if err != nil {
			decodeFailures.Inc()
			log.Error("Dropping undecodable message", slog.Int64("offset", msg.Offset), slog.Any("error", err))
			p.offsets.drop(ctx, b, msg)
			continue
		}
		candidates = append(candidates, candidate{event: ev, msg: msg})
	}

	if len(candidates) == 0 {
		log.Debug("No valid events to process in this batch", slog.Int("messages", len(examined)))
		return nil
	}

	persisted, err := p.store(ctx, b.Partition(), candidates)
	if err != nil {
		stage := "gate"
		if errors.Is(err, ErrPersist) {
			stage = "persist"
		}
		batchFailures.WithLabelValues(stage).Inc()
		log.Error("Batch processing failed",
			slog.String("stage", stage),
			slog.Int64("first_offset", examined[0].Offset),
			slog.Int64("last_offset", examined[len(examined)-1].Offset),
			slog.Int("events", len(candidates)),
			slog.Any("error", err))
		return err
	}

	p.offsets.complete(ctx, b, examined)

	duplicates := len(candidates) - len(persisted)
	eventsPersisted.Add(float64(len(persisted)))
	eventsDuplicate.Add(float64(duplicates))
	batchDuration.Observe(time.Since(started).Seconds())

	if len(persisted) == 0 {
		log.Debug("All events in batch were duplicates, skipping", slog.Int("events", len(candidates)))
		return nil
	}
	log.Info("Processed batch",
		slog.Int("new_events", len(persisted)),
		slog.Int("duplicates", duplicates),
		slog.Int64("last_offset", examined[len(examined)-1].Offset))
	return nil
}

// store runs the gate and then persists the first-seen events.
func (p *Processor) store(ctx context.Context, partition int, candidates []candidate) ([]sensor.Event, error) {
	var persisted []sensor.Event

	write := func(ctx context.Context) error {
		entries := make([]ledger.Entry, len(candidates))
		for i, c := range candidates {
			entries[i] = ledger.Entry{
				EventID:   c.event.EventID,
				SensorID:  c.event.SensorID,
				Partition: int32(partition),
				Offset:    strconv.FormatInt(c.msg.Offset, 10),
			}
		}

		fresh, err := p.gate.MarkNew(ctx, entries)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrGate, err)
		}

		persisted = firstSeen(candidates, fresh)
		if len(persisted) == 0 {
			return nil
		}

		if err := p.persister.InsertBatch(ctx, persisted); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		return nil
	}

	var err error
	if p.tx != nil {
		err = p.tx.WithinTransaction(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

// firstSeen keeps the first occurrence of every event_id the gate reported new.
func firstSeen(candidates []candidate, fresh map[string]bool) []sensor.Event {
	out := make([]sensor.Event, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		id := c.event.EventID
		if !fresh[id] {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, c.event)
	}
	return out
}
