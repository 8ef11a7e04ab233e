package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/stream"
)

// PartitionReader fetches raw batches from one partition.
type PartitionReader interface {
	// Resolve maps kafka.FirstOffset and kafka.LastOffset to an absolute
	// offset. Absolute offsets are returned unchanged.
	Resolve(ctx context.Context, offset int64) (int64, error)
	// ReadBatch expects an absolute offset.
	ReadBatch(ctx context.Context, from int64) ([]stream.Message, error)
	Close() error
}

type ReaderFactory func(ctx context.Context, topic string, partition int) (PartitionReader, error)

func newDialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false, // Force IPv4
	}
}

// leaderReaders dials the partition leader through the first broker that
// answers.
func leaderReaders(cfg Config) ReaderFactory {
	dialer := newDialer()
	batchCfg := kafka.ReadBatchConfig{
		MinBytes: cfg.MinBytes,
		MaxBytes: min(cfg.MaxBytesPerPartition, cfg.MaxBytes),
		MaxWait:  cfg.MaxWait,
	}

	return func(ctx context.Context, topic string, partition int) (PartitionReader, error) {
		var lastErr error
		for _, broker := range cfg.Brokers {
			conn, err := dialer.DialLeader(ctx, "tcp", broker, topic, partition)
			if err == nil {
				r := &leaderReader{conn: conn, cfg: batchCfg}
				r.offsets = r.readOffsets
				return r, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("dial leader %s/%d: %w", topic, partition, lastErr)
	}
}

type leaderReader struct {
	conn    *kafka.Conn
	cfg     kafka.ReadBatchConfig
	offsets func(ctx context.Context) (first, last int64, err error)
}

// Resolve asks the leader for the partition bounds: the broker rejects
// relative offsets in a fetch.
func (r *leaderReader) Resolve(ctx context.Context, offset int64) (int64, error) {
	if offset >= 0 {
		return offset, nil
	}
	first, last, err := r.offsets(ctx)
	if err != nil {
		return 0, fmt.Errorf("read partition offsets: %w", err)
	}
	switch offset {
	case kafka.FirstOffset:
		return first, nil
	case kafka.LastOffset:
		return last, nil
	}
	return 0, fmt.Errorf("unknown relative offset %d", offset)
}

func (r *leaderReader) readOffsets(ctx context.Context) (int64, int64, error) {
	stop := r.withDeadline(ctx)
	defer stop()
	return r.conn.ReadOffsets()
}

// withDeadline interrupts blocking conn reads once ctx is done.
func (r *leaderReader) withDeadline(ctx context.Context) func() bool {
	_ = r.conn.SetReadDeadline(time.Time{})
	return context.AfterFunc(ctx, func() {
		_ = r.conn.SetReadDeadline(time.Now())
	})
}

func (r *leaderReader) ReadBatch(ctx context.Context, from int64) ([]stream.Message, error) {
	if from < 0 {
		return nil, fmt.Errorf("read batch at %d: %w", from, kafka.OffsetOutOfRange)
	}
	if _, err := r.conn.Seek(from, kafka.SeekAbsolute|kafka.SeekDontCheck); err != nil {
		return nil, fmt.Errorf("seek to %d: %w", from, err)
	}
	stop := r.withDeadline(ctx)
	defer stop()

	batch := r.conn.ReadBatchWith(r.cfg)
	var msgs []stream.Message
	for {
		m, err := batch.ReadMessage()
		if err != nil {
			break
		}
		if m.Offset < from {
			continue
		}
		msgs = append(msgs, stream.Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Time:      m.Time,
		})
	}
	if err := batch.Close(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return msgs, nil
}

func (r *leaderReader) Close() error {
	return r.conn.Close()
}
