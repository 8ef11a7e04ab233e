package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/stream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGeneration struct {
	id          int32
	assignments []kafka.PartitionAssignment

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	commits []int64
}

func newFakeGeneration(id int32, partitions ...kafka.PartitionAssignment) *fakeGeneration {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeGeneration{id: id, assignments: partitions, ctx: ctx, cancel: cancel}
}

func (g *fakeGeneration) GenerationID() int32 { return g.id }

func (g *fakeGeneration) Partitions(string) []kafka.PartitionAssignment {
	return g.assignments
}

func (g *fakeGeneration) Start(fn func(ctx context.Context)) {
	go func() {
		fn(g.ctx)
		g.cancel()
	}()
}

func (g *fakeGeneration) CommitOffsets(offsets map[string]map[int]int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, byPartition := range offsets {
		for _, off := range byPartition {
			g.commits = append(g.commits, off)
		}
	}
	return nil
}

func (g *fakeGeneration) lastCommit() (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.commits) == 0 {
		return 0, false
	}
	return g.commits[len(g.commits)-1], true
}

// fakeGroup hands out the scripted generations and errors in order, then
// blocks until the caller gives up.
type fakeGroup struct {
	mu     sync.Mutex
	script []any
	closed bool
}

func (g *fakeGroup) Next(ctx context.Context) (Generation, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, kafka.ErrGroupClosed
	}
	if len(g.script) > 0 {
		step := g.script[0]
		g.script = g.script[1:]
		g.mu.Unlock()
		switch v := step.(type) {
		case error:
			return nil, v
		case Generation:
			return v, nil
		}
		return nil, errors.New("bad script step")
	}
	g.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (g *fakeGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *fakeGroup) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func groupsOf(groups ...*fakeGroup) GroupFactory {
	var mu sync.Mutex
	return func(Config, *slog.Logger) (Group, error) {
		mu.Lock()
		defer mu.Unlock()
		g := groups[0]
		groups = groups[1:]
		return g, nil
	}
}

// fakeLog serves a partition log in batches of batchSize. Like a broker it
// rejects relative offsets and offsets past the end of the log.
type fakeLog struct {
	mu        sync.Mutex
	partition int
	messages  []stream.Message
	batchSize int
	fetches   []int64
}

func newFakeLog(partition int, payloads ...string) *fakeLog {
	l := &fakeLog{partition: partition, batchSize: 3}
	l.append(payloads...)
	return l
}

func (l *fakeLog) append(payloads ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range payloads {
		l.messages = append(l.messages, stream.Message{
			Topic:     "sensor_metrics",
			Partition: l.partition,
			Offset:    int64(len(l.messages)),
			Value:     []byte(p),
		})
	}
}

func (l *fakeLog) readers() ReaderFactory {
	return func(context.Context, string, int) (PartitionReader, error) {
		return l, nil
	}
}

func (l *fakeLog) Resolve(_ context.Context, offset int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch offset {
	case kafka.FirstOffset:
		return 0, nil
	case kafka.LastOffset:
		return int64(len(l.messages)), nil
	}
	return offset, nil
}

func (l *fakeLog) ReadBatch(ctx context.Context, from int64) ([]stream.Message, error) {
	l.mu.Lock()
	l.fetches = append(l.fetches, from)
	if from < 0 || from > int64(len(l.messages)) {
		l.mu.Unlock()
		return nil, kafka.OffsetOutOfRange
	}
	var out []stream.Message
	for _, m := range l.messages {
		if m.Offset >= from && len(out) < l.batchSize {
			out = append(out, m)
		}
	}
	l.mu.Unlock()

	if len(out) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
	return out, nil
}

func (l *fakeLog) fetchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fetches)
}

func (l *fakeLog) negativeFetches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, f := range l.fetches {
		if f < 0 {
			n++
		}
	}
	return n
}

func (l *fakeLog) Close() error { return nil }

func testConfig() Config {
	return Config{
		Brokers:         []string{"localhost:9092"},
		Topic:           "sensor_metrics",
		GroupID:         "sensor-metrics-consumer",
		StartOffset:     "earliest",
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: 4 * time.Millisecond,
		JoinAttempts:    2,
	}
}
