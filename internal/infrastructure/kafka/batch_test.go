package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/stream"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/ingest"
)

var _ ingest.Batch = (*Batch)(nil)

func newTestBatch(gen *fakeGeneration, interval time.Duration, now func() time.Time, offsets ...int64) *Batch {
	tracker := newOffsetTracker(offsets[0])
	msgs := make([]stream.Message, len(offsets))
	for i, o := range offsets {
		msgs[i] = stream.Message{Topic: "sensor_metrics", Offset: o}
	}
	tracker.deliver(msgs)

	return &Batch{
		topic:    "sensor_metrics",
		messages: msgs,
		runCtx:   context.Background(),
		genCtx:   gen.ctx,
		tracker:  tracker,
		committer: &committer{
			gen:       gen,
			topic:     "sensor_metrics",
			tracker:   tracker,
			interval:  interval,
			lastFlush: now(),
			now:       now,
		},
	}
}

func TestBatch_HeartbeatCommitsOnlyWhenDue(t *testing.T) {
	gen := newFakeGeneration(1, kafka.PartitionAssignment{})
	clock := time.Unix(1700000000, 0)
	b := newTestBatch(gen, time.Second, func() time.Time { return clock }, 10, 11, 12)

	b.ResolveOffset(10)
	b.ResolveOffset(11)
	require.NoError(t, b.Heartbeat(context.Background()))
	_, committed := gen.lastCommit()
	assert.False(t, committed)

	clock = clock.Add(time.Second)
	require.NoError(t, b.Heartbeat(context.Background()))
	last, ok := gen.lastCommit()
	require.True(t, ok)
	assert.Equal(t, int64(12), last)
}
