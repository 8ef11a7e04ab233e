package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAsync(t *testing.T, c *Consumer, ctx context.Context, handle BatchHandlerFunc) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, handle) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
		return nil
	}
}

func TestConsumer_CommitsResolvedMessagesAndStops(t *testing.T) {
	gen := newFakeGeneration(1, kafka.PartitionAssignment{ID: 0, Offset: kafka.FirstOffset})
	group := &fakeGroup{script: []any{gen}}
	log := newFakeLog(0, "a", "b", "c", "d", "e")

	cfg := testConfig()
	c := NewConsumer(cfg, discardLogger(), WithGroupFactory(groupsOf(group)), WithReaderFactory(log.readers()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []int64
	)
	done := runAsync(t, c, ctx, func(ctx context.Context, b *Batch) error {
		assert.True(t, b.IsRunning())
		assert.False(t, b.IsStale())
		for _, m := range b.Messages() {
			mu.Lock()
			seen = append(seen, m.Offset)
			mu.Unlock()
			b.ResolveOffset(m.Offset)
		}
		if b.Messages()[len(b.Messages())-1].Offset == 4 {
			cancel()
		}
		return nil
	})

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, seen)
	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, group.isClosed())

	last, ok := gen.lastCommit()
	require.True(t, ok)
	assert.Equal(t, int64(5), last)
}

func TestConsumer_RedeliversFromFirstUnresolvedOffset(t *testing.T) {
	gen := newFakeGeneration(1, kafka.PartitionAssignment{ID: 0, Offset: kafka.FirstOffset})
	log := newFakeLog(0, "a", "bad", "c", "d")

	c := NewConsumer(testConfig(), discardLogger(),
		WithGroupFactory(groupsOf(&fakeGroup{script: []any{gen}})),
		WithReaderFactory(log.readers()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		calls     int
		firstSeen [][]int64
	)
	done := runAsync(t, c, ctx, func(ctx context.Context, b *Batch) error {
		calls++
		var offsets []int64
		for _, m := range b.Messages() {
			offsets = append(offsets, m.Offset)
		}
		firstSeen = append(firstSeen, offsets)

		if calls == 1 {
			// only the undecodable message is resolved before the store fails
			b.ResolveOffset(1)
			return errors.New("store unavailable")
		}
		for _, m := range b.Messages() {
			b.ResolveOffset(m.Offset)
		}
		if offsets[len(offsets)-1] == 3 {
			cancel()
		}
		return nil
	})

	require.NoError(t, waitRun(t, done))
	require.GreaterOrEqual(t, len(firstSeen), 2)
	assert.Equal(t, []int64{0, 1, 2}, firstSeen[0])
	assert.Equal(t, int64(0), firstSeen[1][0])

	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.Equal(t, []int64{3, 4}, gen.commits)
}

func TestConsumer_StaleAssignmentIsVisibleToTheBatch(t *testing.T) {
	gen := newFakeGeneration(1, kafka.PartitionAssignment{ID: 3, Offset: kafka.FirstOffset})
	log := newFakeLog(3, "a", "b")

	c := NewConsumer(testConfig(), discardLogger(),
		WithGroupFactory(groupsOf(&fakeGroup{script: []any{gen}})),
		WithReaderFactory(log.readers()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		staleErr error
		running  bool
		stale    bool
	)
	done := runAsync(t, c, ctx, func(ctx context.Context, b *Batch) error {
		gen.cancel()
		staleErr = b.Heartbeat(ctx)
		running = b.IsRunning()
		stale = b.IsStale()
		cancel()
		return nil
	})

	require.NoError(t, waitRun(t, done))
	assert.ErrorIs(t, staleErr, ErrStaleAssignment)
	assert.False(t, running)
	assert.True(t, stale)
	_, committed := gen.lastCommit()
	assert.False(t, committed)
}

func TestConsumer_CrashesAfterRepeatedJoinFailuresAndRestarts(t *testing.T) {
	joinErr := errors.New("coordinator not available")
	broken := &fakeGroup{script: []any{joinErr, joinErr}}
	healthy := &fakeGroup{}

	c := NewConsumer(testConfig(), discardLogger(),
		WithGroupFactory(groupsOf(broken, healthy)),
		WithReaderFactory(newFakeLog(0).readers()))

	err := c.Run(context.Background(), func(context.Context, *Batch) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrashed)
	assert.ErrorIs(t, err, joinErr)
	assert.Equal(t, StateCrashed, c.State())
	assert.True(t, broken.isClosed())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, c, ctx, func(context.Context, *Batch) error { return nil })
	assert.Eventually(t, func() bool { return c.State() == StateSubscribed }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConsumer_RejoinsAfterGenerationEnds(t *testing.T) {
	first := newFakeGeneration(1, kafka.PartitionAssignment{ID: 0, Offset: kafka.FirstOffset})
	second := newFakeGeneration(2, kafka.PartitionAssignment{ID: 0, Offset: 2})
	log := newFakeLog(0, "a", "b", "c", "d")

	c := NewConsumer(testConfig(), discardLogger(),
		WithGroupFactory(groupsOf(&fakeGroup{script: []any{first, second}})),
		WithReaderFactory(log.readers()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var generations []int
	done := runAsync(t, c, ctx, func(ctx context.Context, b *Batch) error {
		for _, m := range b.Messages() {
			b.ResolveOffset(m.Offset)
		}
		if len(generations) == 0 {
			generations = append(generations, 1)
			first.cancel()
			return nil
		}
		generations = append(generations, 2)
		assert.Equal(t, int64(2), b.Messages()[0].Offset)
		cancel()
		return nil
	})

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, []int{1, 2}, generations)
	last, ok := first.lastCommit()
	require.True(t, ok)
	assert.Equal(t, int64(3), last)
}

func TestConsumer_RunTwiceConcurrently(t *testing.T) {
	c := NewConsumer(testConfig(), discardLogger(),
		WithGroupFactory(groupsOf(&fakeGroup{})),
		WithReaderFactory(newFakeLog(0).readers()))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, c, ctx, func(context.Context, *Batch) error { return nil })
	require.Eventually(t, func() bool { return c.State() == StateSubscribed }, time.Second, time.Millisecond)

	err := c.Run(ctx, func(context.Context, *Batch) error { return nil })
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	cancel()
	require.NoError(t, waitRun(t, done))
}

func TestConfig_StartOffset(t *testing.T) {
	assert.Equal(t, kafka.FirstOffset, Config{StartOffset: "earliest"}.startOffset())
	assert.Equal(t, kafka.LastOffset, Config{StartOffset: "latest"}.startOffset())
	assert.Equal(t, kafka.LastOffset, Config{}.startOffset())
}

func TestConsumer_NewGroupEarliestStartsAtFirstOffset(t *testing.T) {
	gen := newFakeGeneration(1, kafka.PartitionAssignment{ID: 0, Offset: kafka.FirstOffset})
	log := newFakeLog(0, "a", "b")

	c := NewConsumer(testConfig(), discardLogger(),
		WithGroupFactory(groupsOf(&fakeGroup{script: []any{gen}})),
		WithReaderFactory(log.readers()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var first []int64
	done := runAsync(t, c, ctx, func(ctx context.Context, b *Batch) error {
		for _, m := range b.Messages() {
			first = append(first, m.Offset)
			b.ResolveOffset(m.Offset)
		}
		cancel()
		return nil
	})

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, []int64{0, 1}, first)
	assert.Zero(t, log.negativeFetches())

	last, ok := gen.lastCommit()
	require.True(t, ok)
	assert.Equal(t, int64(2), last)
}

func TestConsumer_NewGroupLatestWaitsForNewMessages(t *testing.T) {
	gen := newFakeGeneration(1, kafka.PartitionAssignment{ID: 0, Offset: kafka.LastOffset})
	log := newFakeLog(0, "old-1", "old-2")

	cfg := testConfig()
	cfg.StartOffset = "latest"
	c := NewConsumer(cfg, discardLogger(),
		WithGroupFactory(groupsOf(&fakeGroup{script: []any{gen}})),
		WithReaderFactory(log.readers()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []int64
	)
	done := runAsync(t, c, ctx, func(ctx context.Context, b *Batch) error {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range b.Messages() {
			seen = append(seen, m.Offset)
			b.ResolveOffset(m.Offset)
		}
		cancel()
		return nil
	})

	require.Eventually(t, func() bool { return log.fetchCount() >= 3 }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Empty(t, seen)
	mu.Unlock()

	log.append("new")

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, []int64{2}, seen)
	assert.Zero(t, log.negativeFetches())

	last, ok := gen.lastCommit()
	require.True(t, ok)
	assert.Equal(t, int64(3), last)
}

func TestConsumer_OutOfRangeOffsetFallsBackToStartPolicy(t *testing.T) {
	// committed offset no longer in the log
	gen := newFakeGeneration(1, kafka.PartitionAssignment{ID: 0, Offset: 40})
	log := newFakeLog(0, "a", "b")

	c := NewConsumer(testConfig(), discardLogger(),
		WithGroupFactory(groupsOf(&fakeGroup{script: []any{gen}})),
		WithReaderFactory(log.readers()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var first int64 = -1
	done := runAsync(t, c, ctx, func(ctx context.Context, b *Batch) error {
		first = b.Messages()[0].Offset
		cancel()
		return nil
	})

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, int64(0), first)
	assert.Zero(t, log.negativeFetches())
	assert.Less(t, log.fetchCount(), 10)
}

func TestConsumer_FailedRejoinCrashesFromRunning(t *testing.T) {
	joinErr := errors.New("coordinator not available")
	gen := newFakeGeneration(1, kafka.PartitionAssignment{ID: 0, Offset: kafka.FirstOffset})
	group := &fakeGroup{script: []any{gen, joinErr, joinErr}}
	log := newFakeLog(0, "a")

	c := NewConsumer(testConfig(), discardLogger(),
		WithGroupFactory(groupsOf(group)),
		WithReaderFactory(log.readers()))

	var stateInHandler State
	err := c.Run(context.Background(), func(ctx context.Context, b *Batch) error {
		stateInHandler = c.State()
		for _, m := range b.Messages() {
			b.ResolveOffset(m.Offset)
		}
		gen.cancel()
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrashed)
	assert.ErrorIs(t, err, joinErr)
	assert.Equal(t, StateRunning, stateInHandler)
	assert.Equal(t, StateCrashed, c.State())
	assert.True(t, group.isClosed())
}
