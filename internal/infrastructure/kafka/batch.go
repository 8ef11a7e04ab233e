package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/stream"
)

// Batch is one fetch from a single partition. Offsets are committed only
// through ResolveOffset, never implicitly.
type Batch struct {
	topic     string
	partition int
	messages  []stream.Message

	runCtx context.Context
	genCtx context.Context

	tracker   *offsetTracker
	committer *committer
}

func (b *Batch) Topic() string              { return b.topic }
func (b *Batch) Partition() int             { return b.partition }
func (b *Batch) Messages() []stream.Message { return b.messages }

// IsRunning is false once shutdown began or the generation owning this
// partition ended.
func (b *Batch) IsRunning() bool {
	return b.runCtx.Err() == nil && b.genCtx.Err() == nil
}

func (b *Batch) IsStale() bool {
	return b.genCtx.Err() != nil
}

func (b *Batch) ResolveOffset(offset int64) {
	b.tracker.resolve(offset)
}

// Heartbeat reports a lost assignment and commits the resolved prefix when
// the commit interval has elapsed. Group membership heartbeats run in the
// background for the lifetime of the generation.
func (b *Batch) Heartbeat(context.Context) error {
	if b.IsStale() {
		return ErrStaleAssignment
	}
	if err := b.committer.commitIfDue(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

type committer struct {
	mu        sync.Mutex
	gen       Generation
	topic     string
	partition int
	tracker   *offsetTracker
	interval  time.Duration
	lastFlush time.Time
	now       func() time.Time
}

func (c *committer) commitIfDue() error {
	c.mu.Lock()
	due := c.now().Sub(c.lastFlush) >= c.interval
	c.mu.Unlock()
	if !due {
		return nil
	}
	return c.commit()
}

func (c *committer) commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFlush = c.now()

	offset, ok := c.tracker.uncommitted()
	if !ok {
		return nil
	}
	err := c.gen.CommitOffsets(map[string]map[int]int64{
		c.topic: {c.partition: offset},
	})
	if err != nil {
		return fmt.Errorf("commit %s/%d at %d: %w", c.topic, c.partition, offset, err)
	}
	c.tracker.markCommitted(offset)
	offsetsCommitted.Inc()
	return nil
}
