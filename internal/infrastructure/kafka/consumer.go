package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var (
	offsetsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_offset_commits_total",
		Help: "Partition offsets committed to the consumer group",
	})
	batchRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_batch_redeliveries_total",
		Help: "Batches rewound to the first unresolved offset after a handler error",
	})
	generationsJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_group_generations_total",
		Help: "Consumer group generations joined",
	})
)

type Config struct {
	Brokers              []string
	Topic                string
	GroupID              string
	SessionTimeout       time.Duration
	HeartbeatInterval    time.Duration
	StartOffset          string
	MinBytes             int
	MaxBytes             int
	MaxBytesPerPartition int
	MaxWait              time.Duration
	CommitInterval       time.Duration
	RetryBackoff         time.Duration
	MaxRetryBackoff      time.Duration
	// JoinAttempts is how many consecutive failures to obtain a generation
	// are tolerated before the consumer crashes.
	JoinAttempts int
}

// startOffset applies only when the group has no committed offset yet.
func (c Config) startOffset() int64 {
	if strings.EqualFold(strings.TrimSpace(c.StartOffset), "earliest") {
		return kafka.FirstOffset
	}
	return kafka.LastOffset
}

// BatchHandlerFunc processes one partition batch. It receives a context that
// is not cancelled on shutdown, so the batch can finish or fail on its own.
// A non-nil error rewinds the partition to its first unresolved offset.
type BatchHandlerFunc func(ctx context.Context, b *Batch) error

type Consumer struct {
	cfg       Config
	log       *slog.Logger
	newGroup  GroupFactory
	newReader ReaderFactory
	now       func() time.Time

	state   stateMachine
	running atomic.Bool
}

type Option func(*Consumer)

func WithGroupFactory(f GroupFactory) Option {
	return func(c *Consumer) { c.newGroup = f }
}

func WithReaderFactory(f ReaderFactory) Option {
	return func(c *Consumer) { c.newReader = f }
}

func NewConsumer(cfg Config, log *slog.Logger, opts ...Option) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.JoinAttempts <= 0 {
		cfg.JoinAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = cfg.RetryBackoff
	}

	c := &Consumer{
		cfg:      cfg,
		log:      log.With(slog.String("topic", cfg.Topic), slog.String("group", cfg.GroupID)),
		newGroup: newKafkaGroup,
		now:      time.Now,
	}
	c.newReader = leaderReaders(cfg)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) State() State {
	return c.state.get()
}

// Run joins the group and delivers batches to handle until ctx is cancelled,
// in which case it returns nil once the in-flight batches are done and their
// offsets committed. An unrecoverable session error returns ErrCrashed.
func (c *Consumer) Run(ctx context.Context, handle BatchHandlerFunc) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	if err := c.state.transition(StateConnecting); err != nil {
		return err
	}
	c.log.Info("Connecting to consumer group", slog.Any("brokers", c.cfg.Brokers))

	group, err := c.newGroup(c.cfg, c.log)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateSubscribed)

	for {
		gen, err := c.nextGeneration(ctx, group)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, kafka.ErrGroupClosed) {
				return c.disconnect(group)
			}
			c.setState(StateCrashed)
			if cerr := group.Close(); cerr != nil {
				c.log.Warn("Failed to close consumer group", slog.Any("error", cerr))
			}
			c.log.Error("Consumer crashed", slog.Any("error", err))
			return fmt.Errorf("%w: %w", ErrCrashed, err)
		}

		if c.State() != StateRunning {
			c.setState(StateRunning)
		}
		c.runGeneration(ctx, gen, handle)

		if ctx.Err() != nil {
			return c.disconnect(group)
		}
		// Drained; still a member while rejoining, so a failed join crashes from Running.
		c.setState(StateRunning)
		c.log.Info("Generation ended, rejoining", slog.Int("generation", int(gen.GenerationID())))
	}
}

func (c *Consumer) disconnect(group Group) error {
	if c.State() != StateStopping {
		c.setState(StateStopping)
	}
	err := group.Close()
	c.setState(StateDisconnected)
	c.log.Info("Consumer disconnected")
	if err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	return nil
}

func (c *Consumer) setState(to State) {
	from := c.state.get()
	if err := c.state.transition(to); err != nil {
		c.log.Error("Rejected state change", slog.Any("error", err))
		return
	}
	c.log.Debug("Consumer state changed", slog.String("from", from.String()), slog.String("to", to.String()))
}

func (c *Consumer) nextGeneration(ctx context.Context, group Group) (Generation, error) {
	var err error
	for attempt := 1; attempt <= c.cfg.JoinAttempts; attempt++ {
		var gen Generation
		gen, err = group.Next(ctx)
		if err == nil {
			generationsJoined.Inc()
			return gen, nil
		}
		if ctx.Err() != nil || errors.Is(err, kafka.ErrGroupClosed) {
			return nil, err
		}
		c.log.Warn("Failed to join generation", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return nil, err
}

// runGeneration consumes every partition assigned in gen and returns once all
// partition loops have exited.
func (c *Consumer) runGeneration(ctx context.Context, gen Generation, handle BatchHandlerFunc) {
	assignments := gen.Partitions(c.cfg.Topic)
	c.log.Info("Partitions assigned",
		slog.Int("generation", int(gen.GenerationID())),
		slog.Int("partitions", len(assignments)))

	var wg sync.WaitGroup
	wg.Add(len(assignments) + 1)

	gen.Start(func(genCtx context.Context) {
		defer wg.Done()
		select {
		case <-genCtx.Done():
		case <-ctx.Done():
		}
		c.setState(StateStopping)
	})

	for _, a := range assignments {
		gen.Start(func(genCtx context.Context) {
			defer wg.Done()
			c.consumePartition(ctx, genCtx, gen, a, handle)
		})
	}

	wg.Wait()
}

func (c *Consumer) consumePartition(runCtx, genCtx context.Context, gen Generation, a kafka.PartitionAssignment, handle BatchHandlerFunc) {
	log := c.log.With(slog.Int("partition", a.ID))

	readCtx, cancel := context.WithCancel(genCtx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	tracker := newOffsetTracker(a.Offset)
	com := &committer{
		gen:       gen,
		topic:     c.cfg.Topic,
		partition: a.ID,
		tracker:   tracker,
		interval:  c.cfg.CommitInterval,
		lastFlush: c.now(),
		now:       c.now,
	}
	defer func() {
		if err := com.commit(); err != nil {
			log.Warn("Final offset commit failed", slog.Any("error", err))
		}
	}()

	var reader PartitionReader
	defer func() {
		if reader != nil {
			_ = reader.Close()
		}
	}()

	position := a.Offset
	backoff := c.cfg.RetryBackoff

	for readCtx.Err() == nil {
		if reader == nil {
			r, err := c.newReader(readCtx, c.cfg.Topic, a.ID)
			if err != nil {
				log.Warn("Failed to open partition reader", slog.Any("error", err))
				if !sleep(readCtx, backoff) {
					return
				}
				backoff = c.nextBackoff(backoff)
				continue
			}
			reader = r
		}

		if position < 0 {
			resolved, err := reader.Resolve(readCtx, position)
			if err != nil {
				if readCtx.Err() != nil {
					return
				}
				log.Warn("Failed to resolve start offset", slog.Int64("offset", position), slog.Any("error", err))
				_ = reader.Close()
				reader = nil
				if !sleep(readCtx, backoff) {
					return
				}
				backoff = c.nextBackoff(backoff)
				continue
			}
			log.Info("Starting from resolved offset", slog.Int64("policy", position), slog.Int64("offset", resolved))
			position = resolved
			tracker = c.resetTracker(com, position)
		}

		msgs, err := reader.ReadBatch(readCtx, position)
		if err != nil {
			if readCtx.Err() != nil {
				return
			}
			if errors.Is(err, kafka.OffsetOutOfRange) {
				log.Warn("Offset out of range, resetting to start policy", slog.Int64("offset", position))
				position = c.cfg.startOffset()
				if !sleep(readCtx, backoff) {
					return
				}
				backoff = c.nextBackoff(backoff)
				continue
			}
			log.Warn("Failed to read batch", slog.Int64("offset", position), slog.Any("error", err))
			_ = reader.Close()
			reader = nil
			if !sleep(readCtx, backoff) {
				return
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		if len(msgs) == 0 {
			if err := com.commitIfDue(); err != nil {
				log.Warn("Offset commit failed", slog.Any("error", err))
			}
			continue
		}

		tracker.deliver(msgs)
		batch := &Batch{
			topic:     c.cfg.Topic,
			partition: a.ID,
			messages:  msgs,
			runCtx:    runCtx,
			genCtx:    genCtx,
			tracker:   tracker,
			committer: com,
		}

		herr := handle(context.WithoutCancel(runCtx), batch)
		position = tracker.resume()

		if err := com.commitIfDue(); err != nil {
			log.Warn("Offset commit failed", slog.Any("error", err))
		}

		if herr != nil {
			batchRedeliveries.Inc()
			log.Error("Batch failed, redelivering",
				slog.Int64("offset", position),
				slog.Duration("backoff", backoff),
				slog.Any("error", herr))
			if !sleep(readCtx, backoff) {
				return
			}
			backoff = c.nextBackoff(backoff)
			continue
		}
		backoff = c.cfg.RetryBackoff
	}
}

func (c *Consumer) resetTracker(com *committer, position int64) *offsetTracker {
	t := newOffsetTracker(position)
	com.mu.Lock()
	com.tracker = t
	com.mu.Unlock()
	return t
}

func (c *Consumer) nextBackoff(d time.Duration) time.Duration {
	return min(d*2, c.cfg.MaxRetryBackoff)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
