package ingest

import (
	"context"
	"log/slog"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/stream"
)

// offsetCoordinator owns every ResolveOffset call the pipeline makes.
// A message is resolved either because it can never be processed (drop) or
// because the batch it belongs to has been durably handled (complete).
// Nothing else advances a position.
type offsetCoordinator struct {
	log *slog.Logger
}

func (c *offsetCoordinator) drop(ctx context.Context, b Batch, msg stream.Message) {
	b.ResolveOffset(msg.Offset)
	c.heartbeat(ctx, b)
}

func (c *offsetCoordinator) complete(ctx context.Context, b Batch, msgs []stream.Message) {
	for _, m := range msgs {
		b.ResolveOffset(m.Offset)
	}
	c.heartbeat(ctx, b)
}

func (c *offsetCoordinator) heartbeat(ctx context.Context, b Batch) {
	if err := b.Heartbeat(ctx); err != nil {
		c.log.Warn("heartbeat failed", slog.Int("partition", b.Partition()), slog.Any("error", err))
	}
}
