package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Group hands out consumer group generations. Partition assignment and
// rebalancing belong to the implementation.
type Group interface {
	Next(ctx context.Context) (Generation, error)
	Close() error
}

type Generation interface {
	GenerationID() int32
	Partitions(topic string) []kafka.PartitionAssignment
	// Start runs fn until the generation ends. The generation ends as soon as
	// any fn started on it returns.
	Start(fn func(ctx context.Context))
	CommitOffsets(offsets map[string]map[int]int64) error
}

type GroupFactory func(cfg Config, log *slog.Logger) (Group, error)

type kafkaGroup struct {
	cg *kafka.ConsumerGroup
}

func (g kafkaGroup) Next(ctx context.Context) (Generation, error) {
	gen, err := g.cg.Next(ctx)
	if err != nil {
		return nil, err
	}
	return kafkaGeneration{gen}, nil
}

func (g kafkaGroup) Close() error {
	return g.cg.Close()
}

type kafkaGeneration struct {
	*kafka.Generation
}

func (g kafkaGeneration) GenerationID() int32 {
	return g.ID
}

func (g kafkaGeneration) Partitions(topic string) []kafka.PartitionAssignment {
	return g.Assignments[topic]
}

func newKafkaGroup(cfg Config, log *slog.Logger) (Group, error) {
	cg, err := kafka.NewConsumerGroup(kafka.ConsumerGroupConfig{
		ID:                cfg.GroupID,
		Brokers:           cfg.Brokers,
		Dialer:            newDialer(),
		Topics:            []string{cfg.Topic},
		HeartbeatInterval: cfg.HeartbeatInterval,
		SessionTimeout:    cfg.SessionTimeout,
		StartOffset:       cfg.startOffset(),
		Logger:            slogBridge(log, slog.LevelDebug),
		ErrorLogger:       slogBridge(log, slog.LevelError),
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.GroupID, err)
	}
	return kafkaGroup{cg: cg}, nil
}

func slogBridge(log *slog.Logger, level slog.Level) kafka.Logger {
	return kafka.LoggerFunc(func(msg string, args ...interface{}) {
		log.Log(context.Background(), level, fmt.Sprintf(msg, args...), slog.String("component", "kafka-go"))
	})
}
