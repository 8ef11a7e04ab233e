package usecase

import (
	"context"
	"fmt"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/producerconfig"
)

type ProducerConfigStore interface {
	Get(ctx context.Context) (producerconfig.Config, error)
	Upsert(ctx context.Context, c producerconfig.Config) (producerconfig.Config, error)
}

type GetProducerConfig struct {
	store ProducerConfigStore
}

func NewGetProducerConfig(store ProducerConfigStore) *GetProducerConfig {
	return &GetProducerConfig{store: store}
}

func (uc *GetProducerConfig) Execute(ctx context.Context) (producerconfig.Config, error) {
	c, err := uc.store.Get(ctx)
	if err != nil {
		return producerconfig.Config{}, fmt.Errorf("get producer config: %w", err)
	}
	return c, nil
}

type UpdateProducerConfig struct {
	store ProducerConfigStore
}

func NewUpdateProducerConfig(store ProducerConfigStore) *UpdateProducerConfig {
	return &UpdateProducerConfig{store: store}
}

// Execute stores c with zero fields replaced by their defaults.
func (uc *UpdateProducerConfig) Execute(ctx context.Context, c producerconfig.Config) (producerconfig.Config, error) {
	saved, err := uc.store.Upsert(ctx, c.Merge())
	if err != nil {
		return producerconfig.Config{}, fmt.Errorf("update producer config: %w", err)
	}
	return saved, nil
}
