package simulator

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/sensor"
)

// Sensor emits a random walk around a per-sensor base value.
type Sensor struct {
	id       string
	interval time.Duration
	base     float64
	drift    float64
	rng      *rand.Rand
}

func NewSensor(id string, eventsPerSec float64, seed int64) *Sensor {
	rng := rand.New(rand.NewSource(seed))
	if eventsPerSec <= 0 {
		eventsPerSec = 1
	}
	return &Sensor{
		id:       id,
		interval: time.Duration(float64(time.Second) / eventsPerSec),
		base:     20 + rng.Float64()*80,
		drift:    (rng.Float64() - 0.5) * 0.1,
		rng:      rng,
	}
}

func (s *Sensor) ID() string { return s.id }

// Next returns the following reading with a fresh event id.
func (s *Sensor) Next(now time.Time) sensor.Event {
	value := s.base + (s.rng.Float64()-0.5)*2.0
	s.base += s.drift
	return sensor.Event{
		SensorID:  s.id,
		EventID:   uuid.New().String(),
		Timestamp: now.UTC(),
		Value:     value,
	}
}

// Run calls emit once per interval until ctx is done.
func (s *Sensor) Run(ctx context.Context, emit func(context.Context, sensor.Event)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			emit(ctx, s.Next(now))
		}
	}
}
