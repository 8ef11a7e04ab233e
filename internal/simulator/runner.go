package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/producerconfig"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/sensor"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/infrastructure/kafka"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/ingest"
)

var (
	eventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simulator_events_sent_total",
		Help: "Sensor events written to Kafka",
	})
	eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simulator_events_failed_total",
		Help: "Sensor events that could not be written",
	})
)

const sendTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.KeyedValue) error
}

type ConfigStore interface {
	Get(ctx context.Context) (producerconfig.Config, error)
}

// ResolveConfig prefers the stored producer config and falls back to the
// given one when the store cannot be read.
func ResolveConfig(ctx context.Context, store ConfigStore, fallback producerconfig.Config, log *slog.Logger) producerconfig.Config {
	if store != nil {
		c, err := store.Get(ctx)
		if err == nil {
			return c.Merge()
		}
		log.Warn("Producer config unavailable, using environment", slog.Any("error", err))
	}
	return fallback.Merge()
}

// Brokers splits the comma separated broker list of c.
func Brokers(c producerconfig.Config) []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type Runner struct {
	cfg           producerconfig.Config
	pub           Publisher
	log           *slog.Logger
	statsInterval time.Duration

	sent   atomic.Int64
	failed atomic.Int64
}

func NewRunner(cfg producerconfig.Config, pub Publisher, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg:           cfg.Merge(),
		pub:           pub,
		log:           log,
		statsInterval: 5 * time.Second,
	}
}

// Stats reports the events sent and failed so far.
func (r *Runner) Stats() (sent, failed int64) {
	return r.sent.Load(), r.failed.Load()
}

// Run drives every sensor until ctx is done or the configured duration ends.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.RunDurationSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.RunDurationSec)*time.Second)
		defer cancel()
	}

	perSensor := float64(r.cfg.EventsPerSec) / float64(r.cfg.SensorCount)
	r.log.Info("Starting sensor simulator",
		slog.Int("sensors", r.cfg.SensorCount),
		slog.Int("events_per_sec", r.cfg.EventsPerSec),
		slog.Int("run_duration_sec", r.cfg.RunDurationSec),
		slog.String("topic", r.cfg.KafkaTopic))

	g, gctx := errgroup.WithContext(ctx)
	seed := time.Now().UnixNano()
	for i := 0; i < r.cfg.SensorCount; i++ {
		s := NewSensor(fmt.Sprintf("sensor_%d", i+1), perSensor, seed+int64(i))
		g.Go(func() error {
			s.Run(gctx, r.emit)
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(r.statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sent, failed := r.Stats()
				r.log.Info("Simulator stats", slog.Int64("sent", sent), slog.Int64("failed", failed))
			}
		}
	})

	err := g.Wait()
	sent, failed := r.Stats()
	r.log.Info("Simulator stopped", slog.Int64("sent", sent), slog.Int64("failed", failed))
	return err
}

func (r *Runner) emit(ctx context.Context, ev sensor.Event) {
	payload, err := ingest.Encode(ev)
	if err != nil {
		r.fail(ev, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if err := r.pub.Publish(sendCtx, kafka.KeyedValue{Key: []byte(ev.SensorID), Value: payload}); err != nil {
		r.fail(ev, err)
		return
	}
	r.sent.Add(1)
	eventsSent.Inc()
}

func (r *Runner) fail(ev sensor.Event, err error) {
	r.failed.Add(1)
	eventsFailed.Inc()
	r.log.Warn("Failed to send event",
		slog.String("sensor_id", ev.SensorID),
		slog.String("event_id", ev.EventID),
		slog.Any("error", err))
}
