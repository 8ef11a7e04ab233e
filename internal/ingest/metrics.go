package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_persisted_total",
		Help: "Events written to the metrics table",
	})
	eventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_duplicate_total",
		Help: "Events skipped because their event_id was already in the ledger",
	})
	decodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_decode_failures_total",
		Help: "Messages dropped because the payload could not be decoded",
	})
	batchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_batch_failures_total",
		Help: "Batches left unresolved for redelivery, by failing stage",
	}, []string{"stage"})
	batchesAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_batches_aborted_total",
		Help: "Batches cut short by shutdown or a stale partition assignment",
	})
	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_batch_duration_seconds",
		Help:    "Time taken to process one partition batch",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)
