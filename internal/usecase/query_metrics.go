package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/metric"
)

const (
	DefaultMetricsLimit = 100
	MaxMetricsLimit     = 1000
)

type MetricsReader interface {
	Query(ctx context.Context, f metric.Filter, p metric.Page) ([]*metric.Record, error)
	Summary(ctx context.Context, f metric.Filter) (metric.Summary, error)
}

type QueryMetrics struct {
	repo MetricsReader
}

func NewQueryMetrics(repo MetricsReader) *QueryMetrics {
	return &QueryMetrics{repo: repo}
}

type QueryMetricsParams struct {
	From     *time.Time
	To       *time.Time
	SensorID string
	Limit    int
	Offset   int
}

// Execute returns the newest rows first. A missing limit means 100 and
// anything above 1000 is capped.
func (uc *QueryMetrics) Execute(ctx context.Context, params QueryMetricsParams) ([]*metric.Record, error) {
	limit := params.Limit
	switch {
	case limit <= 0:
		limit = DefaultMetricsLimit
	case limit > MaxMetricsLimit:
		limit = MaxMetricsLimit
	}
	offset := max(params.Offset, 0)

	records, err := uc.repo.Query(ctx,
		metric.Filter{From: params.From, To: params.To, SensorID: params.SensorID},
		metric.Page{Limit: limit, Offset: offset},
	)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	if records == nil {
		records = []*metric.Record{}
	}
	return records, nil
}
