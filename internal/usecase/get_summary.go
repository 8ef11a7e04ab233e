package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/metric"
)

const summaryCacheTTL = time.Second

type GetSummary struct {
	redisClient *redis.Client
	repo        MetricsReader
}

// NewGetSummary caches in redisClient when it is not nil.
func NewGetSummary(redisClient *redis.Client, repo MetricsReader) *GetSummary {
	return &GetSummary{
		redisClient: redisClient,
		repo:        repo,
	}
}

func (uc *GetSummary) Execute(ctx context.Context, f metric.Filter) (*metric.Summary, error) {
	cacheKey := summaryCacheKey(f)

	if uc.redisClient != nil {
		val, err := uc.redisClient.Get(ctx, cacheKey).Result()
		if err == nil {
			var s metric.Summary
			if err := json.Unmarshal([]byte(val), &s); err == nil {
				return &s, nil
			}
		}
	}

	s, err := uc.repo.Summary(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}

	if uc.redisClient != nil {
		data, _ := json.Marshal(s)
		// lag_seconds goes stale quickly, keep the TTL short
		uc.redisClient.Set(ctx, cacheKey, data, summaryCacheTTL)
	}

	return &s, nil
}

func summaryCacheKey(f metric.Filter) string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("metrics:summary:%s:%s:%s", bound(f.From), bound(f.To), f.SensorID)
}
