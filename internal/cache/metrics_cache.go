package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lunary/engagement-metrics/internal/analytics"
)

const latestMetricsKey = "metrics:latest"

// MetricsCache keeps the latest daily metrics row in Redis so dashboard
// reads skip Postgres. A nil client disables caching entirely: every call
// becomes a no-op miss.
type MetricsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMetricsCache creates a cache with the given TTL. client may be nil.
func NewMetricsCache(client *redis.Client, ttl time.Duration) *MetricsCache {
	return &MetricsCache{client: client, ttl: ttl}
}

// SetLatest stores the row as JSON under the latest-metrics key.
func (c *MetricsCache) SetLatest(ctx context.Context, m *analytics.DailyMetrics) error {
	if c.client == nil || m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal cached metrics: %w", err)
	}
	if err := c.client.Set(ctx, latestMetricsKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache latest metrics: %w", err)
	}
	return nil
}

// GetLatest returns the cached row, or nil on a miss.
func (c *MetricsCache) GetLatest(ctx context.Context) (*analytics.DailyMetrics, error) {
	if c.client == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, latestMetricsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached metrics: %w", err)
	}
	var m analytics.DailyMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode cached metrics: %w", err)
	}
	return &m, nil
}

// Invalidate drops the cached row. Called after every recompute.
func (c *MetricsCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, latestMetricsKey).Err(); err != nil {
		return fmt.Errorf("invalidate cached metrics: %w", err)
	}
	return nil
}
