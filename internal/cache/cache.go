// Package cache provides the caching port injected into the pipeline and the
// feature store, with in-memory and Redis adapters. A cache failure is never
// fatal to the caller: reads degrade to a miss and the computation proceeds
// uncached.
package cache

import (
	"context"
	"time"
)

// Cache is the byte-oriented get-or-miss port shared by all components
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Stats reports cache performance counters
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int64   `json:"entries"`
	HitRatio  float64 `json:"hit_ratio"`
}
