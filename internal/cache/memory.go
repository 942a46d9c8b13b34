package cache

import (
	"context"
	"time"
)

// Memory adapts TTLCache to the byte-oriented Cache port
type Memory struct {
	ttl *TTLCache
}

// NewMemory creates an in-memory Cache bounded to maxEntries
func NewMemory(maxEntries int64) *Memory {
	return &Memory{ttl: NewTTLCache(maxEntries)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.ttl.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.ttl.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.ttl.Delete(key)
	return nil
}

// Stats returns performance counters
func (m *Memory) Stats() Stats { return m.ttl.Stats() }

// Stop shuts down the cleanup goroutine
func (m *Memory) Stop() { m.ttl.Stop() }
