package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bluele/gcache"
)

// MemoryStore is an in-process LRU store. Values are kept JSON-encoded so
// callers get a copy back, the same as with Redis.
type MemoryStore struct {
	lru gcache.Cache
}

// NewMemoryStore creates an LRU store holding at most size entries
func NewMemoryStore(size int) *MemoryStore {
	if size < 1 {
		size = 1
	}
	return &MemoryStore{
		lru: gcache.New(size).LRU().Build(),
	}
}

// Name implements Store
func (s *MemoryStore) Name() string { return "memory" }

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, key string, out interface{}) (bool, error) {
	v, err := s.lru.Get(key)
	if err == gcache.KeyNotFoundError {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	data, ok := v.([]byte)
	if !ok {
		return false, fmt.Errorf("unexpected cached type %T", v)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Set implements Store. A ttl of zero keeps the entry until it is evicted.
func (s *MemoryStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if ttl > 0 {
		return s.lru.SetWithExpire(key, data, ttl)
	}
	return s.lru.Set(key, data)
}

// HealthCheck implements Store
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of live entries
func (s *MemoryStore) Len() int {
	return s.lru.Len(true)
}
