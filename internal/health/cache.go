// Package health tracks recent model reachability so probes are not repeated.
// Entries are advisory: an empty or stale cache never changes reply results.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
)

// Status is the last known health of one model.
type Status struct {
	Model     string    `json:"model"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Healthy   bool      `json:"healthy"`
	Reason    string    `json:"reason,omitempty"`
	LatencyMs int64     `json:"latencyMs,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Cache stores Status by model identifier with a TTL.
type Cache interface {
	Get(ctx context.Context, model string) (Status, bool)
	Put(ctx context.Context, s Status)
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Status
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]Status)}
}

// Get returns a non-expired entry.
func (c *MemoryCache) Get(_ context.Context, model string) (Status, bool) {
	c.mu.RLock()
	s, ok := c.entries[model]
	c.mu.RUnlock()
	if !ok || c.now().Sub(s.CheckedAt) > c.ttl {
		return Status{}, false
	}
	return s, true
}

// Put stores s, stamping CheckedAt if unset.
func (c *MemoryCache) Put(_ context.Context, s Status) {
	if s.CheckedAt.IsZero() {
		s.CheckedAt = c.now()
	}
	c.mu.Lock()
	c.entries[s.Model] = s
	c.mu.Unlock()
}

// RedisCache shares health across service instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "chatreply:health:"}
}

// Get returns the stored entry. Redis errors are treated as a miss.
func (c *RedisCache) Get(ctx context.Context, model string) (Status, bool) {
	raw, err := c.client.Get(ctx, c.prefix+model).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			L_debug("health: redis get failed", "model", model, "error", err)
		}
		return Status{}, false
	}
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		L_debug("health: bad cache entry", "model", model, "error", err)
		return Status{}, false
	}
	return s, true
}

// Put stores s with the cache TTL. Failures are logged only.
func (c *RedisCache) Put(ctx context.Context, s Status) {
	if s.CheckedAt.IsZero() {
		s.CheckedAt = time.Now()
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+s.Model, raw, c.ttl).Err(); err != nil {
		L_debug("health: redis set failed", "model", s.Model, "error", err)
	}
}
