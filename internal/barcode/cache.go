package barcode

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LinkCache remembers raw -> canonical mappings so repeated scans of
// the same unit skip the linking RPC. The ladder is correct without a
// cache; this is purely a latency optimization.
type LinkCache interface {
	Get(ctx context.Context, raw string) (string, bool)
	Set(ctx context.Context, raw, canonical string)
}

// MemoryCache is the default in-process TTL cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryCache creates an in-memory cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, raw string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[raw]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, raw)
		return "", false
	}
	return e.value, true
}

func (c *MemoryCache) Set(_ context.Context, raw, canonical string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Opportunistic pruning keeps the map bounded without a janitor.
	if len(c.entries) > 4096 {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[raw] = memoryEntry{value: canonical, expires: time.Now().Add(c.ttl)}
}

// RedisCache shares the link cache across server instances, mirroring
// the in-memory implementation's semantics.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCache creates a Redis-backed link cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: "aoi:link:",
		ttl:       ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, raw string) (string, bool) {
	val, err := c.client.Get(ctx, c.keyPrefix+raw).Result()
	if err != nil {
		// redis.Nil and transport errors alike mean "no cached value";
		// the linker falls through to the RPC.
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, raw, canonical string) {
	_ = c.client.Set(ctx, c.keyPrefix+raw, canonical, c.ttl).Err()
}
