// Package cache provides the Redis-backed caching layer for Mocksmith.
// Falls back to an in-memory cache when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned when a key is absent from every layer.
var ErrCacheMiss = errors.New("cache miss")

// RedisClient is the subset of Redis operations the cache needs.
// Implemented by db.RedisClient.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// RedisCache layers an in-memory map over an optional Redis client.
type RedisCache struct {
	memCache map[string]*cacheEntry
	memMu    sync.RWMutex

	client RedisClient // nil means memory-only

	defaultTTL time.Duration
	maxMemSize int

	hits    int64
	misses  int64
	statsMu sync.Mutex
}

// NewRedisCache creates a cache. A nil client yields a memory-only cache,
// used by tests and degraded deployments.
func NewRedisCache(client RedisClient) *RedisCache {
	c := &RedisCache{
		memCache:   make(map[string]*cacheEntry),
		client:     client,
		defaultTTL: 30 * time.Second,
		maxMemSize: 10000,
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves raw bytes for a key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.memMu.RLock()
	if entry, ok := c.memCache[key]; ok && time.Now().Before(entry.expiresAt) {
		c.memMu.RUnlock()
		c.recordHit()
		return entry.value, nil
	}
	c.memMu.RUnlock()

	if c.client != nil {
		val, err := c.client.Get(ctx, key)
		if err == nil {
			c.recordHit()
			c.storeLocal(key, []byte(val), c.defaultTTL)
			return []byte(val), nil
		}
	}

	c.recordMiss()
	return nil, ErrCacheMiss
}

// Set stores raw bytes under a key with a TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.storeLocal(key, value, ttl)
	if c.client != nil {
		return c.client.Set(ctx, key, string(value), ttl)
	}
	return nil
}

// Delete removes keys from every layer.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	c.memMu.Lock()
	for _, key := range keys {
		delete(c.memCache, key)
	}
	c.memMu.Unlock()

	if c.client != nil {
		return c.client.Del(ctx, keys...)
	}
	return nil
}

// GetJSON retrieves and unmarshals a cached value.
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals and stores a value.
func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// Stats returns hit/miss counters.
func (c *RedisCache) Stats() (hits, misses int64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.hits, c.misses
}

func (c *RedisCache) storeLocal(key string, value []byte, ttl time.Duration) {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	if len(c.memCache) >= c.maxMemSize {
		// Evict an arbitrary entry to stay under the bound.
		for k := range c.memCache {
			delete(c.memCache, k)
			break
		}
	}
	c.memCache[key] = &cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *RedisCache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *RedisCache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}

func (c *RedisCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.memMu.Lock()
		for key, entry := range c.memCache {
			if now.After(entry.expiresAt) {
				delete(c.memCache, key)
			}
		}
		c.memMu.Unlock()
	}
}
