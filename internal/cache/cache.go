package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache miss")

// Cache stores processed images keyed by request fingerprint
type Cache interface {
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache constructs a new Redis-backed cache adapter
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "imgfilter:"}
}

// DialRedis connects to addr and verifies the connection
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Set writes a value to Redis
func (c *RedisCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, expiration).Err()
}

// Get retrieves a cached value from Redis
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return value, err
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache used when Redis is not configured
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	maxSize int
	now     func() time.Time
}

// NewMemoryCache creates a cache holding at most maxSize entries
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 128
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Set stores value; when full, expired entries are dropped first, then the entry closest to expiry
func (c *MemoryCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked(now)
	}
	c.entries[key] = memoryEntry{value: value, expiresAt: now.Add(expiration)}
	return nil
}

// Get returns the value for key or ErrMiss
func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", ErrMiss
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", ErrMiss
	}
	return entry.value, nil
}

func (c *MemoryCache) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(c.entries) >= c.maxSize && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
