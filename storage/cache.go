package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"carwatch/models"
)

// BenchmarkCache memoises benchmark lookups. Misses and backend errors are
// indistinguishable to callers; the store stays authoritative.
type BenchmarkCache interface {
	Get(ctx context.Context, key string) (models.Benchmark, bool)
	Set(ctx context.Context, key string, b models.Benchmark, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// BenchmarkKey derives the cache key for a brand/model and year.
func BenchmarkKey(brandModel string, year int) string {
	hash := md5.Sum([]byte(brandModel + "|" + strconv.Itoa(year)))
	return "carwatch:benchmark:" + hex.EncodeToString(hash[:])
}

// RedisCache is a BenchmarkCache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.Benchmark, bool) {
	var b models.Benchmark
	data, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) || err != nil {
		return b, false
	}
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return models.Benchmark{}, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, b models.Benchmark, ttl time.Duration) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	_ = c.client.Del(ctx, key).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

// MemoryCache is an in-process BenchmarkCache for single-host deployments.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   models.Benchmark
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (models.Benchmark, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return models.Benchmark{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return models.Benchmark{}, false
	}
	return e.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, b models.Benchmark, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: b, expires: c.now().Add(ttl)}
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
