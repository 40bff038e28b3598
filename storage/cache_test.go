package storage

import (
	"context"
	"testing"
	"time"

	"carwatch/models"
)

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	key := BenchmarkKey("Peugeot 206", 1398)

	c.Set(ctx, key, models.Benchmark{Available: true, Average: 200, Count: 3}, time.Minute)
	if b, ok := c.Get(ctx, key); !ok || b.Average != 200 {
		t.Fatalf("Get: got (%+v, %v)", b, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, key); ok {
		t.Error("entry should have expired")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	c.Set(ctx, "k", models.Benchmark{Count: 1}, time.Hour)
	c.Delete(ctx, "k")
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("entry should be gone")
	}
}

func TestBenchmarkKeyDistinguishesYear(t *testing.T) {
	if BenchmarkKey("Pride", 1390) == BenchmarkKey("Pride", 1391) {
		t.Error("keys for different years must differ")
	}
}
