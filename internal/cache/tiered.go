package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TieredCache implements Cache with a fast L1 (in-memory) cache backed
// by a shared L2 (typically Redis) cache. Reads check L1 first, falling
// through to L2 on miss and populating L1 on L2 hit. Writes go to both
// layers. This provides low-latency reads with cross-instance consistency
// when combined with cache invalidation via CacheInvalidator.
type TieredCache struct {
	l1    Cache
	l2    Cache
	l1TTL time.Duration // TTL for L1 entries (should be shorter than L2)
}

// NewTieredCache creates a two-level cache.
// l1TTL controls how long items live in the L1 cache (default: 10s).
func NewTieredCache(l1, l2 Cache, l1TTL time.Duration) *TieredCache {
	if l1TTL <= 0 {
		l1TTL = 10 * time.Second
	}
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	// Try L1 first
	val, err := t.l1.Get(ctx, key)
	if err == nil {
		return val, nil
	}

	// L1 miss — try L2
	val, err = t.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Populate L1 on L2 hit
	_ = t.l1.Set(ctx, key, val, t.l1TTL)
	return val, nil
}

func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// Write to both layers
	_ = t.l1.Set(ctx, key, value, t.l1TTL)
	return t.l2.Set(ctx, key, value, ttl)
}

func (t *TieredCache) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func (t *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := t.l1.Exists(ctx, key)
	if err == nil && ok {
		return true, nil
	}
	return t.l2.Exists(ctx, key)
}

func (t *TieredCache) Ping(ctx context.Context) error {
	if err := t.l1.Ping(ctx); err != nil {
		return err
	}
	return t.l2.Ping(ctx)
}

func (t *TieredCache) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}

// NewDedupCache builds the production-shaped cache for the dedup
// behavior: a TieredCache with an in-memory L1 and a Redis L2 sharing
// client, plus a CacheInvalidator subscribed on that same client.
// Callers run the invalidator's Start in a goroutine and pass both the
// returned TieredCache and the invalidator (via Dedup.WithInvalidator)
// to the dedup behavior, so a key cleared on one worker process (on
// Dequeued, ahead of TTL) is evicted from every other process's L1
// immediately instead of serving a stale hit until l1TTL elapses.
func NewDedupCache(client *redis.Client, keyPrefix string, l1TTL time.Duration) (*TieredCache, *CacheInvalidator) {
	l1 := NewInMemoryCache()
	l2 := NewRedisCacheFromClient(client, keyPrefix)
	tiered := NewTieredCache(l1, l2, l1TTL)
	invalidator := NewCacheInvalidator(l1, client)
	return tiered, invalidator
}
