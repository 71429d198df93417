package behavior

import (
	"context"
	"time"

	"github.com/oriys/workq/internal/cache"
	"github.com/oriys/workq/internal/eventhub"
	"github.com/oriys/workq/internal/queue"
)

// defaultDedupTTL is how long a unique id is remembered before it can be
// enqueued again (default 10 minutes).
const defaultDedupTTL = 10 * time.Minute

// Dedup is a Behavior that cancels Enqueuing when a payload's unique id
// was already admitted within TTL, and removes the id on Dequeued so a
// legitimate re-enqueue of the same id isn't rejected until TTL expiry.
// Built on internal/cache.Cache's Get/Set/Exists/Delete rather than a
// bespoke Add/Remove contract — the cache package's existing consumers
// (redis.go, inmemory.go, tiered.go, invalidator.go) keep their
// Get/Set/Exists/Ping/Close shape unchanged.
type Dedup[T any] struct {
	cache       cache.Cache
	ttl         time.Duration
	uniqueID    func(T) string
	invalidator *cache.CacheInvalidator
}

// NewDedup constructs the dedup behavior. c is the cache client shared
// with other subsystems (typically the Redis-backed implementation in
// production, in-memory in tests). ttl <= 0 uses the package default.
func NewDedup[T any](c cache.Cache, ttl time.Duration, uniqueID func(T) string) *Dedup[T] {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &Dedup[T]{cache: c, ttl: ttl, uniqueID: uniqueID}
}

// WithInvalidator attaches a CacheInvalidator so that clearing a dedup
// key early (on Dequeued, ahead of TTL expiry) also publishes the key
// over Redis Pub/Sub. Other worker processes sharing this dedup cache
// through a TieredCache then evict it from their own L1 immediately
// instead of serving a stale "already admitted" hit until TTL expiry.
// Returns d for chaining.
func (d *Dedup[T]) WithInvalidator(inv *cache.CacheInvalidator) *Dedup[T] {
	d.invalidator = inv
	return d
}

func (d *Dedup[T]) dedupKey(eng *queue.Engine[T], id string) string {
	return "dedup:" + eng.QueueID() + ":" + id
}

func (d *Dedup[T]) Attach(engine *queue.Engine[T]) eventhub.Disposer {
	disposeEnqueuing := engine.OnEnqueuing(func(ctx context.Context, eng *queue.Engine[T], args *eventhub.CancelArgs[queue.EnqueuingArgs[T]]) {
		id := d.uniqueID(args.Value.Value)
		if id == "" {
			return
		}
		key := d.dedupKey(eng, id)

		// Exists-then-Set is not atomic: two concurrent enqueues of the
		// same id can both observe exists=false and both be admitted.
		// Cache lacks an atomic add-if-absent; closing this window would
		// need a new primitive on top of Get/Set/Exists/Delete.
		exists, err := d.cache.Exists(ctx, key)
		if err != nil {
			// Cache unavailable: fail open rather than blocking admission.
			return
		}
		if exists {
			args.Cancel = true
			return
		}
		_ = d.cache.Set(ctx, key, []byte{1}, d.ttl)
	})

	disposeDequeued := engine.OnDequeued(func(ctx context.Context, eng *queue.Engine[T], entry *queue.Entry[T]) {
		id := d.uniqueID(entry.Value)
		if id == "" {
			return
		}
		key := d.dedupKey(eng, id)
		_ = d.cache.Delete(ctx, key)
		if d.invalidator != nil {
			_ = d.invalidator.PublishInvalidation(ctx, key)
		}
	})

	return func() {
		disposeEnqueuing()
		disposeDequeued()
	}
}
