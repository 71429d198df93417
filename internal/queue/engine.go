// Package queue's Engine is the in-memory queue engine — the only
// Storage backend the core ships with. Its locking style (one coarse
// mutex guarding the containers, atomic counters for lock-free stat
// reads) favors simplicity over fine-grained sharding.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/workq/internal/clock"
	"github.com/oriys/workq/internal/eventhub"
	"github.com/oriys/workq/internal/logging"
	"github.com/oriys/workq/internal/timer"
)

const (
	defaultRetries                 = 2
	defaultWorkItemTimeout         = 5 * time.Minute
	defaultDequeueTimeout          = 30 * time.Second
	dequeueWaitSlice               = 10 * time.Second
	defaultCompletedRetentionLimit = 100
)

var defaultMultipliers = []float64{1, 2, 4, 8}

// AmbientCorrelationID reads a correlation/trace id out of ctx when a
// producer didn't supply one explicitly. context.Context is the
// idiomatic task-local carrier for this; the default is a no-op.
type AmbientCorrelationID func(ctx context.Context) string

// Config configures an Engine[T].
type Config[T any] struct {
	Name string

	Retries     int           // max retries before dead-lettering; 0 means none, negative uses the default of 2
	BaseDelay   time.Duration // retry base delay; 0 means immediate retry
	Multipliers []float64     // retry_delay_i = BaseDelay * Multipliers[min(attempt-1, len-1)]

	WorkItemTimeout         time.Duration // lease duration (default 5m)
	DequeueTimeout          time.Duration // default Dequeue wait (default 30s)
	CompletedRetentionLimit int           // ring size for completed_history (default 100)

	Clock                clock.Clock
	Cloner               Cloner[T]
	AmbientCorrelationID AmbientCorrelationID
}

func (c *Config[T]) setDefaults() {
	if c.Retries < 0 {
		c.Retries = defaultRetries
	}
	if len(c.Multipliers) == 0 {
		c.Multipliers = defaultMultipliers
	}
	if c.WorkItemTimeout <= 0 {
		c.WorkItemTimeout = defaultWorkItemTimeout
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = defaultDequeueTimeout
	}
	if c.CompletedRetentionLimit <= 0 {
		c.CompletedRetentionLimit = defaultCompletedRetentionLimit
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Cloner == nil {
		c.Cloner = JSONClone[T]
	}
}

// EnqueueOptions carries producer-supplied metadata for one Enqueue call.
type EnqueueOptions struct {
	CorrelationID string
	Properties    map[string]string
	DeliveryDelay time.Duration
}

// EnqueuingArgs is the value observed by Enqueuing handlers — the raw
// payload and options, before an Entry exists. The Enqueuing event
// fires, and may cancel, before the id is generated.
type EnqueuingArgs[T any] struct {
	Value   T
	Options EnqueueOptions
}

// Stats is a point-in-time snapshot of engine counters. The *Total
// counters are lock-free atomic loads; Pending, Leased and DeadLetter
// are read under the engine mutex.
type Stats struct {
	Pending    int
	Leased     int
	DeadLetter int

	EnqueuedTotal      uint64
	DequeuedTotal      uint64
	CompletedTotal     uint64
	AbandonedTotal     uint64
	WorkerErrorsTotal  uint64
	LeaseTimeoutsTotal uint64
}

// Engine is the in-memory queue engine for payload type T.
type Engine[T any] struct {
	cfg      Config[T]
	clock    clock.Clock
	cloner   Cloner[T]
	queueID  string
	notifier Notifier

	mu         sync.Mutex
	pending    []*Entry[T]
	leased     map[string]*Entry[T]
	deadLetter []*Entry[T]

	completedHistory    []*Entry[T]
	completedWriteIndex int
	completedCount      int

	lastEnqueueActivity time.Time
	lastDequeueActivity time.Time

	generation int // bumped by DeleteQueue; invalidates in-flight delay goroutines

	maint *timer.Timer

	disposed bool
	cancel   context.CancelFunc
	ctx      context.Context
	wg       sync.WaitGroup

	enqueuedTotal      atomic.Uint64
	dequeuedTotal      atomic.Uint64
	completedTotal     atomic.Uint64
	abandonedTotal     atomic.Uint64
	workerErrorsTotal  atomic.Uint64
	leaseTimeoutsTotal atomic.Uint64

	enqueuing    *eventhub.Cancelable[*Engine[T], EnqueuingArgs[T]]
	enqueued     *eventhub.Parallel[*Engine[T], *Entry[T]]
	dequeued     *eventhub.Parallel[*Engine[T], *Entry[T]]
	lockRenewed  *eventhub.Parallel[*Engine[T], *Entry[T]]
	completed    *eventhub.Parallel[*Engine[T], *Entry[T]]
	abandonedEvt *eventhub.Parallel[*Engine[T], *Entry[T]]
}

// New creates an in-memory Engine for payload type T.
func New[T any](cfg Config[T]) *Engine[T] {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine[T]{
		cfg:      cfg,
		clock:    cfg.Clock,
		cloner:   cfg.Cloner,
		queueID:  cfg.Name + "-" + randomSuffix(22),
		notifier: NewChannelNotifier(),
		leased:   make(map[string]*Entry[T]),
		ctx:      ctx,
		cancel:   cancel,

		enqueuing:    eventhub.NewCancelable[*Engine[T], EnqueuingArgs[T]](),
		enqueued:     eventhub.NewParallel[*Engine[T], *Entry[T]](),
		dequeued:     eventhub.NewParallel[*Engine[T], *Entry[T]](),
		lockRenewed:  eventhub.NewParallel[*Engine[T], *Entry[T]](),
		completed:    eventhub.NewParallel[*Engine[T], *Entry[T]](),
		abandonedEvt: eventhub.NewParallel[*Engine[T], *Entry[T]](),
	}
	e.completedHistory = make([]*Entry[T], 0, cfg.CompletedRetentionLimit)
	e.maint = timer.New(e.clock, e.runMaintenance)
	return e
}

// QueueID returns the engine instance identity (name + random suffix).
func (e *Engine[T]) QueueID() string { return e.queueID }

// OnEnqueuing registers a cancelable Enqueuing handler.
func (e *Engine[T]) OnEnqueuing(fn func(ctx context.Context, eng *Engine[T], args *eventhub.CancelArgs[EnqueuingArgs[T]])) eventhub.Disposer {
	return e.enqueuing.AddHandler(fn)
}

// OnEnqueued registers an Enqueued handler.
func (e *Engine[T]) OnEnqueued(fn func(ctx context.Context, eng *Engine[T], entry *Entry[T])) eventhub.Disposer {
	return e.enqueued.AddHandler(fn)
}

// OnDequeued registers a Dequeued handler.
func (e *Engine[T]) OnDequeued(fn func(ctx context.Context, eng *Engine[T], entry *Entry[T])) eventhub.Disposer {
	return e.dequeued.AddHandler(fn)
}

// OnLockRenewed registers a LockRenewed handler.
func (e *Engine[T]) OnLockRenewed(fn func(ctx context.Context, eng *Engine[T], entry *Entry[T])) eventhub.Disposer {
	return e.lockRenewed.AddHandler(fn)
}

// OnCompleted registers a Completed handler.
func (e *Engine[T]) OnCompleted(fn func(ctx context.Context, eng *Engine[T], entry *Entry[T])) eventhub.Disposer {
	return e.completed.AddHandler(fn)
}

// OnAbandoned registers an Abandoned handler.
func (e *Engine[T]) OnAbandoned(fn func(ctx context.Context, eng *Engine[T], entry *Entry[T])) eventhub.Disposer {
	return e.abandonedEvt.AddHandler(fn)
}

// Enqueue admits a new payload into the queue. It returns the generated
// entry id, or ("", nil) if an Enqueuing handler canceled admission.
func (e *Engine[T]) Enqueue(ctx context.Context, value T, opts EnqueueOptions) (string, error) {
	if isNil(value) {
		return "", fmt.Errorf("%w: payload is nil", ErrInvalidArgument)
	}

	if opts.CorrelationID == "" && e.cfg.AmbientCorrelationID != nil {
		opts.CorrelationID = e.cfg.AmbientCorrelationID(ctx)
	}

	canceled := e.enqueuing.Invoke(ctx, e, EnqueuingArgs[T]{Value: value, Options: opts})
	if canceled {
		return "", nil
	}

	props := make(map[string]string, len(opts.Properties))
	for k, v := range opts.Properties {
		props[k] = v
	}

	now := e.clock.Now()
	entry := &Entry[T]{
		ID:            newEntryID(),
		CorrelationID: opts.CorrelationID,
		Properties:    props,
		Value:         e.cloner(value),
		OriginalValue: e.cloner(value),
		EnqueuedAtUTC: now,
		state:         stateCreated,
	}

	if opts.DeliveryDelay > 0 {
		gen := e.generationSnapshot()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.clock.Delay(e.ctx, opts.DeliveryDelay)
			if e.ctx.Err() != nil {
				return
			}
			if e.generationSnapshot() != gen {
				return // queue was deleted while the delay was in flight
			}
			e.admit(entry)
		}()
		return entry.ID, nil
	}

	e.admit(entry)
	return entry.ID, nil
}

// admit appends entry to pending, wakes one Dequeue waiter, and fires
// the Enqueued event.
func (e *Engine[T]) admit(entry *Entry[T]) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	entry.state = statePending
	e.pending = append(e.pending, entry)
	e.lastEnqueueActivity = e.clock.Now()
	e.mu.Unlock()

	e.enqueuedTotal.Add(1)
	e.notifier.Notify(e.ctx, QueuePending)
	e.enqueued.Invoke(e.ctx, e, entry)
}

// Dequeue blocks until an entry is available, ctx is canceled, or
// timeout elapses (default 30s). Internal waits chunk to <=10s.
func (e *Engine[T]) Dequeue(ctx context.Context, timeout time.Duration) (*Entry[T], error) {
	if timeout <= 0 {
		timeout = e.cfg.DequeueTimeout
	}
	deadline := e.clock.Now().Add(timeout)

	for {
		if entry, ok := e.tryLease(); ok {
			return entry, nil
		}

		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}
		wait := remaining
		if wait > dequeueWaitSlice {
			wait = dequeueWaitSlice
		}

		waitCtx, cancel := context.WithTimeout(ctx, wait)
		ch := e.notifier.Subscribe(waitCtx, QueuePending)
		select {
		case <-ch:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				cancel()
				return nil, ErrCanceled
			}
		}
		cancel()
	}
}

// tryLease pops the head of pending (strict FIFO) and moves it to leased.
func (e *Engine[T]) tryLease() (*Entry[T], bool) {
	e.mu.Lock()
	if e.disposed || len(e.pending) == 0 {
		e.mu.Unlock()
		return nil, false
	}
	entry := e.pending[0]
	e.pending = e.pending[1:]

	now := e.clock.Now()
	entry.Attempts++
	entry.DequeuedAtUTC = now
	entry.RenewedAtUTC = now
	entry.state = stateLeased
	e.leased[entry.ID] = entry
	e.lastDequeueActivity = now
	deadline := now.Add(e.cfg.WorkItemTimeout)
	e.mu.Unlock()

	e.dequeuedTotal.Add(1)
	e.maint.ScheduleNext(deadline)
	e.lockRenewed.Invoke(e.ctx, e, entry)
	e.dequeued.Invoke(e.ctx, e, entry)
	return entry, true
}

// RenewLock extends an entry's lease. It is idempotent: a no-op if the
// entry is no longer leased.
func (e *Engine[T]) RenewLock(ctx context.Context, id string) error {
	e.mu.Lock()
	entry, ok := e.leased[id]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	entry.RenewedAtUTC = e.clock.Now()
	deadline := entry.RenewedAtUTC.Add(e.cfg.WorkItemTimeout)
	e.mu.Unlock()

	e.maint.ScheduleNext(deadline)
	e.lockRenewed.Invoke(ctx, e, entry)
	return nil
}

// Complete marks a leased entry as successfully processed.
func (e *Engine[T]) Complete(ctx context.Context, id string) error {
	e.mu.Lock()
	entry, ok := e.leased[id]
	if !ok {
		for _, done := range e.completedHistory {
			if done.ID == id {
				e.mu.Unlock()
				return fmt.Errorf("%w: %s", ErrAlreadySettled, id)
			}
		}
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLeased, id)
	}
	if entry.IsCompleted || entry.IsAbandoned {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySettled, id)
	}

	now := e.clock.Now()
	entry.ProcessingTime = now.Sub(entry.DequeuedAtUTC)
	entry.TotalTime = now.Sub(entry.EnqueuedAtUTC)
	entry.IsCompleted = true
	entry.state = stateCompleted

	delete(e.leased, id)
	e.pushCompletedLocked(entry)
	e.mu.Unlock()

	e.completedTotal.Add(1)
	e.completed.Invoke(ctx, e, entry)
	return nil
}

func (e *Engine[T]) pushCompletedLocked(entry *Entry[T]) {
	limit := e.cfg.CompletedRetentionLimit
	if len(e.completedHistory) < limit {
		e.completedHistory = append(e.completedHistory, entry)
	} else {
		e.completedHistory[e.completedWriteIndex] = entry
	}
	e.completedWriteIndex = (e.completedWriteIndex + 1) % limit
	if e.completedCount < limit {
		e.completedCount++
	}
}

// Abandon releases a leased entry without success. Depending on
// attempts vs. Retries, the entry is re-queued after a backoff delay or
// moved to the dead letter queue. The Abandoned event fires before the
// entry re-enters pending/dead_letter.
func (e *Engine[T]) Abandon(ctx context.Context, id string) error {
	e.mu.Lock()
	entry, ok := e.leased[id]
	if !ok {
		for _, done := range e.completedHistory {
			if done.ID == id {
				e.mu.Unlock()
				return fmt.Errorf("%w: %s", ErrAlreadySettled, id)
			}
		}
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLeased, id)
	}
	if entry.IsCompleted || entry.IsAbandoned {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySettled, id)
	}

	now := e.clock.Now()
	entry.ProcessingTime = now.Sub(entry.DequeuedAtUTC)
	entry.IsAbandoned = true
	delete(e.leased, id)

	deadLetter := entry.Attempts >= e.cfg.Retries+1
	gen := e.generation
	e.mu.Unlock()

	e.abandonedTotal.Add(1)
	e.abandonedEvt.Invoke(ctx, e, entry)

	if deadLetter {
		entry.TotalTime = e.clock.Now().Sub(entry.EnqueuedAtUTC)
		e.mu.Lock()
		entry.state = stateDeadLettered
		e.deadLetter = append(e.deadLetter, entry)
		e.mu.Unlock()
		return nil
	}

	// Reset for retry: clear terminal flags, restore the original value.
	entry.IsAbandoned = false
	entry.Value = e.cloner(entry.OriginalValue)

	delay := e.retryDelay(entry.Attempts)
	if delay <= 0 {
		e.mu.Lock()
		entry.state = statePending
		e.mu.Unlock()
		e.requeueRetry(entry)
		return nil
	}

	e.mu.Lock()
	entry.state = stateRetryDelay
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.clock.Delay(e.ctx, delay)
		if e.ctx.Err() != nil {
			return
		}
		if e.generationSnapshot() != gen {
			return // dropped silently: delete_queue occurred mid-delay
		}
		e.requeueRetry(entry)
	}()
	return nil
}

// requeueRetry appends a retried entry to the tail of pending (no
// priority over freshly-enqueued items).
func (e *Engine[T]) requeueRetry(entry *Entry[T]) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	entry.state = statePending
	e.pending = append(e.pending, entry)
	e.mu.Unlock()
	e.notifier.Notify(e.ctx, QueuePending)
}

func (e *Engine[T]) retryDelay(attempts int) time.Duration {
	base := e.cfg.BaseDelay
	if base <= 0 {
		return 0
	}
	mult := e.cfg.Multipliers
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(mult) {
		idx = len(mult) - 1
	}
	return time.Duration(float64(base) * mult[idx])
}

// GetStats returns a point-in-time snapshot of queue depth and counters.
func (e *Engine[T]) GetStats() Stats {
	e.mu.Lock()
	pending := len(e.pending)
	leased := len(e.leased)
	deadLetter := len(e.deadLetter)
	e.mu.Unlock()

	return Stats{
		Pending:            pending,
		Leased:             leased,
		DeadLetter:         deadLetter,
		EnqueuedTotal:      e.enqueuedTotal.Load(),
		DequeuedTotal:      e.dequeuedTotal.Load(),
		CompletedTotal:     e.completedTotal.Load(),
		AbandonedTotal:     e.abandonedTotal.Load(),
		WorkerErrorsTotal:  e.workerErrorsTotal.Load(),
		LeaseTimeoutsTotal: e.leaseTimeoutsTotal.Load(),
	}
}

// RecordWorkerError increments worker_errors_total. Called by the worker
// dispatcher (internal/worker) when a handler panics or returns an error.
func (e *Engine[T]) RecordWorkerError() { e.workerErrorsTotal.Add(1) }

// GetDeadLetterItems returns a snapshot of dead-lettered entries: a
// copy built at call time, which does not reflect later changes. The
// payloads and Properties are cloned, so mutating the returned entries
// does not affect engine state.
func (e *Engine[T]) GetDeadLetterItems() []Entry[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry[T], len(e.deadLetter))
	for i, entry := range e.deadLetter {
		out[i] = entry.snapshot()
		out[i].Value = e.cloner(entry.Value)
		out[i].OriginalValue = e.cloner(entry.OriginalValue)
	}
	return out
}

// DeleteQueue clears all containers and resets counters. Safe to call
// while workers exist; they observe the cleared state and idle. Retries
// and delayed enqueues in flight at the time of the call are dropped
// silently.
func (e *Engine[T]) DeleteQueue() {
	e.mu.Lock()
	e.pending = nil
	e.leased = make(map[string]*Entry[T])
	e.deadLetter = nil
	e.completedHistory = e.completedHistory[:0]
	e.completedWriteIndex = 0
	e.completedCount = 0
	e.generation++
	e.mu.Unlock()

	e.enqueuedTotal.Store(0)
	e.dequeuedTotal.Store(0)
	e.completedTotal.Store(0)
	e.abandonedTotal.Store(0)
	e.workerErrorsTotal.Store(0)
	e.leaseTimeoutsTotal.Store(0)
}

// Dispose cancels the engine's lifetime context, waits for in-flight
// delay goroutines to observe cancellation, and clears all containers.
func (e *Engine[T]) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.mu.Unlock()

	e.cancel()
	e.maint.Dispose()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logging.Op().Warn("queue engine dispose: timed out waiting for in-flight goroutines", "queue_id", e.queueID)
	}

	e.notifier.Close()

	e.mu.Lock()
	e.pending = nil
	e.leased = make(map[string]*Entry[T])
	e.deadLetter = nil
	e.mu.Unlock()
}

func (e *Engine[T]) generationSnapshot() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// runMaintenance is the C3 maintenance timer callback: it scans leased
// entries for expired leases, abandons each one (which in turn retries
// or dead-letters it), and returns the soonest remaining deadline.
func (e *Engine[T]) runMaintenance(ctx context.Context) time.Time {
	now := e.clock.Now()

	e.mu.Lock()
	var expired []string
	next := timer.Never
	for id, entry := range e.leased {
		deadline := entry.RenewedAtUTC.Add(e.cfg.WorkItemTimeout)
		if !deadline.After(now) {
			expired = append(expired, id)
		} else if deadline.Before(next) {
			next = deadline
		}
	}
	e.mu.Unlock()

	for _, id := range expired {
		e.leaseTimeoutsTotal.Add(1)
		logging.Op().Warn("queue lease expired", "queue_id", e.queueID, "entry_id", id)
		if err := e.Abandon(ctx, id); err != nil {
			logging.Op().Error("queue maintenance abandon failed", "queue_id", e.queueID, "entry_id", id, "error", err)
		}
	}

	return next
}

// newEntryID returns a 32-character hex string: a uuid v4 with its
// hyphens stripped.
func newEntryID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// randomSuffix returns an n-character URL-safe random token, appended
// to a queue's name to form its queue_id.
func randomSuffix(n int) string {
	buf := make([]byte, (n*5+7)/8+1)
	_, _ = rand.Read(buf)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	if len(enc) > n {
		enc = enc[:n]
	}
	return enc
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
