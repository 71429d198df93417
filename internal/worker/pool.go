// Package worker implements the dispatch loop that drains a
// queue.Engine: a fixed pool of goroutines each looping
// Dequeue -> invoke handler -> Complete/Abandon, grounded on
// internal/asyncqueue.WorkerPool's static (non-adaptive) mode and
// internal/eventbus's single-handler-per-message dispatch loop.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/workq/internal/logging"
	"github.com/oriys/workq/internal/queue"
	"github.com/oriys/workq/internal/resilience"
)

const (
	defaultWorkers       = 8
	defaultDequeueWait   = 30 * time.Second
	defaultHandlerBudget = 5 * time.Minute
)

// Handler processes one dequeued entry. A returned error causes the
// entry to be abandoned (and retried or dead-lettered per the engine's
// retry policy); a nil return completes it.
type Handler[T any] func(ctx context.Context, entry *queue.Entry[T]) error

// Config configures a Pool.
type Config struct {
	Workers int
	// DequeueWait bounds each worker's blocking Dequeue call; workers
	// loop back around on a nil/timeout result rather than exiting.
	DequeueWait time.Duration
	// HandlerBudget bounds a single handler invocation, including any
	// resilience-driven retries. 0 uses the package default.
	HandlerBudget time.Duration
	// Resilience, if non-nil, wraps every handler invocation (retry,
	// circuit breaker, overall timeout). A nil policy runs the handler
	// exactly once per Dequeue.
	Resilience *resilience.Policy
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.DequeueWait <= 0 {
		c.DequeueWait = defaultDequeueWait
	}
	if c.HandlerBudget <= 0 {
		c.HandlerBudget = defaultHandlerBudget
	}
}

// Pool runs Config.Workers goroutines draining an Engine concurrently.
// No two workers can observe the same leased entry: the engine's FIFO
// pop-under-lock in tryLease guarantees mutual exclusion at dequeue time.
type Pool[T any] struct {
	engine  *queue.Engine[T]
	handler Handler[T]
	cfg     Config

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a worker pool over engine. Call Start to begin dispatch.
func New[T any](engine *queue.Engine[T], handler Handler[T], cfg Config) *Pool[T] {
	cfg.setDefaults()
	return &Pool[T]{
		engine:  engine,
		handler: handler,
		cfg:     cfg,
	}
}

// Start launches the worker goroutines. A no-op if already started.
func (p *Pool[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	logging.Op().Info("worker pool started", "queue_id", p.engine.QueueID(), "workers", p.cfg.Workers)
}

// Stop signals every worker to exit after its current handler call
// returns, and blocks until they have all exited.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Op().Info("worker pool stopped", "queue_id", p.engine.QueueID())
}

func (p *Pool[T]) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		entry, err := p.engine.Dequeue(context.Background(), p.cfg.DequeueWait)
		if err != nil {
			continue // ErrCanceled: Dequeue's outer ctx was canceled mid-wait; just retry
		}
		if entry == nil {
			continue // wait slice elapsed with nothing pending
		}

		p.process(id, entry)
	}
}

// process runs the handler for one dequeued entry, wraps the handler
// call (but not the Abandon that follows a failure) in the resilience
// policy if configured, and settles the entry with Complete/Abandon.
//
// Two simplifications relative to a full settlement contract: Abandon
// itself always runs as a single direct call rather than through the
// resilience policy's own retry/backoff, and the pool always completes
// on a nil handler error — there is no way for a handler to take over
// settlement itself and leave the entry leased.
func (p *Pool[T]) process(workerID int, entry *queue.Entry[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HandlerBudget)
	defer cancel()

	var err error
	if p.cfg.Resilience != nil {
		_, err = resilience.Execute(ctx, *p.cfg.Resilience, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.handler(ctx, entry)
		})
	} else {
		err = p.handler(ctx, entry)
	}

	if err != nil {
		p.engine.RecordWorkerError()
		logging.Op().Warn("worker handler failed", "queue_id", p.engine.QueueID(), "worker", workerID, "entry_id", entry.ID, "attempt", entry.Attempts, "error", err)
		if abErr := p.engine.Abandon(context.Background(), entry.ID); abErr != nil {
			logging.Op().Error("worker abandon failed", "queue_id", p.engine.QueueID(), "entry_id", entry.ID, "error", fmt.Errorf("%w", abErr))
		}
		return
	}

	if cErr := p.engine.Complete(context.Background(), entry.ID); cErr != nil {
		logging.Op().Error("worker complete failed", "queue_id", p.engine.QueueID(), "entry_id", entry.ID, "error", cErr)
	}
}
