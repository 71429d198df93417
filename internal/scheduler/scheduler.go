// Package scheduler is a cron-scheduled enqueue producer: on each tick
// it enqueues a value onto a queue engine, letting the normal worker
// pool/retry/dead-letter machinery handle delivery.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oriys/workq/internal/logging"
	"github.com/oriys/workq/internal/queue"
)

// Source produces the value to enqueue on each tick. Schedules that
// enqueue a fixed payload can ignore the time argument.
type Source[T any] func(tick time.Time) (T, error)

// Scheduler registers cron expressions that enqueue onto an Engine.
type Scheduler[T any] struct {
	cron    *cron.Cron
	engine  *queue.Engine[T]
	entries map[string]cron.EntryID // schedule name -> cron entry id
	mu      sync.Mutex
}

// New creates a Scheduler bound to engine. It does not start running
// until Start is called.
func New[T any](engine *queue.Engine[T]) *Scheduler[T] {
	return &Scheduler[T]{
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		engine:  engine,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins running registered schedules.
func (s *Scheduler[T]) Start() { s.cron.Start() }

// Stop halts the cron loop and returns at once; the returned context is
// done once any in-flight tick has finished.
func (s *Scheduler[T]) Stop() context.Context { return s.cron.Stop() }

// Add registers a cron expression under name, replacing any existing
// schedule of the same name. Each tick calls src and enqueues the
// result; a Source error is logged and skipped rather than panicking
// the cron goroutine.
func (s *Scheduler[T]) Add(name, cronExpr string, src Source[T], opts queue.EnqueueOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.tick(name, src, opts)
	})
	if err != nil {
		return fmt.Errorf("scheduler: add %q: %w", name, err)
	}
	s.entries[name] = entryID
	return nil
}

// Remove unregisters a schedule by name. A no-op if name is unknown.
func (s *Scheduler[T]) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}
}

func (s *Scheduler[T]) tick(name string, src Source[T], opts queue.EnqueueOptions) {
	now := time.Now()
	value, err := src(now)
	if err != nil {
		logging.Op().Warn("scheduler: source failed", "schedule", name, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.engine.Enqueue(ctx, value, opts); err != nil {
		logging.Op().Error("scheduler: enqueue failed", "schedule", name, "error", err)
	}
}
