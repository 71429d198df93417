package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/workq/internal/queue"
)

type job struct {
	N int
}

func TestPool_CompletesSuccessfulEntries(t *testing.T) {
	engine := queue.New(queue.Config[job]{Retries: 1})
	defer engine.Dispose()

	var processed atomic.Int32
	pool := New(engine, Handler[job](func(ctx context.Context, entry *queue.Entry[job]) error {
		processed.Add(1)
		return nil
	}), Config{Workers: 2, DequeueWait: 50 * time.Millisecond})
	pool.Start()
	defer pool.Stop()

	for i := 0; i < 5; i++ {
		if _, err := engine.Enqueue(context.Background(), job{N: i}, queue.EnqueueOptions{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if processed.Load() == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if processed.Load() != 5 {
		t.Fatalf("expected 5 processed entries, got %d", processed.Load())
	}

	stats := engine.GetStats()
	if stats.CompletedTotal != 5 {
		t.Fatalf("expected 5 completed, got %d", stats.CompletedTotal)
	}
}

func TestPool_AbandonsFailedEntries(t *testing.T) {
	engine := queue.New(queue.Config[job]{Retries: 0})
	defer engine.Dispose()

	pool := New(engine, Handler[job](func(ctx context.Context, entry *queue.Entry[job]) error {
		return errors.New("handler failure")
	}), Config{Workers: 1, DequeueWait: 50 * time.Millisecond})
	pool.Start()
	defer pool.Stop()

	if _, err := engine.Enqueue(context.Background(), job{N: 1}, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if engine.GetStats().DeadLetter == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := engine.GetStats()
	if stats.DeadLetter != 1 {
		t.Fatalf("expected entry dead-lettered after exhausting retries, got stats %+v", stats)
	}
	if stats.WorkerErrorsTotal != 1 {
		t.Fatalf("expected worker_errors_total=1, got %d", stats.WorkerErrorsTotal)
	}
}

func TestPool_StopWaitsForInFlightHandler(t *testing.T) {
	engine := queue.New(queue.Config[job]{})
	defer engine.Dispose()

	started := make(chan struct{})
	release := make(chan struct{})
	pool := New(engine, Handler[job](func(ctx context.Context, entry *queue.Entry[job]) error {
		close(started)
		<-release
		return nil
	}), Config{Workers: 1, DequeueWait: 50 * time.Millisecond})
	pool.Start()

	if _, err := engine.Enqueue(context.Background(), job{N: 1}, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
}
