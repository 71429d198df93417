package eventhub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestParallel_InvokeWaitsForAllHandlers(t *testing.T) {
	p := NewParallel[string, int]()
	var count atomic.Int32
	p.AddHandler(func(ctx context.Context, s string, a int) {
		time.Sleep(10 * time.Millisecond)
		count.Add(1)
	})
	p.AddHandler(func(ctx context.Context, s string, a int) {
		count.Add(1)
	})

	p.Invoke(context.Background(), "sender", 1)

	if got := count.Load(); got != 2 {
		t.Fatalf("expected both handlers to complete, got %d", got)
	}
}

func TestParallel_DisposerRemovesHandler(t *testing.T) {
	p := NewParallel[string, int]()
	var count atomic.Int32
	dispose := p.AddHandler(func(ctx context.Context, s string, a int) {
		count.Add(1)
	})
	dispose()
	p.Invoke(context.Background(), "sender", 1)
	if got := count.Load(); got != 0 {
		t.Fatalf("expected disposed handler not to run, got count=%d", got)
	}
}

func TestCancelable_StopsOnCancel(t *testing.T) {
	c := NewCancelable[string, int]()
	var ran []int

	c.AddHandler(func(ctx context.Context, s string, a *CancelArgs[int]) {
		ran = append(ran, 1)
	})
	c.AddHandler(func(ctx context.Context, s string, a *CancelArgs[int]) {
		ran = append(ran, 2)
		a.Cancel = true
	})
	c.AddHandler(func(ctx context.Context, s string, a *CancelArgs[int]) {
		ran = append(ran, 3)
	})

	canceled := c.Invoke(context.Background(), "sender", 42)
	if !canceled {
		t.Fatal("expected Invoke to report canceled")
	}
	if len(ran) != 2 || ran[0] != 1 || ran[1] != 2 {
		t.Fatalf("expected handlers 1,2 to run and 3 to be skipped, got %v", ran)
	}
}

func TestCancelable_RunsInRegistrationOrder(t *testing.T) {
	c := NewCancelable[string, int]()
	var ran []int
	for i := 1; i <= 5; i++ {
		i := i
		c.AddHandler(func(ctx context.Context, s string, a *CancelArgs[int]) {
			ran = append(ran, i)
		})
	}
	canceled := c.Invoke(context.Background(), "sender", 0)
	if canceled {
		t.Fatal("expected no cancel")
	}
	for i, v := range ran {
		if v != i+1 {
			t.Fatalf("expected in-order execution, got %v", ran)
		}
	}
}
