package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/workq/internal/clock"
)

func TestTimer_FiresAfterScheduleNext(t *testing.T) {
	clk := clock.NewFake(time.Now())
	var fired atomic.Int32
	tm := New(clk, func(ctx context.Context) time.Time {
		fired.Add(1)
		return Never
	})
	defer tm.Dispose()

	tm.ScheduleNext(clk.Now().Add(200 * time.Millisecond))
	clk.Advance(250 * time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fired.Load() != 1 {
		t.Fatalf("expected timer to fire once, got %d", fired.Load())
	}
}

func TestTimer_EarlierPendingFireWins(t *testing.T) {
	clk := clock.NewFake(time.Now())
	var fireTimes []time.Time
	tm := New(clk, func(ctx context.Context) time.Time {
		fireTimes = append(fireTimes, clk.Now())
		return Never
	})
	defer tm.Dispose()

	base := clk.Now()
	tm.ScheduleNext(base.Add(100 * time.Millisecond))
	// A later request while an earlier one is pending must be ignored.
	tm.ScheduleNext(base.Add(500 * time.Millisecond))

	clk.Advance(150 * time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for len(fireTimes) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(fireTimes) != 1 {
		t.Fatalf("expected exactly one fire from the earlier schedule, got %d", len(fireTimes))
	}
}

func TestTimer_DisposeStopsFiring(t *testing.T) {
	clk := clock.NewFake(time.Now())
	var fired atomic.Int32
	tm := New(clk, func(ctx context.Context) time.Time {
		fired.Add(1)
		return Never
	})
	tm.Dispose()

	tm.ScheduleNext(clk.Now().Add(10 * time.Millisecond))
	clk.Advance(20 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if fired.Load() != 0 {
		t.Fatalf("expected no fires after Dispose, got %d", fired.Load())
	}
}
