// Package timer implements the single-callback, reschedulable maintenance
// timer that drives the queue engine's lease-expiry sweep. Its reconcile
// loop is modeled on internal/asyncqueue's elasticWorkerManager/
// elasticPollerManager pattern: a goroutine blocks on either a tick or a
// reschedule signal and reacts to whichever fires first.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/workq/internal/clock"
)

// Never is the "no next fire" sentinel, an instant far enough in the
// future to never practically arrive.
var Never = time.Unix(1<<62, 0).UTC()

const minGranularity = 100 * time.Millisecond

// Callback runs on every fire and returns the next instant to fire at, or
// Never/zero if the timer should idle until explicitly rescheduled.
type Callback func(ctx context.Context) time.Time

// Timer is a single-callback, reschedulable maintenance timer.
//
// Overlap prevention: a new invocation never starts while a previous one
// is still running. If ScheduleNext is called while a callback is
// in-flight and the requested time has already passed, the timer fires
// again immediately after the in-flight call returns.
type Timer struct {
	clock    clock.Clock
	callback Callback

	mu       sync.Mutex
	nextAt   time.Time
	running  bool
	rerun    bool
	wake     chan struct{}
	disposed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates and starts a Timer. It idles (Never) until the first
// ScheduleNext call.
func New(clk clock.Clock, cb Callback) *Timer {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Timer{
		clock:    clk,
		callback: cb,
		nextAt:   Never,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go t.loop()
	return t
}

// ScheduleNext requests the timer fire at "at":
//   - at <= now coalesces to "fire soon".
//   - if an earlier fire is already pending, the later request is ignored.
//   - a duplicate request for the same instant is ignored.
func (t *Timer) ScheduleNext(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}

	now := t.clock.Now()
	if at.Before(now.Add(15 * time.Millisecond)) {
		at = now
	}

	if !t.nextAt.Equal(Never) && !t.nextAt.After(at) {
		// an earlier (or equal) fire is already pending
		return
	}
	if t.nextAt.Equal(at) {
		return
	}
	t.nextAt = at

	if t.running {
		t.rerun = true
		return
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Dispose cancels any pending fire and stops the timer goroutine.
func (t *Timer) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	t.mu.Unlock()
	t.cancel()
	<-t.done
}

func (t *Timer) loop() {
	defer close(t.done)
	for {
		t.mu.Lock()
		next := t.nextAt
		t.mu.Unlock()

		var wait time.Duration
		if next.Equal(Never) {
			wait = -1
		} else {
			wait = next.Sub(t.clock.Now())
			if wait < minGranularity {
				wait = minGranularity
				if next.Before(t.clock.Now()) {
					wait = 0
				}
			}
		}

		if wait < 0 {
			select {
			case <-t.ctx.Done():
				return
			case <-t.wake:
			}
		} else {
			timerC := make(chan struct{}, 1)
			go func() {
				t.clock.Delay(t.ctx, wait)
				select {
				case timerC <- struct{}{}:
				default:
				}
			}()
			select {
			case <-t.ctx.Done():
				return
			case <-t.wake:
			case <-timerC:
			}
		}

		if t.ctx.Err() != nil {
			return
		}
		t.fire()
	}
}

func (t *Timer) fire() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.nextAt = Never
	t.mu.Unlock()

	next := t.callback(t.ctx)

	t.mu.Lock()
	t.running = false
	rerun := t.rerun
	t.rerun = false
	if next.IsZero() {
		next = Never
	}
	if t.nextAt.Equal(Never) || next.Before(t.nextAt) {
		t.nextAt = next
	}
	wantWake := rerun || !t.nextAt.Equal(Never)
	t.mu.Unlock()

	if wantWake {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}
