package clock

import (
	"context"
	"testing"
	"time"
)

func TestSystem_NowIsUTC(t *testing.T) {
	c := New()
	now := c.Now()
	if now.Location() != time.UTC {
		t.Errorf("Now() location = %v, want UTC", now.Location())
	}
}

func TestSystem_DelayRespectsCancellation(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.Delay(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Delay did not return promptly on cancelled context")
	}
}

func TestSystem_DelayZeroReturnsImmediately(t *testing.T) {
	c := New()
	start := time.Now()
	c.Delay(context.Background(), 0)
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Delay(0) should return immediately")
	}
}

func TestFake_NowReflectsAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if !f.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", f.Now(), start)
	}

	f.Advance(time.Minute)
	want := start.Add(time.Minute)
	if !f.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", f.Now(), want)
	}
}

func TestFake_SetNeverMovesBackwards(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Set(start.Add(-time.Hour))
	if !f.Now().Equal(start) {
		t.Errorf("Set should not move the clock backwards, Now() = %v", f.Now())
	}

	f.Set(start.Add(time.Hour))
	if !f.Now().Equal(start.Add(time.Hour)) {
		t.Errorf("Now() = %v, want %v", f.Now(), start.Add(time.Hour))
	}
}

func TestFake_DelayWakesOnAdvance(t *testing.T) {
	f := NewFake(time.Time{})

	woke := make(chan struct{})
	go func() {
		f.Delay(context.Background(), 5*time.Second)
		close(woke)
	}()

	select {
	case <-woke:
		t.Fatal("Delay returned before Advance reached the deadline")
	case <-time.After(50 * time.Millisecond):
	}

	f.Advance(5 * time.Second)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Delay did not wake after Advance reached the deadline")
	}
}

func TestFake_DelayZeroReturnsImmediately(t *testing.T) {
	f := NewFake(time.Time{})
	done := make(chan struct{})
	go func() {
		f.Delay(context.Background(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Delay(0) should return immediately without waiting on Advance")
	}
}

func TestFake_DelayRespectsCancellation(t *testing.T) {
	f := NewFake(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.Delay(ctx, time.Hour)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Delay did not return promptly on cancelled context")
	}
}
