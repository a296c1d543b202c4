package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_StepTriggerFiresEveryNSteps(t *testing.T) {
	s := New()
	var fired int32
	s.Register("t1", 0, 3, func(ctx context.Context, reason string) {
		atomic.AddInt32(&fired, 1)
		if reason != "step" {
			t.Errorf("reason = %q, want step", reason)
		}
	})

	for i := 0; i < 5; i++ {
		s.NotifyStep(context.Background())
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("fired = %d, want 1 after 5 steps with threshold 3", fired)
	}
	for i := 0; i < 3; i++ {
		s.NotifyStep(context.Background())
	}
	if atomic.LoadInt32(&fired) != 2 {
		t.Fatalf("fired = %d, want 2 after 8 steps total", fired)
	}
}

func TestScheduler_TimerTriggerFiresOnTick(t *testing.T) {
	var mu sync.Mutex
	current := time.Unix(0, 0)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	s := New(WithNow(now), WithTickInterval(10*time.Millisecond))
	done := make(chan struct{})
	s.Register("timer1", 50*time.Millisecond, 0, func(ctx context.Context, reason string) {
		if reason != "timer" {
			t.Errorf("reason = %q, want timer", reason)
		}
		close(done)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	advance(60 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer trigger never fired")
	}
}

func TestScheduler_UnregisterStopsFutureFires(t *testing.T) {
	s := New()
	var fired int32
	s.Register("t1", 0, 1, func(ctx context.Context, reason string) {
		atomic.AddInt32(&fired, 1)
	})
	if !s.Unregister("t1") {
		t.Fatal("Unregister returned false for a registered trigger")
	}
	s.NotifyStep(context.Background())
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("fired = %d, want 0 after unregister", fired)
	}
}

func TestScheduler_PanicInTriggerIsRecovered(t *testing.T) {
	s := New()
	s.Register("t1", 0, 1, func(ctx context.Context, reason string) {
		panic("boom")
	})
	s.NotifyStep(context.Background())
}
