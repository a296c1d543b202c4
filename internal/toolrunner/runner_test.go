package toolrunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_RunsWithinPermitLimit(t *testing.T) {
	r := New(2)
	var current, maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Run(context.Background(), func(ctx context.Context) (any, error) {
				n := atomic.AddInt32(&current, 1)
				for {
					old := atomic.LoadInt32(&maxSeen)
					if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil, nil
			})
		}()
	}
	wg.Wait()
	if maxSeen > 2 {
		t.Fatalf("observed %d concurrent tasks, want <= 2", maxSeen)
	}
}

func TestRunner_TaskErrorDoesNotBlockOthers(t *testing.T) {
	r := New(1)
	_, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected task error to surface, got %v", err)
	}
	v, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("expected subsequent task to succeed after a prior error, got %v %v", v, err)
	}
}

func TestRunner_ClearDropsOnlyQueuedTasks(t *testing.T) {
	r := New(1)
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = r.Run(context.Background(), func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "first", nil
		})
	}()
	<-started

	queuedErr := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
			return "second", nil
		})
		queuedErr <- err
	}()

	// Give the second task time to land in the pending queue behind the
	// held permit.
	time.Sleep(20 * time.Millisecond)
	if n := r.Clear(); n != 1 {
		t.Fatalf("Clear() dropped %d tasks, want 1", n)
	}

	select {
	case err := <-queuedErr:
		if !errors.As(err, &ErrCleared{}) {
			t.Fatalf("expected ErrCleared, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cleared task never returned")
	}

	close(release)
}
