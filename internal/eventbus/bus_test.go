package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaykit/conductor/pkg/models"
)

type fakePersister struct {
	fail   map[models.EventKind]bool
	events []models.Envelope
}

func (f *fakePersister) AppendEvent(ctx context.Context, agentID string, env models.Envelope) error {
	if f.fail[env.Event.Kind] {
		return errors.New("simulated persist failure")
	}
	f.events = append(f.events, env)
	return nil
}

func (f *fakePersister) ReadEvents(ctx context.Context, agentID string, since models.Bookmark, channel models.Channel) ([]models.Envelope, error) {
	var out []models.Envelope
	for _, e := range f.events {
		if e.Bookmark.Seq <= since.Seq {
			continue
		}
		if channel != "" && e.Event.Channel != channel {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func recv(t *testing.T, sub *Subscription) models.Envelope {
	t.Helper()
	select {
	case env := <-sub.C:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return models.Envelope{}
	}
}

func TestBus_EmitAssignsMonotonicBookmarksAndCursors(t *testing.T) {
	ctx := context.Background()
	bus := New("agt:1", &fakePersister{})
	e1 := bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk})
	e2 := bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk})
	if e2.Bookmark.Seq <= e1.Bookmark.Seq || e2.Cursor <= e1.Cursor {
		t.Fatalf("expected monotonic bookmark/cursor, got %+v then %+v", e1, e2)
	}
}

func TestBus_SubscribeFiltersByChannelAndKind(t *testing.T) {
	ctx := context.Background()
	bus := New("agt:1", &fakePersister{})
	sub := bus.Subscribe(ctx, []models.Channel{models.ChannelProgress}, SubscribeOptions{Kinds: []models.EventKind{models.EventToolStart}})
	defer sub.Close()

	bus.EmitControl(ctx, models.Event{Kind: models.EventToolStart})       // wrong channel
	bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk})      // wrong kind
	bus.EmitProgress(ctx, models.Event{Kind: models.EventToolStart})      // matches

	env := recv(t, sub)
	if env.Event.Kind != models.EventToolStart || env.Event.Channel != models.ChannelProgress {
		t.Fatalf("unexpected delivered event: %+v", env)
	}
}

func TestBus_ReplaySinceBookmarkDeliversPersistedThenLive(t *testing.T) {
	ctx := context.Background()
	persister := &fakePersister{}
	bus := New("agt:1", persister)

	bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk})
	e2 := bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk})

	sub := bus.Subscribe(ctx, []models.Channel{models.ChannelProgress}, SubscribeOptions{Since: &models.Bookmark{Seq: e2.Bookmark.Seq - 1}})
	defer sub.Close()

	replayed := recv(t, sub)
	if replayed.Bookmark.Seq != e2.Bookmark.Seq {
		t.Fatalf("expected replay to deliver seq %d, got %d", e2.Bookmark.Seq, replayed.Bookmark.Seq)
	}

	bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk})
	live := recv(t, sub)
	if live.Bookmark.Seq != e2.Bookmark.Seq+1 {
		t.Fatalf("expected live event after replay, got seq %d", live.Bookmark.Seq)
	}
}

func TestBus_CriticalPersistFailureBuffersForRetryAndEmitsStorageFailure(t *testing.T) {
	ctx := context.Background()
	persister := &fakePersister{fail: map[models.EventKind]bool{models.EventDone: true}}
	bus := New("agt:1", persister)
	sub := bus.Subscribe(ctx, nil, SubscribeOptions{})
	defer sub.Close()

	bus.EmitProgress(ctx, models.Event{Kind: models.EventDone})
	_ = recv(t, sub) // the done event itself
	failure := recv(t, sub)
	if failure.Event.Kind != models.EventStorageFailure {
		t.Fatalf("expected synthesized storage_failure event, got %+v", failure.Event)
	}

	persister.fail = nil
	if n := bus.RetryPending(ctx); n != 0 {
		t.Fatalf("expected retry buffer to drain, %d still pending", n)
	}
}

func TestBus_NonCriticalPersistFailureDoesNotBuffer(t *testing.T) {
	ctx := context.Background()
	persister := &fakePersister{fail: map[models.EventKind]bool{models.EventTextChunk: true}}
	bus := New("agt:1", persister)
	bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk})
	if n := bus.RetryPending(ctx); n != 0 {
		t.Fatalf("non-critical failures should not populate the retry buffer, got %d pending", n)
	}
}

func TestBus_RingBufferTrimsAboveMax(t *testing.T) {
	ctx := context.Background()
	bus := New("agt:1", &fakePersister{})
	for i := 0; i < maxRetain+50; i++ {
		bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk})
	}
	bus.mu.Lock()
	size := len(bus.ring)
	bus.mu.Unlock()
	if size > maxRetain {
		t.Fatalf("ring buffer did not trim: size=%d", size)
	}
	if size < minRetain-1 {
		t.Fatalf("ring buffer trimmed below minRetain: size=%d", size)
	}
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	bus := New("agt:1", &fakePersister{})
	sub := bus.Subscribe(ctx, nil, SubscribeOptions{})
	sub.Close()
	bus.EmitProgress(ctx, models.Event{Kind: models.EventTextChunk})

	select {
	case env, ok := <-sub.C:
		if ok {
			t.Fatalf("expected no delivery after close, got %+v", env)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
