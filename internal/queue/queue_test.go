package queue

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/relaykit/conductor/pkg/models"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []*models.Message
}

func (f *fakeStore) SaveMessages(ctx context.Context, agentID string, messages []*models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append([]*models.Message(nil), messages...)
	return nil
}

func TestQueue_SendWrapsReminderInSystemReminderTags(t *testing.T) {
	store := &fakeStore{}
	q := New("agt:1", store, nil, nil)
	_, err := q.Send(context.Background(), "re-read the file", SendOptions{Kind: KindReminder})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := q.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0].Content[0].Text
	if !strings.HasPrefix(got, "<system-reminder>") || !strings.HasSuffix(got, "</system-reminder>") {
		t.Fatalf("reminder not wrapped: %q", got)
	}
}

func TestQueue_SendSkipsWrappingWhenRequested(t *testing.T) {
	q := New("agt:1", &fakeStore{}, nil, nil)
	_, err := q.Send(context.Background(), "raw text", SendOptions{Kind: KindReminder, SkipStandardEnding: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := q.Messages()[0].Content[0].Text; got != "raw text" {
		t.Fatalf("expected unwrapped text, got %q", got)
	}
}

func TestQueue_SendPreservesInsertionOrder(t *testing.T) {
	q := New("agt:1", &fakeStore{}, nil, nil)
	for _, text := range []string{"first", "second", "third"} {
		if _, err := q.Send(context.Background(), text, SendOptions{Kind: KindUser}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	msgs := q.Messages()
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content[0].Text != want {
			t.Fatalf("message %d = %q, want %q", i, msgs[i].Content[0].Text, want)
		}
	}
}

func TestQueue_EnsureProcessingCalledOnSend(t *testing.T) {
	called := 0
	q := New("agt:1", &fakeStore{}, func(ctx context.Context) { called++ }, nil)
	if _, err := q.Send(context.Background(), "hi", SendOptions{Kind: KindUser}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if called != 1 {
		t.Fatalf("expected ensureProcessing called once, got %d", called)
	}
}

func TestQueue_FlushIsNoop(t *testing.T) {
	q := New("agt:1", &fakeStore{}, nil, nil)
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
