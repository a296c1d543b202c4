package room

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeSender struct {
	mu  sync.Mutex
	got map[string][]string
	err error
}

func newFakeSender() *fakeSender { return &fakeSender{got: make(map[string][]string)} }

func (f *fakeSender) Send(ctx context.Context, agentID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got[agentID] = append(f.got[agentID], text)
	return nil
}

func TestRoom_SayForwardsToMentionedRoles(t *testing.T) {
	sender := newFakeSender()
	r := New(sender)
	r.Bind("researcher", "agt:researcher")
	r.Bind("writer", "agt:writer")

	delivered, err := r.Say(context.Background(), "coordinator", "@researcher please look into this, cc @writer")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	if len(delivered) != 2 {
		t.Fatalf("delivered = %v, want 2 roles", delivered)
	}
	if len(sender.got["agt:researcher"]) != 1 || len(sender.got["agt:writer"]) != 1 {
		t.Fatalf("unexpected delivery map: %v", sender.got)
	}
}

func TestRoom_SaySkipsSelfMention(t *testing.T) {
	sender := newFakeSender()
	r := New(sender)
	r.Bind("coordinator", "agt:coordinator")
	r.Bind("writer", "agt:writer")

	delivered, err := r.Say(context.Background(), "coordinator", "@coordinator noting this, @writer go ahead")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != "writer" {
		t.Fatalf("delivered = %v, want only writer", delivered)
	}
}

func TestRoom_SayIgnoresUnboundMentions(t *testing.T) {
	sender := newFakeSender()
	r := New(sender)
	r.Bind("writer", "agt:writer")

	delivered, err := r.Say(context.Background(), "coordinator", "@ghost are you there? @writer yes")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != "writer" {
		t.Fatalf("delivered = %v, want only writer", delivered)
	}
}

func TestRoom_SayDedupesRepeatedMentions(t *testing.T) {
	sender := newFakeSender()
	r := New(sender)
	r.Bind("writer", "agt:writer")

	delivered, err := r.Say(context.Background(), "coordinator", "@writer hi @writer again")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("delivered = %v, want 1 (deduped)", delivered)
	}
	if len(sender.got["agt:writer"]) != 1 {
		t.Fatalf("expected exactly 1 send, got %d", len(sender.got["agt:writer"]))
	}
}

func TestRoom_SayNoMentionsIsNoop(t *testing.T) {
	r := New(newFakeSender())
	delivered, err := r.Say(context.Background(), "coordinator", "no mentions here")
	if err != nil || delivered != nil {
		t.Fatalf("expected nil/nil, got %v, %v", delivered, err)
	}
}

func TestRoom_SayPropagatesSenderError(t *testing.T) {
	sender := newFakeSender()
	sender.err = errors.New("delivery failed")
	r := New(sender)
	r.Bind("writer", "agt:writer")

	_, err := r.Say(context.Background(), "coordinator", "@writer hello")
	if err == nil {
		t.Fatal("expected error propagated from sender")
	}
}
