package todo

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/relaykit/conductor/pkg/models"
)

type fakePersister struct {
	mu    sync.Mutex
	saved []models.TodoItem
}

func (f *fakePersister) SaveTodos(ctx context.Context, agentID string, items []models.TodoItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append([]models.TodoItem(nil), items...)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	kind []string
}

func (f *fakeSender) Send(ctx context.Context, text string, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.kind = append(f.kind, kind)
	return nil
}

func TestManager_SetAssignsIDsAndDefaultStatus(t *testing.T) {
	m := New("agt:1", &fakePersister{}, nil)
	err := m.Set(context.Background(), []*models.TodoItem{
		{Title: "first"},
		{Title: "second", Status: models.TodoInProgress},
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	items := m.Items()
	if items[0].ID == "" || items[1].ID == "" {
		t.Fatal("expected IDs to be assigned")
	}
	if items[0].Status != models.TodoPending {
		t.Fatalf("expected default status pending, got %v", items[0].Status)
	}
	if items[1].Status != models.TodoInProgress {
		t.Fatalf("expected explicit status preserved, got %v", items[1].Status)
	}
}

func TestManager_UpdateStatusTransitionsItem(t *testing.T) {
	m := New("agt:1", &fakePersister{}, nil)
	_ = m.Set(context.Background(), []*models.TodoItem{{ID: "t1", Title: "a"}})
	if err := m.UpdateStatus(context.Background(), "t1", models.TodoCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if m.Items()[0].Status != models.TodoCompleted {
		t.Fatal("expected status updated to completed")
	}
}

func TestManager_UpdateStatusUnknownIDErrors(t *testing.T) {
	m := New("agt:1", &fakePersister{}, nil)
	if err := m.UpdateStatus(context.Background(), "missing", models.TodoCompleted); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestManager_DeleteRemovesItem(t *testing.T) {
	m := New("agt:1", &fakePersister{}, nil)
	_ = m.Set(context.Background(), []*models.TodoItem{
		{ID: "t1", Title: "a"},
		{ID: "t2", Title: "b"},
	})
	if err := m.Delete(context.Background(), "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	items := m.Items()
	if len(items) != 1 || items[0].ID != "t2" {
		t.Fatalf("expected only t2 to remain, got %v", items)
	}
}

func TestManager_DeleteUnknownIDErrors(t *testing.T) {
	m := New("agt:1", &fakePersister{}, nil)
	if err := m.Delete(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestManager_PendingReflectsOpenItems(t *testing.T) {
	m := New("agt:1", &fakePersister{}, nil)
	_ = m.Set(context.Background(), []*models.TodoItem{{ID: "t1", Title: "a", Status: models.TodoCompleted}})
	if m.Pending() {
		t.Fatal("expected Pending()=false when all items completed")
	}
	_ = m.Set(context.Background(), []*models.TodoItem{{ID: "t1", Title: "a", Status: models.TodoPending}})
	if !m.Pending() {
		t.Fatal("expected Pending()=true with an open item")
	}
}

func TestManager_RemindSkipsWhenNoOpenItems(t *testing.T) {
	m := New("agt:1", &fakePersister{}, nil)
	sender := &fakeSender{}
	if err := m.Remind(context.Background(), sender); err != nil {
		t.Fatalf("Remind: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no reminder sent with empty list, got %v", sender.sent)
	}
}

func TestManager_RemindListsOpenItems(t *testing.T) {
	m := New("agt:1", &fakePersister{}, nil)
	_ = m.Set(context.Background(), []*models.TodoItem{
		{ID: "t1", Title: "write tests", Status: models.TodoPending},
		{ID: "t2", Title: "done already", Status: models.TodoCompleted},
	})
	sender := &fakeSender{}
	if err := m.Remind(context.Background(), sender); err != nil {
		t.Fatalf("Remind: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "write tests") {
		t.Fatalf("reminder missing open item: %q", sender.sent[0])
	}
	if strings.Contains(sender.sent[0], "done already") {
		t.Fatalf("reminder should not list completed items: %q", sender.sent[0])
	}
	if sender.kind[0] != "reminder" {
		t.Fatalf("kind = %q, want reminder", sender.kind[0])
	}
}
