// Package todo implements the TodoService: a per-agent persistent
// ordered task list with periodic reminder injection.
//
// Grounded on the teacher's internal/tasks package (ScheduledTask/
// TaskStatus lifecycle enums, execution status tracking) generalized
// from cron-scheduled agent tasks into the spec's lighter-weight
// in-conversation todo list, paired with a step-count-driven nudge
// modeled on internal/tasks/scheduler.go's periodic execution loop.
package todo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/relaykit/conductor/pkg/models"
)

// Sender is the narrow MessageQueue dependency: send a reminder.
type Sender interface {
	Send(ctx context.Context, text string, kind string) error
}

// Persister saves the current todo list. Matches store.Store's
// SaveTodos signature directly so a Store can be passed in unadapted.
type Persister interface {
	SaveTodos(ctx context.Context, agentID string, items []models.TodoItem) error
}

func toValueSlice(items []*models.TodoItem) []models.TodoItem {
	out := make([]models.TodoItem, len(items))
	for i, it := range items {
		out[i] = *it
	}
	return out
}

// Manager tracks one agent's todo list and periodically reminds the
// model of open items.
type Manager struct {
	agentID string
	store   Persister

	mu      sync.Mutex
	items   []*models.TodoItem
	nextSeq int
}

// New creates a Manager, seeded with any items already loaded from the
// store (matching store.Store's LoadTodos return shape).
func New(agentID string, store Persister, existing []models.TodoItem) *Manager {
	items := make([]*models.TodoItem, len(existing))
	for i := range existing {
		item := existing[i]
		items[i] = &item
	}
	return &Manager{agentID: agentID, store: store, items: items}
}

// Set replaces the entire todo list atomically, mirroring how the model
// rewrites its task list wholesale on each planning turn.
func (m *Manager) Set(ctx context.Context, items []*models.TodoItem) error {
	for i, it := range items {
		if it.ID == "" {
			it.ID = fmt.Sprintf("todo_%s_%d", m.agentID, i)
		}
		if it.Status == "" {
			it.Status = models.TodoPending
		}
	}

	m.mu.Lock()
	m.items = items
	snapshot := append([]*models.TodoItem(nil), m.items...)
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.SaveTodos(ctx, m.agentID, toValueSlice(snapshot))
}

// UpdateStatus transitions a single item's status by id.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status models.TodoStatus) error {
	m.mu.Lock()
	var found bool
	for _, it := range m.items {
		if it.ID == id {
			it.Status = status
			found = true
			break
		}
	}
	snapshot := append([]*models.TodoItem(nil), m.items...)
	m.mu.Unlock()

	if !found {
		return fmt.Errorf("todo: item %q not found", id)
	}
	if m.store == nil {
		return nil
	}
	return m.store.SaveTodos(ctx, m.agentID, toValueSlice(snapshot))
}

// Delete removes a single item by id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	var found bool
	items := m.items[:0:0]
	for _, it := range m.items {
		if it.ID == id {
			found = true
			continue
		}
		items = append(items, it)
	}
	if found {
		m.items = items
	}
	snapshot := append([]*models.TodoItem(nil), m.items...)
	m.mu.Unlock()

	if !found {
		return fmt.Errorf("todo: item %q not found", id)
	}
	if m.store == nil {
		return nil
	}
	return m.store.SaveTodos(ctx, m.agentID, toValueSlice(snapshot))
}

// Items returns a copy of the current list.
func (m *Manager) Items() []*models.TodoItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.TodoItem(nil), m.items...)
}

// Pending reports whether any item is not yet completed.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.Status != models.TodoCompleted {
			return true
		}
	}
	return false
}

// Remind sends a reminder summarizing open items via sender, wrapped in
// <system-reminder> tags by the queue itself (Sender.Send's "reminder"
// kind). A no-op when there are no open items.
func (m *Manager) Remind(ctx context.Context, sender Sender) error {
	if sender == nil {
		return nil
	}
	m.mu.Lock()
	var open []*models.TodoItem
	for _, it := range m.items {
		if it.Status != models.TodoCompleted {
			open = append(open, it)
		}
	}
	m.mu.Unlock()

	if len(open) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("You have open todo items:\n")
	for _, it := range open {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", it.ID, it.Title, it.Status)
	}
	return sender.Send(ctx, b.String(), "reminder")
}
