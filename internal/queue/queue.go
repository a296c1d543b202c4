// Package queue implements the MessageQueue: serializes user and
// reminder ingestion into the agent's message history and triggers
// processing.
//
// Grounded on the teacher's session message-append discipline
// (internal/sessions' AppendMessage plus trimming convention,
// generalized here from a fixed per-session cap into an append-and-
// notify queue) and internal/store.MemStore's message persistence path.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/relaykit/conductor/pkg/models"
)

// Kind distinguishes an ordinary user turn from a system-injected
// reminder.
type Kind string

const (
	KindUser     Kind = "user"
	KindReminder Kind = "reminder"
)

// SendOptions configures one Send call.
type SendOptions struct {
	Kind Kind
	// Reminder, when Kind is KindReminder, is wrapped in
	// <system-reminder>...</system-reminder> unless SkipStandardEnding
	// is set.
	SkipStandardEnding bool
}

// Persister is the narrow store dependency the queue needs: append a
// message and trigger the agent's processing loop.
type Persister interface {
	SaveMessages(ctx context.Context, agentID string, messages []*models.Message) error
}

// EnsureProcessing is invoked after every successful Send to (re)start
// the agent's run loop if it isn't already running.
type EnsureProcessing func(ctx context.Context)

// Queue serializes message ingestion for one agent. Sends are
// processed strictly in call order; flush is a no-op placeholder for
// future batching, per spec §4.5.
type Queue struct {
	agentID string
	store   Persister
	ensure  EnsureProcessing

	mu       sync.Mutex
	messages []*models.Message
}

// New creates a queue for agentID, seeded with any messages already
// loaded from the store.
func New(agentID string, store Persister, ensure EnsureProcessing, existing []*models.Message) *Queue {
	return &Queue{agentID: agentID, store: store, ensure: ensure, messages: existing}
}

// Send appends a user or reminder message and returns its message ID.
// Reminders are wrapped in <system-reminder> tags unless
// SkipStandardEnding is set.
func (q *Queue) Send(ctx context.Context, text string, opts SendOptions) (string, error) {
	if opts.Kind == KindReminder && !opts.SkipStandardEnding {
		text = fmt.Sprintf("<system-reminder>%s</system-reminder>", text)
	}

	msg := &models.Message{
		ID:   "msg_" + uuid.NewString(),
		Role: models.RoleUser,
		Content: []models.ContentBlock{
			{Type: models.BlockText, Text: text},
		},
	}

	q.mu.Lock()
	q.messages = append(q.messages, msg)
	snapshot := append([]*models.Message(nil), q.messages...)
	q.mu.Unlock()

	if q.store != nil {
		if err := q.store.SaveMessages(ctx, q.agentID, snapshot); err != nil {
			return "", err
		}
	}

	if q.ensure != nil {
		q.ensure(ctx)
	}
	return msg.ID, nil
}

// Flush is a documented no-op: messages are persisted as they're
// appended, so Flush exists only so callers can batch-send without
// branching on whether batching is actually implemented yet.
func (q *Queue) Flush(ctx context.Context) error { return nil }

// Messages returns a copy of the queue's current message history in
// insertion order.
func (q *Queue) Messages() []*models.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*models.Message(nil), q.messages...)
}

// AppendAssistant appends an assistant-authored message (produced by
// the agent loop, not through Send) and persists it.
func (q *Queue) AppendAssistant(ctx context.Context, msg *models.Message) error {
	q.mu.Lock()
	q.messages = append(q.messages, msg)
	snapshot := append([]*models.Message(nil), q.messages...)
	q.mu.Unlock()

	if q.store == nil {
		return nil
	}
	return q.store.SaveMessages(ctx, q.agentID, snapshot)
}
