package agent

import (
	"context"
	"log/slog"

	"github.com/relaykit/conductor/internal/queue"
	"github.com/relaykit/conductor/internal/scheduler"
	"github.com/relaykit/conductor/internal/todo"
	"github.com/relaykit/conductor/pkg/models"
)

// defaultSchedulerHeartbeatSteps is how often (in completed loop steps)
// the scheduler's default heartbeat trigger fires a scheduler_triggered
// monitor event, absent any caller-registered trigger.
const defaultSchedulerHeartbeatSteps = 10

// queueSender adapts *queue.Queue to todo.Sender so Manager.Remind can
// inject a reminder without depending on the queue package directly.
type queueSender struct{ q *queue.Queue }

func (s queueSender) Send(ctx context.Context, text string, kind string) error {
	_, err := s.q.Send(ctx, text, queue.SendOptions{Kind: queue.Kind(kind)})
	return err
}

// todoStepObserver is the small adapter loop.go's StepObserver doc
// comment calls for: it lets todo.Manager (which only knows how to
// Remind, not how to receive a step callback) participate in the same
// notifyStepObservers hook point scheduler.Scheduler satisfies
// directly.
type todoStepObserver struct {
	mgr    *todo.Manager
	sender todo.Sender
	bus    eventEmitter
}

// eventEmitter is the narrow *eventbus.Bus dependency todoStepObserver
// needs, kept local so this file doesn't widen its import surface.
type eventEmitter interface {
	EmitMonitor(ctx context.Context, e models.Event) models.Envelope
}

func (o *todoStepObserver) NotifyStep(ctx context.Context) {
	if !o.mgr.Pending() {
		return
	}
	if err := o.mgr.Remind(ctx, o.sender); err != nil {
		return
	}
	o.bus.EmitMonitor(ctx, models.Event{Kind: models.EventReminderSent})
}

// GetTodos returns the agent's current todo list (spec §6 agent.getTodos()).
func (a *Agent) GetTodos() []models.TodoItem {
	items := a.todoMgr.Items()
	out := make([]models.TodoItem, len(items))
	for i, it := range items {
		out[i] = *it
	}
	return out
}

// SetTodos replaces the agent's entire todo list (spec §6 agent.setTodos(...)).
func (a *Agent) SetTodos(ctx context.Context, items []models.TodoItem) error {
	ptrs := make([]*models.TodoItem, len(items))
	for i := range items {
		item := items[i]
		ptrs[i] = &item
	}
	return a.todoMgr.Set(ctx, ptrs)
}

// UpdateTodo transitions one todo item's status by id (spec §6 agent.updateTodo(...)).
func (a *Agent) UpdateTodo(ctx context.Context, id string, status models.TodoStatus) error {
	return a.todoMgr.UpdateStatus(ctx, id, status)
}

// DeleteTodo removes one todo item by id (spec §6 agent.deleteTodo(id)).
func (a *Agent) DeleteTodo(ctx context.Context, id string) error {
	return a.todoMgr.Delete(ctx, id)
}

// newScheduler builds the Scheduler every Agent carries, pre-registered
// with a default step-count heartbeat so a freshly created agent
// exercises the scheduler/monitor path even before any caller registers
// its own trigger.
func newScheduler(bus eventEmitter, logger *slog.Logger) *scheduler.Scheduler {
	s := scheduler.New(scheduler.WithLogger(logger))
	s.Register("heartbeat", 0, defaultSchedulerHeartbeatSteps, func(ctx context.Context, reason string) {
		bus.EmitMonitor(ctx, models.Event{
			Kind: models.EventSchedulerTriggered,
			Data: map[string]any{"trigger_id": "heartbeat", "reason": reason},
		})
	})
	return s
}
