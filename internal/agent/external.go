package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaykit/conductor/internal/eventbus"
	"github.com/relaykit/conductor/internal/queue"
	"github.com/relaykit/conductor/pkg/models"
)

// ChatOptions configures a Chat call; it forwards straight to the
// underlying Send (spec §6 agent.send's {kind, reminder}).
type ChatOptions struct {
	Kind               queue.Kind
	SkipStandardEnding bool
}

// ChatResult is agent.chat's return shape (spec §6): status is "ok" once
// the step reaches done, or "paused" if a tool call hit an approval gate
// before then, in which case PermissionIDs carries what the caller must
// resolve via Decide before the turn can finish.
type ChatResult struct {
	Status        string
	Text          string
	Last          models.Bookmark
	PermissionIDs []string
}

// Chat sends text and blocks until the resulting step either completes
// (status "ok") or pauses on a pending approval (status "paused"), per
// spec §7 failure mode 2: "chat returns status:'paused' with the set of
// pending permission ids; the caller invokes decide on each." It must
// not wait for done once an approval is pending, since done does not
// fire until Decide resolves it (see awaitApproval).
func (a *Agent) Chat(ctx context.Context, text string, opts ChatOptions) (*ChatResult, error) {
	sub := a.bus.Subscribe(ctx, []models.Channel{models.ChannelProgress, models.ChannelControl}, eventbus.SubscribeOptions{})
	defer sub.Close()

	kind := opts.Kind
	if kind == "" {
		kind = queue.KindUser
	}
	if _, err := a.msgQueue.Send(ctx, text, queue.SendOptions{Kind: kind, SkipStandardEnding: opts.SkipStandardEnding}); err != nil {
		return nil, fmt.Errorf("agent: chat: send: %w", err)
	}

	var reply strings.Builder
	var last models.Bookmark
	for {
		select {
		case env, ok := <-sub.C:
			if !ok {
				return &ChatResult{Status: "ok", Text: reply.String(), Last: last}, nil
			}
			last = env.Bookmark
			switch env.Event.Kind {
			case models.EventTextChunk:
				if delta, ok := env.Event.Data["text"].(string); ok {
					reply.WriteString(delta)
				}
			case models.EventPermissionRequired:
				ids := drainPermissionIDs(sub, env, &last)
				return &ChatResult{Status: "paused", Text: reply.String(), Last: last, PermissionIDs: ids}, nil
			case models.EventDone:
				return &ChatResult{Status: "ok", Text: reply.String(), Last: last}, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// drainPermissionIDs collects first's permission id plus any further
// permission_required events already queued on sub without blocking, so
// a turn whose tool calls triggered several concurrent approvals (spec
// §4.7 "Concurrent tool calls") reports all of them rather than just the
// one that happened to arrive first.
func drainPermissionIDs(sub *eventbus.Subscription, first models.Envelope, last *models.Bookmark) []string {
	var ids []string
	if id, ok := first.Event.Data["permission_id"].(string); ok {
		ids = append(ids, id)
	}
	for {
		select {
		case env, ok := <-sub.C:
			if !ok {
				return ids
			}
			*last = env.Bookmark
			if env.Event.Kind == models.EventPermissionRequired {
				if id, ok := env.Event.Data["permission_id"].(string); ok {
					ids = append(ids, id)
				}
			}
		default:
			return ids
		}
	}
}

// Stream sends text and returns the progress envelopes it produces,
// closing the channel once a done event has been delivered (spec §6
// "agent.stream(text, opts) → async sequence of ProgressEnvelope
// terminating at event.type='done'").
func (a *Agent) Stream(ctx context.Context, text string) (<-chan models.Envelope, error) {
	sub := a.bus.Subscribe(ctx, []models.Channel{models.ChannelProgress}, eventbus.SubscribeOptions{})

	if _, err := a.msgQueue.Send(ctx, text, queue.SendOptions{Kind: queue.KindUser}); err != nil {
		sub.Close()
		return nil, fmt.Errorf("agent: stream: send: %w", err)
	}

	out := make(chan models.Envelope)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case env, ok := <-sub.C:
				if !ok {
					return
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
				if env.Event.Kind == models.EventDone {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Status is agent.status()'s return shape (spec §6).
type Status struct {
	AgentID      string
	State        models.AgentState
	StepCount    int
	LastSfpIndex int
	LastBookmark models.Bookmark
	Cursor       uint64
	Breakpoint   models.BreakpointState
}

// Status reports the agent's current position in the control loop.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		AgentID:      a.id,
		State:        a.state,
		StepCount:    a.stepCount,
		LastSfpIndex: a.lastSfpIndex,
		LastBookmark: a.lastBookmark,
		Cursor:       a.bus.Cursor(),
		Breakpoint:   a.breakpoints.Current(),
	}
}

// Info returns the agent's AgentInfo (spec §6 agent.info()): the same
// persisted sidecar buildMetadata assembles for the store, exported so a
// caller outside this package can read it without reaching into
// internals.
func (a *Agent) Info() *models.AgentMetadata {
	return a.buildMetadata()
}
