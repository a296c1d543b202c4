package agent

import (
	"context"

	"github.com/relaykit/conductor/pkg/models"
)

// Interrupt implements pool.Agent: it stops the current step at its
// next safe checkpoint, clears any tool calls still queued for a
// runner permit, seals whatever tool calls were left mid-flight, and
// returns the agent to READY.
//
// Grounded on the teacher's steering.go SteeringQueue (a queued signal
// consumed at the next loop checkpoint rather than a hard preemption),
// adapted here to spec's synchronous interrupt(note) contract.
func (a *Agent) Interrupt(ctx context.Context, note string) error {
	a.mu.Lock()
	a.interruptRequested = true
	a.mu.Unlock()

	cleared := a.toolRunner.Clear()
	sealed := a.sealUnanswered(ctx, note)

	a.setState(ctx, models.AgentStateReady)
	a.breakpoints.Set(ctx, models.BreakpointReady, note)

	a.bus.EmitMonitor(ctx, models.Event{
		Kind: models.EventAgentResumed,
		Data: map[string]any{"reason": "interrupted", "note": note, "cleared_pending": cleared, "sealed": sealed},
	})
	return a.persistMeta(ctx)
}
