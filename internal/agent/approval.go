package agent

import (
	"context"
	"fmt"

	"github.com/relaykit/conductor/pkg/models"
)

// awaitApproval parks record awaiting a human (or policy-delegate)
// decision (spec §4.7 step 6): transitions it to APPROVAL_REQUIRED,
// flips the agent to PAUSED/AWAITING_APPROVAL, emits a control-channel
// permission_required event carrying the id a caller passes back to
// Decide, and blocks until Decide resolves it or ctx is cancelled.
func (a *Agent) awaitApproval(ctx context.Context, record *models.ToolCallRecord) (allow bool, note string) {
	record.Transition(models.ToolStateApprovalRequired, "")

	pending := &pendingApproval{resultCh: make(chan approvalDecision, 1)}
	a.approvalMu.Lock()
	a.approvals[record.ID] = pending
	a.approvalMu.Unlock()

	a.setState(ctx, models.AgentStatePaused)
	a.breakpoints.Set(ctx, models.BreakpointAwaitingApproval, "")
	a.bus.EmitControl(ctx, models.Event{
		Kind: models.EventPermissionRequired,
		Data: map[string]any{"permission_id": record.ID, "tool_name": record.Name, "input": record.Input},
	})

	select {
	case decision := <-pending.resultCh:
		a.setState(ctx, models.AgentStateWorking)
		a.bus.EmitControl(ctx, models.Event{
			Kind: models.EventPermissionDecided,
			Data: map[string]any{"permission_id": record.ID, "allow": decision.allow, "note": decision.note},
		})
		return decision.allow, decision.note
	case <-ctx.Done():
		a.clearApproval(record.ID)
		return false, "context cancelled while awaiting approval"
	}
}

// Decide resolves a pending approval registered by awaitApproval.
// Unknown permission ids are reported as an error rather than silently
// ignored, since a caller resolving the wrong id is almost always a bug.
func (a *Agent) Decide(ctx context.Context, permissionID string, allow bool, note string) error {
	a.approvalMu.Lock()
	pending, ok := a.approvals[permissionID]
	if ok {
		delete(a.approvals, permissionID)
	}
	a.approvalMu.Unlock()
	if !ok {
		return fmt.Errorf("agent: no pending approval for id %q", permissionID)
	}

	select {
	case pending.resultCh <- approvalDecision{allow: allow, note: note}:
	default:
	}
	return nil
}

func (a *Agent) clearApproval(permissionID string) {
	a.approvalMu.Lock()
	delete(a.approvals, permissionID)
	a.approvalMu.Unlock()
}
