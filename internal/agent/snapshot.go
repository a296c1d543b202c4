package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/relaykit/conductor/internal/idgen"
	"github.com/relaykit/conductor/pkg/models"
)

// Snapshot captures the agent's current message history at a safe
// fence point (spec §3 Snapshot / §4.6 "safe fence point") and persists
// it, so Fork or a future restore can rebuild from exactly this point.
func (a *Agent) Snapshot(ctx context.Context, label string) (*models.Snapshot, error) {
	a.mu.Lock()
	sfpIndex := a.lastSfpIndex
	bookmark := a.lastBookmark
	a.mu.Unlock()

	messages := a.msgQueue.Messages()
	snap := &models.Snapshot{
		ID:           idgen.SnapshotID(sfpIndex),
		Messages:     cloneMessages(messages),
		LastSfpIndex: sfpIndex,
		LastBookmark: bookmark,
		CreatedAt:    time.Now(),
	}
	if label != "" {
		snap.Metadata = map[string]any{"label": label}
	}

	if a.store != nil {
		if err := a.store.SaveSnapshot(ctx, a.id, snap); err != nil {
			return nil, fmt.Errorf("agent: save snapshot: %w", err)
		}
	}
	return snap, nil
}

// Fork loads the named snapshot (the empty string means the latest
// fence point) and spawns a new, independent Agent seeded from its
// messages, recording the parent in its lineage (spec §3 "Ownership":
// a fork owns its own copy of everything it inherits).
func (a *Agent) Fork(ctx context.Context, snapshotID string) (*Agent, error) {
	if a.store == nil {
		return nil, fmt.Errorf("agent: fork requires a store")
	}

	var snap *models.Snapshot
	var err error
	if snapshotID == "" {
		snap, err = a.Snapshot(ctx, "fork-base")
	} else {
		snap, err = a.store.LoadSnapshot(ctx, a.id, snapshotID)
	}
	if err != nil {
		return nil, fmt.Errorf("agent: fork: load snapshot: %w", err)
	}

	childID := idgen.ForkID(a.id, time.Now().Unix())
	deps := Deps{Store: a.store, Sandbox: a.sandbox, Provider: a.provider, Tools: a.toolDescriptors(), Logger: a.logger}
	child := New(childID, a.cfg, deps, cloneMessages(snap.Messages), a.GetTodos())

	a.mu.Lock()
	child.lineage = append(append([]string(nil), a.lineage...), a.id)
	child.configVersion = a.configVersion
	a.mu.Unlock()
	child.createdAt = time.Now()
	child.lastSfpIndex = snap.LastSfpIndex
	child.lastBookmark = snap.LastBookmark

	if err := deps.Store.SaveInfo(ctx, childID, child.buildMetadata()); err != nil {
		return nil, fmt.Errorf("agent: fork: save info: %w", err)
	}
	return child, nil
}

func cloneMessages(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}
