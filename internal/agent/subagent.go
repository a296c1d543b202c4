package agent

import (
	"context"
	"fmt"

	"github.com/relaykit/conductor/internal/eventbus"
	"github.com/relaykit/conductor/pkg/models"
)

// SpawnSubAgent creates a child Agent bounded by depthRemaining (spec
// §4.6 "spawnSubAgent / delegateTask"). When inheritConfig is false the
// child gets depth 0 regardless of the parent's remaining budget (spec
// §9: "inheritConfig=false means no further recursion"), so a
// non-inheriting child can never spawn grandchildren.
func (a *Agent) SpawnSubAgent(ctx context.Context, task string, inheritConfig bool, depthRemaining int) (*Agent, error) {
	if depthRemaining <= 0 {
		return nil, fmt.Errorf("agent: sub-agent depth exhausted")
	}

	childCfg := a.cfg
	if inheritConfig {
		childCfg.MaxSubAgentDepth = depthRemaining - 1
	} else {
		childCfg.MaxSubAgentDepth = 0
	}

	deps := Deps{Store: a.store, Sandbox: a.sandbox, Provider: a.provider, Tools: a.toolDescriptors(), Logger: a.logger}
	child, err := Create(ctx, childCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("agent: spawn sub-agent: %w", err)
	}

	a.mu.Lock()
	child.lineage = append(append([]string(nil), a.lineage...), a.id)
	a.mu.Unlock()
	if err := child.persistMeta(ctx); err != nil {
		return nil, fmt.Errorf("agent: spawn sub-agent: persist lineage: %w", err)
	}

	if task != "" {
		if _, err := child.Send(ctx, task); err != nil {
			return nil, fmt.Errorf("agent: spawn sub-agent: send task: %w", err)
		}
	}
	return child, nil
}

// DelegateTask spawns a bounded-depth sub-agent, runs task to
// completion, and returns the sub-agent's final assistant text. The
// sub-agent is not added to any pool; its lifecycle is owned entirely
// by this call.
func (a *Agent) DelegateTask(ctx context.Context, task string, inheritConfig bool, depthRemaining int) (string, error) {
	child, err := a.SpawnSubAgent(ctx, task, inheritConfig, depthRemaining)
	if err != nil {
		return "", err
	}

	sub := child.Bus().SubscribeProgress(ctx, eventbus.SubscribeOptions{Kinds: []models.EventKind{models.EventDone}})
	defer sub.Close()

	select {
	case <-sub.C:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	messages := child.msgQueue.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return messages[i].TextOnly(), nil
		}
	}
	return "", nil
}
