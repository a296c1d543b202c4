// Package runtime wires internal/agent, internal/pool, internal/sandbox,
// and internal/store together into a pool.Factory a process entry point
// can hand to pool.New. It owns no control-loop logic of its own.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaykit/conductor/internal/agent"
	"github.com/relaykit/conductor/internal/pool"
	"github.com/relaykit/conductor/internal/sandbox"
	"github.com/relaykit/conductor/internal/store"
)

// AgentFactory implements pool.Factory by constructing agent.Agent
// instances against a shared store, sandbox, provider, and tool set.
type AgentFactory struct {
	Store    store.Store
	Sandbox  sandbox.Sandbox
	Provider agent.Provider
	Tools    []agent.ToolDescriptor
	Logger   *slog.Logger
	Config   agent.Config
}

func (f *AgentFactory) deps() agent.Deps {
	return agent.Deps{
		Store:    f.Store,
		Sandbox:  f.Sandbox,
		Provider: f.Provider,
		Tools:    f.Tools,
		Logger:   f.Logger,
	}
}

// Create builds a brand-new agent. agentID is ignored; agent.Create
// mints its own ID via idgen (spec §4.6).
func (f *AgentFactory) Create(ctx context.Context, agentID string, opts any) (pool.Agent, error) {
	cfg := f.Config
	if override, ok := opts.(agent.Config); ok {
		cfg = override
	}
	a, err := agent.Create(ctx, cfg, f.deps())
	if err != nil {
		return nil, fmt.Errorf("runtime: create agent: %w", err)
	}
	return a, nil
}

// Fork resumes sourceID from the store and forks a new agent from its
// latest fence point (spec §3 "Ownership"). newID is informational only;
// the forked agent mints its own ID via idgen.
func (f *AgentFactory) Fork(ctx context.Context, sourceID, newID string) (pool.Agent, error) {
	source, err := agent.Resume(ctx, sourceID, f.Config, f.deps(), agent.ResumeOptions{})
	if err != nil {
		return nil, fmt.Errorf("runtime: load fork source %s: %w", sourceID, err)
	}
	forked, err := source.Fork(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("runtime: fork %s: %w", sourceID, err)
	}
	return forked, nil
}

// Resume rehydrates agentID from the store, sealing any tool calls left
// unanswered by a crash.
func (f *AgentFactory) Resume(ctx context.Context, agentID string) (pool.Agent, error) {
	a, err := agent.Resume(ctx, agentID, f.Config, f.deps(), agent.ResumeOptions{
		Strategy: agent.ResumeCrash,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: resume agent %s: %w", agentID, err)
	}
	return a, nil
}
