// Package pool implements the AgentPool: agent lifecycle management
// (create/get/list/fork/resume/delete) bounded by maxAgents, plus
// graceful shutdown with SIGTERM/SIGINT handling.
//
// Grounded on the teacher's cmd/nexus main.go shutdown sequence
// (signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM) plus a
// bounded shutdownCtx, context.WithTimeout(context.Background(),
// 30*time.Second)) generalized from a single gateway process shutdown
// into a per-agent poll-then-interrupt drain loop.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relaykit/conductor/pkg/models"
)

// Agent is the narrow surface the pool needs from an agent: identity,
// current top-level state, and the ability to be interrupted.
type Agent interface {
	ID() string
	State() models.AgentState
	Interrupt(ctx context.Context, note string) error
}

// Factory creates, forks, and resumes agents. Concrete wiring
// (model provider, sandbox, store) lives with the agent package; the
// pool only orchestrates lifecycle.
type Factory interface {
	Create(ctx context.Context, agentID string, opts any) (Agent, error)
	Fork(ctx context.Context, sourceID, newID string) (Agent, error)
	Resume(ctx context.Context, agentID string) (Agent, error)
}

// PoolMetaStore persists the shutdown agent-id list so a crashed or
// stopped process can resume its agents on the next start.
type PoolMetaStore interface {
	SavePoolMeta(ctx context.Context, meta PoolMeta) error
	LoadPoolMeta(ctx context.Context) (PoolMeta, bool, error)
	ClearPoolMeta(ctx context.Context) error
	Delete(ctx context.Context, agentID string) error
}

// PoolMeta is the persisted record of a graceful shutdown.
type PoolMeta struct {
	AgentIDs  []string  `json:"agent_ids"`
	ShutdownAt time.Time `json:"shutdown_at"`
	Version   string    `json:"version"`
}

// Pool manages a bounded set of live agents.
type Pool struct {
	maxAgents int
	factory   Factory
	meta      PoolMetaStore
	logger    *slog.Logger

	mu     sync.Mutex
	agents map[string]Agent
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxAgents bounds the number of concurrently live agents. Zero
// means unbounded.
func WithMaxAgents(n int) Option {
	return func(p *Pool) { p.maxAgents = n }
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPoolMetaStore wires the shutdown/resume bookkeeping store.
func WithPoolMetaStore(s PoolMetaStore) Option {
	return func(p *Pool) { p.meta = s }
}

// New creates a Pool backed by factory.
func New(factory Factory, opts ...Option) *Pool {
	p := &Pool{
		factory: factory,
		logger:  slog.Default().With("component", "pool"),
		agents:  make(map[string]Agent),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var ErrPoolFull = fmt.Errorf("pool: maxAgents reached")

// Create creates a new agent, enforcing maxAgents.
func (p *Pool) Create(ctx context.Context, agentID string, opts any) (Agent, error) {
	p.mu.Lock()
	if p.maxAgents > 0 && len(p.agents) >= p.maxAgents {
		p.mu.Unlock()
		return nil, ErrPoolFull
	}
	p.mu.Unlock()

	agent, err := p.factory.Create(ctx, agentID, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.agents[agentID] = agent
	p.mu.Unlock()
	return agent, nil
}

// Get returns the live agent for id, if any.
func (p *Pool) Get(agentID string) (Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[agentID]
	return a, ok
}

// List returns all currently live agent ids.
func (p *Pool) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.agents))
	for id := range p.agents {
		out = append(out, id)
	}
	return out
}

// Size returns the number of currently live agents.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

// Fork creates newID as a copy of sourceID's state, enforcing maxAgents.
func (p *Pool) Fork(ctx context.Context, sourceID, newID string) (Agent, error) {
	p.mu.Lock()
	if p.maxAgents > 0 && len(p.agents) >= p.maxAgents {
		p.mu.Unlock()
		return nil, ErrPoolFull
	}
	p.mu.Unlock()

	agent, err := p.factory.Fork(ctx, sourceID, newID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.agents[newID] = agent
	p.mu.Unlock()
	return agent, nil
}

// Resume reattaches a previously persisted agent, enforcing maxAgents.
func (p *Pool) Resume(ctx context.Context, agentID string) (Agent, error) {
	p.mu.Lock()
	if p.maxAgents > 0 && len(p.agents) >= p.maxAgents {
		p.mu.Unlock()
		return nil, ErrPoolFull
	}
	p.mu.Unlock()

	agent, err := p.factory.Resume(ctx, agentID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.agents[agentID] = agent
	p.mu.Unlock()
	return agent, nil
}

// ResumeAll resumes every id in ids, subject to maxAgents; it stops
// resuming (without erroring) once the pool is full.
func (p *Pool) ResumeAll(ctx context.Context, ids []string) ([]Agent, error) {
	var resumed []Agent
	for _, id := range ids {
		if p.maxAgents > 0 && p.Size() >= p.maxAgents {
			break
		}
		agent, err := p.Resume(ctx, id)
		if err != nil {
			p.logger.Warn("resume failed during ResumeAll", "agent_id", id, "error", err)
			continue
		}
		resumed = append(resumed, agent)
	}
	return resumed, nil
}

// Delete removes agentID from the live pool and its persisted state.
func (p *Pool) Delete(ctx context.Context, agentID string) error {
	p.mu.Lock()
	delete(p.agents, agentID)
	p.mu.Unlock()

	if p.meta == nil {
		return nil
	}
	return p.meta.Delete(ctx, agentID)
}

// ShutdownOptions configures GracefulShutdown.
type ShutdownOptions struct {
	Timeout         time.Duration
	SaveRunningList bool
	ForceInterrupt  bool
}

func (o ShutdownOptions) withDefaults() ShutdownOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// ShutdownOutcome is what one agent's shutdown resolved to.
type ShutdownOutcome string

const (
	OutcomeCompleted  ShutdownOutcome = "completed"
	OutcomeInterrupted ShutdownOutcome = "interrupted"
	OutcomeFailed      ShutdownOutcome = "failed"
)

// ShutdownResult summarizes GracefulShutdown.
type ShutdownResult struct {
	Completed  int
	Interrupted int
	Failed      int
	DurationMs  int64
}

// GracefulShutdown partitions live agents by state, persists the
// non-working set immediately, and polls working agents for readiness
// up to opts.Timeout before force-interrupting them.
func (p *Pool) GracefulShutdown(ctx context.Context, opts ShutdownOptions) ShutdownResult {
	opts = opts.withDefaults()
	start := time.Now()

	p.mu.Lock()
	agents := make([]Agent, 0, len(p.agents))
	for _, a := range p.agents {
		agents = append(agents, a)
	}
	p.mu.Unlock()

	var working, idle []Agent
	for _, a := range agents {
		if a.State() == models.AgentStateWorking {
			working = append(working, a)
		} else {
			idle = append(idle, a)
		}
	}

	var result ShutdownResult
	result.Completed += len(idle)

	deadline := time.Now().Add(opts.Timeout)
	for _, a := range working {
		outcome := p.drainAgent(ctx, a, deadline, opts.ForceInterrupt)
		switch outcome {
		case OutcomeCompleted:
			result.Completed++
		case OutcomeInterrupted:
			result.Interrupted++
		case OutcomeFailed:
			result.Failed++
		}
	}

	if opts.SaveRunningList && p.meta != nil {
		ids := make([]string, 0, len(agents))
		for _, a := range agents {
			ids = append(ids, a.ID())
		}
		meta := PoolMeta{AgentIDs: ids, ShutdownAt: time.Now(), Version: "1"}
		if err := p.meta.SavePoolMeta(ctx, meta); err != nil {
			p.logger.Warn("failed to save pool meta on shutdown", "error", err)
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func (p *Pool) drainAgent(ctx context.Context, a Agent, deadline time.Time, forceInterrupt bool) ShutdownOutcome {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if a.State() != models.AgentStateWorking {
			return OutcomeCompleted
		}
		select {
		case <-ctx.Done():
			return OutcomeFailed
		case <-ticker.C:
		}
	}

	if !forceInterrupt {
		return OutcomeFailed
	}
	if err := a.Interrupt(ctx, "Graceful shutdown timeout"); err != nil {
		p.logger.Warn("interrupt on shutdown failed", "agent_id", a.ID(), "error", err)
		return OutcomeFailed
	}
	return OutcomeInterrupted
}

// ResumeFromShutdown reads the persisted pool-meta list, resumes each
// id (subject to maxAgents), and clears the pool-meta record.
func (p *Pool) ResumeFromShutdown(ctx context.Context) ([]Agent, error) {
	if p.meta == nil {
		return nil, nil
	}
	meta, ok, err := p.meta.LoadPoolMeta(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	resumed, err := p.ResumeAll(ctx, meta.AgentIDs)
	if err != nil {
		return resumed, err
	}
	if err := p.meta.ClearPoolMeta(ctx); err != nil {
		p.logger.Warn("failed to clear pool meta after resume", "error", err)
	}
	return resumed, nil
}

// RegisterShutdownHandlers returns a context that is cancelled on
// SIGTERM/SIGINT, and a cancel func the caller must defer.
func RegisterShutdownHandlers(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
