// Package hooks implements the lifecycle hook pipeline: ordered lists
// of functions per phase (pre-model, post-model, pre-tool, post-tool,
// messages-changed) where the first definitive decision wins.
//
// Grounded on the teacher's internal/hooks registry (priority-ordered
// registration, sorted on insert) generalized from a generic pub/sub
// event bus into the spec's narrower phase pipeline returning a tagged
// Option<Decision>.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/relaykit/conductor/pkg/models"
)

// Phase names a point in the agent loop where hooks run.
type Phase string

const (
	PhasePreModel        Phase = "pre_model"
	PhasePostModel       Phase = "post_model"
	PhasePreToolUse       Phase = "pre_tool_use"
	PhasePostToolUse      Phase = "post_tool_use"
	PhaseMessagesChanged Phase = "messages_changed"
)

// DecisionKind tags what a hook decided, modeling the spec's tagged
// union: {decision:'ask', meta}, {decision:'deny', reason, toolResult?},
// {result} (short-circuit to COMPLETED), or undefined (continue).
type DecisionKind string

const (
	DecisionAsk      DecisionKind = "ask"
	DecisionDeny     DecisionKind = "deny"
	DecisionResult   DecisionKind = "result"
	DecisionContinue DecisionKind = "" // zero value: hook abstained
)

// Decision is the value a hook returns. A zero Decision (Kind =="")
// means the hook did not produce a definitive verdict and the pipeline
// continues to the next hook.
type Decision struct {
	Kind DecisionKind

	// Meta accompanies an "ask" decision (approval UI hints).
	Meta map[string]any

	// Reason accompanies a "deny" decision.
	Reason string

	// ToolResult optionally supplies the denied call's synthetic result
	// (an is_error tool_result shown to the model).
	ToolResult *models.ContentBlock

	// Result short-circuits pre-tool-use straight to COMPLETED without
	// invoking the tool.
	Result *models.ContentBlock

	// InputOverride lets a pre-tool-use hook rewrite the call's input.
	InputOverride map[string]any

	// OutputOverride lets a post-tool-use hook rewrite the outcome.
	OutputOverride *models.ContentBlock
}

func (d Decision) isDefinitive() bool {
	return d.Kind == DecisionAsk || d.Kind == DecisionDeny || d.Kind == DecisionResult
}

// Context carries the phase-specific data a hook function receives.
// Fields are populated according to Phase; unrelated fields are zero.
type Context struct {
	Phase      Phase
	AgentID    string
	ToolName   string
	ToolCallID string
	Input      map[string]any
	Output     *models.ContentBlock
	Messages   []*models.Message
	Err        error
}

// Func is one hook in a pipeline.
type Func func(ctx context.Context, hctx *Context) (Decision, error)

// registration pairs a hook with its priority (lower runs earlier) and
// an optional tool-name filter, mirroring the teacher's ForTools /
// priority-sort idiom.
type registration struct {
	id       uint64
	name     string
	priority int
	tools    map[string]struct{}
	fn       Func
}

// Manager owns the per-phase pipelines for one agent's template,
// combining hooks contributed by the template, config overrides, and
// individual tool definitions into single ordered lists (spec §4's
// "Hook chains" note).
type Manager struct {
	mu     sync.RWMutex
	logger *slog.Logger
	nextID uint64
	lists  map[Phase][]*registration
}

// New creates an empty hook manager.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger.With("component", "hooks"),
		lists:  make(map[Phase][]*registration),
	}
}

// RegisterOption configures a hook registration.
type RegisterOption func(*registration)

// WithPriority sets the run order; lower values run first. Default 50.
func WithPriority(p int) RegisterOption {
	return func(r *registration) { r.priority = p }
}

// ForTools restricts a pre/post-tool-use hook to the named tools; empty
// means all tools.
func ForTools(names ...string) RegisterOption {
	return func(r *registration) {
		r.tools = make(map[string]struct{}, len(names))
		for _, n := range names {
			r.tools[n] = struct{}{}
		}
	}
}

// Register adds fn to the pipeline for phase and returns an ID usable
// with Unregister.
func (m *Manager) Register(phase Phase, name string, fn Func, opts ...RegisterOption) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	reg := &registration{id: m.nextID, name: name, priority: 50, fn: fn}
	for _, o := range opts {
		o(reg)
	}
	m.lists[phase] = append(m.lists[phase], reg)
	sort.SliceStable(m.lists[phase], func(i, j int) bool {
		return m.lists[phase][i].priority < m.lists[phase][j].priority
	})
	return reg.id
}

// Unregister removes a hook by ID from every phase it was registered
// under.
func (m *Manager) Unregister(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := false
	for phase, regs := range m.lists {
		for i, r := range regs {
			if r.id == id {
				m.lists[phase] = append(regs[:i], regs[i+1:]...)
				removed = true
				break
			}
		}
	}
	return removed
}

// Run executes every registered hook for phase in priority order and
// returns the first definitive decision. A hook that panics or returns
// an error is logged; per spec §7 ("a throwing hook is logged; pre-tool
// hooks that throw do not cancel the call by default"), only an
// explicit deny/ask/result decision halts the pipeline.
func (m *Manager) Run(ctx context.Context, hctx *Context) (Decision, error) {
	m.mu.RLock()
	regs := append([]*registration(nil), m.lists[hctx.Phase]...)
	m.mu.RUnlock()

	for _, r := range regs {
		if len(r.tools) > 0 {
			if _, ok := r.tools[hctx.ToolName]; !ok {
				continue
			}
		}
		decision, err := m.callSafely(ctx, r, hctx)
		if err != nil {
			m.logger.Warn("hook error", "phase", hctx.Phase, "hook", r.name, "err", err)
			continue
		}
		if decision.isDefinitive() {
			return decision, nil
		}
		if decision.InputOverride != nil {
			hctx.Input = decision.InputOverride
		}
		if decision.OutputOverride != nil {
			hctx.Output = decision.OutputOverride
		}
	}
	return Decision{}, nil
}

func (m *Manager) callSafely(ctx context.Context, r *registration, hctx *Context) (decision Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook %q panicked: %v", r.name, p)
		}
	}()
	return r.fn(ctx, hctx)
}

// Count returns the number of hooks registered for phase, for tests and
// diagnostics.
func (m *Manager) Count(phase Phase) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lists[phase])
}
