package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaykit/conductor/internal/breakpoint"
	"github.com/relaykit/conductor/internal/contextmgr"
	"github.com/relaykit/conductor/internal/eventbus"
	"github.com/relaykit/conductor/internal/filepool"
	"github.com/relaykit/conductor/internal/hooks"
	"github.com/relaykit/conductor/internal/idgen"
	"github.com/relaykit/conductor/internal/policy"
	"github.com/relaykit/conductor/internal/queue"
	"github.com/relaykit/conductor/internal/sandbox"
	"github.com/relaykit/conductor/internal/scheduler"
	"github.com/relaykit/conductor/internal/store"
	"github.com/relaykit/conductor/internal/todo"
	"github.com/relaykit/conductor/internal/toolrunner"
	"github.com/relaykit/conductor/pkg/models"
)

// processingTimeout bounds how long a single runStep is allowed to run
// before ensureProcessing treats it as stuck (spec §4.6 "ensureProcessing").
const processingTimeout = 5 * time.Minute

// defaultToolTimeout is the per-call timeout applied when a tool call's
// metadata doesn't override it (spec §4.7 step 7).
const defaultToolTimeout = 60 * time.Second

// defaultMaxToolConcurrency bounds how many tool_use blocks in one
// assistant turn run concurrently (spec §4.7 "Concurrent tool calls").
const defaultMaxToolConcurrency = 3

// Config is an Agent's static, slowly-changing configuration, persisted
// as models.AgentMetadata's sidecar fields.
type Config struct {
	Model              string
	SystemPrompt       string
	MaxToolConcurrency int
	ToolTimeout        time.Duration
	ExposeThinking     bool
	Policy             policy.Policy
	ContextConfig      contextmgr.Config
	MaxSubAgentDepth   int
}

func (c Config) withDefaults() Config {
	if c.MaxToolConcurrency <= 0 {
		c.MaxToolConcurrency = defaultMaxToolConcurrency
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = defaultToolTimeout
	}
	return c
}

// Deps bundles an Agent's external collaborators: everything the spec
// treats as outside the core (store, sandbox, model provider) plus the
// supporting subsystems built per spec §4.
type Deps struct {
	Store    store.Store
	Sandbox  sandbox.Sandbox
	Provider Provider
	Tools    []ToolDescriptor
	Logger   *slog.Logger
}

// pendingApproval is a parked tool call awaiting Agent.Decide.
type pendingApproval struct {
	resultCh chan approvalDecision
}

type approvalDecision struct {
	allow bool
	note  string
}

// Agent is the top-level orchestrator: it owns the message history,
// tool call records, breakpoint, and message queue exclusively (spec §3
// "Ownership"), and drives the control loop described in spec §4.6.
//
// Grounded on the teacher's internal/agent/loop.go (AgenticLoop's
// streamPhase/executeToolsPhase/continuePhase staging) and runtime.go
// (the provider/message/tool type surface), generalized from the
// teacher's flat CompletionChunk streaming into the spec's
// block-indexed reconstruction and explicit breakpoint-tracked state
// machine.
type Agent struct {
	id     string
	cfg    Config
	store  store.Store
	sandbox sandbox.Sandbox
	provider Provider
	tools  map[string]ToolDescriptor
	logger *slog.Logger

	bus         *eventbus.Bus
	hookMgr     *hooks.Manager
	policyMgr   *policy.Manager
	toolRunner  *toolrunner.Runner
	ctxMgr      *contextmgr.Manager
	breakpoints *breakpoint.Manager
	filePool    *filepool.Pool
	msgQueue    *queue.Queue
	todoMgr     *todo.Manager
	scheduler   *scheduler.Scheduler

	mu                sync.Mutex
	state             models.AgentState
	toolRecords       map[string]*models.ToolCallRecord
	toolOrder         []string
	lastSfpIndex      int
	lastBookmark      models.Bookmark
	stepCount         int
	interruptRequested bool
	processing        bool
	processingStarted time.Time
	pendingNextRound  bool
	lineage           []string
	configVersion     int
	createdAt         time.Time
	stepObservers     []StepObserver

	approvalMu sync.Mutex
	approvals  map[string]*pendingApproval
}

// New wires a fresh Agent's supporting subsystems around cfg/deps,
// seeded with any existing messages and todo items (nil for a brand new
// agent, the rehydrated state for Resume or the cloned state for Fork).
// It does not persist anything; Create and Resume do that.
func New(id string, cfg Config, deps Deps, existing []*models.Message, existingTodos []models.TodoItem) *Agent {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("agent_id", id)

	a := &Agent{
		id:          id,
		cfg:         cfg,
		store:       deps.Store,
		sandbox:     deps.Sandbox,
		provider:    deps.Provider,
		tools:       make(map[string]ToolDescriptor, len(deps.Tools)),
		logger:      logger,
		state:       models.AgentStateReady,
		toolRecords: make(map[string]*models.ToolCallRecord),
		approvals:   make(map[string]*pendingApproval),
	}
	for _, t := range deps.Tools {
		a.tools[t.Name] = t
	}

	a.bus = eventbus.New(id, deps.Store, eventbus.WithLogger(logger))
	a.hookMgr = hooks.New(logger)
	a.policyMgr = policy.New(cfg.Policy)
	a.toolRunner = toolrunner.New(cfg.MaxToolConcurrency)
	a.ctxMgr = contextmgr.New(cfg.ContextConfig)
	a.breakpoints = breakpoint.New(a.onBreakpointChange)
	if deps.Sandbox != nil {
		a.filePool = filepool.New(id, deps.Sandbox, filepool.WithLogger(logger), filepool.WithWatch(true), filepool.WithOnChange(a.onFileChanged))
	}
	a.msgQueue = queue.New(id, deps.Store, a.ensureProcessing, existing)

	a.todoMgr = todo.New(id, deps.Store, existingTodos)
	a.scheduler = newScheduler(a.bus, logger)
	a.AddStepObserver(a.scheduler)
	a.AddStepObserver(&todoStepObserver{mgr: a.todoMgr, sender: queueSender{a.msgQueue}, bus: a.bus})
	return a
}

// ID implements pool.Agent.
func (a *Agent) ID() string { return a.id }

// State implements pool.Agent.
func (a *Agent) State() models.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Bus exposes the agent's event bus for subscription.
func (a *Agent) Bus() *eventbus.Bus { return a.bus }

// HookManager exposes the agent's hook pipeline for registration.
func (a *Agent) HookManager() *hooks.Manager { return a.hookMgr }

// Create builds a new Agent, persists its meta, and seeds the system
// prompt (spec §4.6 "seeds systemPrompt with tool manual & skills
// metadata" — the manual/skills text itself is supplied by the caller
// via cfg.SystemPrompt since tool descriptors are external collaborators).
func Create(ctx context.Context, cfg Config, deps Deps) (*Agent, error) {
	id := idgen.AgentID()
	a := New(id, cfg, deps, nil, nil)
	a.createdAt = time.Now()

	meta := a.buildMetadata()
	if deps.Store != nil {
		if err := deps.Store.SaveInfo(ctx, id, meta); err != nil {
			return nil, fmt.Errorf("agent: save info: %w", err)
		}
	}
	return a, nil
}

// ResumeStrategy selects how Resume seals unanswered tool calls.
type ResumeStrategy string

const (
	// ResumeCrash auto-seals any tool call whose state is not terminal
	// (spec §4.6 resume contract).
	ResumeCrash  ResumeStrategy = "crash"
	ResumeManual ResumeStrategy = "manual"
)

// ResumeOptions configures Resume.
type ResumeOptions struct {
	Strategy ResumeStrategy
	AutoRun  bool
}

// Resume rehydrates an existing agent's messages, tool records, and
// meta from the store. With ResumeCrash it seals every non-terminal
// tool call and emits agent_resumed.
func Resume(ctx context.Context, id string, cfg Config, deps Deps, opts ResumeOptions) (*Agent, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("agent: resume requires a store")
	}
	meta, err := deps.Store.LoadInfo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agent: load info: %w", err)
	}
	messages, err := deps.Store.LoadMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agent: load messages: %w", err)
	}
	records, err := deps.Store.LoadToolCallRecords(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agent: load tool records: %w", err)
	}
	todos, err := deps.Store.LoadTodos(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agent: load todos: %w", err)
	}

	a := New(id, cfg, deps, messages, todos)
	a.lastSfpIndex = meta.LastSfpIndex
	a.lastBookmark = meta.LastBookmark
	a.stepCount = meta.StepCount
	a.lineage = append([]string(nil), meta.Lineage...)
	a.configVersion = meta.ConfigVersion
	a.createdAt = meta.CreatedAt
	for _, r := range records {
		a.toolRecords[r.ID] = r
		a.toolOrder = append(a.toolOrder, r.ID)
	}
	a.breakpoints.Set(ctx, meta.Breakpoint, "resume")

	var sealed []string
	if opts.Strategy == ResumeCrash {
		sealed = a.sealUnanswered(ctx, "resumed after crash")
	}
	a.bus.EmitMonitor(ctx, models.Event{
		Kind: models.EventAgentResumed,
		Data: map[string]any{"strategy": string(opts.Strategy), "sealed": sealed},
	})

	if opts.AutoRun {
		a.ensureProcessing(ctx)
	}
	return a, nil
}

func (a *Agent) buildMetadata() *models.AgentMetadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	return &models.AgentMetadata{
		AgentID:       a.id,
		PermissionMode: string(a.cfg.Policy.Mode),
		CreatedAt:     a.createdAt,
		UpdatedAt:     now,
		ConfigVersion: a.configVersion,
		Lineage:       append([]string(nil), a.lineage...),
		Breakpoint:    a.breakpoints.Current(),
		LastBookmark:  a.lastBookmark,
		LastSfpIndex:  a.lastSfpIndex,
		StepCount:     a.stepCount,
	}
}

func (a *Agent) persistMeta(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	return a.store.SaveInfo(ctx, a.id, a.buildMetadata())
}

// onBreakpointChange mirrors breakpoint transitions onto the monitor
// channel and refreshes persisted meta (spec §4.2).
func (a *Agent) onBreakpointChange(ctx context.Context, t models.BreakpointTransition) {
	a.bus.EmitMonitor(ctx, models.Event{
		Kind: models.EventBreakpointChanged,
		Data: map[string]any{"previous": string(t.Previous), "current": string(t.Current), "note": t.Note},
	})
}

// onFileChanged is FilePool's OnChange callback: surface the external
// edit as a monitor event so the next step's context includes it.
func (a *Agent) onFileChanged(path string, mtime time.Time) {
	a.bus.EmitMonitor(context.Background(), models.Event{
		Kind: models.EventFileChanged,
		Data: map[string]any{"path": path, "mtime": mtime},
	})
}

func (a *Agent) setState(ctx context.Context, s models.AgentState) {
	a.mu.Lock()
	previous := a.state
	a.state = s
	a.mu.Unlock()
	if previous != s {
		a.bus.EmitMonitor(ctx, models.Event{
			Kind: models.EventStateChanged,
			Data: map[string]any{"previous": string(previous), "current": string(s)},
		})
	}
}
