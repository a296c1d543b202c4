package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaykit/conductor/pkg/models"
)

type fakeAgent struct {
	id    string
	mu    sync.Mutex
	state models.AgentState
	interrupted bool
}

func newFakeAgent(id string, state models.AgentState) *fakeAgent {
	return &fakeAgent{id: id, state: state}
}

func (a *fakeAgent) ID() string { return a.id }

func (a *fakeAgent) State() models.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *fakeAgent) setState(s models.AgentState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *fakeAgent) Interrupt(ctx context.Context, note string) error {
	a.mu.Lock()
	a.interrupted = true
	a.state = models.AgentStateReady
	a.mu.Unlock()
	return nil
}

type fakeFactory struct {
	mu     sync.Mutex
	agents map[string]*fakeAgent
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{agents: make(map[string]*fakeAgent)}
}

func (f *fakeFactory) Create(ctx context.Context, agentID string, opts any) (Agent, error) {
	a := newFakeAgent(agentID, models.AgentStateReady)
	f.mu.Lock()
	f.agents[agentID] = a
	f.mu.Unlock()
	return a, nil
}

func (f *fakeFactory) Fork(ctx context.Context, sourceID, newID string) (Agent, error) {
	return f.Create(ctx, newID, nil)
}

func (f *fakeFactory) Resume(ctx context.Context, agentID string) (Agent, error) {
	return f.Create(ctx, agentID, nil)
}

type fakeMetaStore struct {
	mu      sync.Mutex
	meta    PoolMeta
	hasMeta bool
	deleted []string
}

func (f *fakeMetaStore) SavePoolMeta(ctx context.Context, meta PoolMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta = meta
	f.hasMeta = true
	return nil
}

func (f *fakeMetaStore) LoadPoolMeta(ctx context.Context) (PoolMeta, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta, f.hasMeta, nil
}

func (f *fakeMetaStore) ClearPoolMeta(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasMeta = false
	return nil
}

func (f *fakeMetaStore) Delete(ctx context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, agentID)
	return nil
}

func TestPool_CreateEnforcesMaxAgents(t *testing.T) {
	p := New(newFakeFactory(), WithMaxAgents(1))
	if _, err := p.Create(context.Background(), "a1", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := p.Create(context.Background(), "a2", nil); err != ErrPoolFull {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
}

func TestPool_GetListSize(t *testing.T) {
	p := New(newFakeFactory())
	p.Create(context.Background(), "a1", nil)
	p.Create(context.Background(), "a2", nil)

	if p.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", p.Size())
	}
	if _, ok := p.Get("a1"); !ok {
		t.Fatal("expected a1 present")
	}
	if len(p.List()) != 2 {
		t.Fatalf("List() = %v, want 2 entries", p.List())
	}
}

func TestPool_Delete(t *testing.T) {
	meta := &fakeMetaStore{}
	p := New(newFakeFactory(), WithPoolMetaStore(meta))
	p.Create(context.Background(), "a1", nil)
	if err := p.Delete(context.Background(), "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := p.Get("a1"); ok {
		t.Fatal("expected a1 removed from pool")
	}
	if len(meta.deleted) != 1 || meta.deleted[0] != "a1" {
		t.Fatalf("expected meta.Delete called with a1, got %v", meta.deleted)
	}
}

func TestPool_GracefulShutdown_IdleAgentsCompleteImmediately(t *testing.T) {
	p := New(newFakeFactory())
	p.Create(context.Background(), "a1", nil)
	p.Create(context.Background(), "a2", nil)

	result := p.GracefulShutdown(context.Background(), ShutdownOptions{Timeout: time.Second})
	if result.Completed != 2 {
		t.Fatalf("Completed = %d, want 2", result.Completed)
	}
}

func TestPool_GracefulShutdown_WorkingAgentBecomesReadyInTime(t *testing.T) {
	factory := newFakeFactory()
	p := New(factory)
	p.Create(context.Background(), "a1", nil)
	a := factory.agents["a1"]
	a.setState(models.AgentStateWorking)

	go func() {
		time.Sleep(150 * time.Millisecond)
		a.setState(models.AgentStateReady)
	}()

	result := p.GracefulShutdown(context.Background(), ShutdownOptions{Timeout: 2 * time.Second, ForceInterrupt: true})
	if result.Completed != 1 {
		t.Fatalf("Completed = %d, want 1", result.Completed)
	}
	if a.interrupted {
		t.Fatal("expected agent not interrupted since it became ready in time")
	}
}

func TestPool_GracefulShutdown_TimesOutAndForceInterrupts(t *testing.T) {
	factory := newFakeFactory()
	p := New(factory)
	p.Create(context.Background(), "a1", nil)
	a := factory.agents["a1"]
	a.setState(models.AgentStateWorking)

	result := p.GracefulShutdown(context.Background(), ShutdownOptions{Timeout: 150 * time.Millisecond, ForceInterrupt: true})
	if result.Interrupted != 1 {
		t.Fatalf("Interrupted = %d, want 1", result.Interrupted)
	}
	if !a.interrupted {
		t.Fatal("expected Interrupt called")
	}
}

func TestPool_GracefulShutdown_SavesPoolMetaWhenRequested(t *testing.T) {
	meta := &fakeMetaStore{}
	p := New(newFakeFactory(), WithPoolMetaStore(meta))
	p.Create(context.Background(), "a1", nil)

	p.GracefulShutdown(context.Background(), ShutdownOptions{Timeout: time.Second, SaveRunningList: true})
	if !meta.hasMeta {
		t.Fatal("expected pool meta saved")
	}
	if len(meta.meta.AgentIDs) != 1 || meta.meta.AgentIDs[0] != "a1" {
		t.Fatalf("unexpected pool meta: %v", meta.meta)
	}
}

func TestPool_ResumeFromShutdown(t *testing.T) {
	meta := &fakeMetaStore{meta: PoolMeta{AgentIDs: []string{"a1", "a2"}}, hasMeta: true}
	p := New(newFakeFactory(), WithPoolMetaStore(meta))

	resumed, err := p.ResumeFromShutdown(context.Background())
	if err != nil {
		t.Fatalf("ResumeFromShutdown: %v", err)
	}
	if len(resumed) != 2 {
		t.Fatalf("resumed = %d, want 2", len(resumed))
	}
	if meta.hasMeta {
		t.Fatal("expected pool meta cleared after resume")
	}
}

func TestPool_ResumeAllStopsAtMaxAgents(t *testing.T) {
	p := New(newFakeFactory(), WithMaxAgents(1))
	resumed, err := p.ResumeAll(context.Background(), []string{"a1", "a2", "a3"})
	if err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	if len(resumed) != 1 {
		t.Fatalf("resumed = %d, want 1 (bounded by maxAgents)", len(resumed))
	}
}
