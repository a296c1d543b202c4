package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestManager_RunsInPriorityOrder(t *testing.T) {
	m := New(nil)
	var order []string
	m.Register(PhasePreModel, "second", func(ctx context.Context, hctx *Context) (Decision, error) {
		order = append(order, "second")
		return Decision{}, nil
	}, WithPriority(100))
	m.Register(PhasePreModel, "first", func(ctx context.Context, hctx *Context) (Decision, error) {
		order = append(order, "first")
		return Decision{}, nil
	}, WithPriority(10))

	if _, err := m.Run(context.Background(), &Context{Phase: PhasePreModel}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("hooks did not run in priority order: %v", order)
	}
}

func TestManager_FirstDefinitiveDecisionWins(t *testing.T) {
	m := New(nil)
	called := false
	m.Register(PhasePreToolUse, "denier", func(ctx context.Context, hctx *Context) (Decision, error) {
		return Decision{Kind: DecisionDeny, Reason: "not allowed"}, nil
	}, WithPriority(10))
	m.Register(PhasePreToolUse, "never-reached", func(ctx context.Context, hctx *Context) (Decision, error) {
		called = true
		return Decision{}, nil
	}, WithPriority(20))

	decision, err := m.Run(context.Background(), &Context{Phase: PhasePreToolUse, ToolName: "shell"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if decision.Kind != DecisionDeny || decision.Reason != "not allowed" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if called {
		t.Fatal("lower-priority hook ran after a definitive decision was already reached")
	}
}

func TestManager_ToolFilterSkipsNonMatchingCalls(t *testing.T) {
	m := New(nil)
	called := false
	m.Register(PhasePreToolUse, "bash-only", func(ctx context.Context, hctx *Context) (Decision, error) {
		called = true
		return Decision{}, nil
	}, ForTools("bash"))

	if _, err := m.Run(context.Background(), &Context{Phase: PhasePreToolUse, ToolName: "read_file"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Fatal("hook scoped to bash ran for read_file")
	}
}

func TestManager_ThrowingHookDoesNotCancelByDefault(t *testing.T) {
	m := New(nil)
	ranNext := false
	m.Register(PhasePreToolUse, "broken", func(ctx context.Context, hctx *Context) (Decision, error) {
		return Decision{}, errors.New("boom")
	}, WithPriority(10))
	m.Register(PhasePreToolUse, "next", func(ctx context.Context, hctx *Context) (Decision, error) {
		ranNext = true
		return Decision{}, nil
	}, WithPriority(20))

	decision, err := m.Run(context.Background(), &Context{Phase: PhasePreToolUse})
	if err != nil {
		t.Fatalf("Run should swallow hook errors: %v", err)
	}
	if decision.Kind != DecisionContinue {
		t.Fatalf("expected no definitive decision, got %+v", decision)
	}
	if !ranNext {
		t.Fatal("a throwing hook should not cancel the remaining pipeline")
	}
}

func TestManager_PanicInHookIsRecovered(t *testing.T) {
	m := New(nil)
	m.Register(PhasePostToolUse, "panicker", func(ctx context.Context, hctx *Context) (Decision, error) {
		panic("unexpected")
	})
	if _, err := m.Run(context.Background(), &Context{Phase: PhasePostToolUse}); err != nil {
		t.Fatalf("Run should recover panics internally: %v", err)
	}
}

func TestManager_UnregisterRemovesHook(t *testing.T) {
	m := New(nil)
	id := m.Register(PhasePreModel, "temp", func(ctx context.Context, hctx *Context) (Decision, error) {
		return Decision{}, nil
	})
	if m.Count(PhasePreModel) != 1 {
		t.Fatalf("expected 1 registered hook")
	}
	if !m.Unregister(id) {
		t.Fatal("Unregister returned false for a known id")
	}
	if m.Count(PhasePreModel) != 0 {
		t.Fatalf("expected 0 hooks after unregister")
	}
}
