package policy

import "testing"

func TestEvaluate_DenyBeatsAllow(t *testing.T) {
	m := New(Policy{Mode: ModeAuto, AllowTools: []string{"bash"}, DenyTools: []string{"bash"}})
	if got := m.Evaluate("bash"); got != VerdictDeny {
		t.Fatalf("Evaluate() = %q, want deny", got)
	}
}

func TestEvaluate_AllowBeatsReadonlyAsk(t *testing.T) {
	m := New(Policy{Mode: ModeReadonly, AllowTools: []string{"fs_write"}})
	if got := m.Evaluate("fs_write"); got != VerdictAllow {
		t.Fatalf("Evaluate() = %q, want allow (explicit allow overrides readonly-writer ask)", got)
	}
}

func TestEvaluate_ReadonlyModeAsksForWriters(t *testing.T) {
	m := New(Policy{Mode: ModeReadonly})
	if got := m.Evaluate("fs_write"); got != VerdictAsk {
		t.Fatalf("Evaluate() = %q, want ask for a writer tool under readonly mode", got)
	}
	if got := m.Evaluate("read_file"); got != VerdictAllow {
		t.Fatalf("Evaluate() = %q, want allow for a readonly tool under readonly mode", got)
	}
}

func TestEvaluate_ApprovalModeScopedByRequireApprovalTools(t *testing.T) {
	m := New(Policy{Mode: ModeApproval, RequireApprovalTools: []string{"fs_write"}})
	if got := m.Evaluate("fs_write"); got != VerdictAsk {
		t.Fatalf("Evaluate() = %q, want ask for a gated tool under approval mode", got)
	}
	if got := m.Evaluate("read_file"); got != VerdictAllow {
		t.Fatalf("Evaluate() = %q, want allow for an ungated tool under approval mode", got)
	}
}

func TestEvaluate_AutoModeAllowsByDefault(t *testing.T) {
	m := New(Policy{})
	if got := m.Evaluate("anything"); got != VerdictAllow {
		t.Fatalf("Evaluate() = %q, want allow under default auto mode", got)
	}
}

func TestEvaluate_WildcardPatterns(t *testing.T) {
	m := New(Policy{Mode: ModeAuto, DenyTools: []string{"mcp:dangerous.*"}})
	if got := m.Evaluate("mcp:dangerous.delete_all"); got != VerdictDeny {
		t.Fatalf("Evaluate() = %q, want deny via namespace wildcard", got)
	}
}
