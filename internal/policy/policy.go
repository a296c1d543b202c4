// Package policy implements the PermissionManager: a static,
// per-tool-name allow/deny/ask evaluator driven by template config.
//
// Grounded on the teacher's internal/tools/policy resolver
// (deny-wins, pattern-matched allow/deny lists via matchToolPattern,
// and a readonly tool-group classification) narrowed to the spec's
// exact contract: mode (auto/approval/readonly/custom) plus
// allow/deny/require-approval lists, precedence denyTools > allowTools
// > readonly-writer-ask > mode handler > auto-allow.
package policy

import "strings"

// Mode selects the mode-specific fallback handler used once deny/allow
// and the readonly-writer rule have both abstained.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeApproval Mode = "approval"
	ModeReadonly Mode = "readonly"
)

// Verdict is the outcome of evaluating a tool call against a policy.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
	VerdictAsk   Verdict = "ask"
)

// Policy is the static per-agent permission configuration, sourced from
// template config (spec §4.3).
type Policy struct {
	Mode                 Mode
	AllowTools           []string
	DenyTools            []string
	RequireApprovalTools []string
}

// readonlyTools classifies tools that never mutate state; anything else
// is treated as a "writer" under readonly mode. Grounded on the
// teacher's "group:readonly" tool-group convention.
var readonlyTools = map[string]struct{}{
	"read":        {},
	"read_file":   {},
	"list_dir":    {},
	"glob":        {},
	"grep":        {},
	"websearch":   {},
	"webfetch":    {},
	"memory_get":  {},
	"job_status":  {},
}

// IsReadonly reports whether toolName is known to be non-mutating.
func IsReadonly(toolName string) bool {
	_, ok := readonlyTools[toolName]
	return ok
}

// RegisterReadonlyTool adds toolName to the readonly classification,
// used by tool descriptors to self-declare non-mutating behavior.
func RegisterReadonlyTool(toolName string) {
	readonlyTools[toolName] = struct{}{}
}

// Manager evaluates tool calls against a Policy.
type Manager struct {
	policy Policy
}

// New creates a Manager for the given policy. A zero-value Mode
// defaults to ModeAuto.
func New(p Policy) *Manager {
	if p.Mode == "" {
		p.Mode = ModeAuto
	}
	return &Manager{policy: p}
}

// Policy returns the manager's effective policy.
func (m *Manager) Policy() Policy { return m.policy }

// Evaluate returns allow/deny/ask for toolName per spec §4.3's
// precedence: denyTools > allowTools > readonly-writer-ask >
// mode-specific handler > auto-allow.
func (m *Manager) Evaluate(toolName string) Verdict {
	if matchesAny(m.policy.DenyTools, toolName) {
		return VerdictDeny
	}
	if matchesAny(m.policy.AllowTools, toolName) {
		return VerdictAllow
	}
	if m.policy.Mode == ModeReadonly && !IsReadonly(toolName) {
		return VerdictAsk
	}
	switch m.policy.Mode {
	case ModeApproval:
		// requireApprovalTools scopes which tools the approval mode
		// actually gates; anything else auto-allows.
		if matchesAny(m.policy.RequireApprovalTools, toolName) {
			return VerdictAsk
		}
		return VerdictAllow
	case ModeReadonly:
		// Readonly tool, not denied/allowed explicitly: permit.
		return VerdictAllow
	case ModeAuto:
		fallthrough
	default:
		return VerdictAllow
	}
}

// matchesAny reports whether toolName matches any entry in patterns,
// supporting "*" (match all) and "prefix.*" (namespace wildcard) in
// addition to exact names.
func matchesAny(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if matchPattern(p, toolName) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, toolName string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == toolName
}
