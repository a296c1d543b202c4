package config

import "time"

// ToolsConfig configures tool execution defaults and the default
// permission policy new agents are created with.
type ToolsConfig struct {
	Execution ToolExecutionConfig `yaml:"execution"`
	Policy    PolicyConfig        `yaml:"policy"`
}

// ToolExecutionConfig controls the concurrency and timeout toolrunner.Runner applies.
type ToolExecutionConfig struct {
	Parallelism int           `yaml:"parallelism"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PolicyConfig mirrors internal/policy.Policy so it can be decoded straight from YAML.
type PolicyConfig struct {
	// Mode is one of "auto", "approval", "readonly".
	Mode                 string   `yaml:"mode"`
	AllowTools           []string `yaml:"allow_tools"`
	DenyTools            []string `yaml:"deny_tools"`
	RequireApprovalTools []string `yaml:"require_approval_tools"`
}
