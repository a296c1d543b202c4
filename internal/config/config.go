// Package config loads conductor's YAML configuration: $include directive
// resolution, environment-variable expansion, and an optional JSON5 variant
// for operator-authored templates.
package config

import (
	"time"
)

// Config is the top-level configuration structure for a conductor process.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Agent         AgentConfig         `yaml:"agent"`
	Pool          PoolConfig          `yaml:"pool"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Todo          TodoConfig          `yaml:"todo"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the process's own listening surface.
type ServerConfig struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the persistence backend used by internal/store.
type DatabaseConfig struct {
	// Driver selects the store implementation: "memory", "file", "sqlite", or "postgres".
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	Dir             string        `yaml:"dir"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AgentConfig supplies the defaults internal/agent.Config is built from.
type AgentConfig struct {
	DefaultModel     string        `yaml:"default_model"`
	MaxSubAgentDepth int           `yaml:"max_sub_agent_depth"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	Context          ContextConfig `yaml:"context"`
}

// ContextConfig mirrors internal/contextmgr.Config's tunables.
type ContextConfig struct {
	MaxTokens            int `yaml:"max_tokens"`
	CompressToTokens     int `yaml:"compress_to_tokens"`
	KeepRecentMultimodal int `yaml:"keep_recent_multimodal"`
}

// PoolConfig configures internal/pool's lifecycle management.
type PoolConfig struct {
	MaxAgents           int           `yaml:"max_agents"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

// SchedulerConfig configures internal/scheduler's default tick cadence.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// TodoConfig configures internal/todo's reminder cadence.
type TodoConfig struct {
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	ReminderEvery    int           `yaml:"reminder_every_steps"`
}

func defaultConfig() Config {
	return Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Host:        "0.0.0.0",
			GRPCPort:    7070,
			HTTPPort:    8080,
			MetricsPort: 9090,
		},
		Database: DatabaseConfig{
			Driver: "memory",
		},
		Agent: AgentConfig{
			DefaultModel:     "test-model",
			MaxSubAgentDepth: 3,
			ToolTimeout:      60 * time.Second,
			Context: ContextConfig{
				MaxTokens:            50000,
				KeepRecentMultimodal: 3,
			},
		},
		Pool: PoolConfig{
			MaxAgents:           100,
			IdleTimeout:         30 * time.Minute,
			ShutdownGracePeriod: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			TickInterval: time.Second,
		},
		Todo: TodoConfig{
			ReminderEvery: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate applies version and cross-field checks.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}
	if issues := pluginValidationIssues(c); len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ValidationError reports accumulated config validation issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "config validation failed"
	}
	msg := "config validation failed: " + e.Issues[0]
	for _, extra := range e.Issues[1:] {
		msg += "; " + extra
	}
	return msg
}
