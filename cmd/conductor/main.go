// Package main provides the CLI entry point for conductor, an agent
// runtime: it loads a pool of state-machine agents, each driving its own
// control loop over a streaming model Provider with sandboxed tool
// execution, durable persistence, and an event bus other processes can
// subscribe to.
//
// # Basic usage
//
// Start the server:
//
//	conductor serve --config conductor.yaml
//
// Validate a configuration file without starting anything:
//
//	conductor config validate --config conductor.yaml
//
// # Environment variables
//
//   - CONDUCTOR_CONFIG: path to the configuration file (default: conductor.yaml)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaykit/conductor/internal/agent"
	"github.com/relaykit/conductor/internal/config"
	"github.com/relaykit/conductor/internal/contextmgr"
	"github.com/relaykit/conductor/internal/observability"
	"github.com/relaykit/conductor/internal/policy"
	"github.com/relaykit/conductor/internal/pool"
	"github.com/relaykit/conductor/internal/runtime"
	"github.com/relaykit/conductor/internal/sandbox"
	"github.com/relaykit/conductor/internal/store"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "conductor",
		Short:        "conductor - agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildConfigCmd(), buildStatusCmd())
	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("CONDUCTOR_CONFIG"); env != "" {
		return env
	}
	return "conductor.yaml"
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config valid: version %d, driver %s\n", cfg.Version, cfg.Database.Driver)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML/JSON5 configuration file")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the resolved configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server:    %s (grpc %d, http %d, metrics %d)\n",
				cfg.Server.Host, cfg.Server.GRPCPort, cfg.Server.HTTPPort, cfg.Server.MetricsPort)
			fmt.Fprintf(out, "database:  driver=%s\n", cfg.Database.Driver)
			fmt.Fprintf(out, "agent:     model=%s max_sub_agent_depth=%d\n", cfg.Agent.DefaultModel, cfg.Agent.MaxSubAgentDepth)
			fmt.Fprintf(out, "pool:      max_agents=%d idle_timeout=%s\n", cfg.Pool.MaxAgents, cfg.Pool.IdleTimeout)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML/JSON5 configuration file")
	return cmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var workspaceDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent pool and block until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, workspaceDir)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML/JSON5 configuration file")
	cmd.Flags().StringVar(&workspaceDir, "workspace", ".", "sandbox root directory agents operate on")
	return cmd
}

func runServe(ctx context.Context, configPath, workspaceDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})

	slogLogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{AddSource: cfg.Logging.AddSource}))
	slog.SetDefault(slogLogger)

	metrics := observability.NewMetrics()

	_, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "conductor",
		ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	sb, err := sandbox.NewLocalSandbox(workspaceDir)
	if err != nil {
		return fmt.Errorf("failed to initialize sandbox: %w", err)
	}
	defer sb.Close()

	factory := &runtime.AgentFactory{
		Store:    st,
		Sandbox:  sb,
		Provider: runtime.EchoProvider{},
		Logger:   slogLogger,
		Config:   agentConfigFromSettings(cfg),
	}

	p := pool.New(factory,
		pool.WithMaxAgents(cfg.Pool.MaxAgents),
		pool.WithLogger(slogLogger),
	)

	appLogger.Info(ctx, "conductor starting",
		"version", version,
		"commit", commit,
		"config", configPath,
		"max_agents", cfg.Pool.MaxAgents,
	)

	metrics.SetPoolActiveAgents(p.Size())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	appLogger.Info(context.Background(), "shutdown signal received, draining agent pool")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pool.ShutdownGracePeriod)
	defer shutdownCancel()

	result := p.GracefulShutdown(shutdownCtx, pool.ShutdownOptions{})
	metrics.RecordPoolShutdown()
	appLogger.Info(context.Background(), "pool shutdown complete",
		"completed", result.Completed, "interrupted", result.Interrupted, "failed", result.Failed)
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "", "memory":
		return store.NewMemStore(), nil
	case "file":
		dir := cfg.Database.Dir
		if dir == "" {
			dir = "conductor-data"
		}
		return store.NewFileStore(dir)
	default:
		return nil, fmt.Errorf("unsupported database driver %q (supported: memory, file; see internal/store/sqlstore for sqlite/postgres)", cfg.Database.Driver)
	}
}

// agentConfigFromSettings translates the YAML-facing config.AgentConfig and
// its nested config.PolicyConfig/config.ContextConfig into the agent.Config
// the runtime package's factory actually consumes.
func agentConfigFromSettings(cfg *config.Config) agent.Config {
	p := cfg.Tools.Policy
	mode := policy.ModeAuto
	switch p.Mode {
	case "approval":
		mode = policy.ModeApproval
	case "readonly":
		mode = policy.ModeReadonly
	}

	return agent.Config{
		Model:            cfg.Agent.DefaultModel,
		ToolTimeout:      cfg.Agent.ToolTimeout,
		MaxSubAgentDepth: cfg.Agent.MaxSubAgentDepth,
		Policy: policy.Policy{
			Mode:                 mode,
			AllowTools:           p.AllowTools,
			DenyTools:            p.DenyTools,
			RequireApprovalTools: p.RequireApprovalTools,
		},
		ContextConfig: contextmgr.Config{
			MaxTokens:            cfg.Agent.Context.MaxTokens,
			CompressToTokens:     cfg.Agent.Context.CompressToTokens,
			KeepRecentMultimodal: cfg.Agent.Context.KeepRecentMultimodal,
		},
	}
}
