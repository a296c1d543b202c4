package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "conductor.yaml", `
version: 1
agent:
  default_model: "test-model"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.DefaultModel != "test-model" {
		t.Fatalf("expected default_model to round-trip, got %q", cfg.Agent.DefaultModel)
	}
	if cfg.Agent.Context.MaxTokens != 50000 {
		t.Fatalf("expected default MaxTokens 50000, got %d", cfg.Agent.Context.MaxTokens)
	}
	if cfg.Pool.MaxAgents != 100 {
		t.Fatalf("expected default MaxAgents 100, got %d", cfg.Pool.MaxAgents)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeTempConfig(t, dir, "base.yaml", `
server:
  host: "127.0.0.1"
  http_port: 9999
`)
	path := writeTempConfig(t, dir, "conductor.yaml", `
version: 1
$include: base.yaml
agent:
  default_model: "test-model"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9999 {
		t.Fatalf("expected included http_port 9999, got %d", cfg.Server.HTTPPort)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_MODEL", "env-model")
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "conductor.yaml", `
version: 1
agent:
  default_model: "${CONDUCTOR_TEST_MODEL}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.DefaultModel != "env-model" {
		t.Fatalf("expected env var expansion, got %q", cfg.Agent.DefaultModel)
	}
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeTempConfig(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeTempConfig(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := LoadRaw(path); err == nil {
		t.Fatal("expected include cycle to be rejected")
	}
}

func TestLoadJSON5Variant(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "conductor.json5", `{
		version: 1,
		agent: { default_model: "json5-model" },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.DefaultModel != "json5-model" {
		t.Fatalf("expected json5-model, got %q", cfg.Agent.DefaultModel)
	}
}

func TestValidateRejectsUnsupportedVersion(t *testing.T) {
	cfg := defaultConfig()
	cfg.Version = CurrentVersion + 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation to reject a future config version")
	}
}

func TestRegisterValidatorIsApplied(t *testing.T) {
	RegisterValidator(func(cfg *Config) []string {
		if cfg.Agent.DefaultModel == "" {
			return []string{"agent.default_model is required"}
		}
		return nil
	})
	defer RegisterValidator(nil)

	cfg := defaultConfig()
	cfg.Agent.DefaultModel = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected plugin validator issue to surface")
	}
}
