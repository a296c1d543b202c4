package config

// LLMConfig names the model providers an agent.Provider implementation
// would be constructed from. Conductor ships no concrete provider wire
// client (spec scope is the runtime, not transport); this config exists
// so cmd/conductor's stub provider and any future real one share one
// place to read credentials and defaults from.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	FallbackChain   []string                     `yaml:"fallback_chain"`
}

// LLMProviderConfig holds one provider's connection defaults.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}
