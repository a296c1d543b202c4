package config

// LoggingConfig configures the process-wide slog logger built by
// observability.NewLogger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
	// AddSource includes file and line number in log records.
	AddSource bool `yaml:"add_source"`
	// RedactPatterns are additional regexes to redact on top of the built-in set.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ObservabilityConfig configures tracing and metrics export.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig mirrors observability.TraceConfig so it can be decoded straight from YAML.
type TracingConfig struct {
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	// Endpoint is the OTLP collector endpoint. Tracing is disabled when empty.
	Endpoint     string            `yaml:"endpoint"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Attributes   map[string]string `yaml:"attributes"`
	Insecure     bool              `yaml:"insecure"`
}

// MetricsConfig controls whether and where Prometheus metrics are exposed.
// cmd/conductor serves Metrics on Server.MetricsPort when Enabled is true.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}
