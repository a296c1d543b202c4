// Package observability provides the ambient logging, metrics, and
// tracing stack for a conductor process: structured logging via
// log/slog with secret redaction, Prometheus metrics for the control
// loop, tool pipeline, event bus, context manager, and pool, and
// OpenTelemetry tracing across agent steps, provider calls, and tool
// executions.
//
// Usage:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	metrics := observability.NewMetrics()
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "conductor"})
//	defer shutdown(context.Background())
//
// None of these three are required: internal/agent, internal/pool, and
// internal/scheduler accept them through functional options (the same
// way internal/agent takes WithLogger) rather than reaching for a
// package-global logger or metrics registry.
package observability
