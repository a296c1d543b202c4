package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting Prometheus
// metrics across the agent runtime: control-loop steps, tool execution,
// the event bus, context compression, and the agent pool.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.ToolExecutionDuration("web_search").Observe(time.Since(start).Seconds())
type Metrics struct {
	// AgentStepCounter counts control-loop iterations by agent and outcome.
	// Labels: agent_id, outcome (completed|failed|interrupted)
	AgentStepCounter *prometheus.CounterVec

	// AgentStepDuration measures one control-loop iteration's wall time.
	AgentStepDuration *prometheus.HistogramVec

	// ProviderRequestDuration measures model provider stream latency.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ProviderTokensUsed *prometheus.CounterVec

	// ToolExecutionCounterVec counts tool invocations by name and outcome.
	// Labels: tool_name, state (completed|failed|denied|sealed)
	ToolExecutionCounterVec *prometheus.CounterVec

	// ToolExecutionDurationVec measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDurationVec *prometheus.HistogramVec

	// EventsEmitted counts events published on the event bus.
	// Labels: kind, lane (progress|control|monitor)
	EventsEmitted *prometheus.CounterVec

	// ContextCompressions counts context-manager compression runs.
	// Labels: agent_id
	ContextCompressions *prometheus.CounterVec

	// ContextTokensUsed tracks post-analysis token totals.
	ContextTokensUsed *prometheus.HistogramVec

	// PoolActiveAgents is a gauge of agents currently held by the pool.
	PoolActiveAgents prometheus.Gauge

	// PoolShutdowns counts graceful pool shutdowns.
	PoolShutdowns prometheus.Counter

	// StoreOperationDuration measures Store/WAL call latency.
	// Labels: operation
	StoreOperationDuration *prometheus.HistogramVec

	// SchedulerTicks counts fired scheduler triggers.
	// Labels: kind (timer|step_count)
	SchedulerTicks *prometheus.CounterVec

	// TodoReminders counts reminder nudges injected into the message queue.
	TodoReminders prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// process startup; all metrics register with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		AgentStepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_agent_steps_total",
				Help: "Total number of agent control-loop iterations by outcome",
			},
			[]string{"agent_id", "outcome"},
		),

		AgentStepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_agent_step_duration_seconds",
				Help:    "Duration of one agent control-loop iteration",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent_id"},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_provider_request_duration_seconds",
				Help:    "Duration of model provider stream requests",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_provider_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounterVec: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_executions_total",
				Help: "Total number of tool executions by tool name and final state",
			},
			[]string{"tool_name", "state"},
		),

		ToolExecutionDurationVec: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		EventsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_events_emitted_total",
				Help: "Total number of events published on the event bus",
			},
			[]string{"kind", "lane"},
		),

		ContextCompressions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_context_compressions_total",
				Help: "Total number of context-manager compression runs",
			},
			[]string{"agent_id"},
		),

		ContextTokensUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_context_tokens",
				Help:    "Estimated token usage at analysis time",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"agent_id"},
		),

		PoolActiveAgents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_pool_active_agents",
				Help: "Current number of agents held by the pool",
			},
		),

		PoolShutdowns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_pool_shutdowns_total",
				Help: "Total number of graceful pool shutdowns",
			},
		),

		StoreOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_store_operation_duration_seconds",
				Help:    "Duration of Store/WAL operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		SchedulerTicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_scheduler_ticks_total",
				Help: "Total number of fired scheduler triggers by kind",
			},
			[]string{"kind"},
		),

		TodoReminders: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_todo_reminders_total",
				Help: "Total number of reminder nudges injected into the message queue",
			},
		),
	}
}

// RecordAgentStep records one completed control-loop iteration.
func (m *Metrics) RecordAgentStep(agentID, outcome string, durationSeconds float64) {
	m.AgentStepCounter.WithLabelValues(agentID, outcome).Inc()
	m.AgentStepDuration.WithLabelValues(agentID).Observe(durationSeconds)
}

// RecordProviderRequest records a model provider stream call.
func (m *Metrics) RecordProviderRequest(provider, model string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records a tool call's final state and duration.
func (m *Metrics) RecordToolExecution(toolName, state string, durationSeconds float64) {
	m.ToolExecutionCounterVec.WithLabelValues(toolName, state).Inc()
	m.ToolExecutionDurationVec.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordEventEmitted records one event published on the bus.
func (m *Metrics) RecordEventEmitted(kind, lane string) {
	m.EventsEmitted.WithLabelValues(kind, lane).Inc()
}

// RecordContextCompression records a compression run and its resulting token estimate.
func (m *Metrics) RecordContextCompression(agentID string, tokensAfter int) {
	m.ContextCompressions.WithLabelValues(agentID).Inc()
	m.ContextTokensUsed.WithLabelValues(agentID).Observe(float64(tokensAfter))
}

// SetPoolActiveAgents sets the pool's current agent count.
func (m *Metrics) SetPoolActiveAgents(count int) {
	m.PoolActiveAgents.Set(float64(count))
}

// RecordPoolShutdown records a completed graceful shutdown.
func (m *Metrics) RecordPoolShutdown() {
	m.PoolShutdowns.Inc()
}

// RecordStoreOperation records a Store/WAL call's latency.
func (m *Metrics) RecordStoreOperation(operation string, durationSeconds float64) {
	m.StoreOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordSchedulerTick records one fired scheduler trigger.
func (m *Metrics) RecordSchedulerTick(kind string) {
	m.SchedulerTicks.WithLabelValues(kind).Inc()
}

// RecordTodoReminder records one reminder nudge sent to the message queue.
func (m *Metrics) RecordTodoReminder() {
	m.TodoReminders.Inc()
}
