package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker state gauge values.
const (
	BreakerStateClosed   = 0
	BreakerStateHalfOpen = 1
	BreakerStateOpen     = 2
)

// Metrics holds every Prometheus collector the orchestrator exports.
//
// The set tracks:
//   - Turn throughput and latency by route and outcome
//   - Per-stage pipeline latency
//   - Tool attempts by result kind and their latency
//   - Circuit breaker state per (workspace, tool)
//   - In-flight turn and broker dispatch gauges
type Metrics struct {
	// TurnDuration measures whole-turn wall time in seconds.
	// Labels: route (STAGED|LEGACY), outcome (ok|degraded|error)
	TurnDuration *prometheus.HistogramVec

	// TurnCounter counts turns by route and outcome.
	TurnCounter *prometheus.CounterVec

	// StageDuration measures pipeline stage wall time in seconds.
	// Labels: stage (extract|plan|policy|broker|reduce|nlg)
	StageDuration *prometheus.HistogramVec

	// ToolAttemptCounter counts broker attempts.
	// Labels: tool, result_kind
	ToolAttemptCounter *prometheus.CounterVec

	// ToolAttemptDuration measures one attempt's wall time in seconds.
	// Labels: tool
	ToolAttemptDuration *prometheus.HistogramVec

	// BreakerState exposes the circuit state per workspace and tool:
	// 0 closed, 1 half-open, 2 open.
	BreakerState *prometheus.GaugeVec

	// TurnsInFlight is the number of turns currently being served.
	TurnsInFlight prometheus.Gauge

	// BrokerInFlight is the number of tool dispatches currently running.
	BrokerInFlight prometheus.Gauge

	// ReplayCounter counts envelope replays served from the request cache.
	ReplayCounter prometheus.Counter

	// ShedCounter counts turns rejected or downgraded by load shedding.
	ShedCounter prometheus.Counter
}

// NewMetrics creates and registers all collectors against the given
// registerer. Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parlo_turn_duration_seconds",
				Help:    "Whole-turn wall time by route and outcome",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
			},
			[]string{"route", "outcome"},
		),

		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlo_turns_total",
				Help: "Total turns served by route and outcome",
			},
			[]string{"route", "outcome"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parlo_stage_duration_seconds",
				Help:    "Pipeline stage wall time",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"stage"},
		),

		ToolAttemptCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlo_tool_attempts_total",
				Help: "Broker attempts by tool and result kind",
			},
			[]string{"tool", "result_kind"},
		),

		ToolAttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parlo_tool_attempt_duration_seconds",
				Help:    "Single tool attempt wall time",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 3, 5},
			},
			[]string{"tool"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "parlo_breaker_state",
				Help: "Circuit breaker state per workspace and tool (0 closed, 1 half-open, 2 open)",
			},
			[]string{"workspace", "tool"},
		),

		TurnsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parlo_turns_in_flight",
				Help: "Turns currently being served",
			},
		),

		BrokerInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parlo_broker_in_flight",
				Help: "Tool dispatches currently running",
			},
		),

		ReplayCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "parlo_turn_replays_total",
				Help: "Envelopes replayed from the request cache",
			},
		),

		ShedCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "parlo_turns_shed_total",
				Help: "Turns rejected or downgraded by load shedding",
			},
		),
	}
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(route, outcome string, seconds float64) {
	m.TurnCounter.WithLabelValues(route, outcome).Inc()
	m.TurnDuration.WithLabelValues(route, outcome).Observe(seconds)
}

// ObserveStage records one pipeline stage duration.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordToolAttempt records one broker attempt.
func (m *Metrics) RecordToolAttempt(tool, resultKind string, seconds float64) {
	m.ToolAttemptCounter.WithLabelValues(tool, resultKind).Inc()
	m.ToolAttemptDuration.WithLabelValues(tool).Observe(seconds)
}

// SetBreakerState updates the breaker gauge for a (workspace, tool) pair.
func (m *Metrics) SetBreakerState(workspace, tool string, state float64) {
	m.BreakerState.WithLabelValues(workspace, tool).Set(state)
}
