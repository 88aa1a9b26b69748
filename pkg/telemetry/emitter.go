// Package telemetry emits the orchestrator's structured events and exports
// its Prometheus metrics. Every event that can carry user data goes through
// the redaction service first; no PII reaches a log line or a label.
package telemetry

import (
	"log/slog"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/redact"
)

// Emitter publishes structured telemetry events.
//
// Each public method emits one named event with a fixed dimension set,
// documented on the method. Events within a turn are emitted in execution
// order, so their timestamps are monotonic.
type Emitter struct {
	logger   *slog.Logger
	redactor *redact.Service
	metrics  *Metrics
}

// NewEmitter creates an Emitter. A nil logger falls back to slog.Default;
// metrics may be nil in unit tests that only care about events.
func NewEmitter(logger *slog.Logger, redactor *redact.Service, metrics *Metrics) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger, redactor: redactor, metrics: metrics}
}

// Metrics returns the metric collectors behind the emitter (nil-safe for
// callers that only emit events).
func (e *Emitter) Metrics() *Metrics { return e.metrics }

// EmitTurnRouted records the canary decision for a turn:
// {route, bucket, conversation_id_hash}.
func (e *Emitter) EmitTurnRouted(workspaceID, route string, bucket int, conversationHash string) {
	e.logger.Info("turn.routed",
		"workspace_id", workspaceID,
		"route", route,
		"bucket", bucket,
		"conversation_id_hash", conversationHash)
}

// EmitToolAttempt records one broker attempt:
// {tool, workspace, result_kind, status_code?, attempt, latency_ms} plus a
// redacted argument summary.
func (e *Emitter) EmitToolAttempt(workspaceID, tool string, kind models.ResultKind, statusCode *int, attempt int, latencyMS int64, args map[string]any) {
	attrs := []any{
		"workspace_id", workspaceID,
		"tool", tool,
		"result_kind", string(kind),
		"attempt", attempt,
		"latency_ms", latencyMS,
	}
	if statusCode != nil {
		attrs = append(attrs, "status_code", *statusCode)
	}
	if e.redactor != nil {
		attrs = append(attrs, "args", e.redactor.Args(args))
	}
	e.logger.Info("tool.attempt", attrs...)

	if e.metrics != nil {
		e.metrics.RecordToolAttempt(tool, string(kind), float64(latencyMS)/1000)
	}
}

// EmitTurnCompleted records the end of a turn with its stage timings.
func (e *Emitter) EmitTurnCompleted(workspaceID, route, outcome string, timings models.StageTimings, lowConfidence bool) {
	e.logger.Info("turn.completed",
		"workspace_id", workspaceID,
		"route", route,
		"outcome", outcome,
		"t_extract_ms", timings.ExtractMS,
		"t_plan_ms", timings.PlanMS,
		"t_policy_ms", timings.PolicyMS,
		"t_broker_ms", timings.BrokerMS,
		"t_reduce_ms", timings.ReduceMS,
		"t_nlg_ms", timings.NLGMS,
		"total_ms", timings.TotalMS,
		"low_confidence", lowConfidence)

	if e.metrics != nil {
		e.metrics.ObserveTurn(route, outcome, float64(timings.TotalMS)/1000)
		e.metrics.ObserveStage("extract", float64(timings.ExtractMS)/1000)
		e.metrics.ObserveStage("plan", float64(timings.PlanMS)/1000)
		e.metrics.ObserveStage("policy", float64(timings.PolicyMS)/1000)
		e.metrics.ObserveStage("broker", float64(timings.BrokerMS)/1000)
		e.metrics.ObserveStage("reduce", float64(timings.ReduceMS)/1000)
		e.metrics.ObserveStage("nlg", float64(timings.NLGMS)/1000)
	}
}

// EmitTurnReplayed records an envelope served from the replay cache.
func (e *Emitter) EmitTurnReplayed(workspaceID, requestID, conversationHash string) {
	e.logger.Info("turn.replayed",
		"workspace_id", workspaceID,
		"request_id", requestID,
		"conversation_id_hash", conversationHash,
		"replayed", true)

	if e.metrics != nil {
		e.metrics.ReplayCounter.Inc()
	}
}

// EmitTurnShed records a turn refused or downgraded under load.
func (e *Emitter) EmitTurnShed(workspaceID, reason string) {
	e.logger.Warn("turn.shed", "workspace_id", workspaceID, "reason", reason)

	if e.metrics != nil {
		e.metrics.ShedCounter.Inc()
	}
}

// EmitTenantMismatch records a cross-workspace access attempt. Security
// class: always logged at Error regardless of level configuration.
func (e *Emitter) EmitTenantMismatch(workspaceID, resourceWorkspaceID string) {
	e.logger.Error("tenant.mismatch",
		"workspace_id", workspaceID,
		"resource_workspace_id", resourceWorkspaceID)
}

// EmitBreakerTransition records a circuit state change and updates the gauge.
func (e *Emitter) EmitBreakerTransition(workspaceID, tool, from, to string, gauge float64) {
	e.logger.Warn("breaker.transition",
		"workspace_id", workspaceID,
		"tool", tool,
		"from", from,
		"to", to)

	if e.metrics != nil {
		e.metrics.SetBreakerState(workspaceID, tool, gauge)
	}
}

// EmitModelFallback records a model-stage failure that fell back to
// deterministic behavior (heuristic extraction, fallback plan, template).
func (e *Emitter) EmitModelFallback(workspaceID, stage, reason string) {
	e.logger.Warn("model.fallback",
		"workspace_id", workspaceID,
		"stage", stage,
		"reason", reason)
}
