package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/parlo-ai/parlo/pkg/cache"
	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// Ledger durably records successes of idempotency-keyed tools so duplicate
// suppression survives restarts. The broker logs and continues on ledger
// failures; the in-memory cache still covers the common case.
type Ledger interface {
	RecordActionExecution(ctx context.Context, call models.ToolCall, obs models.Observation, expiresAt time.Time) error
}

// Broker owns outbound tool calls and their idempotency cache. One Broker
// serves the whole process; all state is keyed by (workspace, tool).
type Broker struct {
	cfg      config.BrokerConfig
	breakers *BreakerSet
	idem     *cache.TTL[models.Observation]
	permits  *permitTable
	http     Transport
	local    Transport
	emitter  *telemetry.Emitter
	ledger   Ledger
}

// New creates a Broker. ledger may be nil when durable idempotency is not
// wired (tests, memory-store deployments).
func New(cfg config.BrokerConfig, breakers *BreakerSet, httpTransport, localTransport Transport, emitter *telemetry.Emitter, ledger Ledger) *Broker {
	return &Broker{
		cfg:      cfg,
		breakers: breakers,
		idem:     cache.New[models.Observation](cache.Options{MaxSize: cfg.IdempotencyMaxEntries}),
		permits:  newPermitTable(cfg.GlobalInFlightCap),
		http:     httpTransport,
		local:    localTransport,
		emitter:  emitter,
		ledger:   ledger,
	}
}

// Breakers exposes the breaker set for admin operations.
func (b *Broker) Breakers() *BreakerSet { return b.breakers }

// Execute runs one validated call to completion and returns exactly one
// observation. It never returns an error: every failure mode is a result
// kind the reducer and response generator know how to phrase.
func (b *Broker) Execute(ctx context.Context, call models.ToolCall, spec tenant.ToolSpec) models.Observation {
	start := time.Now()
	fp := call.Fingerprint()

	if obs, ok := b.replay(fp, call); ok {
		return obs
	}

	if obs, blocked := b.checkRequestSize(call, spec, fp); blocked {
		return obs
	}

	if !b.breakers.Admit(call.WorkspaceID, call.Tool) {
		obs := models.Observation{
			Tool:        call.Tool,
			Kind:        models.ResultCircuitOpen,
			Error:       "circuit open",
			Fingerprint: fp,
		}
		b.emitAttempt(call, obs.Kind, nil, 0, 0)
		return obs
	}

	release, err := b.permits.acquire(ctx, call.WorkspaceID, call.Tool, spec.ConcurrencyCap)
	if err != nil {
		// Admission was granted; give the probe back before bailing out.
		b.breakers.CancelProbe(call.WorkspaceID, call.Tool)
		obs := models.Observation{
			Tool:        call.Tool,
			Kind:        models.ResultTimeout,
			Error:       "no concurrency permit before deadline",
			LatencyMS:   time.Since(start).Milliseconds(),
			Fingerprint: fp,
		}
		b.emitAttempt(call, obs.Kind, nil, 0, obs.LatencyMS)
		return obs
	}
	defer release()

	b.addInFlight(1)
	obs := b.attemptLoop(ctx, call, spec, fp)
	b.addInFlight(-1)

	obs.LatencyMS = time.Since(start).Milliseconds()

	switch obs.Kind {
	case models.ResultSuccess:
		b.breakers.RecordSuccess(call.WorkspaceID, call.Tool)
	case models.ResultFailure, models.ResultTimeout:
		b.breakers.RecordFailure(call.WorkspaceID, call.Tool)
	}

	b.cacheFinal(spec, fp, obs)
	b.writeLedger(ctx, call, spec, obs)
	return obs
}

// attemptLoop drives the per-attempt timeout, retry classification and
// backoff. The observation's Kind/Error/StatusCode reflect the last attempt.
func (b *Broker) attemptLoop(ctx context.Context, call models.ToolCall, spec tenant.ToolSpec, fp string) models.Observation {
	transport := b.transportFor(spec)
	obs := models.Observation{Tool: call.Tool, Fingerprint: fp}
	if transport == nil {
		obs.Kind = models.ResultFailure
		obs.Error = fmt.Sprintf("no transport configured for %q", spec.Transport)
		b.emitAttempt(call, obs.Kind, nil, 0, 0)
		return obs
	}

	maxAttempts := spec.Attempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		obs.Attempts = attempt
		obs.Error = ""
		obs.StatusCode = nil
		obs.Payload = nil

		attemptStart := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, spec.Timeout())
		res, err := transport.Invoke(attemptCtx, call, spec)
		cancel()
		latency := time.Since(attemptStart).Milliseconds()

		var retryable bool
		var retryAfter time.Duration

		switch {
		case errors.Is(err, ErrResponseTooLarge):
			status := http.StatusRequestEntityTooLarge
			obs.Kind, obs.Error, obs.StatusCode = models.ResultFailure, "response body exceeds size limit", &status
		case err != nil && ctx.Err() != nil:
			// The turn deadline (or caller cancellation) fired; there is no
			// budget left to retry into.
			obs.Kind, obs.Error = models.ResultTimeout, "turn deadline exceeded"
		case errors.Is(err, context.DeadlineExceeded):
			obs.Kind, obs.Error = models.ResultTimeout, "attempt timed out"
			retryable = true
		case err != nil:
			obs.Kind, obs.Error = models.ResultFailure, err.Error()
			retryable = true
		default:
			status := res.StatusCode
			obs.StatusCode = &status
			obs.Payload = decodePayload(res.Body)
			retryAfter = res.RetryAfter
			if status >= 200 && status < 300 {
				obs.Kind, obs.Error = models.ResultSuccess, ""
			} else {
				obs.Kind = models.ResultFailure
				obs.Error = fmt.Sprintf("tool returned status %d", status)
				retryable = isRetryableStatus(status, spec.RetryableStatus)
			}
		}

		b.emitAttempt(call, obs.Kind, obs.StatusCode, attempt, latency)

		if obs.Kind == models.ResultSuccess || !retryable || attempt == maxAttempts {
			return obs
		}

		delay := retryAfter
		if delay <= 0 {
			delay = backoffDelay(b.cfg, attempt)
		}
		select {
		case <-ctx.Done():
			obs.Kind, obs.Error = models.ResultTimeout, "turn deadline exceeded during backoff"
			return obs
		case <-time.After(delay):
		}
	}
	return obs
}

// replay serves an equal fingerprint inside the idempotency window from
// cache: successes come back as DUPLICATE with the original payload, cached
// final failures come back unchanged. No tool invocation either way.
func (b *Broker) replay(fp string, call models.ToolCall) (models.Observation, bool) {
	cached, ok := b.idem.Get(fp)
	if !ok {
		return models.Observation{}, false
	}
	obs := cached
	obs.Attempts = 0
	obs.LatencyMS = 0
	if cached.Kind == models.ResultSuccess {
		obs.Kind = models.ResultDuplicate
	}
	b.emitAttempt(call, obs.Kind, obs.StatusCode, 0, 0)
	return obs, true
}

// checkRequestSize enforces the request-body guardrail before any breaker or
// permit bookkeeping. Oversized requests fail immediately and are never
// retried.
func (b *Broker) checkRequestSize(call models.ToolCall, spec tenant.ToolSpec, fp string) (models.Observation, bool) {
	body, err := models.CanonicalArgs(call.Args)
	if err != nil {
		obs := models.Observation{
			Tool:        call.Tool,
			Kind:        models.ResultFailure,
			Error:       "arguments are not encodable as JSON",
			Fingerprint: fp,
		}
		b.emitAttempt(call, obs.Kind, nil, 0, 0)
		return obs, true
	}
	if spec.MaxRequestBytes <= 0 || len(body) <= spec.MaxRequestBytes {
		return models.Observation{}, false
	}
	status := http.StatusRequestEntityTooLarge
	obs := models.Observation{
		Tool:        call.Tool,
		Kind:        models.ResultFailure,
		Error:       "request body exceeds size limit",
		StatusCode:  &status,
		Fingerprint: fp,
	}
	b.emitAttempt(call, obs.Kind, obs.StatusCode, 0, 0)
	return obs, true
}

// cacheFinal records settled outcomes for duplicate suppression. TIMEOUT and
// CIRCUIT_OPEN are transient and never cached.
func (b *Broker) cacheFinal(spec tenant.ToolSpec, fp string, obs models.Observation) {
	if obs.Kind != models.ResultSuccess && obs.Kind != models.ResultFailure {
		return
	}
	ttl := spec.IdempotencyTTL()
	if ttl <= 0 {
		return
	}
	b.idem.SetTTL(fp, obs, ttl)
}

func (b *Broker) writeLedger(ctx context.Context, call models.ToolCall, spec tenant.ToolSpec, obs models.Observation) {
	if b.ledger == nil || !spec.Idempotent || obs.Kind != models.ResultSuccess {
		return
	}
	expiresAt := time.Now().Add(spec.IdempotencyTTL())
	if err := b.ledger.RecordActionExecution(ctx, call, obs, expiresAt); err != nil {
		slog.Warn("failed to record action execution",
			"workspace_id", call.WorkspaceID,
			"tool", call.Tool,
			"error", err)
	}
}

func (b *Broker) transportFor(spec tenant.ToolSpec) Transport {
	if spec.Transport == tenant.TransportLocal {
		return b.local
	}
	return b.http
}

func (b *Broker) emitAttempt(call models.ToolCall, kind models.ResultKind, status *int, attempt int, latencyMS int64) {
	if b.emitter == nil {
		return
	}
	b.emitter.EmitToolAttempt(call.WorkspaceID, call.Tool, kind, status, attempt, latencyMS, call.Args)
}

func (b *Broker) addInFlight(delta float64) {
	if b.emitter == nil || b.emitter.Metrics() == nil {
		return
	}
	b.emitter.Metrics().BrokerInFlight.Add(delta)
}

// decodePayload shapes a tool response body into the observation payload:
// objects pass through, other JSON values are wrapped under "data",
// non-JSON bodies under "text".
func decodePayload(body json.RawMessage) map[string]any {
	if len(body) == 0 {
		return nil
	}
	var asMap map[string]any
	if err := json.Unmarshal(body, &asMap); err == nil {
		return asMap
	}
	var asAny any
	if err := json.Unmarshal(body, &asAny); err == nil {
		return map[string]any{"data": asAny}
	}
	return map[string]any{"text": string(body)}
}

// isRetryableStatus applies the built-in retryable set (408, 429, 5xx) plus
// the tool's declared extras.
func isRetryableStatus(status int, extra []int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	for _, s := range extra {
		if s == status {
			return true
		}
	}
	return false
}

// backoffDelay is full-jitter exponential backoff: uniform over
// [0, base*factor^(attempt-1)], capped at the configured ceiling.
func backoffDelay(cfg config.BrokerConfig, attempt int) time.Duration {
	base := cfg.BackoffBase
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	ceiling := float64(base) * math.Pow(factor, float64(attempt-1))
	if cfg.BackoffMax > 0 && ceiling > float64(cfg.BackoffMax) {
		ceiling = float64(cfg.BackoffMax)
	}
	return time.Duration(rand.Float64() * ceiling) // #nosec G404 -- jitter needs no cryptographic randomness
}
