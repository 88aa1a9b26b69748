// Package e2e provides end-to-end test infrastructure for the parlo
// orchestrator: a full application instance on the in-memory store, driven
// over real HTTP, with a scripted model client and an adjustable clock.
package e2e

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/parlo-ai/parlo/pkg/api"
	"github.com/parlo-ai/parlo/pkg/broker"
	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/dialogue"
	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/pipeline"
	"github.com/parlo-ai/parlo/pkg/policy"
	"github.com/parlo-ai/parlo/pkg/redact"
	"github.com/parlo-ai/parlo/pkg/reply"
	"github.com/parlo-ai/parlo/pkg/routing"
	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
	"github.com/parlo-ai/parlo/pkg/turn"
)

// Stage model names the scripted client routes on. Scripting an entry for
// only one stage leaves the other stages on their deterministic fallbacks.
const (
	extractorModel = "parlo-extractor-v2"
	plannerModel   = "parlo-planner-v2"
	responderModel = "parlo-responder-v1"
	legacyModel    = "parlo-legacy-v1"
)

// testStart pins "today" so relative expressions like "mañana" resolve to
// fixed dates across runs.
var testStart = time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

// testClock is the fake clock shared by every component that accepts an
// injected now func. Advance is safe while turns are in flight.
type testClock struct {
	unixNano atomic.Int64
}

func newTestClock(start time.Time) *testClock {
	c := &testClock{}
	c.unixNano.Store(start.UnixNano())
	return c
}

func (c *testClock) Now() time.Time { return time.Unix(0, c.unixNano.Load()).UTC() }

func (c *testClock) Advance(d time.Duration) { c.unixNano.Add(int64(d)) }

// logBuffer captures the app's structured log output so tests can assert on
// what was (and was not) logged.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestApp boots a complete parlo instance for e2e testing.
type TestApp struct {
	// Core
	Config *config.Config
	Store  *store.Memory

	// Mocks / test wiring
	Model *model.Scripted
	Tools *broker.LocalRegistry

	// Real infrastructure
	Tenants  *tenant.Cache
	Breakers *broker.BreakerSet
	Turns    *turn.Service
	Server   *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"
	Logs    *logBuffer

	clock *testClock
	t     *testing.T
}

// Now returns the app's current fake time.
func (app *TestApp) Now() time.Time { return app.clock.Now() }

// Advance moves the app's fake clock forward. Breaker cooldowns, policy
// windows and store timestamps all follow it.
func (app *TestApp) Advance(d time.Duration) { app.clock.Advance(d) }

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg        *config.Config
	script     *model.Scripted
	workspaces []*tenant.Workspace
	locals     map[string]broker.LocalFunc
	start      time.Time
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithScript sets a pre-scripted model client.
func WithScript(script *model.Scripted) TestAppOption {
	return func(c *testAppConfig) { c.script = script }
}

// WithWorkspace seeds a workspace document into the store. May be repeated;
// when absent the standard booking workspace is seeded.
func WithWorkspace(ws *tenant.Workspace) TestAppOption {
	return func(c *testAppConfig) { c.workspaces = append(c.workspaces, ws) }
}

// WithLocalTool registers an in-process tool implementation.
func WithLocalTool(name string, fn broker.LocalFunc) TestAppOption {
	return func(c *testAppConfig) { c.locals[name] = fn }
}

// WithNow overrides the fake clock's start time.
func WithNow(start time.Time) TestAppOption {
	return func(c *testAppConfig) { c.start = start }
}

// defaultTestConfig keeps timeouts short and backoff near-zero so retry
// loops never slow the suite down.
func defaultTestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Pipeline: config.PipelineConfig{
			TurnDeadline:            5 * time.Second,
			GracefulShutdownTimeout: 5 * time.Second,
			ReplayTTL:               time.Minute,
			ReplayMaxEntries:        128,
		},
		Rollout: config.RolloutConfig{
			StagedEnabled: true,
		},
		Broker: config.BrokerConfig{
			GlobalInFlightCap: 16,
			BackoffBase:       time.Millisecond,
			BackoffFactor:     2,
			BackoffMax:        5 * time.Millisecond,
			Breaker: config.BreakerConfig{
				Window:           10 * time.Second,
				FailureThreshold: 3,
				Cooldown:         60 * time.Second,
			},
			IdempotencyMaxEntries:  1024,
			DefaultToolTimeoutMS:   1500,
			DefaultToolMaxAttempts: 3,
		},
		Model: config.ModelConfig{
			ExtractorModel: extractorModel,
			PlannerModel:   plannerModel,
			ResponderModel: responderModel,
			LegacyModel:    legacyModel,
			RequestTimeout: 2 * time.Second,
			MaxTokens:      512,
		},
		Tenancy:   config.TenancyConfig{CacheTTL: time.Minute},
		Telemetry: config.TelemetryConfig{LogRedaction: true, LogLevel: "debug"},
	}
}

// bookingWorkspace is the standard hair-salon tenant the scenarios run
// against. Timezone is left empty so date normalization resolves in UTC.
func bookingWorkspace() *tenant.Workspace {
	return &tenant.Workspace{
		WorkspaceID:   "ws-pelu-001",
		Name:          "Peluquería Sol",
		Vertical:      "salon",
		Language:      "es",
		StagedEnabled: true,
		SlotSchema: map[string]tenant.SlotSpec{
			"service_type":   {Type: models.SlotKindString, MaxLength: 80},
			"preferred_date": {Type: models.SlotKindString, Format: "date"},
			"preferred_time": {Type: models.SlotKindString, Format: "time"},
			"booking_id":     {Type: models.SlotKindString},
		},
		RequiredSlots: map[models.Intent][]string{
			models.IntentBook: {"service_type", "preferred_date", "preferred_time"},
		},
		Tools: map[string]tenant.ToolSpec{
			"check_service_availability": {
				Name:      "check_service_availability",
				Transport: tenant.TransportLocal,
				RetrySafe: true,
			},
			"book_appointment": {
				Name:       "book_appointment",
				Transport:  tenant.TransportLocal,
				Mutating:   true,
				Idempotent: true,
			},
		},
		Catalog: tenant.ServiceCatalog{
			Services: []tenant.ServiceEntry{
				{Name: "Corte", Price: 3500, DurationMin: 30},
				{Name: "Color", Price: 9000, DurationMin: 90},
			},
			Hours: "Lun-Sab 9:00-19:00",
		},
	}
}

// NewTestApp boots a complete parlo instance on an ephemeral port and
// registers cleanup in reverse creation order.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		start:  testStart,
		locals: map[string]broker.LocalFunc{},
	}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	if tc.script == nil {
		tc.script = model.NewScripted()
	}
	if len(tc.workspaces) == 0 {
		tc.workspaces = []*tenant.Workspace{bookingWorkspace()}
	}

	ctx := context.Background()
	clock := newTestClock(tc.start)

	// 1. Store on the fake clock, seeded with the tenant documents
	mem := store.NewMemoryAt(clock.Now)
	for _, ws := range tc.workspaces {
		require.NoError(t, mem.SaveWorkspace(ctx, ws))
	}
	t.Cleanup(func() { _ = mem.Close() })

	// 2. Telemetry: captured JSON logs, private metrics registry, redaction
	logs := &logBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	redactor := redact.NewService(tc.cfg.Telemetry.LogRedaction)
	emitter := telemetry.NewEmitter(logger, redactor, metrics)
	warnings := telemetry.NewWarnings()

	// 3. Tenant cache. The background refresh loop stays off; tests resolve
	// on demand and the per-test TTL never expires.
	toolDefaults := tenant.DefaultToolSpec()
	toolDefaults.TimeoutMS = tc.cfg.Broker.DefaultToolTimeoutMS
	toolDefaults.MaxAttempts = tc.cfg.Broker.DefaultToolMaxAttempts
	tenants := tenant.NewCache(mem, tc.cfg.Tenancy.CacheTTL, toolDefaults)
	tenants.SetWarnings(warnings)

	// 4. Tool broker over the local registry
	locals := broker.NewLocalRegistry()
	for name, fn := range tc.locals {
		locals.Register(name, fn)
	}
	breakers := broker.NewBreakerSetAt(tc.cfg.Broker.Breaker, emitter, clock.Now)
	toolBroker := broker.New(tc.cfg.Broker, breakers, broker.NewHTTPTool(), locals, emitter, mem)

	// 5. Pipeline stages on the scripted model client
	orchestrator := pipeline.NewOrchestrator(
		pipeline.NewExtractor(tc.script, tc.cfg.Model, emitter),
		pipeline.NewPlanner(tc.script, tc.cfg.Model, emitter),
		policy.NewEngineAt(clock.Now),
		toolBroker,
		dialogue.NewReducerAt(clock.Now),
		reply.NewGenerator(tc.script, tc.cfg.Model, emitter),
		emitter,
		tc.cfg.Pipeline,
	)
	legacy := pipeline.NewLegacy(tc.script, tc.cfg.Model, emitter)

	// 6. Turn service
	turns := turn.NewServiceAt(tc.cfg, mem, tenants, routing.NewRouter(emitter), orchestrator, legacy, emitter, clock.Now)
	t.Cleanup(func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = turns.Stop(drainCtx)
	})

	// 7. HTTP server on an ephemeral port
	server := api.NewServer(api.ServerDeps{
		Config:   tc.cfg,
		Turns:    turns,
		Store:    mem,
		Tenants:  tenants,
		Breakers: breakers,
		Warnings: warnings,
		Gatherer: registry,
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.StartWithListener(ln) }()
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return &TestApp{
		Config:   tc.cfg,
		Store:    mem,
		Model:    tc.script,
		Tools:    locals,
		Tenants:  tenants,
		Breakers: breakers,
		Turns:    turns,
		Server:   server,
		BaseURL:  fmt.Sprintf("http://%s", ln.Addr().String()),
		Logs:     logs,
		clock:    clock,
		t:        t,
	}
}
