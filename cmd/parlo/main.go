// Parlo orchestrator server: serves the turn API, runs the staged pipeline
// with legacy fallback, and manages the retention and notification loops.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parlo-ai/parlo/pkg/api"
	"github.com/parlo-ai/parlo/pkg/broker"
	"github.com/parlo-ai/parlo/pkg/cleanup"
	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/dialogue"
	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/pipeline"
	"github.com/parlo-ai/parlo/pkg/policy"
	"github.com/parlo-ai/parlo/pkg/redact"
	"github.com/parlo-ai/parlo/pkg/reply"
	"github.com/parlo-ai/parlo/pkg/routing"
	"github.com/parlo-ai/parlo/pkg/slack"
	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
	"github.com/parlo-ai/parlo/pkg/turn"
	"github.com/parlo-ai/parlo/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// logSink drains the outbox into the log when no Slack channel is
// configured, so undelivered rows do not accumulate forever.
type logSink struct{}

func (logSink) Notify(_ context.Context, event store.OutboxEvent) error {
	slog.Info("Outbox event (no Slack sink configured)",
		"kind", event.Kind,
		"workspace_id", event.WorkspaceID,
		"conversation_id", event.ConversationID,
		"tool_name", event.Payload["tool_name"])
	return nil
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	setLogger(slog.LevelInfo)

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting parlo",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	setLogger(logLevel(cfg.Telemetry.LogLevel))

	// 2. Initialize store: PostgreSQL by default, PARLO_STORE=memory for
	// local single-process runs
	var st store.Store
	var db *sql.DB
	if getEnv("PARLO_STORE", "postgres") == "memory" {
		slog.Warn("Using in-memory store, state will not survive restarts")
		st = store.NewMemory()
	} else {
		pgConfig, err := store.LoadPostgresConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		pg, err := store.NewPostgres(ctx, pgConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		st = pg
		db = pg.DB()
		slog.Info("Connected to PostgreSQL database")
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	// 3. Telemetry: metrics registry, PII redaction, event emitter
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	redactor := redact.NewService(cfg.Telemetry.LogRedaction)
	emitter := telemetry.NewEmitter(slog.Default(), redactor, metrics)
	warnings := telemetry.NewWarnings()

	// 4. Tenant cache with background refresh
	toolDefaults := tenant.DefaultToolSpec()
	toolDefaults.TimeoutMS = cfg.Broker.DefaultToolTimeoutMS
	toolDefaults.MaxAttempts = cfg.Broker.DefaultToolMaxAttempts
	tenants := tenant.NewCache(st, cfg.Tenancy.CacheTTL, toolDefaults)
	tenants.SetWarnings(warnings)
	tenants.Start(ctx)
	defer tenants.Stop()

	// 5. Model client and pipeline stages
	client := model.NewOpenAIClient(cfg.Model)
	breakers := broker.NewBreakerSet(cfg.Broker.Breaker, emitter)
	toolBroker := broker.New(cfg.Broker, breakers, broker.NewHTTPTool(), broker.NewLocalRegistry(), emitter, st)
	orchestrator := pipeline.NewOrchestrator(
		pipeline.NewExtractor(client, cfg.Model, emitter),
		pipeline.NewPlanner(client, cfg.Model, emitter),
		policy.NewEngine(),
		toolBroker,
		dialogue.NewReducer(),
		reply.NewGenerator(client, cfg.Model, emitter),
		emitter,
		cfg.Pipeline,
	)
	legacy := pipeline.NewLegacy(client, cfg.Model, emitter)
	slog.Info("Pipeline initialized",
		"extractor_model", cfg.Model.ExtractorModel,
		"planner_model", cfg.Model.PlannerModel,
		"legacy_model", cfg.Model.LegacyModel)

	// 6. Turn service
	turns := turn.NewService(cfg, st, tenants, routing.NewRouter(emitter), orchestrator, legacy, emitter)

	// 7. Retention cleanup loop
	cleaner := cleanup.NewService(&cfg.Retention, st)
	cleaner.Start(ctx)
	defer cleaner.Stop()

	// 8. Outbox dispatcher: Slack when configured, the log otherwise
	var sink slack.Notifier = logSink{}
	if notifier := slack.NewService(slack.ServiceConfig{
		Token:        os.Getenv("SLACK_BOT_TOKEN"),
		Channel:      os.Getenv("SLACK_CHANNEL"),
		DashboardURL: os.Getenv("DASHBOARD_URL"),
	}); notifier != nil {
		sink = notifier
		slog.Info("Slack notifications enabled")
	}
	dispatcher := slack.NewDispatcher(slack.DispatcherConfig{}, st, sink)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// 9. HTTP server (non-blocking)
	server := api.NewServer(api.ServerDeps{
		Config:   cfg,
		Turns:    turns,
		Store:    st,
		Tenants:  tenants,
		Breakers: breakers,
		Warnings: warnings,
		DB:       db,
		Gatherer: registry,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Parlo started successfully",
		"addr", cfg.Server.Addr,
		"staged_enabled", cfg.Rollout.StagedEnabled,
		"default_canary_percent", cfg.Rollout.DefaultCanaryPercent)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: drain in-flight turns first so their commits
	// land, then stop the listener
	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.Pipeline.GracefulShutdownTimeout)
	defer drainCancel()
	if err := turns.Stop(drainCtx); err != nil {
		slog.Warn("Drain timeout exceeded, abandoning in-flight turns", "error", err)
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
