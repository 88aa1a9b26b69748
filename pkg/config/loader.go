package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load parlo.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Resolve built-in defaults for unset values
//  5. Validate the resolved configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"addr", cfg.Server.Addr,
		"turn_deadline", cfg.Pipeline.TurnDeadline,
		"staged_enabled", cfg.Rollout.StagedEnabled,
		"default_canary_percent", cfg.Rollout.DefaultCanaryPercent,
		"log_redaction", cfg.Telemetry.LogRedaction)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	parloConfig, err := loader.loadParloYAML()
	if err != nil {
		return nil, NewLoadError("parlo.yaml", err)
	}

	return &Config{
		configDir: configDir,
		Server:    resolveServerConfig(parloConfig.Server),
		Pipeline:  resolvePipelineConfig(parloConfig.Pipeline),
		Rollout:   resolveRolloutConfig(parloConfig.Rollout),
		Broker:    resolveBrokerConfig(parloConfig.Broker),
		Model:     resolveModelConfig(parloConfig.Model),
		Tenancy:   resolveTenancyConfig(parloConfig.Tenancy),
		Retention: resolveRetentionConfig(parloConfig.Retention),
		Telemetry: resolveTelemetryConfig(parloConfig.Telemetry),
	}, nil
}

// validate performs comprehensive validation on the resolved configuration
func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes the original data through on parse/execution errors,
	// letting the YAML parser produce the clearer failure message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadParloYAML() (*ParloYAMLConfig, error) {
	var config ParloYAMLConfig
	if err := l.loadYAML("parlo.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// parseDuration parses a duration string, warning and falling back to the
// default on bad values so a typo degrades rather than bricks the boot.
func parseDuration(section, field, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"section", section, "field", field, "value", value,
			"default", fallback, "error", err)
		return fallback
	}
	return d
}

func resolveServerConfig(y *ServerYAMLConfig) ServerConfig {
	cfg := DefaultServerConfig()
	if y == nil {
		return cfg
	}
	if y.Addr != "" {
		cfg.Addr = y.Addr
	}
	cfg.ReadTimeout = parseDuration("server", "read_timeout", y.ReadTimeout, cfg.ReadTimeout)
	cfg.WriteTimeout = parseDuration("server", "write_timeout", y.WriteTimeout, cfg.WriteTimeout)
	return cfg
}

func resolvePipelineConfig(y *PipelineYAMLConfig) PipelineConfig {
	cfg := DefaultPipelineConfig()
	if y == nil {
		return cfg
	}
	cfg.TurnDeadline = parseDuration("pipeline", "turn_deadline", y.TurnDeadline, cfg.TurnDeadline)
	cfg.GracefulShutdownTimeout = parseDuration("pipeline", "graceful_shutdown_timeout", y.GracefulShutdownTimeout, cfg.GracefulShutdownTimeout)
	if y.MaxTurnsInFlight != nil {
		cfg.MaxTurnsInFlight = *y.MaxTurnsInFlight
	}
	cfg.ReplayTTL = parseDuration("pipeline", "replay_ttl", y.ReplayTTL, cfg.ReplayTTL)
	if y.ReplayMaxEntries != nil {
		cfg.ReplayMaxEntries = *y.ReplayMaxEntries
	}
	if y.LowConfidenceThreshold != nil {
		cfg.LowConfidenceThreshold = *y.LowConfidenceThreshold
	}
	return cfg
}

func resolveRolloutConfig(y *RolloutYAMLConfig) RolloutConfig {
	cfg := DefaultRolloutConfig()
	if y == nil {
		return cfg
	}
	if y.StagedEnabled != nil {
		cfg.StagedEnabled = *y.StagedEnabled
	}
	if y.DefaultCanaryPercent != nil {
		cfg.DefaultCanaryPercent = *y.DefaultCanaryPercent
	}
	return cfg
}

func resolveBrokerConfig(y *BrokerYAMLConfig) BrokerConfig {
	cfg := DefaultBrokerConfig()
	if y == nil {
		return cfg
	}
	if y.GlobalInFlightCap != nil {
		cfg.GlobalInFlightCap = *y.GlobalInFlightCap
	}
	cfg.BackoffBase = parseDuration("broker", "backoff_base", y.BackoffBase, cfg.BackoffBase)
	if y.BackoffFactor != nil {
		cfg.BackoffFactor = *y.BackoffFactor
	}
	cfg.BackoffMax = parseDuration("broker", "backoff_max", y.BackoffMax, cfg.BackoffMax)
	if y.Breaker != nil {
		cfg.Breaker.Window = parseDuration("broker.breaker", "window", y.Breaker.Window, cfg.Breaker.Window)
		if y.Breaker.FailureThreshold != nil {
			cfg.Breaker.FailureThreshold = *y.Breaker.FailureThreshold
		}
		cfg.Breaker.Cooldown = parseDuration("broker.breaker", "cooldown", y.Breaker.Cooldown, cfg.Breaker.Cooldown)
	}
	if y.IdempotencyMaxEntries != nil {
		cfg.IdempotencyMaxEntries = *y.IdempotencyMaxEntries
	}
	if y.DefaultToolTimeoutMS != nil {
		cfg.DefaultToolTimeoutMS = *y.DefaultToolTimeoutMS
	}
	if y.DefaultToolMaxAttempts != nil {
		cfg.DefaultToolMaxAttempts = *y.DefaultToolMaxAttempts
	}
	return cfg
}

func resolveModelConfig(y *ModelYAMLConfig) ModelConfig {
	cfg := DefaultModelConfig()
	if y == nil {
		return cfg
	}
	if y.BaseURL != "" {
		cfg.BaseURL = y.BaseURL
	}
	if y.APIKeyEnv != "" {
		cfg.APIKeyEnv = y.APIKeyEnv
	}
	if y.ExtractorModel != "" {
		cfg.ExtractorModel = y.ExtractorModel
	}
	if y.PlannerModel != "" {
		cfg.PlannerModel = y.PlannerModel
	}
	if y.ResponderModel != "" {
		cfg.ResponderModel = y.ResponderModel
	}
	if y.LegacyModel != "" {
		cfg.LegacyModel = y.LegacyModel
	}
	cfg.RequestTimeout = parseDuration("model", "request_timeout", y.RequestTimeout, cfg.RequestTimeout)
	if y.Temperature != nil {
		cfg.Temperature = *y.Temperature
	}
	if y.MaxTokens != nil {
		cfg.MaxTokens = *y.MaxTokens
	}
	return cfg
}

func resolveTenancyConfig(y *TenancyYAMLConfig) TenancyConfig {
	cfg := DefaultTenancyConfig()
	if y == nil {
		return cfg
	}
	cfg.CacheTTL = parseDuration("tenancy", "cache_ttl", y.CacheTTL, cfg.CacheTTL)
	return cfg
}

func resolveRetentionConfig(y *RetentionYAMLConfig) RetentionConfig {
	cfg := DefaultRetentionConfig()
	if y == nil {
		return cfg
	}
	if y.StateRetentionDays != nil {
		cfg.StateRetentionDays = *y.StateRetentionDays
	}
	cfg.OutboxTTL = parseDuration("retention", "outbox_ttl", y.OutboxTTL, cfg.OutboxTTL)
	cfg.ExecutionTTL = parseDuration("retention", "execution_ttl", y.ExecutionTTL, cfg.ExecutionTTL)
	cfg.CleanupInterval = parseDuration("retention", "cleanup_interval", y.CleanupInterval, cfg.CleanupInterval)
	return cfg
}

func resolveTelemetryConfig(y *TelemetryYAMLConfig) TelemetryConfig {
	cfg := DefaultTelemetryConfig()
	if y == nil {
		return cfg
	}
	if y.LogRedaction != nil {
		cfg.LogRedaction = *y.LogRedaction
	}
	if y.LogLevel != "" {
		cfg.LogLevel = y.LogLevel
	}
	return cfg
}
