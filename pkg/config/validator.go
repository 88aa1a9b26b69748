package config

import (
	"fmt"
	"strings"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validatePipeline(); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}
	if err := v.validateRollout(); err != nil {
		return fmt.Errorf("rollout validation failed: %w", err)
	}
	if err := v.validateBroker(); err != nil {
		return fmt.Errorf("broker validation failed: %w", err)
	}
	if err := v.validateModel(); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	if err := v.validateTelemetry(); err != nil {
		return fmt.Errorf("telemetry validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	if v.cfg.Server.Addr == "" {
		return NewValidationError("server", "addr", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p.TurnDeadline <= 0 {
		return NewValidationError("pipeline", "turn_deadline", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.GracefulShutdownTimeout <= 0 {
		return NewValidationError("pipeline", "graceful_shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.MaxTurnsInFlight < 0 {
		return NewValidationError("pipeline", "max_turns_in_flight", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if p.ReplayMaxEntries < 0 {
		return NewValidationError("pipeline", "replay_max_entries", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if p.LowConfidenceThreshold < 0 || p.LowConfidenceThreshold > 1 {
		return NewValidationError("pipeline", "low_confidence_threshold", fmt.Errorf("%w: must be between 0 and 1", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateRollout() error {
	r := v.cfg.Rollout
	if r.DefaultCanaryPercent < 0 || r.DefaultCanaryPercent > 100 {
		return NewValidationError("rollout", "default_canary_percent", fmt.Errorf("%w: must be between 0 and 100", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateBroker() error {
	b := v.cfg.Broker
	if b.GlobalInFlightCap < 1 {
		return NewValidationError("broker", "global_in_flight_cap", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.BackoffFactor < 1 {
		return NewValidationError("broker", "backoff_factor", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.BackoffBase <= 0 || b.BackoffMax <= 0 {
		return NewValidationError("broker", "backoff", fmt.Errorf("%w: base and max must be positive", ErrInvalidValue))
	}
	if b.BackoffMax < b.BackoffBase {
		return NewValidationError("broker", "backoff_max", fmt.Errorf("%w: must not be below backoff_base", ErrInvalidValue))
	}
	if b.Breaker.FailureThreshold < 1 {
		return NewValidationError("broker.breaker", "failure_threshold", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.Breaker.Window <= 0 || b.Breaker.Cooldown <= 0 {
		return NewValidationError("broker.breaker", "window", fmt.Errorf("%w: window and cooldown must be positive", ErrInvalidValue))
	}
	if b.DefaultToolTimeoutMS < 1 {
		return NewValidationError("broker", "default_tool_timeout_ms", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.DefaultToolMaxAttempts < 1 {
		return NewValidationError("broker", "default_tool_max_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateModel() error {
	m := v.cfg.Model
	if m.BaseURL == "" {
		return NewValidationError("model", "base_url", ErrMissingRequiredField)
	}
	if m.RequestTimeout <= 0 {
		return NewValidationError("model", "request_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.ExtractorModel == "" || m.PlannerModel == "" || m.ResponderModel == "" || m.LegacyModel == "" {
		return NewValidationError("model", "models", fmt.Errorf("%w: every pipeline stage needs a model name", ErrMissingRequiredField))
	}
	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if r.StateRetentionDays < 1 {
		return NewValidationError("retention", "state_retention_days", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateTelemetry() error {
	switch strings.ToLower(v.cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return NewValidationError("telemetry", "log_level", fmt.Errorf("%w: must be debug, info, warn or error", ErrInvalidValue))
	}
}
