package config

import "time"

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// ReadTimeout and WriteTimeout bound slow clients.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PipelineConfig controls per-turn execution.
type PipelineConfig struct {
	// TurnDeadline is the total latency budget for one turn. The turn runs
	// under a context with this timeout; stages that outlive it are
	// cancelled and the caller gets a degraded reply.
	TurnDeadline time.Duration

	// GracefulShutdownTimeout is how long in-flight turns get to finish
	// during drain before the process exits anyway.
	GracefulShutdownTimeout time.Duration

	// MaxTurnsInFlight bounds concurrently served turns; excess turns are
	// shed with a retry-later reply. Zero disables shedding.
	MaxTurnsInFlight int

	// ReplayTTL is how long a request id replays its original envelope.
	ReplayTTL time.Duration

	// ReplayMaxEntries bounds the replay cache.
	ReplayMaxEntries int

	// LowConfidenceThreshold is the extraction confidence below which the
	// turn is handled conservatively. Zero falls back to the built-in
	// default.
	LowConfidenceThreshold float64
}

// RolloutConfig is the environment-level rollout switch. Per-workspace
// staging and canary settings still apply; this gates them globally.
type RolloutConfig struct {
	// StagedEnabled is the global kill switch for the staged pipeline.
	// When false every turn runs the legacy path regardless of tenant
	// settings.
	StagedEnabled bool

	// DefaultCanaryPercent applies to workspaces that don't set their own.
	DefaultCanaryPercent int
}

// BrokerConfig controls tool dispatch.
type BrokerConfig struct {
	// GlobalInFlightCap bounds concurrent tool dispatches process-wide.
	GlobalInFlightCap int64

	// Backoff controls the retry delay schedule: full jitter over
	// base * factor^(attempt-1), capped at max.
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration

	// Breaker holds the circuit breaker tuning shared by all
	// (workspace, tool) pairs.
	Breaker BreakerConfig

	// IdempotencyMaxEntries bounds the duplicate-suppression cache.
	IdempotencyMaxEntries int

	// Tool defaults merged under tenant tool specs at load time.
	DefaultToolTimeoutMS   int
	DefaultToolMaxAttempts int
}

// BreakerConfig tunes the sliding-window circuit breaker.
type BreakerConfig struct {
	// Window is how far back failures count toward the threshold.
	Window time.Duration

	// FailureThreshold opens the circuit when this many failures land
	// within the window.
	FailureThreshold int

	// Cooldown is how long an OPEN circuit waits before admitting the
	// half-open probe.
	Cooldown time.Duration
}

// ModelConfig points the pipeline at its model runtime (an OpenAI-compatible
// chat completions endpoint).
type ModelConfig struct {
	// BaseURL is the endpoint base, e.g. "https://models.internal/v1".
	BaseURL string

	// APIKeyEnv names the env var holding the API key; the key itself
	// never appears in YAML.
	APIKeyEnv string

	// Per-stage model names. The extractor and planner favor small fast
	// models; the legacy path runs one larger model per turn.
	ExtractorModel string
	PlannerModel   string
	ResponderModel string
	LegacyModel    string

	// RequestTimeout bounds one model call.
	RequestTimeout time.Duration

	Temperature float32
	MaxTokens   int
}

// TenancyConfig controls the workspace config cache.
type TenancyConfig struct {
	// CacheTTL bounds workspace document freshness.
	CacheTTL time.Duration
}

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// StateRetentionDays is how many days of state-history rows to keep.
	StateRetentionDays int

	// OutboxTTL is the maximum age of delivered outbox rows before deletion.
	OutboxTTL time.Duration

	// ExecutionTTL is the maximum age of expired action-execution rows.
	ExecutionTTL time.Duration

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration
}

// TelemetryConfig controls logging and redaction.
type TelemetryConfig struct {
	// LogRedaction toggles deterministic PII redaction on telemetry
	// events. Leave on outside of local development.
	LogRedaction bool

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Config is the umbrella configuration object returned by Initialize and
// used throughout the application.
type Config struct {
	configDir string

	Server    ServerConfig
	Pipeline  PipelineConfig
	Rollout   RolloutConfig
	Broker    BrokerConfig
	Model     ModelConfig
	Tenancy   TenancyConfig
	Retention RetentionConfig
	Telemetry TelemetryConfig
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// --- YAML file shapes ---
// Durations are strings ("2s", "500ms") parsed during resolution; invalid
// values fall back to defaults with a warning rather than failing the boot.

// ParloYAMLConfig represents the complete parlo.yaml file structure
type ParloYAMLConfig struct {
	Server    *ServerYAMLConfig    `yaml:"server"`
	Pipeline  *PipelineYAMLConfig  `yaml:"pipeline"`
	Rollout   *RolloutYAMLConfig   `yaml:"rollout"`
	Broker    *BrokerYAMLConfig    `yaml:"broker"`
	Model     *ModelYAMLConfig     `yaml:"model"`
	Tenancy   *TenancyYAMLConfig   `yaml:"tenancy"`
	Retention *RetentionYAMLConfig `yaml:"retention"`
	Telemetry *TelemetryYAMLConfig `yaml:"telemetry"`
}

// ServerYAMLConfig holds HTTP listener settings from YAML.
type ServerYAMLConfig struct {
	Addr         string `yaml:"addr,omitempty"`
	ReadTimeout  string `yaml:"read_timeout,omitempty"`
	WriteTimeout string `yaml:"write_timeout,omitempty"`
}

// PipelineYAMLConfig holds turn execution settings from YAML.
type PipelineYAMLConfig struct {
	TurnDeadline            string   `yaml:"turn_deadline,omitempty"`
	GracefulShutdownTimeout string   `yaml:"graceful_shutdown_timeout,omitempty"`
	MaxTurnsInFlight        *int     `yaml:"max_turns_in_flight,omitempty"`
	ReplayTTL               string   `yaml:"replay_ttl,omitempty"`
	ReplayMaxEntries        *int     `yaml:"replay_max_entries,omitempty"`
	LowConfidenceThreshold  *float64 `yaml:"low_confidence_threshold,omitempty"`
}

// RolloutYAMLConfig holds rollout settings from YAML.
type RolloutYAMLConfig struct {
	StagedEnabled        *bool `yaml:"staged_enabled,omitempty"`
	DefaultCanaryPercent *int  `yaml:"default_canary_percent,omitempty"`
}

// BrokerYAMLConfig holds tool dispatch settings from YAML.
type BrokerYAMLConfig struct {
	GlobalInFlightCap      *int64              `yaml:"global_in_flight_cap,omitempty"`
	BackoffBase            string              `yaml:"backoff_base,omitempty"`
	BackoffFactor          *float64            `yaml:"backoff_factor,omitempty"`
	BackoffMax             string              `yaml:"backoff_max,omitempty"`
	Breaker                *BreakerYAMLConfig  `yaml:"breaker,omitempty"`
	IdempotencyMaxEntries  *int                `yaml:"idempotency_max_entries,omitempty"`
	DefaultToolTimeoutMS   *int                `yaml:"default_tool_timeout_ms,omitempty"`
	DefaultToolMaxAttempts *int                `yaml:"default_tool_max_attempts,omitempty"`
}

// BreakerYAMLConfig holds circuit breaker settings from YAML.
type BreakerYAMLConfig struct {
	Window           string `yaml:"window,omitempty"`
	FailureThreshold *int   `yaml:"failure_threshold,omitempty"`
	Cooldown         string `yaml:"cooldown,omitempty"`
}

// ModelYAMLConfig holds model runtime settings from YAML.
type ModelYAMLConfig struct {
	BaseURL        string   `yaml:"base_url,omitempty"`
	APIKeyEnv      string   `yaml:"api_key_env,omitempty"`
	ExtractorModel string   `yaml:"extractor_model,omitempty"`
	PlannerModel   string   `yaml:"planner_model,omitempty"`
	ResponderModel string   `yaml:"responder_model,omitempty"`
	LegacyModel    string   `yaml:"legacy_model,omitempty"`
	RequestTimeout string   `yaml:"request_timeout,omitempty"`
	Temperature    *float32 `yaml:"temperature,omitempty"`
	MaxTokens      *int     `yaml:"max_tokens,omitempty"`
}

// TenancyYAMLConfig holds workspace cache settings from YAML.
type TenancyYAMLConfig struct {
	CacheTTL string `yaml:"cache_ttl,omitempty"`
}

// RetentionYAMLConfig holds retention settings from YAML.
type RetentionYAMLConfig struct {
	StateRetentionDays *int   `yaml:"state_retention_days,omitempty"`
	OutboxTTL          string `yaml:"outbox_ttl,omitempty"`
	ExecutionTTL       string `yaml:"execution_ttl,omitempty"`
	CleanupInterval    string `yaml:"cleanup_interval,omitempty"`
}

// TelemetryYAMLConfig holds logging settings from YAML.
type TelemetryYAMLConfig struct {
	LogRedaction *bool  `yaml:"log_redaction,omitempty"`
	LogLevel     string `yaml:"log_level,omitempty"`
}
