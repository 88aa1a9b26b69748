package config

import "time"

// DefaultServerConfig returns the built-in HTTP listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// DefaultPipelineConfig returns the built-in turn execution defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TurnDeadline:            2 * time.Second,
		GracefulShutdownTimeout: 10 * time.Second,
		MaxTurnsInFlight:        256,
		ReplayTTL:               2 * time.Minute,
		ReplayMaxEntries:        4096,
		LowConfidenceThreshold:  0.7,
	}
}

// DefaultRolloutConfig returns the built-in rollout defaults.
func DefaultRolloutConfig() RolloutConfig {
	return RolloutConfig{
		StagedEnabled:        true,
		DefaultCanaryPercent: 10,
	}
}

// DefaultBrokerConfig returns the built-in tool dispatch defaults.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		GlobalInFlightCap: 64,
		BackoffBase:       100 * time.Millisecond,
		BackoffFactor:     2.0,
		BackoffMax:        2 * time.Second,
		Breaker: BreakerConfig{
			Window:           30 * time.Second,
			FailureThreshold: 5,
			Cooldown:         60 * time.Second,
		},
		IdempotencyMaxEntries:  8192,
		DefaultToolTimeoutMS:   1500,
		DefaultToolMaxAttempts: 3,
	}
}

// DefaultModelConfig returns the built-in model runtime defaults.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		APIKeyEnv:      "MODEL_API_KEY",
		ExtractorModel: "parlo-extractor-v2",
		PlannerModel:   "parlo-planner-v2",
		ResponderModel: "parlo-responder-v1",
		LegacyModel:    "parlo-legacy-v1",
		RequestTimeout: 1500 * time.Millisecond,
		Temperature:    0,
		MaxTokens:      512,
	}
}

// DefaultTenancyConfig returns the built-in workspace cache defaults.
func DefaultTenancyConfig() TenancyConfig {
	return TenancyConfig{
		CacheTTL: time.Minute,
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		StateRetentionDays: 90,
		OutboxTTL:          24 * time.Hour,
		ExecutionTTL:       24 * time.Hour,
		CleanupInterval:    12 * time.Hour,
	}
}

// DefaultTelemetryConfig returns the built-in logging defaults.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		LogRedaction: true,
		LogLevel:     "info",
	}
}
