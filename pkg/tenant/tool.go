package tenant

import (
	"time"

	"dario.cat/mergo"
)

// TransportKind selects how a tool is dispatched
type TransportKind string

const (
	// TransportHTTP posts JSON to an external endpoint
	TransportHTTP TransportKind = "http"
	// TransportLocal invokes an in-process handler from the tool registry
	TransportLocal TransportKind = "local"
)

// IsValid checks if the transport kind is valid
func (t TransportKind) IsValid() bool {
	return t == TransportHTTP || t == TransportLocal
}

// AuthKind selects how credentials are attached to HTTP tool requests
type AuthKind string

const (
	// AuthNone sends no credential
	AuthNone AuthKind = "none"
	// AuthBearer sends "Authorization: Bearer <token>"
	AuthBearer AuthKind = "bearer"
	// AuthAPIKey sends "X-API-Key: <token>"
	AuthAPIKey AuthKind = "api_key"
)

// ToolSpec is the per-tool execution policy: whitelisting is implied by
// presence in Workspace.Tools, everything else tunes how the broker and
// policy engine treat the tool.
type ToolSpec struct {
	Name      string        `json:"name"`
	Transport TransportKind `json:"transport"`
	Endpoint  string        `json:"endpoint,omitempty"`

	// Auth applies to HTTP transport only. CredentialEnv names the env var
	// holding the secret; secrets never live in the document itself.
	Auth          AuthKind `json:"auth,omitempty"`
	CredentialEnv string   `json:"credential_env,omitempty"`

	// Mutating marks write-side tools (bookings, cancellations); read-only
	// tools may be planned under RETRIEVE_CONTEXT.
	Mutating bool `json:"mutating,omitempty"`

	// RetrySafe marks the call safe to retry. Non-retry-safe tools get a
	// single attempt regardless of MaxAttempts.
	RetrySafe   bool `json:"retry_safe,omitempty"`
	MaxAttempts int  `json:"max_attempts,omitempty"`
	TimeoutMS   int  `json:"timeout_ms,omitempty"`

	// RetryableStatus extends the built-in retryable set (408, 429, 5xx)
	RetryableStatus []int `json:"retryable_status,omitempty"`

	// Idempotent tools carry a natural idempotency key; their successes are
	// recorded in the execution ledger and replayed as DUPLICATE within TTL.
	Idempotent            bool `json:"idempotent,omitempty"`
	IdempotencyTTLSeconds int  `json:"idempotency_ttl_seconds,omitempty"`

	ConcurrencyCap int `json:"concurrency_cap,omitempty"`
	RatePerMinute  int `json:"rate_per_minute,omitempty"`

	MaxRequestBytes  int `json:"max_request_bytes,omitempty"`
	MaxResponseBytes int `json:"max_response_bytes,omitempty"`

	Args map[string]ArgSpec `json:"args,omitempty"`
}

// ArgSpec constrains one tool argument. The policy engine enforces these
// before dispatch; violations become DENIED_BY_POLICY observations.
type ArgSpec struct {
	Type     string   `json:"type"` // "string", "number", "boolean", "object", "list"
	Required bool     `json:"required,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	MaxLen   int      `json:"max_len,omitempty"`

	// Format "date" enables the booking-window checks below
	Format       string `json:"format,omitempty"`
	MinDaysAhead *int   `json:"min_days_ahead,omitempty"`
	MaxDaysAhead *int   `json:"max_days_ahead,omitempty"`
}

// DefaultToolSpec carries the process-wide defaults merged under every tenant
// tool spec at load time.
func DefaultToolSpec() ToolSpec {
	return ToolSpec{
		Transport:             TransportHTTP,
		Auth:                  AuthNone,
		MaxAttempts:           3,
		TimeoutMS:             1500,
		IdempotencyTTLSeconds: 300,
		ConcurrencyCap:        8,
		RatePerMinute:         60,
		MaxRequestBytes:       64 << 10,
		MaxResponseBytes:      256 << 10,
	}
}

// WithDefaults returns the spec with zero fields filled from defaults
func (s ToolSpec) WithDefaults(defaults ToolSpec) (ToolSpec, error) {
	merged := s
	if err := mergo.Merge(&merged, defaults); err != nil {
		return s, err
	}
	return merged, nil
}

// Timeout returns the per-attempt timeout as a duration
func (s ToolSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// IdempotencyTTL returns the duplicate-replay window as a duration
func (s ToolSpec) IdempotencyTTL() time.Duration {
	return time.Duration(s.IdempotencyTTLSeconds) * time.Second
}

// Attempts returns the effective attempt budget: one for non-retry-safe tools
func (s ToolSpec) Attempts() int {
	if !s.RetrySafe {
		return 1
	}
	if s.MaxAttempts < 1 {
		return 1
	}
	return s.MaxAttempts
}

// Validate checks the spec for internal consistency
func (s ToolSpec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !s.Transport.IsValid() {
		return &ValidationError{Field: "transport", Message: "must be http or local"}
	}
	if s.Transport == TransportHTTP && s.Endpoint == "" {
		return &ValidationError{Field: "endpoint", Message: "required for http transport"}
	}
	if s.Auth != "" && s.Auth != AuthNone && s.CredentialEnv == "" {
		return &ValidationError{Field: "credential_env", Message: "required when auth is set"}
	}
	if s.TimeoutMS < 0 || s.MaxAttempts < 0 || s.ConcurrencyCap < 0 || s.RatePerMinute < 0 {
		return &ValidationError{Field: "limits", Message: "must not be negative"}
	}
	return nil
}
