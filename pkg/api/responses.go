package api

import (
	"time"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/pkg/telemetry"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                     `json:"status"`
	Version  string                     `json:"version"`
	Checks   map[string]HealthCheck     `json:"checks"`
	Database *store.DBHealth            `json:"database,omitempty"`
	Warnings []*telemetry.SystemWarning `json:"warnings,omitempty"`
}

// HealthCheck is the state of one internal component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// BreakerResponse is returned by POST /api/v1/admin/breakers/force-half-open.
type BreakerResponse struct {
	WorkspaceID string `json:"workspace_id"`
	ToolName    string `json:"tool_name"`
	State       string `json:"state"`
	PriorState  string `json:"prior_state"`
}

// ConversationResponse is returned by GET /api/v1/conversations/:id.
type ConversationResponse struct {
	ConversationID string                      `json:"conversation_id"`
	WorkspaceID    string                      `json:"workspace_id"`
	Channel        string                      `json:"channel,omitempty"`
	Intent         string                      `json:"intent,omitempty"`
	NextAction     string                      `json:"next_action,omitempty"`
	Slots          map[string]models.SlotValue `json:"slots"`
	History        []models.HistoryEntry       `json:"history"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// ToolPolicyResponse is returned by GET /api/v1/workspaces/:id/tools.
type ToolPolicyResponse struct {
	WorkspaceID string           `json:"workspace_id"`
	Tools       []ToolPolicyItem `json:"tools"`
}

// ToolPolicyItem is the effective (defaults-merged) policy for one tool.
type ToolPolicyItem struct {
	Name            string `json:"name"`
	Transport       string `json:"transport"`
	Mutating        bool   `json:"mutating"`
	RetrySafe       bool   `json:"retry_safe"`
	MaxAttempts     int    `json:"max_attempts"`
	TimeoutMS       int    `json:"timeout_ms"`
	Idempotent      bool   `json:"idempotent"`
	ConcurrencyCap  int    `json:"concurrency_cap"`
	RatePerMinute   int    `json:"rate_per_minute"`
	MaxRequestBytes int    `json:"max_request_bytes"`
	BreakerState    string `json:"breaker_state,omitempty"`
}
