// Package store persists conversations, state history, the side-effect
// outbox and the action-execution ledger. Two implementations share one
// interface: Memory for tests and single-node development, Postgres for
// production.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// ErrConversationNotFound is returned when no conversation row exists. The
// turn service treats it as "first turn" and starts from empty state.
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation is the per-conversation current-state row.
type Conversation struct {
	ConversationID string       `json:"conversation_id"`
	WorkspaceID    string       `json:"workspace_id"`
	Channel        string       `json:"channel"`
	State          models.State `json:"state"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// HistoryEntry is one append-only state transition.
type HistoryEntry struct {
	ID             int64        `json:"id"`
	WorkspaceID    string       `json:"workspace_id"`
	ConversationID string       `json:"conversation_id"`
	TurnID         string       `json:"turn_id"`
	RequestID      string       `json:"request_id"`
	Event          string       `json:"event"`
	PriorState     models.State `json:"prior_state"`
	NextState      models.State `json:"next_state"`
	CreatedAt      time.Time    `json:"created_at"`
}

// OutboxEvent is one side-effect event awaiting downstream delivery.
// Delivery itself happens outside this process; delivered rows are kept
// until the retention loop prunes them.
type OutboxEvent struct {
	ID             int64          `json:"id"`
	WorkspaceID    string         `json:"workspace_id"`
	ConversationID string         `json:"conversation_id"`
	TurnID         string         `json:"turn_id"`
	Kind           string         `json:"kind"`
	Payload        map[string]any `json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
}

// ActionExecution is one ledger row for an idempotent tool success.
type ActionExecution struct {
	WorkspaceID    string             `json:"workspace_id"`
	IdempotencyKey string             `json:"idempotency_key"`
	Tool           string             `json:"tool"`
	Result         models.Observation `json:"result"`
	ExecutedAt     time.Time          `json:"executed_at"`
	ExpiresAt      time.Time          `json:"expires_at"`
}

// TurnCommit is the atomic write closing one turn: the conversation's new
// state, its history entry and any outbox events land together or not at
// all.
type TurnCommit struct {
	WorkspaceID    string
	ConversationID string
	Channel        string
	TurnID         string
	RequestID      string
	Event          string
	PriorState     models.State
	NextState      models.State
	Outbox         []OutboxEvent
}

// Store is the persistence contract. It doubles as the tenant loader and
// the broker's execution ledger.
type Store interface {
	// LoadWorkspace returns the workspace document, or
	// tenant.ErrWorkspaceNotFound.
	LoadWorkspace(ctx context.Context, workspaceID string) (*tenant.Workspace, error)

	// SaveWorkspace upserts the workspace document.
	SaveWorkspace(ctx context.Context, ws *tenant.Workspace) error

	// LoadConversation returns the conversation row. A conversation owned
	// by a different workspace returns tenant.ErrTenantMismatch; a missing
	// one returns ErrConversationNotFound.
	LoadConversation(ctx context.Context, workspaceID, conversationID string) (*Conversation, error)

	// CommitTurn atomically upserts the conversation state, appends the
	// history entry and inserts outbox events.
	CommitTurn(ctx context.Context, commit TurnCommit) error

	// History returns the most recent transitions for a conversation,
	// newest first.
	History(ctx context.Context, workspaceID, conversationID string, limit int) ([]HistoryEntry, error)

	// RecordActionExecution inserts a ledger row keyed
	// (workspace_id, idempotency_key). Replays of an already-recorded key
	// are a no-op, which is what makes at-least-once delivery safe.
	RecordActionExecution(ctx context.Context, call models.ToolCall, obs models.Observation, expiresAt time.Time) error

	// PendingOutbox returns undelivered events oldest first.
	PendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)

	// MarkOutboxDelivered stamps events as delivered.
	MarkOutboxDelivered(ctx context.Context, ids []int64) error

	// PruneHistory deletes history rows created before the horizon and
	// returns how many went.
	PruneHistory(ctx context.Context, before time.Time) (int64, error)

	// PruneOutbox deletes delivered events older than the horizon.
	PruneOutbox(ctx context.Context, before time.Time) (int64, error)

	// PruneActionExecutions deletes ledger rows expired as of now.
	PruneActionExecutions(ctx context.Context, now time.Time) (int64, error)

	// Close releases the underlying resources.
	Close() error
}
