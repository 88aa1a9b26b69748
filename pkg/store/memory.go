package store

import (
	"context"
	"sync"
	"time"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// Memory is the in-process Store used by tests and the e2e harness. All
// methods are safe for concurrent use; states are deep-copied on the way in
// and out so callers can never alias stored data.
type Memory struct {
	mu sync.RWMutex

	workspaces    map[string]*tenant.Workspace
	conversations map[string]*Conversation
	history       []HistoryEntry
	outbox        []OutboxEvent
	executions    map[string]ActionExecution // workspaceID + "\x00" + key

	nextHistoryID int64
	nextOutboxID  int64

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return NewMemoryAt(time.Now)
}

// NewMemoryAt creates a Memory with an injected clock for tests.
func NewMemoryAt(now func() time.Time) *Memory {
	return &Memory{
		workspaces:    map[string]*tenant.Workspace{},
		conversations: map[string]*Conversation{},
		executions:    map[string]ActionExecution{},
		now:           now,
	}
}

// LoadWorkspace implements Store.
func (m *Memory) LoadWorkspace(_ context.Context, workspaceID string) (*tenant.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return nil, tenant.ErrWorkspaceNotFound
	}
	copied := *ws
	return &copied, nil
}

// SaveWorkspace implements Store.
func (m *Memory) SaveWorkspace(_ context.Context, ws *tenant.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *ws
	copied.UpdatedAt = m.now()
	m.workspaces[ws.WorkspaceID] = &copied
	return nil
}

// LoadConversation implements Store.
func (m *Memory) LoadConversation(_ context.Context, workspaceID, conversationID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if err := tenant.Guard(workspaceID, conv.WorkspaceID); err != nil {
		return nil, err
	}
	out := *conv
	out.State = conv.State.Clone()
	return &out, nil
}

// CommitTurn implements Store.
func (m *Memory) CommitTurn(_ context.Context, commit TurnCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.conversations[commit.ConversationID]; ok {
		if err := tenant.Guard(commit.WorkspaceID, existing.WorkspaceID); err != nil {
			return err
		}
		existing.State = commit.NextState.Clone()
		existing.UpdatedAt = now
	} else {
		m.conversations[commit.ConversationID] = &Conversation{
			ConversationID: commit.ConversationID,
			WorkspaceID:    commit.WorkspaceID,
			Channel:        commit.Channel,
			State:          commit.NextState.Clone(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	m.nextHistoryID++
	m.history = append(m.history, HistoryEntry{
		ID:             m.nextHistoryID,
		WorkspaceID:    commit.WorkspaceID,
		ConversationID: commit.ConversationID,
		TurnID:         commit.TurnID,
		RequestID:      commit.RequestID,
		Event:          commit.Event,
		PriorState:     commit.PriorState.Clone(),
		NextState:      commit.NextState.Clone(),
		CreatedAt:      now,
	})

	for _, event := range commit.Outbox {
		m.nextOutboxID++
		event.ID = m.nextOutboxID
		event.WorkspaceID = commit.WorkspaceID
		event.ConversationID = commit.ConversationID
		event.TurnID = commit.TurnID
		event.CreatedAt = now
		m.outbox = append(m.outbox, event)
	}
	return nil
}

// History implements Store.
func (m *Memory) History(_ context.Context, workspaceID, conversationID string, limit int) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		entry := m.history[i]
		if entry.ConversationID != conversationID || entry.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RecordActionExecution implements Store and broker.Ledger.
func (m *Memory) RecordActionExecution(_ context.Context, call models.ToolCall, obs models.Observation, expiresAt time.Time) error {
	fp := call.Fingerprint()
	key := call.WorkspaceID + "\x00" + fp

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[key]; exists {
		return nil
	}
	m.executions[key] = ActionExecution{
		WorkspaceID:    call.WorkspaceID,
		IdempotencyKey: fp,
		Tool:           call.Tool,
		Result:         obs,
		ExecutedAt:     m.now(),
		ExpiresAt:      expiresAt,
	}
	return nil
}

// PendingOutbox implements Store.
func (m *Memory) PendingOutbox(_ context.Context, limit int) ([]OutboxEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []OutboxEvent
	for _, event := range m.outbox {
		if event.DeliveredAt != nil {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkOutboxDelivered implements Store.
func (m *Memory) MarkOutboxDelivered(_ context.Context, ids []int64) error {
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for i := range m.outbox {
		if wanted[m.outbox[i].ID] && m.outbox[i].DeliveredAt == nil {
			at := now
			m.outbox[i].DeliveredAt = &at
		}
	}
	return nil
}

// PruneHistory implements Store.
func (m *Memory) PruneHistory(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.history[:0]
	var pruned int64
	for _, entry := range m.history {
		if entry.CreatedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, entry)
	}
	m.history = kept
	return pruned, nil
}

// PruneOutbox implements Store.
func (m *Memory) PruneOutbox(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.outbox[:0]
	var pruned int64
	for _, event := range m.outbox {
		if event.DeliveredAt != nil && event.DeliveredAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, event)
	}
	m.outbox = kept
	return pruned, nil
}

// PruneActionExecutions implements Store.
func (m *Memory) PruneActionExecutions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned int64
	for key, exec := range m.executions {
		if exec.ExpiresAt.Before(now) {
			delete(m.executions, key)
			pruned++
		}
	}
	return pruned, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
