package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning category constants for categorizing system warnings.
const (
	// WarningCategoryTenantConfig marks a workspace whose stored document
	// failed to reload or validate while a stale copy keeps serving.
	WarningCategoryTenantConfig = "tenant_config"
	// WarningCategoryStartup marks non-fatal anomalies found during boot.
	WarningCategoryStartup = "startup"
)

// SystemWarning represents a non-fatal system issue.
type SystemWarning struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Message     string    `json:"message"`
	Details     string    `json:"details,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Warnings manages in-memory system warnings.
// Thread-safe. Not persisted: warnings are transient and reset on restart.
type Warnings struct {
	mu       sync.RWMutex
	warnings map[string]*SystemWarning
}

// NewWarnings creates an empty warning sink.
func NewWarnings() *Warnings {
	return &Warnings{warnings: make(map[string]*SystemWarning)}
}

// Add records a warning and returns its ID.
// A warning with the same category and workspace replaces the previous one
// so a flapping dependency does not pile up duplicates.
func (w *Warnings) Add(category, message, details, workspaceID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, existing := range w.warnings {
		if existing.Category == category && existing.WorkspaceID == workspaceID {
			delete(w.warnings, id)
			break
		}
	}

	id := uuid.New().String()
	w.warnings[id] = &SystemWarning{
		ID:          id,
		Category:    category,
		Message:     message,
		Details:     details,
		WorkspaceID: workspaceID,
		CreatedAt:   time.Now(),
	}
	return id
}

// All returns the active warnings as value copies.
// Callers may safely read or compare the returned structs without holding locks.
func (w *Warnings) All() []*SystemWarning {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]*SystemWarning, 0, len(w.warnings))
	for _, warning := range w.warnings {
		cp := *warning
		result = append(result, &cp)
	}
	return result
}

// Clear removes the warning matching category and workspace.
// Used when the underlying condition recovers so /health goes quiet again.
// Returns true if a warning was removed.
func (w *Warnings) Clear(category, workspaceID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, existing := range w.warnings {
		if existing.Category == category && existing.WorkspaceID == workspaceID {
			delete(w.warnings, id)
			return true
		}
	}
	return false
}
