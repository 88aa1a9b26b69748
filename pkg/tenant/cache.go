package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parlo-ai/parlo/pkg/telemetry"
)

// Loader fetches workspace documents from the backing store
type Loader interface {
	LoadWorkspace(ctx context.Context, workspaceID string) (*Workspace, error)
}

// Cache serves workspace configuration to the hot path. Reads are lock-free
// after the first load; misses and expirations collapse onto a single loader
// call via singleflight, and a background loop refreshes entries before they
// expire so traffic never stampedes the store.
type Cache struct {
	loader       Loader
	ttl          time.Duration
	toolDefaults ToolSpec
	warnings     *telemetry.Warnings

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	group singleflight.Group

	cancel context.CancelFunc
	done   chan struct{}
}

type cacheEntry struct {
	workspace *Workspace
	loadedAt  time.Time
}

// NewCache creates a workspace cache. ttl bounds entry freshness; toolDefaults
// are merged under every tenant tool spec at load time.
func NewCache(loader Loader, ttl time.Duration, toolDefaults ToolSpec) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		loader:       loader,
		ttl:          ttl,
		toolDefaults: toolDefaults,
		entries:      map[string]*cacheEntry{},
	}
}

// SetWarnings attaches a sink for refresh anomalies. Serving a stale
// workspace document records a warning; a successful reload clears it.
func (c *Cache) SetWarnings(w *telemetry.Warnings) {
	c.warnings = w
}

// Resolve returns the workspace configuration, loading it on miss. Expired
// entries are reloaded; when the reload fails the stale copy is served so a
// store blip does not take down serving tenants.
func (c *Cache) Resolve(ctx context.Context, workspaceID string) (*Workspace, error) {
	if workspaceID == "" {
		return nil, &ValidationError{Field: "workspace_id", Message: "must not be empty"}
	}

	c.mu.RLock()
	entry, ok := c.entries[workspaceID]
	c.mu.RUnlock()
	if ok && time.Since(entry.loadedAt) < c.ttl {
		return entry.workspace, nil
	}

	ws, err := c.load(ctx, workspaceID)
	if err != nil {
		if ok {
			slog.Warn("Workspace refresh failed, serving stale config",
				"workspace_id", workspaceID, "age", time.Since(entry.loadedAt), "error", err)
			if c.warnings != nil {
				c.warnings.Add(telemetry.WarningCategoryTenantConfig,
					"serving stale workspace config", err.Error(), workspaceID)
			}
			return entry.workspace, nil
		}
		return nil, err
	}
	return ws, nil
}

// Invalidate drops the cached entry so the next Resolve reloads it
func (c *Cache) Invalidate(workspaceID string) {
	c.mu.Lock()
	delete(c.entries, workspaceID)
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context, workspaceID string) (*Workspace, error) {
	v, err, _ := c.group.Do(workspaceID, func() (any, error) {
		ws, err := c.loader.LoadWorkspace(ctx, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("load workspace %s: %w", workspaceID, err)
		}
		if err := c.prepare(ws); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[workspaceID] = &cacheEntry{workspace: ws, loadedAt: time.Now()}
		c.mu.Unlock()
		if c.warnings != nil {
			c.warnings.Clear(telemetry.WarningCategoryTenantConfig, workspaceID)
		}
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

// prepare validates the document and merges process-wide tool defaults
func (c *Cache) prepare(ws *Workspace) error {
	for name, spec := range ws.Tools {
		if spec.Name == "" {
			spec.Name = name
		}
		merged, err := spec.WithDefaults(c.toolDefaults)
		if err != nil {
			return fmt.Errorf("workspace %s: merge tool defaults for %q: %w", ws.WorkspaceID, name, err)
		}
		ws.Tools[name] = merged
	}
	if err := ws.Validate(); err != nil {
		return fmt.Errorf("workspace %s: %w", ws.WorkspaceID, err)
	}
	return nil
}

// Start launches the background refresh loop
func (c *Cache) Start(ctx context.Context) {
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go c.run(ctx)

	slog.Info("Tenant cache started", "ttl", c.ttl)
}

// Stop signals the refresh loop to exit and waits for it to finish
func (c *Cache) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	slog.Info("Tenant cache stopped")
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.done)

	// Refreshing at half the TTL keeps entries warm; Resolve never blocks on
	// a reload for an actively-served tenant.
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshExpiring(ctx)
		}
	}
}

func (c *Cache) refreshExpiring(ctx context.Context) {
	c.mu.RLock()
	due := make([]string, 0, len(c.entries))
	for id, entry := range c.entries {
		if time.Since(entry.loadedAt) >= c.ttl/2 {
			due = append(due, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range due {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.load(ctx, id); err != nil {
			slog.Warn("Workspace background refresh failed", "workspace_id", id, "error", err)
			if c.warnings != nil {
				c.warnings.Add(telemetry.WarningCategoryTenantConfig,
					"serving stale workspace config", err.Error(), id)
			}
		}
	}
}

// Guard rejects any resource reference that crosses workspaces. Returns a
// *MismatchError, which the turn service treats as fatal for the turn.
func Guard(workspaceID, resourceWorkspaceID string) error {
	if resourceWorkspaceID != "" && resourceWorkspaceID != workspaceID {
		return &MismatchError{WorkspaceID: workspaceID, ResourceWorkspaceID: resourceWorkspaceID}
	}
	return nil
}
