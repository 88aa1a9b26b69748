// Package tenant holds per-workspace configuration and the read-mostly cache
// that serves it to the pipeline. Workspace documents are stored as JSON and
// describe everything tenant-specific: slot schemas, tool whitelists with
// per-tool policies, response templates, feature flags, service catalogs and
// rollout settings.
package tenant

import (
	"fmt"
	"strings"
	"time"

	"github.com/parlo-ai/parlo/pkg/models"
)

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Workspace is one tenant's full configuration document
type Workspace struct {
	WorkspaceID   string                     `json:"workspace_id"`
	Name          string                     `json:"name,omitempty"`
	Vertical      string                     `json:"vertical,omitempty"`
	Language      string                     `json:"language,omitempty"`
	Timezone      string                     `json:"timezone"`
	StagedEnabled bool                       `json:"staged_enabled"`
	CanaryPercent int                        `json:"canary_percent"`
	SlotSchema    map[string]SlotSpec        `json:"slot_schema,omitempty"`
	Tools         map[string]ToolSpec        `json:"tools,omitempty"`
	RequiredSlots map[models.Intent][]string `json:"required_slots,omitempty"`
	Templates     []TemplateSpec             `json:"templates,omitempty"`
	FallbackPlans []FallbackPlanRule         `json:"fallback_plans,omitempty"`
	Flags         map[string]bool            `json:"flags,omitempty"`
	Catalog       ServiceCatalog             `json:"catalog,omitempty"`
	UpdatedAt     time.Time                  `json:"updated_at,omitempty"`
}

// SlotSpec declares one slot the tenant tracks: its JSON shape plus
// lightweight validation applied by the policy engine and state reducer.
type SlotSpec struct {
	Type      models.SlotKind `json:"type"`
	Enum      []string        `json:"enum,omitempty"`
	MaxLength int             `json:"max_length,omitempty"`
	// Format hints date/time normalization: "date", "time", "datetime"
	Format string `json:"format,omitempty"`
}

// ServiceCatalog is the tenant's offering, used by FAQ answers and by the
// extractor's heuristic fallback for service name matching.
type ServiceCatalog struct {
	Services []ServiceEntry `json:"services,omitempty"`
	Hours    string         `json:"hours,omitempty"`
}

// ServiceEntry is one bookable service
type ServiceEntry struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price,omitempty"`
	DurationMin int     `json:"duration_min,omitempty"`
}

// FindService matches a catalog entry by case-insensitive substring of the
// utterance, returning the canonical service name.
func (c ServiceCatalog) FindService(utterance string) (string, bool) {
	for _, svc := range c.Services {
		if svc.Name == "" {
			continue
		}
		if containsFold(utterance, svc.Name) {
			return svc.Name, true
		}
	}
	return "", false
}

// Whitelisted reports whether the tool may run in this workspace
func (w *Workspace) Whitelisted(tool string) bool {
	_, ok := w.Tools[tool]
	return ok
}

// Tool returns the tenant's policy for a whitelisted tool
func (w *Workspace) Tool(name string) (ToolSpec, bool) {
	spec, ok := w.Tools[name]
	return spec, ok
}

// DeclaresSlot reports whether the slot schema lists the slot explicitly.
// Declared ephemeral slots are exported in patches; undeclared ones stay
// server-side.
func (w *Workspace) DeclaresSlot(name string) bool {
	_, ok := w.SlotSchema[name]
	return ok
}

// RequiredSlotsFor returns the slots an intent needs before planning actions
func (w *Workspace) RequiredSlotsFor(intent models.Intent) []string {
	return w.RequiredSlots[intent]
}

// Flag returns the named feature flag, defaulting to false
func (w *Workspace) Flag(name string) bool {
	return w.Flags[name]
}

// Location resolves the tenant timezone, defaulting to UTC when unset
func (w *Workspace) Location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: invalid timezone %q: %w", w.WorkspaceID, w.Timezone, err)
	}
	return loc, nil
}

// Validate checks the document for internal consistency. Invalid workspaces
// are rejected at load time so the pipeline never sees them.
func (w *Workspace) Validate() error {
	if w.WorkspaceID == "" {
		return &ValidationError{Field: "workspace_id", Message: "must not be empty"}
	}
	if w.CanaryPercent < 0 || w.CanaryPercent > 100 {
		return &ValidationError{Field: "canary_percent", Message: "must be between 0 and 100"}
	}
	if _, err := w.Location(); err != nil {
		return &ValidationError{Field: "timezone", Message: err.Error()}
	}
	for name, spec := range w.Tools {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
	}
	for _, rule := range w.FallbackPlans {
		for _, action := range rule.Actions {
			if !w.Whitelisted(action.Tool) {
				return &ValidationError{
					Field:   "fallback_plans",
					Message: fmt.Sprintf("references non-whitelisted tool %q", action.Tool),
				}
			}
		}
	}
	return nil
}
