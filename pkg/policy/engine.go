// Package policy is the pre-dispatch gate between the planner and the tool
// broker. It validates, filters and normalizes planned actions against the
// tenant's tool contracts; every rejection becomes a DENIED_BY_POLICY
// observation that flows to the reducer and response generator instead of
// an error.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// Engine applies tenant policy to a plan. Checks run in a fixed order per
// action: whitelist, argument presence and typing, rate window, value
// constraints, redundancy. Deterministic; no I/O.
type Engine struct {
	now   func() time.Time
	rates *rateWindow
}

// NewEngine creates an Engine on the wall clock.
func NewEngine() *Engine {
	return NewEngineAt(time.Now)
}

// NewEngineAt creates an Engine with an injected clock for tests.
func NewEngineAt(now func() time.Time) *Engine {
	return &Engine{now: now, rates: newRateWindow()}
}

// Filter splits the plan's actions into allowed actions (with normalized
// arguments) and denial observations, preserving plan order. Denied actions
// are never retried within the turn.
func (e *Engine) Filter(_ context.Context, plan models.Plan, state models.State, ws *tenant.Workspace) ([]models.PlannedAction, []models.Observation) {
	now := e.now()
	loc, err := ws.Location()
	if err != nil {
		loc = time.UTC
	}
	today := now.In(loc)

	var allowed []models.PlannedAction
	var denials []models.Observation

	for _, action := range plan.Actions {
		spec, ok := ws.Tool(action.Tool)
		if !ok {
			denials = append(denials, e.denial(ws, action, action.Args, "tool not permitted for this workspace"))
			continue
		}

		args, reason := normalizeArgs(action.Args, spec.Args)
		if reason != "" {
			denials = append(denials, e.denial(ws, action, action.Args, reason))
			continue
		}

		if !e.rates.allow(ws.WorkspaceID, action.Tool, now, spec.RatePerMinute) {
			denials = append(denials, e.denial(ws, action, args, "per-minute rate limit exceeded"))
			continue
		}

		if reason := checkConstraints(args, spec.Args, today); reason != "" {
			denials = append(denials, e.denial(ws, action, args, reason))
			continue
		}

		fp := models.ToolCall{WorkspaceID: ws.WorkspaceID, Tool: action.Tool, Args: args}.Fingerprint()
		if state.RecentSuccess(fp, spec.IdempotencyTTL(), now) {
			denials = append(denials, e.denial(ws, action, args, "redundant with a recent successful call"))
			continue
		}

		allowed = append(allowed, models.PlannedAction{Tool: action.Tool, Args: args})
	}

	return allowed, denials
}

func (e *Engine) denial(ws *tenant.Workspace, action models.PlannedAction, args map[string]any, reason string) models.Observation {
	fp := models.ToolCall{WorkspaceID: ws.WorkspaceID, Tool: action.Tool, Args: args}.Fingerprint()
	return models.Observation{
		Tool:        action.Tool,
		Kind:        models.ResultDeniedByPolicy,
		Error:       reason,
		Fingerprint: fp,
	}
}

// normalizeArgs checks required presence and types against the tool's arg
// specs and drops arguments the tool never declared. Tools with no declared
// args accept their arguments as-is. workspace_id always passes: the planner
// injects it into every action and downstream stages rely on it.
func normalizeArgs(args map[string]any, specs map[string]tenant.ArgSpec) (map[string]any, string) {
	if len(specs) == 0 {
		if args == nil {
			return map[string]any{}, ""
		}
		return args, ""
	}

	for name, spec := range specs {
		v, present := args[name]
		if !present {
			if spec.Required {
				return nil, fmt.Sprintf("missing required argument %q", name)
			}
			continue
		}
		if !typeMatches(spec.Type, v) {
			return nil, fmt.Sprintf("argument %q must be a %s", name, spec.Type)
		}
	}

	normalized := make(map[string]any, len(args))
	for name, v := range args {
		if _, declared := specs[name]; declared || name == "workspace_id" {
			normalized[name] = v
		}
	}
	return normalized, ""
}

func typeMatches(kind string, v any) bool {
	switch kind {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "list":
		_, ok := v.([]any)
		return ok
	default:
		// Undeclared or unknown type: presence is enough.
		return true
	}
}

// checkConstraints enforces value-level rules: enum membership, length caps
// and booking-date windows. today carries the tenant timezone.
func checkConstraints(args map[string]any, specs map[string]tenant.ArgSpec, today time.Time) string {
	for name, spec := range specs {
		v, present := args[name]
		if !present {
			continue
		}
		s, isString := v.(string)
		if !isString {
			continue
		}

		if len(spec.Enum) > 0 && !containsString(spec.Enum, s) {
			return fmt.Sprintf("argument %q is not an accepted value", name)
		}
		if spec.MaxLen > 0 && len([]rune(s)) > spec.MaxLen {
			return fmt.Sprintf("argument %q exceeds %d characters", name, spec.MaxLen)
		}
		if spec.Format == "date" {
			if reason := checkDateWindow(name, s, spec, today); reason != "" {
				return reason
			}
		}
	}
	return ""
}

func checkDateWindow(name, value string, spec tenant.ArgSpec, today time.Time) string {
	parsed, err := time.ParseInLocation("2006-01-02", value, today.Location())
	if err != nil {
		return fmt.Sprintf("argument %q is not a valid date", name)
	}
	midnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	daysAhead := int(parsed.Sub(midnight).Hours() / 24)

	if spec.MinDaysAhead != nil && daysAhead < *spec.MinDaysAhead {
		return fmt.Sprintf("argument %q is too soon to book", name)
	}
	if spec.MaxDaysAhead != nil && daysAhead > *spec.MaxDaysAhead {
		return fmt.Sprintf("argument %q is beyond the booking window", name)
	}
	return ""
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
