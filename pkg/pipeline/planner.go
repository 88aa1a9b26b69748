package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/prompt"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// Planner decides which tools to call for a turn.
type Planner struct {
	client  model.Client
	prompts *prompt.Builder
	cfg     config.ModelConfig
	emitter *telemetry.Emitter
}

// NewPlanner creates a Planner. client may be nil; planning then uses the
// deterministic table only.
func NewPlanner(client model.Client, cfg config.ModelConfig, emitter *telemetry.Emitter) *Planner {
	return &Planner{
		client:  client,
		prompts: prompt.NewBuilder(),
		cfg:     cfg,
		emitter: emitter,
	}
}

// Plan builds the turn's action plan against the working state (extraction
// already merged). Missing required slots short-circuit to a slot-fill plan
// without a model call; a failed model call drops to the fallback table.
func (p *Planner) Plan(ctx context.Context, snap models.TurnSnapshot, state models.State, ws *tenant.Workspace) models.Plan {
	if missing := missingRequiredSlots(state, ws); len(missing) > 0 {
		return models.Plan{
			MissingSlots: missing,
			NextAction:   models.NextActionSlotFill,
		}
	}

	plan, err := p.fromModel(ctx, snap, state, ws)
	if err != nil {
		if p.emitter != nil {
			p.emitter.EmitModelFallback(ws.WorkspaceID, "planner", err.Error())
		}
		return fallbackPlan(state, ws)
	}
	return plan
}

func missingRequiredSlots(state models.State, ws *tenant.Workspace) []string {
	var missing []string
	for _, name := range ws.RequiredSlotsFor(state.Intent) {
		if !state.HasSlot(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

func (p *Planner) fromModel(ctx context.Context, snap models.TurnSnapshot, state models.State, ws *tenant.Workspace) (models.Plan, error) {
	if p.client == nil {
		return models.Plan{}, errNoModel
	}

	system, user := p.prompts.Planner(ws, snap.Utterance, state)
	raw, err := p.client.Complete(ctx, model.Request{
		Model:        p.cfg.PlannerModel,
		SystemPrompt: system,
		Prompt:       user,
		JSONSchema:   []byte(prompt.PlanSchema),
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
	})
	if err != nil {
		return models.Plan{}, err
	}

	var payload struct {
		Actions []struct {
			Tool string         `json:"tool_name"`
			Args map[string]any `json:"arguments"`
		} `json:"actions"`
		ResponseDirective string   `json:"response_directive"`
		MissingSlots      []string `json:"missing_slots"`
		NextAction        string   `json:"next_action"`
		NeedsConfirmation bool     `json:"needs_confirmation"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.Plan{}, fmt.Errorf("decode plan: %w", err)
	}

	plan := models.Plan{
		ResponseDirective: payload.ResponseDirective,
		MissingSlots:      compactStrings(payload.MissingSlots),
		NextAction:        models.NextAction(payload.NextAction),
		NeedsConfirmation: payload.NeedsConfirmation,
	}
	for _, action := range payload.Actions {
		if len(plan.Actions) == models.MaxPlanActions {
			break
		}
		if !ws.Whitelisted(action.Tool) {
			continue
		}
		args := action.Args
		if args == nil {
			args = map[string]any{}
		}
		args["workspace_id"] = snap.WorkspaceID
		plan.Actions = append(plan.Actions, models.PlannedAction{Tool: action.Tool, Args: args})
	}
	if !plan.NextAction.IsValid() {
		plan.NextAction = inferNextAction(plan)
	}
	return plan, nil
}

// fallbackPlan is the deterministic table used when the model planner is
// unavailable or returns invalid output: tenant rules in order, then the
// built-in intent defaults.
func fallbackPlan(state models.State, ws *tenant.Workspace) models.Plan {
	for _, rule := range ws.FallbackPlans {
		if !rule.Matches(state.Intent, state) {
			continue
		}
		plan := models.Plan{
			ResponseDirective: rule.Directive,
			NextAction:        rule.NextAction,
			Fallback:          true,
		}
		for _, action := range rule.Build(state) {
			if len(plan.Actions) == models.MaxPlanActions {
				break
			}
			if !ws.Whitelisted(action.Tool) {
				continue
			}
			if action.Args == nil {
				action.Args = map[string]any{}
			}
			action.Args["workspace_id"] = ws.WorkspaceID
			plan.Actions = append(plan.Actions, action)
		}
		if !plan.NextAction.IsValid() {
			plan.NextAction = inferNextAction(plan)
		}
		return plan
	}

	plan := models.Plan{Fallback: true}
	switch state.Intent {
	case models.IntentGreeting:
		plan.NextAction = models.NextActionGreet
	case models.IntentHumanHandoff:
		plan.NextAction = models.NextActionAskHuman
	case models.IntentFaqHours:
		addToolPlan(&plan, state, ws, "get_hours")
	case models.IntentFaqServices, models.IntentFaqPrices:
		addToolPlan(&plan, state, ws, "get_services")
	case models.IntentBook:
		addToolPlan(&plan, state, ws, "get_availability")
	}
	if !plan.NextAction.IsValid() {
		plan.NextAction = inferNextAction(plan)
	}
	return plan
}

// addToolPlan plans one whitelisted tool, filling its declared arguments
// from state slots of the same name. Unfillable required arguments turn the
// plan into a slot-fill request instead of a doomed call.
func addToolPlan(plan *models.Plan, state models.State, ws *tenant.Workspace, tool string) {
	spec, ok := ws.Tool(tool)
	if !ok {
		return
	}

	args := map[string]any{"workspace_id": ws.WorkspaceID}
	var missing []string
	for argName, argSpec := range spec.Args {
		if v, has := state.Slot(argName); has {
			args[argName] = v.Interface()
			continue
		}
		if argSpec.Required {
			missing = append(missing, argName)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		plan.MissingSlots = missing
		plan.NextAction = models.NextActionSlotFill
		return
	}
	plan.Actions = append(plan.Actions, models.PlannedAction{Tool: tool, Args: args})
	plan.NextAction = models.NextActionRetrieveContext
}

func inferNextAction(plan models.Plan) models.NextAction {
	switch {
	case len(plan.Actions) > 0:
		return models.NextActionExecuteAction
	case len(plan.MissingSlots) > 0:
		return models.NextActionSlotFill
	default:
		return models.NextActionAnswer
	}
}

func compactStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
