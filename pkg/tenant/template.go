package tenant

import "github.com/parlo-ai/parlo/pkg/models"

// TemplateSpec is one response template row. Rows are evaluated in order and
// the first matching condition wins; tenant rows take precedence over the
// built-in table.
type TemplateSpec struct {
	Intent models.Intent     `json:"intent,omitempty"`
	When   TemplateCondition `json:"when,omitempty"`
	Text   string            `json:"text"`
	Tone   string            `json:"tone,omitempty"`

	QuickReplies []string `json:"quick_replies,omitempty"`

	// Rephrase asks the model to restyle the rendered text; the template
	// output remains the fallback when the model is unavailable.
	Rephrase bool `json:"rephrase,omitempty"`
}

// TemplateCondition is an all-of match over the turn outcome. Empty fields
// match everything, so the zero condition is a catch-all.
type TemplateCondition struct {
	HasSlots          []string          `json:"has_slots,omitempty"`
	MissingSlots      []string          `json:"missing_slots,omitempty"`
	ObservationTool   string            `json:"observation_tool,omitempty"`
	ObservationKind   models.ResultKind `json:"observation_kind,omitempty"`
	NextAction        models.NextAction `json:"next_action,omitempty"`
	LowConfidence     *bool             `json:"low_confidence,omitempty"`
	NeedsConfirmation *bool             `json:"needs_confirmation,omitempty"`
}

// FallbackPlanRule is one row of the deterministic planning table used when
// the model planner is unavailable or returns invalid output. Rows are
// evaluated in order; the first whose intent matches and whose required slots
// are all populated wins.
type FallbackPlanRule struct {
	Intent       models.Intent        `json:"intent"`
	RequireSlots []string             `json:"require_slots,omitempty"`
	Actions      []FallbackPlanAction `json:"actions,omitempty"`
	NextAction   models.NextAction    `json:"next_action,omitempty"`
	Directive    string               `json:"directive,omitempty"`
}

// FallbackPlanAction builds one planned action from state: ArgsFromSlots maps
// argument names to slot names, StaticArgs inject constants.
type FallbackPlanAction struct {
	Tool          string            `json:"tool"`
	ArgsFromSlots map[string]string `json:"args_from_slots,omitempty"`
	StaticArgs    map[string]any    `json:"static_args,omitempty"`
}

// Matches reports whether every required slot is populated in the state
func (r FallbackPlanRule) Matches(intent models.Intent, state models.State) bool {
	if r.Intent != intent {
		return false
	}
	for _, slot := range r.RequireSlots {
		if !state.HasSlot(slot) {
			return false
		}
	}
	return true
}

// Build materializes the rule's actions against the current state
func (r FallbackPlanRule) Build(state models.State) []models.PlannedAction {
	actions := make([]models.PlannedAction, 0, len(r.Actions))
	for _, tpl := range r.Actions {
		args := map[string]any{}
		for argName, slotName := range tpl.ArgsFromSlots {
			if v, ok := state.Slot(slotName); ok {
				args[argName] = v.Interface()
			}
		}
		for argName, v := range tpl.StaticArgs {
			args[argName] = v
		}
		actions = append(actions, models.PlannedAction{Tool: tpl.Tool, Args: args})
	}
	return actions
}
