// Package reply turns a settled turn into the user-facing message. Templates
// run first: an ordered table of (intent, condition) rows covers the common
// surfaces, with tenant rows taking precedence over the built-ins. The model
// only writes when no row matches or a matching row opts into rephrasing,
// and a deterministic fallback guarantees the reply is never empty.
package reply

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/prompt"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// Turn is the settled turn the generator phrases: final working state, the
// plan that drove it and every observation the broker and policy produced.
type Turn struct {
	Workspace     *tenant.Workspace
	State         models.State
	Plan          models.Plan
	Observations  []models.Observation
	LowConfidence bool
}

// Generator renders replies. client may be nil, which disables the model
// paths and makes the generator fully deterministic (templates + fallback).
type Generator struct {
	client  model.Client
	prompts *prompt.Builder
	cfg     config.ModelConfig
	emitter *telemetry.Emitter
}

// NewGenerator creates a Generator.
func NewGenerator(client model.Client, cfg config.ModelConfig, emitter *telemetry.Emitter) *Generator {
	return &Generator{
		client:  client,
		prompts: prompt.NewBuilder(),
		cfg:     cfg,
		emitter: emitter,
	}
}

// Generate produces the reply for a turn. It always returns a non-empty,
// length-bounded text.
func (g *Generator) Generate(ctx context.Context, turn Turn) models.Reply {
	next := effectiveNextAction(turn)
	lang := language(turn.Workspace)

	row, matched := firstMatch(turn, next)

	var draft models.Reply
	if matched {
		draft = models.Reply{
			Text:         renderTemplate(row.Text, turn),
			Tone:         row.Tone,
			QuickReplies: capQuickReplies(row.QuickReplies),
			NextAction:   next,
		}
		if !row.Rephrase || g.client == nil {
			return finalize(draft, lang)
		}
	}

	phrased, err := g.complete(ctx, turn, draft.Text)
	if err != nil {
		if g.emitter != nil {
			g.emitter.EmitModelFallback(turn.Workspace.WorkspaceID, "responder", err.Error())
		}
		if matched {
			return finalize(draft, lang)
		}
		return finalize(models.Reply{Text: genericText(lang), NextAction: next}, lang)
	}
	phrased.NextAction = next
	if matched && len(phrased.QuickReplies) == 0 {
		phrased.QuickReplies = draft.QuickReplies
	}
	return finalize(phrased, lang)
}

// complete asks the responder model to write (draft empty) or restyle
// (draft set) the reply text.
func (g *Generator) complete(ctx context.Context, turn Turn, draft string) (models.Reply, error) {
	if g.client == nil {
		return models.Reply{}, errNoModel
	}
	system, user := g.prompts.Responder(turn.Workspace, turn.Plan.ResponseDirective, draft, turn.State, turn.Observations)
	raw, err := g.client.Complete(ctx, model.Request{
		Model:        g.cfg.ResponderModel,
		SystemPrompt: system,
		Prompt:       user,
		JSONSchema:   []byte(prompt.ReplySchema),
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
	})
	if err != nil {
		return models.Reply{}, err
	}

	var payload struct {
		Text         string   `json:"text"`
		Tone         string   `json:"tone"`
		QuickReplies []string `json:"quick_replies"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.Reply{}, err
	}
	return models.Reply{
		Text:         payload.Text,
		Tone:         payload.Tone,
		QuickReplies: capQuickReplies(payload.QuickReplies),
	}, nil
}

// finalize enforces the hard reply invariants: bounded length, never empty.
func finalize(r models.Reply, lang string) models.Reply {
	r.Text = models.ClampReplyText(r.Text)
	if r.Text == "" {
		r.Text = genericText(lang)
	}
	if !r.NextAction.IsValid() {
		r.NextAction = models.NextActionAnswer
	}
	return r
}

func capQuickReplies(qr []string) []string {
	if len(qr) > 3 {
		return qr[:3]
	}
	return qr
}

// effectiveNextAction picks the suggested next state: the planner's verdict
// when it gave one, otherwise inferred from the turn shape.
func effectiveNextAction(turn Turn) models.NextAction {
	if turn.Plan.NextAction.IsValid() {
		return turn.Plan.NextAction
	}
	switch {
	case len(turn.Plan.MissingSlots) > 0:
		return models.NextActionSlotFill
	case turn.State.Intent == models.IntentGreeting:
		return models.NextActionGreet
	case turn.State.Intent == models.IntentHumanHandoff:
		return models.NextActionAskHuman
	default:
		return models.NextActionAnswer
	}
}

// firstMatch walks tenant rows then built-ins and returns the first row
// whose intent and condition hold for this turn.
func firstMatch(turn Turn, next models.NextAction) (tenant.TemplateSpec, bool) {
	for _, row := range turn.Workspace.Templates {
		if rowMatches(row, turn, next) {
			return row, true
		}
	}
	for _, row := range builtinRows(language(turn.Workspace)) {
		if rowMatches(row, turn, next) {
			return row, true
		}
	}
	return tenant.TemplateSpec{}, false
}

func rowMatches(row tenant.TemplateSpec, turn Turn, next models.NextAction) bool {
	if row.Intent != "" && row.Intent != turn.State.Intent {
		return false
	}
	return conditionHolds(row.When, turn, next)
}

// conditionHolds evaluates an all-of condition. Empty fields match anything.
func conditionHolds(c tenant.TemplateCondition, turn Turn, next models.NextAction) bool {
	for _, name := range c.HasSlots {
		if !turn.State.HasSlot(name) {
			return false
		}
	}
	for _, name := range c.MissingSlots {
		if !containsString(turn.Plan.MissingSlots, name) {
			return false
		}
	}
	if c.ObservationTool != "" || c.ObservationKind != "" {
		if !hasObservation(turn.Observations, c.ObservationTool, c.ObservationKind) {
			return false
		}
	}
	if c.NextAction != "" && c.NextAction != next {
		return false
	}
	if c.LowConfidence != nil && *c.LowConfidence != turn.LowConfidence {
		return false
	}
	if c.NeedsConfirmation != nil && *c.NeedsConfirmation != turn.Plan.NeedsConfirmation {
		return false
	}
	return true
}

// hasObservation reports whether some observation matches the tool and kind
// filters (empty filter fields match anything). A DUPLICATE satisfies a
// SUCCESS filter: it replays a success.
func hasObservation(observations []models.Observation, tool string, kind models.ResultKind) bool {
	for _, obs := range observations {
		if tool != "" && obs.Tool != tool {
			continue
		}
		if kind != "" && obs.Kind != kind {
			if !(kind == models.ResultSuccess && obs.Kind == models.ResultDuplicate) {
				continue
			}
		}
		return true
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func language(ws *tenant.Workspace) string {
	if ws == nil || ws.Language == "" {
		return "es"
	}
	return strings.ToLower(ws.Language)
}
