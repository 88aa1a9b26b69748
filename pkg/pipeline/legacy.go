package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/prompt"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// Legacy is the single-prompt serving path: one model call produces the
// reply text and a suggested next state, with no tool execution. It is the
// control arm of the canary split and the fallback when the staged path
// fails.
type Legacy struct {
	client  model.Client
	prompts *prompt.Builder
	cfg     config.ModelConfig
	emitter *telemetry.Emitter
}

// NewLegacy builds the legacy path around a model client.
func NewLegacy(client model.Client, cfg config.ModelConfig, emitter *telemetry.Emitter) *Legacy {
	return &Legacy{
		client:  client,
		prompts: prompt.NewBuilder(),
		cfg:     cfg,
		emitter: emitter,
	}
}

// RunTurn serves one turn on the legacy path. It never fails: model errors
// degrade to a canned template reply so the caller always has something to
// send.
func (l *Legacy) RunTurn(ctx context.Context, snap models.TurnSnapshot, ws *tenant.Workspace) *models.TurnResult {
	rep, err := l.fromModel(ctx, snap, ws)
	if err != nil {
		if l.emitter != nil {
			l.emitter.EmitModelFallback(snap.WorkspaceID, "legacy", err.Error())
		}
		rep = l.template(ws)
	}

	state := snap.State.Clone()
	state.NextAction = rep.NextAction

	return &models.TurnResult{
		Reply: rep,
		State: state,
	}
}

func (l *Legacy) fromModel(ctx context.Context, snap models.TurnSnapshot, ws *tenant.Workspace) (models.Reply, error) {
	if l.client == nil {
		return models.Reply{}, errNoModel
	}

	system, user := l.prompts.Legacy(ws, snap.Utterance, snap.State, snap.Now)
	raw, err := l.client.Complete(ctx, model.Request{
		Model:        l.cfg.LegacyModel,
		SystemPrompt: system,
		Prompt:       user,
		JSONSchema:   []byte(prompt.LegacySchema),
		Temperature:  l.cfg.Temperature,
		MaxTokens:    l.cfg.MaxTokens,
	})
	if err != nil {
		return models.Reply{}, err
	}

	var payload struct {
		MessageText        string `json:"message_text"`
		SuggestedNextState string `json:"suggested_next_state"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.Reply{}, err
	}
	if payload.MessageText == "" {
		return models.Reply{}, errors.New("legacy model returned empty message_text")
	}

	next := models.NextAction(payload.SuggestedNextState)
	if !next.IsValid() {
		next = models.NextActionAnswer
	}
	return models.Reply{
		Text:       models.ClampReplyText(payload.MessageText),
		Tone:       "neutral",
		NextAction: next,
	}, nil
}

// template is the last-resort legacy reply when the model is unreachable.
func (l *Legacy) template(ws *tenant.Workspace) models.Reply {
	text := "Disculpá, estamos teniendo un inconveniente. ¿Podés repetir tu consulta?"
	if ws.Language == "en" {
		text = "Sorry, we are having trouble right now. Could you repeat that?"
	}
	return models.Reply{
		Text:       text,
		Tone:       "neutral",
		NextAction: models.NextActionAnswer,
	}
}
