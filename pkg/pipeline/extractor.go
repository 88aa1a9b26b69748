// Package pipeline is the staged serving path: extract, plan, filter,
// dispatch, reduce, respond. Each stage degrades instead of failing (the
// extractor falls back to keyword heuristics, the planner to a deterministic
// table) so a turn always reaches the response generator.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/prompt"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

var errNoModel = errors.New("no model client configured")

// Extractor turns an utterance into intent and slots.
type Extractor struct {
	client  model.Client
	prompts *prompt.Builder
	cfg     config.ModelConfig
	emitter *telemetry.Emitter
}

// NewExtractor creates an Extractor. client may be nil; extraction then runs
// on heuristics alone.
func NewExtractor(client model.Client, cfg config.ModelConfig, emitter *telemetry.Emitter) *Extractor {
	return &Extractor{
		client:  client,
		prompts: prompt.NewBuilder(),
		cfg:     cfg,
		emitter: emitter,
	}
}

// Extract always returns a usable result: up to two schema-bound model
// attempts, then the keyword heuristic at confidence 0.5.
func (e *Extractor) Extract(ctx context.Context, snap models.TurnSnapshot, ws *tenant.Workspace) models.ExtractionResult {
	lastErr := errNoModel
	if e.client != nil {
		system, user := e.prompts.Extractor(ws, snap.Utterance, snap.State, snap.Now)
		req := model.Request{
			Model:        e.cfg.ExtractorModel,
			SystemPrompt: system,
			Prompt:       user,
			JSONSchema:   []byte(prompt.ExtractionSchema),
			Temperature:  e.cfg.Temperature,
			MaxTokens:    e.cfg.MaxTokens,
		}

		for attempt := 0; attempt < 2; attempt++ {
			raw, err := e.client.Complete(ctx, req)
			if err != nil {
				lastErr = err
				if errors.Is(err, model.ErrSchemaViolation) {
					continue
				}
				// Transport or deadline trouble: a second call only burns
				// turn budget.
				break
			}
			extraction, err := parseExtraction(raw, ws)
			if err != nil {
				lastErr = err
				continue
			}
			e.normalizeTimes(&extraction, ws, snap.Now)
			return extraction
		}
	}

	if e.emitter != nil {
		e.emitter.EmitModelFallback(ws.WorkspaceID, "extractor", lastErr.Error())
	}
	extraction := heuristicExtraction(snap.Utterance, ws)
	e.normalizeTimes(&extraction, ws, snap.Now)
	return extraction
}

func (e *Extractor) normalizeTimes(extraction *models.ExtractionResult, ws *tenant.Workspace, now time.Time) {
	loc, err := ws.Location()
	if err != nil {
		loc = time.UTC
	}
	normalizeExtractedTimes(extraction, ws.SlotSchema, now, loc)
}

// parseExtraction decodes a schema-valid model payload and keeps only slots
// the workspace declares.
func parseExtraction(raw json.RawMessage, ws *tenant.Workspace) (models.ExtractionResult, error) {
	var payload struct {
		Intent     string                      `json:"intent"`
		Slots      map[string]models.SlotValue `json:"slots"`
		Confidence float64                     `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("decode extraction: %w", err)
	}

	out := models.ExtractionResult{
		Intent:     models.NormalizeIntent(payload.Intent),
		Slots:      map[string]models.SlotValue{},
		Confidence: clamp01(payload.Confidence),
	}
	for name, value := range payload.Slots {
		if ws.DeclaresSlot(name) {
			out.Slots[name] = value
		}
	}
	return out, nil
}

// heuristicExtraction is the model-free fallback: keyword intent match plus
// a catalog lookup for the service slot.
func heuristicExtraction(utterance string, ws *tenant.Workspace) models.ExtractionResult {
	out := models.ExtractionResult{
		Intent:     models.IntentOther,
		Slots:      map[string]models.SlotValue{},
		Confidence: 0.5,
		Heuristic:  true,
	}

	text := tokenize(utterance)
	switch {
	case containsPhrase(text, greetingWords):
		out.Intent = models.IntentGreeting
	case containsPhrase(text, cancelWords):
		out.Intent = models.IntentCancel
	case containsPhrase(text, bookingWords):
		out.Intent = models.IntentBook
	}

	if ws.DeclaresSlot("service") {
		if name, ok := ws.Catalog.FindService(utterance); ok {
			out.Slots["service"] = models.StringSlot(name)
		}
	}
	return out
}

var (
	greetingWords = []string{
		"hola", "buenas", "buen dia", "buen día", "buenos dias", "buenos días",
		"buenas tardes", "hello", "hi", "hey", "good morning",
	}
	bookingWords = []string{
		"reservar", "reserva", "turno", "cita", "agendar", "agenda",
		"book", "booking", "appointment", "schedule",
	}
	cancelWords = []string{
		"cancelar", "cancela", "anular", "cancel",
	}
)

// containsPhrase reports whether any phrase occurs in the tokenized text on
// word boundaries.
func containsPhrase(text string, phrases []string) bool {
	padded := " " + text + " "
	for _, phrase := range phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
