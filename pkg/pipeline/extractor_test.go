package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// pipelineWorkspace is the shared fixture for the stage tests: a Spanish
// hair salon with a booking tool chain.
func pipelineWorkspace() *tenant.Workspace {
	availability := tenant.DefaultToolSpec()
	availability.Name = "get_availability"
	availability.Transport = tenant.TransportLocal
	availability.RetrySafe = true
	availability.Args = map[string]tenant.ArgSpec{
		"service": {Type: "string", Required: true},
		"date":    {Type: "string", Required: true, Format: "date"},
	}

	book := tenant.DefaultToolSpec()
	book.Name = "book_appointment"
	book.Transport = tenant.TransportLocal
	book.Mutating = true
	book.Idempotent = true
	book.Args = map[string]tenant.ArgSpec{
		"service": {Type: "string", Required: true},
		"date":    {Type: "string", Required: true, Format: "date"},
		"time":    {Type: "string", Required: true},
	}

	hours := tenant.DefaultToolSpec()
	hours.Name = "get_hours"
	hours.Transport = tenant.TransportLocal
	hours.RetrySafe = true

	return &tenant.Workspace{
		WorkspaceID: "ws-pelu-001",
		Name:        "Peluquería Sol",
		Vertical:    "hair_salon",
		Language:    "es",
		SlotSchema: map[string]tenant.SlotSpec{
			"service": {Type: models.SlotKindString},
			"date":    {Type: models.SlotKindString, Format: "date"},
			"time":    {Type: models.SlotKindString, Format: "time"},
			"phone":   {Type: models.SlotKindString},
		},
		Tools: map[string]tenant.ToolSpec{
			"get_availability": availability,
			"book_appointment": book,
			"get_hours":        hours,
		},
		RequiredSlots: map[models.Intent][]string{
			models.IntentBook: {"service", "date", "time"},
		},
		Catalog: tenant.ServiceCatalog{
			Services: []tenant.ServiceEntry{
				{Name: "Corte", Price: 500, DurationMin: 30},
				{Name: "Color", Price: 1500, DurationMin: 90},
			},
			Hours: "Lun-Vie 9:00-18:00",
		},
	}
}

func pipelineModelConfig() config.ModelConfig {
	return config.ModelConfig{
		ExtractorModel: "extractor-v1",
		PlannerModel:   "planner-v1",
		ResponderModel: "responder-v1",
		LegacyModel:    "legacy-v1",
		Temperature:    0.2,
		MaxTokens:      512,
	}
}

func snapshotFor(utterance string) models.TurnSnapshot {
	return models.TurnSnapshot{
		TurnID:         "turn-1",
		WorkspaceID:    "ws-pelu-001",
		ConversationID: "conv-1",
		Channel:        "whatsapp",
		RequestID:      "req-1",
		Utterance:      utterance,
		Vertical:       "hair_salon",
		Now:            time.Date(2025, 10, 15, 14, 0, 0, 0, time.UTC),
		State:          models.NewState(),
	}
}

func TestExtractor_ModelExtraction(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("extractor-v1", model.ScriptEntry{
		JSON: `{"intent":"book","slots":{"service":"Corte","date":"mañana","time":"a las 3pm"},"confidence":0.93}`,
	})
	ex := NewExtractor(client, pipelineModelConfig(), nil)

	got := ex.Extract(context.Background(), snapshotFor("quiero un corte mañana a las 3pm"), pipelineWorkspace())

	assert.Equal(t, models.IntentBook, got.Intent)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)
	assert.False(t, got.Heuristic)
	assert.Equal(t, models.StringSlot("Corte"), got.Slots["service"])
	assert.Equal(t, models.StringSlot("2025-10-16"), got.Slots["date"], "relative dates resolve against the turn clock")
	assert.Equal(t, models.StringSlot("15:00"), got.Slots["time"])
}

func TestExtractor_DropsUndeclaredSlots(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("extractor-v1", model.ScriptEntry{
		JSON: `{"intent":"book","slots":{"service":"Corte","favorite_color":"azul"},"confidence":0.9}`,
	})
	ex := NewExtractor(client, pipelineModelConfig(), nil)

	got := ex.Extract(context.Background(), snapshotFor("un corte"), pipelineWorkspace())

	assert.Contains(t, got.Slots, "service")
	assert.NotContains(t, got.Slots, "favorite_color")
}

func TestExtractor_UnknownIntentBecomesOther(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("extractor-v1", model.ScriptEntry{
		JSON: `{"intent":"order_pizza","slots":{},"confidence":0.8}`,
	})
	ex := NewExtractor(client, pipelineModelConfig(), nil)

	got := ex.Extract(context.Background(), snapshotFor("una pizza grande"), pipelineWorkspace())

	assert.Equal(t, models.IntentOther, got.Intent)
}

func TestExtractor_ClampsConfidence(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("extractor-v1", model.ScriptEntry{
		JSON: `{"intent":"greeting","slots":{},"confidence":1.7}`,
	})
	ex := NewExtractor(client, pipelineModelConfig(), nil)

	got := ex.Extract(context.Background(), snapshotFor("hola"), pipelineWorkspace())

	assert.Equal(t, 1.0, got.Confidence)
}

func TestExtractor_RetriesOnceOnSchemaViolation(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("extractor-v1", model.ScriptEntry{Err: model.ErrSchemaViolation})
	client.AddRouted("extractor-v1", model.ScriptEntry{
		JSON: `{"intent":"greeting","slots":{},"confidence":0.95}`,
	})
	ex := NewExtractor(client, pipelineModelConfig(), nil)

	got := ex.Extract(context.Background(), snapshotFor("hola"), pipelineWorkspace())

	assert.Equal(t, 2, client.CallCount())
	assert.Equal(t, models.IntentGreeting, got.Intent)
	assert.False(t, got.Heuristic)
}

func TestExtractor_TwoSchemaViolationsFallBackToHeuristic(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("extractor-v1", model.ScriptEntry{Err: model.ErrSchemaViolation})
	client.AddRouted("extractor-v1", model.ScriptEntry{Err: model.ErrSchemaViolation})
	ex := NewExtractor(client, pipelineModelConfig(), nil)

	got := ex.Extract(context.Background(), snapshotFor("quiero reservar un corte"), pipelineWorkspace())

	assert.Equal(t, 2, client.CallCount())
	assert.True(t, got.Heuristic)
	assert.Equal(t, models.IntentBook, got.Intent)
	assert.Equal(t, 0.5, got.Confidence)
}

func TestExtractor_TransportErrorSkipsRetry(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("extractor-v1", model.ScriptEntry{Err: errors.New("connection refused")})
	ex := NewExtractor(client, pipelineModelConfig(), nil)

	got := ex.Extract(context.Background(), snapshotFor("hola"), pipelineWorkspace())

	assert.Equal(t, 1, client.CallCount(), "non-schema errors do not earn a second attempt")
	assert.True(t, got.Heuristic)
}

func TestExtractor_NilClientUsesHeuristic(t *testing.T) {
	ex := NewExtractor(nil, pipelineModelConfig(), nil)

	got := ex.Extract(context.Background(), snapshotFor("Hola, buenas!"), pipelineWorkspace())

	assert.True(t, got.Heuristic)
	assert.Equal(t, models.IntentGreeting, got.Intent)
}

func TestHeuristicExtraction(t *testing.T) {
	ws := pipelineWorkspace()

	tests := []struct {
		name      string
		utterance string
		intent    models.Intent
		service   string
	}{
		{name: "spanish greeting", utterance: "¡Hola!", intent: models.IntentGreeting},
		{name: "english greeting", utterance: "hey there", intent: models.IntentGreeting},
		{name: "booking keyword", utterance: "quiero un turno", intent: models.IntentBook},
		{name: "booking with service", utterance: "quiero reservar un corte", intent: models.IntentBook, service: "Corte"},
		{name: "cancel wins over booking", utterance: "quiero cancelar mi turno", intent: models.IntentCancel},
		{name: "no keyword", utterance: "qué día es?", intent: models.IntentOther},
		{name: "substring is not a word", utterance: "holanda", intent: models.IntentOther},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := heuristicExtraction(tc.utterance, ws)
			assert.Equal(t, tc.intent, got.Intent)
			assert.True(t, got.Heuristic)
			if tc.service != "" {
				require.Contains(t, got.Slots, "service")
				assert.Equal(t, models.StringSlot(tc.service), got.Slots["service"])
			}
		})
	}
}
