package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parlo-ai/parlo/pkg/api"
	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/turn"
)

// ─────────────────────────────────────────────────────────────────────────────
// Scenario 1: Greeting turn on the staged pipeline
//
// A scripted extractor and planner resolve a greeting; the reply comes from
// the tenant template table, so the responder model is never called and the
// envelope carries no tool calls.
// ─────────────────────────────────────────────────────────────────────────────

func TestE2E_Greeting(t *testing.T) {
	script := model.NewScripted()
	script.AddRouted(extractorModel, extraction(t, "greeting", 0.95, nil))
	script.AddRouted(plannerModel, planned(t, "Saludá y ofrecé opciones", "GREET"))

	app := NewTestApp(t, WithScript(script))

	h := headers("wa-greet-001")
	data, status := app.postTurnRaw(h, api.TurnRequestBody{UserMessage: api.UserMessage{Text: "hola!"}})
	require.Equal(t, http.StatusOK, status, "turn response: %s", data)

	// tool_calls is always a JSON array, never null.
	require.Contains(t, string(data), `"tool_calls":[]`)

	var env turn.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	RequireWellFormed(t, env)

	require.Equal(t, "¡Hola! Te atiende el asistente de Peluquería Sol. ¿En qué puedo ayudarte?", env.Assistant.Text)
	require.Equal(t, []string{"Reservar turno", "Ver horarios", "Ver precios"}, env.Assistant.SuggestedReplies)
	require.Empty(t, env.ToolCalls)
	require.Equal(t, "STAGED", env.Telemetry.Route)
	require.Equal(t, "greeting", env.Telemetry.Intent)
	require.False(t, env.Telemetry.LowConfidence)

	require.Equal(t, 2, script.CallCount(), "extractor and planner only; the reply is a template")
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenario 2: Complete booking in one turn
//
// The user supplies service, relative date and time in a single utterance.
// The extractor output is normalized against the pinned clock, the planner
// chains an availability check and the booking itself, and the commit leaves
// exactly one history transition and one outbox event behind.
// ─────────────────────────────────────────────────────────────────────────────

func TestE2E_CompleteBooking(t *testing.T) {
	script := model.NewScripted()
	script.AddRouted(extractorModel, extraction(t, "book", 0.92, map[string]any{
		"service_type":   "Corte",
		"preferred_date": "mañana",
		"preferred_time": "a las 3pm",
	}))
	script.AddRouted(plannerModel, planned(t, "Confirmá el turno", "EXECUTE_ACTION",
		plannedAction("check_service_availability", map[string]any{
			"service": "Corte", "date": "2025-10-16", "time": "15:00",
		}),
		plannedAction("book_appointment", map[string]any{
			"service": "Corte", "date": "2025-10-16", "time": "15:00",
		}),
	))

	var booked atomic.Int64
	app := NewTestApp(t,
		WithScript(script),
		WithLocalTool("check_service_availability", func(_ context.Context, _ models.ToolCall) (any, error) {
			return map[string]any{"success": true, "data": map[string]any{"available": true}}, nil
		}),
		WithLocalTool("book_appointment", func(_ context.Context, _ models.ToolCall) (any, error) {
			booked.Add(1)
			return map[string]any{"success": true, "data": map[string]any{
				"booking_id":        "bk-20251016-001",
				"confirmation_code": "SOL-481",
				"date":              "2025-10-16",
				"time":              "15:00",
			}}, nil
		}),
	)

	h := headers("wa-book-001")
	env := app.Say(h, "Quiero reservar un corte para mañana a las 3 de la tarde")
	RequireWellFormed(t, env)

	require.Contains(t, env.Assistant.Text, "2025-10-16")
	require.Contains(t, env.Assistant.Text, "15:00")
	require.Contains(t, env.Assistant.Text, "SOL-481")

	require.Len(t, env.ToolCalls, 2)
	require.Equal(t, "check_service_availability", env.ToolCalls[0].Tool)
	require.Equal(t, "SUCCESS", env.ToolCalls[0].ResultKind)
	require.Equal(t, "book_appointment", env.ToolCalls[1].Tool)
	require.Equal(t, "SUCCESS", env.ToolCalls[1].ResultKind)
	require.EqualValues(t, 1, booked.Load())

	// "mañana"/"a las 3pm" were normalized before planning, and the booking
	// projection landed in the patch alongside them.
	require.Equal(t, "2025-10-16", slotString(t, env.Patch.Slots, "preferred_date"))
	require.Equal(t, "15:00", slotString(t, env.Patch.Slots, "preferred_time"))
	require.Equal(t, "bk-20251016-001", slotString(t, env.Patch.Slots, "booking_id"))
	require.Equal(t, "SOL-481", slotString(t, env.Patch.Slots, "confirmation_code"))
	require.Equal(t, 2, script.CallCount())

	conv := app.GetConversation(h.WorkspaceID, h.ConversationID)
	require.Equal(t, "book", conv.Intent)
	require.Equal(t, "bk-20251016-001", slotString(t, conv.Slots, "booking_id"))
	for name := range conv.Slots {
		require.False(t, strings.HasPrefix(name, "_"), "internal slot %q leaked", name)
	}

	ctx := context.Background()
	history, err := app.Store.History(ctx, h.WorkspaceID, h.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "turn_completed", history[0].Event)
	require.Equal(t, env.Telemetry.TurnID, history[0].TurnID)

	outbox, err := app.Store.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	require.Equal(t, "action_executed", outbox[0].Kind)
	require.Equal(t, "book_appointment", outbox[0].Payload["tool_name"])
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenario 3: Missing required slots short-circuit the planner
//
// A booking intent with no slots never reaches the planner model; the turn
// answers with the slot-fill prompt naming every missing slot.
// ─────────────────────────────────────────────────────────────────────────────

func TestE2E_SlotFillPrompt(t *testing.T) {
	script := model.NewScripted()
	script.AddRouted(extractorModel, extraction(t, "book", 0.85, nil))

	app := NewTestApp(t, WithScript(script))

	h := headers("wa-slots-001")
	env := app.Say(h, "quiero un turno")
	RequireWellFormed(t, env)

	require.Equal(t,
		"¡Genial! Para reservar tu turno necesito service_type, preferred_date y preferred_time. ¿Me lo pasás?",
		env.Assistant.Text)
	require.Empty(t, env.ToolCalls)
	require.Equal(t, 1, script.CallCount(), "missing required slots skip the planner model")

	conv := app.GetConversation(h.WorkspaceID, h.ConversationID)
	require.Equal(t, "SLOT_FILL", conv.NextAction)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenario 4: Canary routing is deterministic and sticky
//
// With a 10% canary, the conversation bucket alone decides the route, so the
// same conversation lands on the same pipeline turn after turn. Neither side
// is scripted: the staged pipeline degrades to heuristics and templates, the
// legacy pipeline to its canned reply. Both stay inside the contract.
// ─────────────────────────────────────────────────────────────────────────────

func TestE2E_CanaryRouting(t *testing.T) {
	ws := bookingWorkspace()
	ws.CanaryPercent = 10
	app := NewTestApp(t, WithWorkspace(ws))

	staged := headers("wa-slm-test")
	legacy := headers("wa-legacy-test")

	for i := 0; i < 3; i++ {
		env := app.Say(staged, "hola")
		RequireWellFormed(t, env)
		require.Equal(t, "STAGED", env.Telemetry.Route)
		require.Equal(t, 9, env.Telemetry.Bucket)
		require.Equal(t, "¡Hola! Te atiende el asistente de Peluquería Sol. ¿En qué puedo ayudarte?", env.Assistant.Text)

		env = app.Say(legacy, "hola")
		RequireWellFormed(t, env)
		require.Equal(t, "LEGACY", env.Telemetry.Route)
		require.Equal(t, 25, env.Telemetry.Bucket)
		require.Equal(t, "Disculpá, estamos teniendo un inconveniente. ¿Podés repetir tu consulta?", env.Assistant.Text)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenario 5: Request replay returns the committed envelope
//
// Re-sending a turn with the same request id replays the cached envelope:
// same turn id, same reply, no second pipeline run, no duplicate booking, no
// extra history or outbox rows.
// ─────────────────────────────────────────────────────────────────────────────

func TestE2E_IdempotentReplay(t *testing.T) {
	script := model.NewScripted()
	script.AddRouted(extractorModel, extraction(t, "book", 0.9, map[string]any{
		"service_type":   "Corte",
		"preferred_date": "2025-10-18",
		"preferred_time": "10:00",
	}))
	script.AddRouted(plannerModel, planned(t, "Reservá el turno", "EXECUTE_ACTION",
		plannedAction("book_appointment", map[string]any{
			"service": "Corte", "date": "2025-10-18", "time": "10:00",
		}),
	))

	var booked atomic.Int64
	app := NewTestApp(t,
		WithScript(script),
		WithLocalTool("book_appointment", func(_ context.Context, _ models.ToolCall) (any, error) {
			booked.Add(1)
			return map[string]any{"success": true, "data": map[string]any{
				"booking_id":        "bk-20251018-007",
				"confirmation_code": "SOL-007",
				"date":              "2025-10-18",
				"time":              "10:00",
			}}, nil
		}),
	)

	h := headers("wa-replay-001")
	h.RequestID = "req-777"
	body := api.TurnRequestBody{UserMessage: api.UserMessage{Text: "Corte el sábado a las 10"}}

	first := app.PostTurn(h, body)
	RequireWellFormed(t, first)
	require.False(t, first.Telemetry.Replayed)

	second := app.PostTurn(h, body)
	require.True(t, second.Telemetry.Replayed)
	require.Equal(t, first.Telemetry.TurnID, second.Telemetry.TurnID)
	require.Equal(t, first.Assistant, second.Assistant)
	require.Equal(t, first.ToolCalls, second.ToolCalls)

	require.Equal(t, 2, script.CallCount(), "the replayed turn never re-enters the pipeline")
	require.EqualValues(t, 1, booked.Load())

	ctx := context.Background()
	history, err := app.Store.History(ctx, h.WorkspaceID, h.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	outbox, err := app.Store.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenario 6: Circuit breaker lifecycle over real turns
//
// Three straight backend failures open the breaker for book_appointment.
// While open, the broker rejects without touching the backend and the user
// gets the delay message. The admin endpoint forces a half-open probe; a
// healthy probe closes the circuit and a later single failure leaves it
// closed. Every turn plans a different slot so no result is replayed from
// the idempotency cache.
// ─────────────────────────────────────────────────────────────────────────────

func TestE2E_BreakerLifecycle(t *testing.T) {
	ws := bookingWorkspace()
	ws.RequiredSlots = nil

	script := model.NewScripted()
	dates := []string{"2025-10-20", "2025-10-21", "2025-10-22", "2025-10-23", "2025-10-24", "2025-10-25"}
	for _, date := range dates {
		script.AddRouted(extractorModel, extraction(t, "book", 0.9, nil))
		script.AddRouted(plannerModel, planned(t, "Reservá el turno", "EXECUTE_ACTION",
			plannedAction("book_appointment", map[string]any{"service": "Corte", "date": date}),
		))
	}

	var healthy atomic.Bool
	var hits atomic.Int64
	app := NewTestApp(t,
		WithWorkspace(ws),
		WithScript(script),
		WithLocalTool("book_appointment", func(_ context.Context, call models.ToolCall) (any, error) {
			hits.Add(1)
			if !healthy.Load() {
				return nil, errors.New("backend unavailable")
			}
			return map[string]any{"success": true, "data": map[string]any{
				"booking_id":        "bk-0099",
				"confirmation_code": "SOL-099",
				"date":              call.Args["date"],
				"time":              "10:00",
			}}, nil
		}),
	)

	h := headers("wa-circuit-001")

	// Three failures within the window trip the breaker.
	for i := 0; i < 3; i++ {
		env := app.Say(h, "quiero un turno")
		RequireWellFormed(t, env)
		require.Len(t, env.ToolCalls, 1)
		require.Equal(t, "FAILURE", env.ToolCalls[0].ResultKind)
		require.Contains(t, env.Assistant.Text, "No pudimos confirmar")
		app.Advance(time.Second) // still inside the failure window
	}
	require.EqualValues(t, 3, hits.Load())
	require.Equal(t, "OPEN", app.Breakers.StateName(h.WorkspaceID, "book_appointment"))

	tools := app.GetWorkspaceTools(h.WorkspaceID)
	var bookPolicy api.ToolPolicyItem
	for _, item := range tools.Tools {
		if item.Name == "book_appointment" {
			bookPolicy = item
		}
	}
	require.Equal(t, "book_appointment", bookPolicy.Name)
	require.Equal(t, "OPEN", bookPolicy.BreakerState)

	// Open circuit: the broker rejects before dispatch, inside the cooldown.
	app.Advance(30 * time.Second)
	env := app.Say(h, "probá de nuevo")
	RequireWellFormed(t, env)
	require.Len(t, env.ToolCalls, 1)
	require.Equal(t, "CIRCUIT_OPEN", env.ToolCalls[0].ResultKind)
	require.Contains(t, env.Assistant.Text, "demoras")
	require.EqualValues(t, 3, hits.Load(), "an open circuit never reaches the backend")

	// Force a probe instead of waiting out the cooldown.
	forced := app.ForceHalfOpen(h.WorkspaceID, "book_appointment")
	require.Equal(t, "HALF_OPEN", forced.State)
	require.Equal(t, "OPEN", forced.PriorState)

	healthy.Store(true)
	env = app.Say(h, "probá de nuevo")
	RequireWellFormed(t, env)
	require.Equal(t, "SUCCESS", env.ToolCalls[0].ResultKind)
	require.Contains(t, env.Assistant.Text, "quedó confirmado")
	require.EqualValues(t, 4, hits.Load())
	require.Equal(t, "CLOSED", app.Breakers.StateName(h.WorkspaceID, "book_appointment"))

	// A single failure after recovery stays below the threshold.
	healthy.Store(false)
	env = app.Say(h, "otro turno")
	RequireWellFormed(t, env)
	require.Equal(t, "FAILURE", env.ToolCalls[0].ResultKind)
	require.Equal(t, "CLOSED", app.Breakers.StateName(h.WorkspaceID, "book_appointment"))

	require.Equal(t, 12, script.CallCount())
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenario 7: PII never reaches the logs
//
// The utterance and the planner's contact arguments carry a phone number and
// an email. Tool attempts are logged with redaction tokens; the raw values
// and the raw utterance must not appear anywhere in the log stream. The API
// response itself is not redacted.
// ─────────────────────────────────────────────────────────────────────────────

func TestE2E_TelemetryRedaction(t *testing.T) {
	const (
		phone = "+54 9 11 5555-1234"
		email = "ana@example.com"
	)

	script := model.NewScripted()
	script.AddRouted(extractorModel, extraction(t, "book", 0.9, map[string]any{
		"service_type":   "Corte",
		"preferred_date": "2025-10-17",
		"preferred_time": "11:00",
	}))
	script.AddRouted(plannerModel, planned(t, "Reservá con los datos de contacto", "EXECUTE_ACTION",
		plannedAction("book_appointment", map[string]any{
			"service":        "Corte",
			"date":           "2025-10-17",
			"customer_phone": phone,
			"customer_email": email,
		}),
	))

	app := NewTestApp(t,
		WithScript(script),
		WithLocalTool("book_appointment", func(_ context.Context, _ models.ToolCall) (any, error) {
			return map[string]any{"success": true, "data": map[string]any{
				"booking_id":        "bk-777",
				"confirmation_code": "SOL-777",
				"date":              "2025-10-17",
				"time":              "11:00",
			}}, nil
		}),
	)

	h := headers("wa-pii-001")
	env := app.Say(h, "Soy Ana, mi teléfono es +54 9 11 5555-1234 y mi email es ana@example.com")
	RequireWellFormed(t, env)
	require.Equal(t, "SUCCESS", env.ToolCalls[0].ResultKind)

	// The envelope keeps the real arguments; only telemetry is redacted.
	require.Equal(t, phone, env.ToolCalls[0].Args["customer_phone"])

	logs := app.Logs.String()
	require.Contains(t, logs, `"msg":"tool.attempt"`)
	require.Contains(t, logs, "[PHONE:")
	require.Contains(t, logs, "[EMAIL:")
	require.NotContains(t, logs, phone)
	require.NotContains(t, logs, email)
	require.NotContains(t, logs, "mi teléfono es")
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenario 8: Health and metrics surfaces
//
// An unscripted turn runs fully degraded (heuristic extraction, fallback
// plan, template reply) and still completes; /health reports healthy and
// /metrics exposes the turn counters.
// ─────────────────────────────────────────────────────────────────────────────

func TestE2E_HealthAndMetrics(t *testing.T) {
	app := NewTestApp(t)

	env := app.Say(headers("wa-health-001"), "hola")
	RequireWellFormed(t, env)
	require.True(t, env.Telemetry.LowConfidence, "heuristic extraction stays below the confidence bar")
	require.Equal(t, "¡Hola! Te atiende el asistente de Peluquería Sol. ¿En qué puedo ayudarte?", env.Assistant.Text)

	var health api.HealthResponse
	app.getJSON("/health", "", &health)
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "healthy", health.Checks["turns"].Status)

	metrics := app.GetBody("/metrics")
	require.Contains(t, metrics, "parlo_turns_total")
	require.Contains(t, metrics, "parlo_turns_in_flight")
}
