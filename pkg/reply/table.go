package reply

import (
	"errors"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

var errNoModel = errors.New("no responder model configured")

// builtinRows is the default template table, evaluated in order after the
// tenant's own rows. Spanish is the default surface; "en" swaps in the
// English table. Tenants on other languages override rows or rely on the
// model path.
func builtinRows(lang string) []tenant.TemplateSpec {
	if lang == "en" {
		return builtinEN
	}
	return builtinES
}

func genericText(lang string) string {
	if lang == "en" {
		return "Sorry, could you tell me again what you need?"
	}
	return "Disculpá, ¿podés contarme de nuevo qué necesitás?"
}

// SafeGeneric is the reply for requests rejected before any pipeline stage
// ran, such as malformed input or a cross-tenant reference.
func SafeGeneric(ws *tenant.Workspace) models.Reply {
	return models.Reply{
		Text:       genericText(language(ws)),
		Tone:       "neutral",
		NextAction: models.NextActionAnswer,
	}
}

// SafeDelay is the reply of last resort for turns cut short by the deadline
// or shed under load. It bypasses the template table entirely so it can be
// produced without running any pipeline stage.
func SafeDelay(ws *tenant.Workspace) models.Reply {
	if language(ws) == "en" {
		return models.Reply{
			Text:         "We're running a bit slow right now — want us to reach out to you instead?",
			Tone:         "apologetic",
			QuickReplies: []string{"Yes, contact me", "Try again"},
			NextAction:   models.NextActionAskHuman,
		}
	}
	return models.Reply{
		Text:         "Estamos teniendo demoras, ¿querés que te contactemos?",
		Tone:         "apologetic",
		QuickReplies: []string{"Sí, contáctenme", "Intentar de nuevo"},
		NextAction:   models.NextActionAskHuman,
	}
}

var builtinES = []tenant.TemplateSpec{
	{
		Intent:       models.IntentGreeting,
		Text:         "¡Hola! Te atiende el asistente de {{workspace}}. ¿En qué puedo ayudarte?",
		Tone:         "friendly",
		QuickReplies: []string{"Reservar turno", "Ver horarios", "Ver precios"},
	},
	{
		Intent:       models.IntentHumanHandoff,
		Text:         "Entendido, te paso con una persona del equipo. En breve te contactamos.",
		Tone:         "reassuring",
		QuickReplies: []string{"Gracias"},
	},
	{
		When:         tenant.TemplateCondition{ObservationKind: models.ResultTimeout},
		Text:         "Estamos teniendo demoras, ¿querés que te contactemos?",
		Tone:         "apologetic",
		QuickReplies: []string{"Sí, contáctenme", "Intentar de nuevo"},
	},
	{
		When:         tenant.TemplateCondition{ObservationKind: models.ResultCircuitOpen},
		Text:         "Estamos teniendo demoras, ¿querés que te contactemos?",
		Tone:         "apologetic",
		QuickReplies: []string{"Sí, contáctenme", "Intentar de nuevo"},
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "book_appointment",
			ObservationKind: models.ResultSuccess,
			HasSlots:        []string{"confirmed_date", "confirmed_time"},
		},
		Text:         "¡Listo! Tu turno quedó confirmado para el {{slot \"confirmed_date\"}} a las {{slot \"confirmed_time\"}}.{{if hasSlot \"confirmation_code\"}} Tu código es {{slot \"confirmation_code\"}}.{{end}}",
		Tone:         "celebratory",
		QuickReplies: []string{"Gracias", "Cambiar el turno"},
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "book_appointment",
			ObservationKind: models.ResultSuccess,
		},
		Text: "¡Listo! Tu reserva quedó confirmada.",
		Tone: "celebratory",
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "cancel_appointment",
			ObservationKind: models.ResultSuccess,
		},
		Text:         "Tu turno quedó cancelado. ¡Gracias por avisarnos!",
		Tone:         "friendly",
		QuickReplies: []string{"Reservar otro turno"},
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "get_availability",
			ObservationKind: models.ResultSuccess,
			HasSlots:        []string{"_available_times"},
		},
		Text: "Tenemos estos horarios disponibles: {{slot \"_available_times\"}}. ¿Cuál te queda mejor?",
		Tone: "helpful",
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "book_appointment",
			ObservationKind: models.ResultFailure,
		},
		Text:         "No pudimos confirmar ese turno. ¿Querés probar con otra fecha u horario?",
		Tone:         "apologetic",
		QuickReplies: []string{"Ver horarios", "Hablar con alguien"},
	},
	{
		When: tenant.TemplateCondition{ObservationKind: models.ResultDeniedByPolicy},
		Text: "No puedo procesar ese pedido con esos datos. ¿Probamos con otra opción?",
		Tone: "neutral",
	},
	{
		When:         tenant.TemplateCondition{NeedsConfirmation: boolPtr(true)},
		Text:         "Antes de avanzar quiero confirmarlo con vos. ¿Seguimos adelante?",
		Tone:         "friendly",
		QuickReplies: []string{"Sí, dale", "No, cambiar algo"},
	},
	{
		Intent: models.IntentBook,
		When:   tenant.TemplateCondition{NextAction: models.NextActionSlotFill},
		Text:   "¡Genial! Para reservar tu turno necesito {{missing}}. ¿Me lo pasás?",
		Tone:   "friendly",
	},
	{
		When: tenant.TemplateCondition{NextAction: models.NextActionSlotFill},
		Text: "Para avanzar necesito {{missing}}. ¿Me lo decís?",
		Tone: "friendly",
	},
	{
		Intent: models.IntentFaqHours,
		When:   tenant.TemplateCondition{NextAction: models.NextActionAnswer},
		Text:   "{{if hours}}Nuestros horarios de atención: {{hours}}.{{else}}Enseguida te confirmo nuestros horarios de atención.{{end}}",
		Tone:   "helpful",
	},
	{
		Intent: models.IntentFaqServices,
		When:   tenant.TemplateCondition{NextAction: models.NextActionAnswer},
		Text:   "{{if services}}Estos son nuestros servicios: {{services}}. ¿Te interesa alguno?{{else}}Contame qué servicio buscás y te confirmo si lo hacemos.{{end}}",
		Tone:   "helpful",
	},
	{
		Intent: models.IntentFaqPrices,
		When:   tenant.TemplateCondition{NextAction: models.NextActionAnswer},
		Text:   "{{if services}}Nuestros precios: {{services}}.{{else}}Decime qué servicio te interesa y te paso el precio.{{end}}",
		Tone:   "helpful",
	},
	{
		When:         tenant.TemplateCondition{LowConfidence: boolPtr(true)},
		Text:         "Creo que no te entendí del todo. ¿Me contás qué necesitás? Por ejemplo, reservar un turno o consultar precios.",
		Tone:         "gentle",
		QuickReplies: []string{"Reservar turno", "Ver precios", "Hablar con alguien"},
	},
}

var builtinEN = []tenant.TemplateSpec{
	{
		Intent:       models.IntentGreeting,
		Text:         "Hi! You're chatting with the {{workspace}} assistant. How can I help?",
		Tone:         "friendly",
		QuickReplies: []string{"Book an appointment", "See hours", "See prices"},
	},
	{
		Intent:       models.IntentHumanHandoff,
		Text:         "Got it, I'm handing you over to a member of the team. We'll be right with you.",
		Tone:         "reassuring",
		QuickReplies: []string{"Thanks"},
	},
	{
		When:         tenant.TemplateCondition{ObservationKind: models.ResultTimeout},
		Text:         "We're running a bit slow right now — want us to reach out to you instead?",
		Tone:         "apologetic",
		QuickReplies: []string{"Yes, contact me", "Try again"},
	},
	{
		When:         tenant.TemplateCondition{ObservationKind: models.ResultCircuitOpen},
		Text:         "We're running a bit slow right now — want us to reach out to you instead?",
		Tone:         "apologetic",
		QuickReplies: []string{"Yes, contact me", "Try again"},
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "book_appointment",
			ObservationKind: models.ResultSuccess,
			HasSlots:        []string{"confirmed_date", "confirmed_time"},
		},
		Text:         "Done! Your appointment is confirmed for {{slot \"confirmed_date\"}} at {{slot \"confirmed_time\"}}.{{if hasSlot \"confirmation_code\"}} Your code is {{slot \"confirmation_code\"}}.{{end}}",
		Tone:         "celebratory",
		QuickReplies: []string{"Thanks", "Change the appointment"},
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "book_appointment",
			ObservationKind: models.ResultSuccess,
		},
		Text: "Done! Your booking is confirmed.",
		Tone: "celebratory",
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "cancel_appointment",
			ObservationKind: models.ResultSuccess,
		},
		Text:         "Your appointment has been cancelled. Thanks for letting us know!",
		Tone:         "friendly",
		QuickReplies: []string{"Book another one"},
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "get_availability",
			ObservationKind: models.ResultSuccess,
			HasSlots:        []string{"_available_times"},
		},
		Text: "These times are open: {{slot \"_available_times\"}}. Which works best for you?",
		Tone: "helpful",
	},
	{
		When: tenant.TemplateCondition{
			ObservationTool: "book_appointment",
			ObservationKind: models.ResultFailure,
		},
		Text:         "We couldn't confirm that appointment. Want to try another date or time?",
		Tone:         "apologetic",
		QuickReplies: []string{"See times", "Talk to someone"},
	},
	{
		When: tenant.TemplateCondition{ObservationKind: models.ResultDeniedByPolicy},
		Text: "I can't process that request with those details. Shall we try another option?",
		Tone: "neutral",
	},
	{
		When:         tenant.TemplateCondition{NeedsConfirmation: boolPtr(true)},
		Text:         "Just to confirm before I go ahead — shall I proceed with that?",
		Tone:         "friendly",
		QuickReplies: []string{"Yes, go ahead", "No, change something"},
	},
	{
		Intent: models.IntentBook,
		When:   tenant.TemplateCondition{NextAction: models.NextActionSlotFill},
		Text:   "Great! To book your appointment I still need {{missing}}. Can you share it?",
		Tone:   "friendly",
	},
	{
		When: tenant.TemplateCondition{NextAction: models.NextActionSlotFill},
		Text: "To move forward I need {{missing}}. Could you tell me?",
		Tone: "friendly",
	},
	{
		Intent: models.IntentFaqHours,
		When:   tenant.TemplateCondition{NextAction: models.NextActionAnswer},
		Text:   "{{if hours}}Our opening hours: {{hours}}.{{else}}Let me check our opening hours for you.{{end}}",
		Tone:   "helpful",
	},
	{
		Intent: models.IntentFaqServices,
		When:   tenant.TemplateCondition{NextAction: models.NextActionAnswer},
		Text:   "{{if services}}Here's what we offer: {{services}}. Interested in any of them?{{else}}Tell me what service you're after and I'll confirm whether we do it.{{end}}",
		Tone:   "helpful",
	},
	{
		Intent: models.IntentFaqPrices,
		When:   tenant.TemplateCondition{NextAction: models.NextActionAnswer},
		Text:   "{{if services}}Our prices: {{services}}.{{else}}Tell me which service you're interested in and I'll send the price.{{end}}",
		Tone:   "helpful",
	},
	{
		When:         tenant.TemplateCondition{LowConfidence: boolPtr(true)},
		Text:         "I'm not sure I got that. Could you tell me what you need? For example, booking an appointment or checking prices.",
		Tone:         "gentle",
		QuickReplies: []string{"Book an appointment", "See prices", "Talk to someone"},
	},
}

func boolPtr(v bool) *bool { return &v }
