package prompt

// ExtractionSchema validates extractor output before the pipeline parses it.
const ExtractionSchema = `{
	"type": "object",
	"properties": {
		"intent": {"type": "string"},
		"slots": {"type": "object"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["intent", "slots", "confidence"]
}`

// PlanSchema validates planner output. Action-count and whitelist limits are
// enforced by the planner itself so oversized plans degrade to truncation
// instead of a retry.
const PlanSchema = `{
	"type": "object",
	"properties": {
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"tool_name": {"type": "string"},
					"arguments": {"type": "object"}
				},
				"required": ["tool_name"]
			}
		},
		"response_directive": {"type": "string"},
		"missing_slots": {"type": "array", "items": {"type": "string"}},
		"needs_confirmation": {"type": "boolean"},
		"next_action": {
			"type": "string",
			"enum": ["GREET", "SLOT_FILL", "RETRIEVE_CONTEXT", "EXECUTE_ACTION", "ANSWER", "ASK_HUMAN"]
		}
	},
	"required": ["actions", "response_directive"]
}`

// ReplySchema validates responder output.
const ReplySchema = `{
	"type": "object",
	"properties": {
		"text": {"type": "string", "minLength": 1},
		"tone": {"type": "string"},
		"quick_replies": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["text"]
}`

// LegacySchema validates the legacy handler output. suggested_next_state is
// deliberately unconstrained here; unknown labels are dropped downstream
// rather than failing the whole turn.
const LegacySchema = `{
	"type": "object",
	"properties": {
		"message_text": {"type": "string", "minLength": 1},
		"suggested_next_state": {"type": "string"}
	},
	"required": ["message_text"]
}`
