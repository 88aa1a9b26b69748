package turn

import (
	"github.com/parlo-ai/parlo/pkg/models"
)

// Request is one inbound turn, already parsed by the transport layer.
type Request struct {
	WorkspaceID    string
	ConversationID string
	Channel        string
	RequestID      string
	Utterance      string
	Vertical       string

	// Slots is the client's view of the conversation slots. It seeds brand
	// new conversations only; for existing conversations the server copy is
	// authoritative.
	Slots map[string]models.SlotValue
}

// Assistant is the user-facing half of the envelope.
type Assistant struct {
	Text             string   `json:"text"`
	SuggestedReplies []string `json:"suggested_replies,omitempty"`
}

// ToolCallSummary names one tool invocation of the turn and how it ended.
type ToolCallSummary struct {
	Tool       string         `json:"tool_name"`
	Args       map[string]any `json:"args,omitempty"`
	ResultKind string         `json:"result_kind"`
}

// TelemetrySummary is the envelope's per-turn telemetry block. Route reflects
// the path actually taken, including any legacy fallback.
type TelemetrySummary struct {
	Route         string              `json:"route"`
	Bucket        int                 `json:"bucket"`
	Intent        string              `json:"intent,omitempty"`
	Confidence    float64             `json:"confidence,omitempty"`
	Timings       models.StageTimings `json:"timings"`
	LowConfidence bool                `json:"low_confidence,omitempty"`
	Fallback      bool                `json:"fallback,omitempty"`
	Degraded      bool                `json:"degraded,omitempty"`
	Replayed      bool                `json:"replayed,omitempty"`
	TurnID        string              `json:"turn_id"`
	RequestID     string              `json:"request_id,omitempty"`
}

// Envelope is the complete response for one turn. The shape is stable and
// grows by additive fields only; assistant.text is never empty.
type Envelope struct {
	Assistant Assistant         `json:"assistant"`
	ToolCalls []ToolCallSummary `json:"tool_calls"`
	Patch     models.StatePatch `json:"patch"`
	Telemetry TelemetrySummary  `json:"telemetry"`
}

// toolCallSummaries pairs each observation with the plan action that produced
// it. Observations list denials first, then executed actions in plan order;
// each one claims the first unclaimed plan action with a matching tool name.
func toolCallSummaries(plan models.Plan, observations []models.Observation) []ToolCallSummary {
	out := make([]ToolCallSummary, 0, len(observations))
	claimed := make([]bool, len(plan.Actions))
	for _, obs := range observations {
		summary := ToolCallSummary{Tool: obs.Tool, ResultKind: string(obs.Kind)}
		for i, action := range plan.Actions {
			if claimed[i] || action.Tool != obs.Tool {
				continue
			}
			claimed[i] = true
			summary.Args = action.Args
			break
		}
		out = append(out, summary)
	}
	return out
}
