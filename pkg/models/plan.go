package models

// MaxPlanActions caps how many tool actions a single turn may execute
const MaxPlanActions = 3

// PlannedAction is one tool invocation proposed by the planner
type PlannedAction struct {
	Tool string         `json:"tool_name"`
	Args map[string]any `json:"arguments"`
}

// Plan is the planner's output for a turn: an ordered action list plus the
// directive the response generator should follow.
type Plan struct {
	Actions           []PlannedAction `json:"actions"`
	ResponseDirective string          `json:"response_directive,omitempty"`
	MissingSlots      []string        `json:"missing_slots,omitempty"`
	NextAction        NextAction      `json:"next_action,omitempty"`

	// NeedsConfirmation holds the planned actions until the user agrees:
	// nothing dispatches this turn and the reply asks for the go-ahead.
	NeedsConfirmation bool `json:"needs_confirmation,omitempty"`

	Fallback bool `json:"-"`
}

// ExtractionResult is the extractor's output for a turn
type ExtractionResult struct {
	Intent     Intent               `json:"intent"`
	Slots      map[string]SlotValue `json:"slots"`
	Confidence float64              `json:"confidence"`
	Heuristic  bool                 `json:"-"`
}

// DefaultLowConfidenceThreshold is the confidence bar applied when the
// pipeline configuration leaves the threshold unset.
const DefaultLowConfidenceThreshold = 0.7

// LowConfidence reports whether the extraction falls below the threshold.
// A non-positive threshold falls back to the default.
func (e ExtractionResult) LowConfidence(threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultLowConfidenceThreshold
	}
	return e.Confidence < threshold
}
