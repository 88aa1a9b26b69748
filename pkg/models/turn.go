package models

import "time"

// TurnSnapshot is the immutable per-turn view handed to the pipeline. The
// state it carries is a deep copy; pipeline stages never see live state.
type TurnSnapshot struct {
	TurnID         string    `json:"turn_id"`
	WorkspaceID    string    `json:"workspace_id"`
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel"`
	RequestID      string    `json:"request_id"`
	Utterance      string    `json:"utterance"`
	Vertical       string    `json:"vertical,omitempty"`
	Now            time.Time `json:"now"`
	State          State     `json:"state"`
}

// StageTimings records per-stage wall time for one turn
type StageTimings struct {
	ExtractMS int64 `json:"t_extract_ms"`
	PlanMS    int64 `json:"t_plan_ms"`
	PolicyMS  int64 `json:"t_policy_ms"`
	BrokerMS  int64 `json:"t_broker_ms"`
	ReduceMS  int64 `json:"t_reduce_ms"`
	NLGMS     int64 `json:"t_nlg_ms"`
	TotalMS   int64 `json:"total_ms"`
}

// Reply is the user-facing message produced for a turn
type Reply struct {
	Text         string     `json:"text"`
	Tone         string     `json:"tone,omitempty"`
	QuickReplies []string   `json:"quick_replies,omitempty"`
	NextAction   NextAction `json:"suggested_next_state,omitempty"`
}

// TurnResult is everything one pipeline run produced for a turn
type TurnResult struct {
	Reply              Reply         `json:"reply"`
	Plan               Plan          `json:"plan"`
	Observations       []Observation `json:"observations"`
	State              State         `json:"state"`
	CacheInvalidations []string      `json:"cache_invalidations,omitempty"`
	Timings            StageTimings  `json:"timings"`
	Confidence         float64       `json:"confidence"`
	LowConfidence      bool          `json:"low_confidence"`
	Fallback           bool          `json:"fallback"`
}
