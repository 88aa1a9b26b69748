package models

import "time"

// Observation is the broker's verdict on one action: exactly one per planned
// action, in plan order, regardless of outcome.
type Observation struct {
	Tool        string         `json:"tool_name"`
	Kind        ResultKind     `json:"result_kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
	StatusCode  *int           `json:"status_code,omitempty"`
	Attempts    int            `json:"attempts"`
	LatencyMS   int64          `json:"latency_ms"`
	Fingerprint string         `json:"fingerprint,omitempty"`
}

// ToHistoryEntry projects the observation into its compact history record
func (o Observation) ToHistoryEntry(at time.Time) HistoryEntry {
	return HistoryEntry{
		Tool:        o.Tool,
		Kind:        o.Kind,
		Fingerprint: o.Fingerprint,
		At:          at,
	}
}

// PayloadString returns a string field from the payload, or "" when absent
func (o Observation) PayloadString(key string) string {
	if o.Payload == nil {
		return ""
	}
	s, _ := o.Payload[key].(string)
	return s
}
