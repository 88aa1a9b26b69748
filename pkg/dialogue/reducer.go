// Package dialogue folds turn outcomes into conversation state. The reducer
// is a pure function: it never mutates its inputs and always returns a fresh
// state value, so the orchestrator can re-run it or discard its output
// without corrupting the conversation.
package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/parlo-ai/parlo/pkg/models"
)

// projection extracts typed slots from one tool's SUCCESS payload. It writes
// into the already-cloned working state.
type projection func(state *models.State, obs models.Observation)

// projections maps known tools to their SUCCESS slot extraction. Unknown
// tools still get history entries; they just carry no typed slots.
var projections = map[string]projection{
	"book_appointment":           projectBooking,
	"cancel_appointment":         projectCancellation,
	"get_services":               projectServices,
	"get_availability":           projectAvailability,
	"get_staff":                  projectStaff,
	"get_hours":                  projectHours,
	"check_service_availability": projectServiceCheck,
}

// criticalTools are the tools whose FAILURE is surfaced to the caller through
// the _validation_errors slot. Read-side lookups failing is an inconvenience;
// a booking falling through is a broken promise.
var criticalTools = map[string]bool{
	"book_appointment":   true,
	"cancel_appointment": true,
}

// Reducer folds observations into conversation state.
type Reducer struct {
	now func() time.Time
}

// NewReducer creates a Reducer using the wall clock.
func NewReducer() *Reducer {
	return &Reducer{now: time.Now}
}

// NewReducerAt creates a Reducer with a fixed clock (for testing).
func NewReducerAt(now func() time.Time) *Reducer {
	return &Reducer{now: now}
}

// Reduce applies observations in order and returns the resulting state. The
// input state is never mutated.
func (r *Reducer) Reduce(state models.State, observations []models.Observation) models.State {
	next := state.Clone()
	for _, obs := range observations {
		r.apply(&next, obs)
	}
	return next
}

// ReduceOne folds a single observation, for incremental updates between
// sequential tool calls within one plan.
func (r *Reducer) ReduceOne(state models.State, obs models.Observation) models.State {
	next := state.Clone()
	r.apply(&next, obs)
	return next
}

func (r *Reducer) apply(state *models.State, obs models.Observation) {
	switch obs.Kind {
	case models.ResultSuccess, models.ResultDuplicate:
		// DUPLICATE replays the original payload, so it projects like the
		// SUCCESS it stands in for.
		if project, ok := projections[obs.Tool]; ok {
			project(state, obs)
		}
	case models.ResultFailure:
		if criticalTools[obs.Tool] {
			// Another swing at the goal that didn't land; the counter only
			// resets when a booking finally goes through.
			state.Attempts++
			appendValidationError(state, describeFailure(obs))
		}
	case models.ResultTimeout, models.ResultCircuitOpen, models.ResultDeniedByPolicy:
		// History-only entries: the responder phrases these from the
		// observation list, the state carries no slot residue.
	}
	state.History = models.AppendHistory(state.History, obs.ToHistoryEntry(r.now()))
}

// MergeExtraction overlays the extractor's findings onto state: the latest
// utterance wins slot conflicts, the intent updates when the extractor is
// confident enough to produce one. Pure; the input state is never mutated.
func MergeExtraction(state models.State, extraction models.ExtractionResult) models.State {
	next := state.Clone()
	if extraction.Intent != "" {
		next.Intent = extraction.Intent
	}
	for name, value := range extraction.Slots {
		next.Slots[name] = value.Clone()
	}
	next.Objective = deriveObjective(next)
	return next
}

// deriveObjective summarizes what the user is after from the current intent
// and the slots gathered so far, for prompt rendering. Empty when no intent
// has been established yet.
func deriveObjective(state models.State) string {
	if state.Intent == "" || state.Intent == models.IntentOther {
		return ""
	}
	populated := state.PopulatedSlots()
	if len(populated) == 0 {
		return string(state.Intent)
	}
	return string(state.Intent) + ": " + strings.Join(populated, ", ")
}

func appendValidationError(state *models.State, message string) {
	items, _ := state.Slots["_validation_errors"].AsList()
	updated := make([]models.SlotValue, 0, len(items)+1)
	updated = append(updated, items...)
	updated = append(updated, models.StringSlot(message))
	state.Slots["_validation_errors"] = models.ListSlot(updated)
}

func describeFailure(obs models.Observation) string {
	if obs.Error != "" {
		return fmt.Sprintf("%s failed: %s", obs.Tool, obs.Error)
	}
	if obs.StatusCode != nil {
		return fmt.Sprintf("%s failed with status %d", obs.Tool, *obs.StatusCode)
	}
	return fmt.Sprintf("%s failed", obs.Tool)
}

func projectBooking(state *models.State, obs models.Observation) {
	copyPayloadSlot(state, obs, "booking_id", "booking_id")
	copyPayloadSlot(state, obs, "confirmation_code", "confirmation_code")
	if !copyPayloadSlot(state, obs, "confirmed_date", "confirmed_date") {
		copyPayloadSlot(state, obs, "date", "confirmed_date")
	}
	if !copyPayloadSlot(state, obs, "confirmed_time", "confirmed_time") {
		copyPayloadSlot(state, obs, "time", "confirmed_time")
	}
	// The goal completed: the retry counter resets and stale validation
	// noise from earlier attempts is dropped.
	state.Attempts = 0
	delete(state.Slots, "_validation_errors")
}

func projectCancellation(state *models.State, obs models.Observation) {
	if id := obs.PayloadString("booking_id"); id != "" {
		state.Slots["_cancelled_booking_id"] = models.StringSlot(id)
	} else if id := state.SlotString("booking_id"); id != "" {
		state.Slots["_cancelled_booking_id"] = models.StringSlot(id)
	}
	delete(state.Slots, "booking_id")
	delete(state.Slots, "confirmation_code")
	delete(state.Slots, "confirmed_date")
	delete(state.Slots, "confirmed_time")
}

func projectServices(state *models.State, obs models.Observation) {
	raw, ok := obs.Payload["services"]
	if !ok {
		return
	}
	items, ok := raw.([]any)
	if !ok {
		return
	}
	names := make([]models.SlotValue, 0, len(items))
	prices := map[string]models.SlotValue{}
	for _, item := range items {
		switch svc := item.(type) {
		case string:
			names = append(names, models.StringSlot(svc))
		case map[string]any:
			name, _ := svc["name"].(string)
			if name == "" {
				continue
			}
			names = append(names, models.StringSlot(name))
			if price, ok := svc["price"].(float64); ok {
				prices[name] = models.NumberSlot(price)
			}
		}
	}
	state.Slots["_available_services"] = models.ListSlot(names)
	if len(prices) > 0 {
		state.Slots["_service_prices"] = models.ObjectSlot(prices)
	}
}

func projectAvailability(state *models.State, obs models.Observation) {
	raw, ok := obs.Payload["available_times"]
	if !ok {
		raw, ok = obs.Payload["slots"]
	}
	if ok {
		if items, isList := raw.([]any); isList {
			times := make([]models.SlotValue, 0, len(items))
			for _, item := range items {
				if s, isStr := item.(string); isStr {
					times = append(times, models.StringSlot(s))
				}
			}
			state.Slots["_available_times"] = models.ListSlot(times)
		}
	}
	copyPayloadSlot(state, obs, "next_available", "_next_available")
}

func projectStaff(state *models.State, obs models.Observation) {
	raw, ok := obs.Payload["staff"]
	if !ok {
		return
	}
	if items, isList := raw.([]any); isList {
		staff := make([]models.SlotValue, 0, len(items))
		for _, item := range items {
			switch member := item.(type) {
			case string:
				staff = append(staff, models.StringSlot(member))
			case map[string]any:
				if name, _ := member["name"].(string); name != "" {
					staff = append(staff, models.StringSlot(name))
				}
			}
		}
		state.Slots["_staff_list"] = models.ListSlot(staff)
	}
}

func projectHours(state *models.State, obs models.Observation) {
	if raw, ok := obs.Payload["hours"]; ok {
		state.Slots["_business_hours"] = models.FromInterface(raw)
	}
}

func projectServiceCheck(state *models.State, obs models.Observation) {
	if available, ok := obs.Payload["available"].(bool); ok {
		state.Slots["_service_available"] = models.BoolSlot(available)
	}
}

// copyPayloadSlot writes payload[key] into the named slot when present and
// non-empty, reporting whether a write happened.
func copyPayloadSlot(state *models.State, obs models.Observation, key, slot string) bool {
	raw, ok := obs.Payload[key]
	if !ok || raw == nil {
		return false
	}
	if s, isStr := raw.(string); isStr && s == "" {
		return false
	}
	state.Slots[slot] = models.FromInterface(raw)
	return true
}
