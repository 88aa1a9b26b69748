package models

import (
	"sort"
	"time"
)

// HistoryLimit caps the observation history kept on conversation state
const HistoryLimit = 8

// HistoryEntry is the compact record of one past tool outcome, kept on state
// so the policy engine can detect redundant re-execution.
type HistoryEntry struct {
	Tool        string     `json:"tool_name"`
	Kind        ResultKind `json:"result_kind"`
	Fingerprint string     `json:"fingerprint"`
	At          time.Time  `json:"at"`
}

// State is the accumulated dialogue state of one conversation
type State struct {
	Slots      map[string]SlotValue `json:"slots"`
	Intent     Intent               `json:"intent,omitempty"`
	NextAction NextAction           `json:"next_action,omitempty"`
	Attempts   int                  `json:"attempts,omitempty"`
	Objective  string               `json:"objective,omitempty"`
	History    []HistoryEntry       `json:"history,omitempty"`
}

// NewState returns an empty state with an initialized slot map
func NewState() State {
	return State{Slots: map[string]SlotValue{}}
}

// Clone returns a deep copy; mutating the copy never touches the original
func (s State) Clone() State {
	out := State{
		Intent:     s.Intent,
		NextAction: s.NextAction,
		Attempts:   s.Attempts,
		Objective:  s.Objective,
	}
	out.Slots = make(map[string]SlotValue, len(s.Slots))
	for k, v := range s.Slots {
		out.Slots[k] = v.Clone()
	}
	if len(s.History) > 0 {
		out.History = make([]HistoryEntry, len(s.History))
		copy(out.History, s.History)
	}
	return out
}

// Slot returns the named slot value
func (s State) Slot(name string) (SlotValue, bool) {
	v, ok := s.Slots[name]
	return v, ok
}

// SlotString returns the named slot as a string, or "" when absent or non-string
func (s State) SlotString(name string) string {
	v, ok := s.Slots[name]
	if !ok {
		return ""
	}
	str, _ := v.AsString()
	return str
}

// HasSlot reports whether the slot is present and non-empty
func (s State) HasSlot(name string) bool {
	v, ok := s.Slots[name]
	if !ok {
		return false
	}
	if str, isStr := v.AsString(); isStr {
		return str != ""
	}
	return true
}

// PopulatedSlots returns the sorted names of present non-ephemeral slots
func (s State) PopulatedSlots() []string {
	names := make([]string, 0, len(s.Slots))
	for name := range s.Slots {
		if IsEphemeralSlot(name) {
			continue
		}
		if s.HasSlot(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RecentSuccess reports whether history holds a SUCCESS entry with the given
// fingerprint no older than the window.
func (s State) RecentSuccess(fingerprint string, window time.Duration, now time.Time) bool {
	for _, h := range s.History {
		if h.Kind != ResultSuccess || h.Fingerprint != fingerprint {
			continue
		}
		if now.Sub(h.At) <= window {
			return true
		}
	}
	return false
}

// AppendHistory returns history with the entry appended, evicting the oldest
// entries beyond HistoryLimit (FIFO).
func AppendHistory(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	out := append(append([]HistoryEntry{}, history...), entry)
	if len(out) > HistoryLimit {
		out = out[len(out)-HistoryLimit:]
	}
	return out
}

// StatePatch is the per-turn state delta returned to the caller. Ephemeral
// (underscore-prefixed) slots are excluded unless the tenant declares them.
type StatePatch struct {
	Slots                 map[string]SlotValue `json:"slots,omitempty"`
	SlotsToRemove         []string             `json:"slots_to_remove,omitempty"`
	CacheInvalidationKeys []string             `json:"cache_invalidation_keys,omitempty"`
}

// IsEmpty reports whether the patch carries no changes
func (p StatePatch) IsEmpty() bool {
	return len(p.Slots) == 0 && len(p.SlotsToRemove) == 0 && len(p.CacheInvalidationKeys) == 0
}

// DiffStates computes the patch that transforms prev into next. declared
// reports slot names the tenant schema lists explicitly; ephemeral slots not
// declared are dropped from the patch (they stay server-side only).
func DiffStates(prev, next State, declared func(string) bool) StatePatch {
	if declared == nil {
		declared = func(string) bool { return false }
	}
	patch := StatePatch{Slots: map[string]SlotValue{}}
	for name, nv := range next.Slots {
		if IsEphemeralSlot(name) && !declared(name) {
			continue
		}
		pv, existed := prev.Slots[name]
		if !existed || !pv.Equal(nv) {
			patch.Slots[name] = nv.Clone()
		}
	}
	for name := range prev.Slots {
		if IsEphemeralSlot(name) && !declared(name) {
			continue
		}
		if _, still := next.Slots[name]; !still {
			patch.SlotsToRemove = append(patch.SlotsToRemove, name)
		}
	}
	sort.Strings(patch.SlotsToRemove)
	if len(patch.Slots) == 0 {
		patch.Slots = nil
	}
	return patch
}
