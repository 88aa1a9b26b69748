package dialogue

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlo-ai/parlo/pkg/models"
)

func fixedClock() func() time.Time {
	at := time.Date(2025, 10, 15, 14, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func successObs(tool string, payload map[string]any) models.Observation {
	return models.Observation{
		Tool:        tool,
		Kind:        models.ResultSuccess,
		Payload:     payload,
		Attempts:    1,
		Fingerprint: "fp-" + tool,
	}
}

func TestReduce_BookingSuccess(t *testing.T) {
	r := NewReducerAt(fixedClock())
	state := models.NewState()
	state.Slots["service_type"] = models.StringSlot("Corte")
	state.Attempts = 2

	next := r.Reduce(state, []models.Observation{
		successObs("book_appointment", map[string]any{
			"booking_id":        "bk-123",
			"confirmation_code": "ABC123",
			"confirmed_date":    "2025-10-16",
			"confirmed_time":    "15:30",
		}),
	})

	assert.Equal(t, "bk-123", next.SlotString("booking_id"))
	assert.Equal(t, "ABC123", next.SlotString("confirmation_code"))
	assert.Equal(t, "2025-10-16", next.SlotString("confirmed_date"))
	assert.Equal(t, "15:30", next.SlotString("confirmed_time"))
	assert.Equal(t, 0, next.Attempts, "completed booking resets the attempt counter")
	assert.Equal(t, "Corte", next.SlotString("service_type"), "existing slots survive")

	require.Len(t, next.History, 1)
	assert.Equal(t, models.ResultSuccess, next.History[0].Kind)
}

func TestReduce_BookingFallbackDateKeys(t *testing.T) {
	r := NewReducerAt(fixedClock())

	next := r.Reduce(models.NewState(), []models.Observation{
		successObs("book_appointment", map[string]any{
			"booking_id": "bk-9",
			"date":       "2025-10-20",
			"time":       "10:00",
		}),
	})

	assert.Equal(t, "2025-10-20", next.SlotString("confirmed_date"))
	assert.Equal(t, "10:00", next.SlotString("confirmed_time"))
}

func TestReduce_CancellationClearsBookingSlots(t *testing.T) {
	r := NewReducerAt(fixedClock())
	state := models.NewState()
	state.Slots["booking_id"] = models.StringSlot("bk-123")
	state.Slots["confirmation_code"] = models.StringSlot("ABC123")
	state.Slots["confirmed_date"] = models.StringSlot("2025-10-16")

	next := r.Reduce(state, []models.Observation{
		successObs("cancel_appointment", map[string]any{"booking_id": "bk-123"}),
	})

	assert.False(t, next.HasSlot("booking_id"))
	assert.False(t, next.HasSlot("confirmation_code"))
	assert.False(t, next.HasSlot("confirmed_date"))
	assert.Equal(t, "bk-123", next.SlotString("_cancelled_booking_id"))
}

func TestReduce_ServicesProjection(t *testing.T) {
	r := NewReducerAt(fixedClock())

	next := r.Reduce(models.NewState(), []models.Observation{
		successObs("get_services", map[string]any{
			"services": []any{
				map[string]any{"name": "Corte", "price": float64(500)},
				map[string]any{"name": "Color", "price": float64(1200)},
				"Peinado",
			},
		}),
	})

	services, ok := next.Slots["_available_services"].AsList()
	require.True(t, ok)
	require.Len(t, services, 3)
	got := make([]string, len(services))
	for i, s := range services {
		got[i], _ = s.AsString()
	}
	assert.Equal(t, []string{"Corte", "Color", "Peinado"}, got)

	prices, ok := next.Slots["_service_prices"].AsObject()
	require.True(t, ok)
	price, _ := prices["Corte"].AsNumber()
	assert.Equal(t, float64(500), price)
}

func TestReduce_AvailabilityProjection(t *testing.T) {
	r := NewReducerAt(fixedClock())

	next := r.Reduce(models.NewState(), []models.Observation{
		successObs("get_availability", map[string]any{
			"available_times": []any{"10:00", "15:30", "16:00"},
			"next_available":  "2025-10-16T10:00",
		}),
	})

	times, ok := next.Slots["_available_times"].AsList()
	require.True(t, ok)
	assert.Len(t, times, 3)
	assert.Equal(t, "2025-10-16T10:00", next.SlotString("_next_available"))
}

func TestReduce_StaffHoursAndServiceCheck(t *testing.T) {
	r := NewReducerAt(fixedClock())

	next := r.Reduce(models.NewState(), []models.Observation{
		successObs("get_staff", map[string]any{
			"staff": []any{map[string]any{"name": "Ana"}, "Luis"},
		}),
		successObs("get_hours", map[string]any{"hours": "Lun-Sab 9:00-19:00"}),
		successObs("check_service_availability", map[string]any{"available": true}),
	})

	staff, ok := next.Slots["_staff_list"].AsList()
	require.True(t, ok)
	assert.Len(t, staff, 2)
	assert.Equal(t, "Lun-Sab 9:00-19:00", next.SlotString("_business_hours"))
	available, ok := next.Slots["_service_available"].AsBool()
	require.True(t, ok)
	assert.True(t, available)
	assert.Len(t, next.History, 3)
}

func TestReduce_CriticalFailureAppendsValidationError(t *testing.T) {
	r := NewReducerAt(fixedClock())
	status := 422

	next := r.Reduce(models.NewState(), []models.Observation{
		{
			Tool:       "book_appointment",
			Kind:       models.ResultFailure,
			Error:      "slot already taken",
			StatusCode: &status,
			Attempts:   1,
		},
	})

	errors, ok := next.Slots["_validation_errors"].AsList()
	require.True(t, ok)
	require.Len(t, errors, 1)
	msg, _ := errors[0].AsString()
	assert.Contains(t, msg, "book_appointment")
	assert.Contains(t, msg, "slot already taken")
}

func TestReduce_CriticalFailureIncrementsAttempts(t *testing.T) {
	r := NewReducerAt(fixedClock())
	state := models.NewState()

	for i := 0; i < 5; i++ {
		state = r.ReduceOne(state, models.Observation{
			Tool:     "book_appointment",
			Kind:     models.ResultFailure,
			Error:    "slot already taken",
			Attempts: 1,
		})
	}

	assert.Equal(t, 5, state.Attempts, "each failed booking attempt bumps the counter")

	// A later success clears it again.
	state = r.ReduceOne(state, successObs("book_appointment", map[string]any{"booking_id": "bk-1"}))
	assert.Equal(t, 0, state.Attempts)
}

func TestReduce_NonCriticalFailureIsHistoryOnly(t *testing.T) {
	r := NewReducerAt(fixedClock())

	next := r.Reduce(models.NewState(), []models.Observation{
		{Tool: "get_availability", Kind: models.ResultFailure, Error: "boom", Attempts: 3},
	})

	assert.False(t, next.HasSlot("_validation_errors"))
	assert.Equal(t, 0, next.Attempts, "read-side failures don't count as attempts")
	assert.Len(t, next.History, 1)
}

func TestReduce_CircuitOpenLeavesSlotsUntouched(t *testing.T) {
	r := NewReducerAt(fixedClock())
	state := models.NewState()
	state.Slots["service_type"] = models.StringSlot("Corte")

	next := r.Reduce(state, []models.Observation{
		{Tool: "get_availability", Kind: models.ResultCircuitOpen, Attempts: 0},
	})

	assert.Equal(t, 1, len(next.Slots), "no slot mutation on CIRCUIT_OPEN")
	require.Len(t, next.History, 1)
	assert.Equal(t, models.ResultCircuitOpen, next.History[0].Kind)
}

func TestReduce_HistoryEvictsFIFO(t *testing.T) {
	r := NewReducerAt(fixedClock())

	observations := make([]models.Observation, 0, models.HistoryLimit+3)
	for i := 0; i < models.HistoryLimit+3; i++ {
		observations = append(observations, models.Observation{
			Tool:        fmt.Sprintf("tool-%d", i),
			Kind:        models.ResultSuccess,
			Fingerprint: fmt.Sprintf("fp-%d", i),
		})
	}

	next := r.Reduce(models.NewState(), observations)

	require.Len(t, next.History, models.HistoryLimit)
	assert.Equal(t, "tool-3", next.History[0].Tool, "oldest entries evicted first")
	assert.Equal(t, fmt.Sprintf("tool-%d", models.HistoryLimit+2), next.History[len(next.History)-1].Tool)
}

func TestReduce_DuplicateProjectsLikeSuccess(t *testing.T) {
	r := NewReducerAt(fixedClock())

	next := r.Reduce(models.NewState(), []models.Observation{
		{
			Tool: "book_appointment",
			Kind: models.ResultDuplicate,
			Payload: map[string]any{
				"booking_id": "bk-original",
			},
		},
	})

	assert.Equal(t, "bk-original", next.SlotString("booking_id"),
		"replayed payloads must project exactly like the original SUCCESS")
}

func TestMergeExtraction(t *testing.T) {
	state := models.NewState()
	state.Intent = models.IntentOther
	state.Slots["service_type"] = models.StringSlot("Color")
	state.Slots["date"] = models.StringSlot("2025-10-01")

	merged := MergeExtraction(state, models.ExtractionResult{
		Intent: models.IntentBook,
		Slots: map[string]models.SlotValue{
			"service_type": models.StringSlot("Corte"),
			"time":         models.StringSlot("15:30"),
		},
		Confidence: 0.95,
	})

	assert.Equal(t, models.IntentBook, merged.Intent)
	assert.Equal(t, "Corte", merged.SlotString("service_type"), "latest utterance wins")
	assert.Equal(t, "2025-10-01", merged.SlotString("date"), "unmentioned slots survive")
	assert.Equal(t, "15:30", merged.SlotString("time"))

	// Input untouched.
	assert.Equal(t, models.IntentOther, state.Intent)
	assert.Equal(t, "Color", state.SlotString("service_type"))
}

func TestMergeExtraction_DerivesObjective(t *testing.T) {
	merged := MergeExtraction(models.NewState(), models.ExtractionResult{
		Intent: models.IntentBook,
		Slots: map[string]models.SlotValue{
			"service_type": models.StringSlot("Corte"),
			"date":         models.StringSlot("2025-10-16"),
		},
		Confidence: 0.9,
	})
	assert.Equal(t, string(models.IntentBook)+": date, service_type", merged.Objective)

	// No established goal, nothing to summarize.
	bare := MergeExtraction(models.NewState(), models.ExtractionResult{Intent: models.IntentOther})
	assert.Empty(t, bare.Objective)

	// Intent alone is still an objective.
	intentOnly := MergeExtraction(models.NewState(), models.ExtractionResult{Intent: models.IntentFaqHours})
	assert.Equal(t, string(models.IntentFaqHours), intentOnly.Objective)
}

func TestReduceProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	r := NewReducerAt(fixedClock())

	kinds := []models.ResultKind{
		models.ResultSuccess, models.ResultFailure, models.ResultTimeout,
		models.ResultCircuitOpen, models.ResultDuplicate, models.ResultDeniedByPolicy,
	}
	tools := []string{
		"book_appointment", "cancel_appointment", "get_services",
		"get_availability", "get_staff", "get_hours", "unknown_tool",
	}

	genObservation := gopter.CombineGens(
		gen.IntRange(0, len(tools)-1),
		gen.IntRange(0, len(kinds)-1),
	).Map(func(values []any) models.Observation {
		return models.Observation{
			Tool:        tools[values[0].(int)],
			Kind:        kinds[values[1].(int)],
			Payload:     map[string]any{"booking_id": "bk-1"},
			Fingerprint: "fp",
		}
	})

	properties.Property("input state is never mutated", prop.ForAll(
		func(observations []models.Observation) bool {
			state := models.NewState()
			state.Slots["service_type"] = models.StringSlot("Corte")
			state.Attempts = 2
			before := state.Clone()

			_ = r.Reduce(state, observations)

			if state.Attempts != before.Attempts || len(state.Slots) != len(before.Slots) {
				return false
			}
			if len(state.History) != len(before.History) {
				return false
			}
			for name, v := range before.Slots {
				got, ok := state.Slots[name]
				if !ok || !got.Equal(v) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genObservation),
	))

	properties.Property("history never exceeds the limit", prop.ForAll(
		func(observations []models.Observation) bool {
			next := r.Reduce(models.NewState(), observations)
			return len(next.History) <= models.HistoryLimit
		},
		gen.SliceOf(genObservation),
	))

	properties.Property("reduce is deterministic", prop.ForAll(
		func(observations []models.Observation) bool {
			state := models.NewState()
			a := r.Reduce(state, observations)
			b := r.Reduce(state, observations)
			if len(a.Slots) != len(b.Slots) || len(a.History) != len(b.History) {
				return false
			}
			for name, v := range a.Slots {
				got, ok := b.Slots[name]
				if !ok || !got.Equal(v) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genObservation),
	))

	properties.TestingRun(t)
}
