package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotValueJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		json string
		kind SlotKind
	}{
		{name: "string", json: `"Corte"`, kind: SlotKindString},
		{name: "number", json: `15.5`, kind: SlotKindNumber},
		{name: "boolean", json: `true`, kind: SlotKindBool},
		{name: "object", json: `{"date":"2025-10-16","time":"15:00"}`, kind: SlotKindObject},
		{name: "list", json: `["10:00","15:00"]`, kind: SlotKindList},
		{name: "nested", json: `{"times":["10:00"],"count":2}`, kind: SlotKindObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v SlotValue
			require.NoError(t, json.Unmarshal([]byte(tt.json), &v))
			assert.Equal(t, tt.kind, v.Kind())

			out, err := json.Marshal(v)
			require.NoError(t, err)

			var again SlotValue
			require.NoError(t, json.Unmarshal(out, &again))
			assert.True(t, v.Equal(again), "round trip changed value: %s -> %s", tt.json, out)
		})
	}
}

func TestSlotValueAccessors(t *testing.T) {
	s, ok := StringSlot("mañana").AsString()
	require.True(t, ok)
	assert.Equal(t, "mañana", s)

	n, ok := NumberSlot(42).AsNumber()
	require.True(t, ok)
	assert.Equal(t, float64(42), n)

	_, ok = NumberSlot(42).AsString()
	assert.False(t, ok)

	b, ok := BoolSlot(true).AsBool()
	require.True(t, ok)
	assert.True(t, b)
}

func TestFromInterface(t *testing.T) {
	v := FromInterface(map[string]any{
		"service": "Corte",
		"price":   float64(3500),
		"active":  true,
		"times":   []any{"10:00", "11:00"},
	})
	obj, ok := v.AsObject()
	require.True(t, ok)
	assert.Equal(t, SlotKindString, obj["service"].Kind())
	assert.Equal(t, SlotKindNumber, obj["price"].Kind())
	assert.Equal(t, SlotKindBool, obj["active"].Kind())
	assert.Equal(t, SlotKindList, obj["times"].Kind())
}

func TestSlotValueCloneIsIndependent(t *testing.T) {
	inner := map[string]SlotValue{"a": StringSlot("x")}
	original := ObjectSlot(inner)
	clone := original.Clone()

	inner["a"] = StringSlot("mutated")

	obj, _ := clone.AsObject()
	got, _ := obj["a"].AsString()
	assert.Equal(t, "x", got)
}

func TestIsEphemeralSlot(t *testing.T) {
	assert.True(t, IsEphemeralSlot("_available_times"))
	assert.True(t, IsEphemeralSlot("_validation_errors"))
	assert.False(t, IsEphemeralSlot("service_type"))
	assert.False(t, IsEphemeralSlot("preferred_date"))
}
