package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SlotKind discriminates the JSON shape held by a SlotValue
type SlotKind string

const (
	// SlotKindString holds a JSON string
	SlotKindString SlotKind = "string"
	// SlotKindNumber holds a JSON number
	SlotKindNumber SlotKind = "number"
	// SlotKindBool holds a JSON boolean
	SlotKindBool SlotKind = "boolean"
	// SlotKindObject holds a JSON object
	SlotKindObject SlotKind = "object"
	// SlotKindList holds a JSON array
	SlotKindList SlotKind = "list"
)

// SlotValue is a single slot entry: a JSON-representable scalar, object or list.
// The zero value is not valid; construct via the typed helpers or UnmarshalJSON.
type SlotValue struct {
	kind SlotKind
	str  string
	num  float64
	b    bool
	obj  map[string]SlotValue
	list []SlotValue
}

// StringSlot wraps a string value
func StringSlot(s string) SlotValue { return SlotValue{kind: SlotKindString, str: s} }

// NumberSlot wraps a numeric value
func NumberSlot(n float64) SlotValue { return SlotValue{kind: SlotKindNumber, num: n} }

// BoolSlot wraps a boolean value
func BoolSlot(b bool) SlotValue { return SlotValue{kind: SlotKindBool, b: b} }

// ObjectSlot wraps a nested object
func ObjectSlot(m map[string]SlotValue) SlotValue { return SlotValue{kind: SlotKindObject, obj: m} }

// ListSlot wraps a list of values
func ListSlot(items []SlotValue) SlotValue { return SlotValue{kind: SlotKindList, list: items} }

// Kind returns the JSON shape of the value
func (v SlotValue) Kind() SlotKind { return v.kind }

// AsString returns the string payload when Kind is string
func (v SlotValue) AsString() (string, bool) { return v.str, v.kind == SlotKindString }

// AsNumber returns the numeric payload when Kind is number
func (v SlotValue) AsNumber() (float64, bool) { return v.num, v.kind == SlotKindNumber }

// AsBool returns the boolean payload when Kind is boolean
func (v SlotValue) AsBool() (bool, bool) { return v.b, v.kind == SlotKindBool }

// AsObject returns the object payload when Kind is object
func (v SlotValue) AsObject() (map[string]SlotValue, bool) {
	return v.obj, v.kind == SlotKindObject
}

// AsList returns the list payload when Kind is list
func (v SlotValue) AsList() ([]SlotValue, bool) { return v.list, v.kind == SlotKindList }

// Interface unwraps the value into plain Go types (string, float64, bool,
// map[string]any, []any) for templates and tool arguments.
func (v SlotValue) Interface() any {
	switch v.kind {
	case SlotKindString:
		return v.str
	case SlotKindNumber:
		return v.num
	case SlotKindBool:
		return v.b
	case SlotKindObject:
		m := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			m[k] = item.Interface()
		}
		return m
	case SlotKindList:
		l := make([]any, len(v.list))
		for i, item := range v.list {
			l[i] = item.Interface()
		}
		return l
	default:
		return nil
	}
}

// FromInterface converts plain decoded JSON (string, bool, float64, int,
// map[string]any, []any) into a SlotValue. Unsupported types become their
// string representation so extractor output never drops a slot silently.
func FromInterface(raw any) SlotValue {
	switch t := raw.(type) {
	case string:
		return StringSlot(t)
	case bool:
		return BoolSlot(t)
	case float64:
		return NumberSlot(t)
	case int:
		return NumberSlot(float64(t))
	case int64:
		return NumberSlot(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return StringSlot(t.String())
		}
		return NumberSlot(f)
	case map[string]any:
		m := make(map[string]SlotValue, len(t))
		for k, item := range t {
			m[k] = FromInterface(item)
		}
		return ObjectSlot(m)
	case []any:
		l := make([]SlotValue, len(t))
		for i, item := range t {
			l[i] = FromInterface(item)
		}
		return ListSlot(l)
	case nil:
		return StringSlot("")
	default:
		return StringSlot(fmt.Sprintf("%v", t))
	}
}

// Equal reports deep equality of two slot values
func (v SlotValue) Equal(other SlotValue) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case SlotKindString:
		return v.str == other.str
	case SlotKindNumber:
		return v.num == other.num
	case SlotKindBool:
		return v.b == other.b
	case SlotKindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, item := range v.obj {
			o, ok := other.obj[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	case SlotKindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i, item := range v.list {
			if !item.Equal(other.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Clone returns a deep copy
func (v SlotValue) Clone() SlotValue {
	switch v.kind {
	case SlotKindObject:
		m := make(map[string]SlotValue, len(v.obj))
		for k, item := range v.obj {
			m[k] = item.Clone()
		}
		return ObjectSlot(m)
	case SlotKindList:
		l := make([]SlotValue, len(v.list))
		for i, item := range v.list {
			l[i] = item.Clone()
		}
		return ListSlot(l)
	default:
		return v
	}
}

// MarshalJSON emits the bare JSON value (no kind wrapper)
func (v SlotValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON sniffs the JSON shape and stores it
func (v *SlotValue) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("slot value: %w", err)
	}
	*v = FromInterface(raw)
	return nil
}

// IsEphemeralSlot reports whether a slot name is turn-scoped derived data
// (underscore prefix) that is excluded from tenant-visible patches unless the
// tenant slot schema declares it explicitly.
func IsEphemeralSlot(name string) bool {
	return strings.HasPrefix(name, "_")
}
