package rpc

import (
	"encoding/json"
)

// Value is the typed-value envelope used by the speaker, e.g.
// {"type":"i32_","i32_":42} or {"type":"kefPhysicalSource","kefPhysicalSource":"wifi"}.
// Event payloads sometimes omit "type", so accessors key off the populated field.
type Value struct {
	Type           string  `json:"type,omitempty"`
	I32            *int    `json:"i32_,omitempty"`
	I64            *int64  `json:"i64_,omitempty"`
	String         *string `json:"string_,omitempty"`
	Bool           *bool   `json:"bool_,omitempty"`
	PhysicalSource *string `json:"kefPhysicalSource,omitempty"`
	SpeakerStatus  *string `json:"kefSpeakerStatus,omitempty"`
}

// I32 builds an i32_ envelope.
func I32(v int) Value {
	return Value{Type: TypeI32, I32: &v}
}

// PhysicalSource builds a kefPhysicalSource envelope.
func PhysicalSource(source string) Value {
	return Value{Type: TypePhysicalSource, PhysicalSource: &source}
}

// SpeakerStatusValue builds a kefSpeakerStatus envelope.
func SpeakerStatusValue(status string) Value {
	return Value{Type: TypeSpeakerStatus, SpeakerStatus: &status}
}

// Int returns the integer payload (i32_ or i64_).
func (v Value) Int() (int, bool) {
	if v.I32 != nil {
		return *v.I32, true
	}
	if v.I64 != nil {
		return int(*v.I64), true
	}
	return 0, false
}

// Int64 returns the i64_ payload, falling back to i32_.
func (v Value) Int64() (int64, bool) {
	if v.I64 != nil {
		return *v.I64, true
	}
	if v.I32 != nil {
		return int64(*v.I32), true
	}
	return 0, false
}

// Str returns the string_ payload.
func (v Value) Str() (string, bool) {
	if v.String == nil {
		return "", false
	}
	return *v.String, true
}

// Boolean returns the bool_ payload.
func (v Value) Boolean() (bool, bool) {
	if v.Bool == nil {
		return false, false
	}
	return *v.Bool, true
}

// Source returns the kefPhysicalSource payload.
func (v Value) Source() (string, bool) {
	if v.PhysicalSource == nil || *v.PhysicalSource == "" {
		return "", false
	}
	return *v.PhysicalSource, true
}

// Status returns the kefSpeakerStatus payload.
func (v Value) Status() (string, bool) {
	if v.SpeakerStatus == nil || *v.SpeakerStatus == "" {
		return "", false
	}
	return *v.SpeakerStatus, true
}

// ParseValue decodes a single envelope. Non-object payloads decode to the zero Value.
func ParseValue(raw json.RawMessage) Value {
	var value Value
	if len(raw) == 0 {
		return value
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return Value{}
	}
	return value
}

// FirstElement returns the first element of a getData response array.
// An empty or non-array response yields nil.
func FirstElement(raw json.RawMessage) json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return nil
	}
	return items[0]
}
