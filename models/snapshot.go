package models

import "strings"

// ValueKind is the JSON scalar type a field arrived as
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
)

// Value is one scalar field value, kept as the device sent it
type Value struct {
	Kind ValueKind
	Raw  string
}

func StringValue(s string) Value { return Value{Kind: ValueString, Raw: s} }
func NumberValue(n string) Value { return Value{Kind: ValueNumber, Raw: n} }
func NullValue() Value { return Value{Kind: ValueNull} }

func BoolValue(b bool) Value {
	if b {
		return Value{Kind: ValueBool, Raw: "true"}
	}
	return Value{Kind: ValueBool, Raw: "false"}
}

// IsEmpty reports null or an empty string
func (v Value) IsEmpty() bool {
	return v.Kind == ValueNull || (v.Kind == ValueString && v.Raw == "")
}

func (v Value) String() string {
	return v.Raw
}

// Field is one key/value pair of a snapshot
type Field struct {
	Name  string
	Value Value
}

// Snapshot is one decoded inbound message. Fields keep arrival order.
type Snapshot struct {
	Fields []Field
	// Skipped lists fields dropped because their value was not a scalar
	Skipped []string
}

// Get returns the value of a field by name
func (s *Snapshot) Get(name string) (Value, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Split routes fields whose name starts with calendarPrefix to the calendar set
func (s *Snapshot) Split(calendarPrefix string) (calendar, measurements []Field) {
	for _, f := range s.Fields {
		if strings.HasPrefix(f.Name, calendarPrefix) {
			calendar = append(calendar, f)
		} else {
			measurements = append(measurements, f)
		}
	}
	return calendar, measurements
}
