package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event represents one normalized log event. Fields holds the parsed log as a
// (possibly nested) field map; paths use dots to address nested values.
type Event struct {
	EventID   string                 `json:"event_id" msgpack:"event_id"`
	Timestamp time.Time              `json:"timestamp" msgpack:"timestamp"`
	Source    string                 `json:"source,omitempty" msgpack:"source,omitempty"`
	Fields    map[string]interface{} `json:"fields" msgpack:"fields"`
}

// NewEvent creates a new Event with a generated UUID
func NewEvent() *Event {
	return &Event{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Fields:    make(map[string]interface{}),
	}
}

// Get resolves a dotted field path. A flat key containing dots ("source.ip")
// takes precedence over walking nested maps. A present key holding nil is
// reported as found with a nil value.
func (e *Event) Get(path string) (interface{}, bool) {
	if e == nil || e.Fields == nil || path == "" {
		return nil, false
	}
	if v, ok := e.Fields[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var current interface{} = e.Fields
	for _, segment := range strings.Split(path, ".") {
		m, ok := asFieldMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set stores a value under a flat key
func (e *Event) Set(key string, value interface{}) {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
}

// Clone returns a deep copy of the event so alerts can carry the triggering
// log without sharing mutable maps with the pipeline.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	fields := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = cloneValue(v)
	}
	return &Event{
		EventID:   e.EventID,
		Timestamp: e.Timestamp,
		Source:    e.Source,
		Fields:    fields,
	}
}

func asFieldMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		// msgpack and yaml.v2 style decoders produce untyped keys
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	}
	return nil, false
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
