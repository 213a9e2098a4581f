// Package detect implements the stateful syscall-event analyzers (D1-D10)
// and their shared Event/Verdict data model.
package detect

import (
	"encoding/json"
	"strconv"
)

// Event is an immutable, duck-typed syscall record. Different tracer events
// carry different subsets of fields (some use "event", others "evt"; payload
// fields vary), so the raw JSON object is kept alongside a handful of
// promoted, commonly-read fields for fast dispatch.
type Event struct {
	TS       float64
	PID      int64
	PrevPID  int64
	Parent   int64
	Child    int64
	Kind     string // "event" discriminator
	SubKind  string // "evt" secondary discriminator
	raw      map[string]interface{}
}

// ParseEvent decodes a single balanced JSON object into an Event. Missing
// "ts"/"pid"/"event" fields are tolerated; callers that require them check
// via the accessors below.
func ParseEvent(b []byte) (Event, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return Event{}, err
	}
	ev := Event{raw: m}
	if v, ok := m["ts"]; ok {
		ev.TS = toFloat(v)
	}
	if v, ok := m["pid"]; ok {
		ev.PID = toInt(v)
	}
	if v, ok := m["prev_pid"]; ok {
		ev.PrevPID = toInt(v)
	}
	if v, ok := m["parent"]; ok {
		ev.Parent = toInt(v)
	}
	if v, ok := m["child"]; ok {
		ev.Child = toInt(v)
	}
	if v, ok := m["event"]; ok {
		ev.Kind, _ = v.(string)
	}
	if v, ok := m["evt"]; ok {
		ev.SubKind, _ = v.(string)
	}
	return ev, nil
}

// Str returns a string field, defaulting to "" when absent or of the wrong type.
func (e Event) Str(key string) string {
	v, ok := e.raw[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int returns an integer field, defaulting to 0.
func (e Event) Int(key string) int64 {
	v, ok := e.raw[key]
	if !ok {
		return 0
	}
	return toInt(v)
}

// Bool returns a boolean-ish field (JSON bool, or nonzero number), defaulting to false.
func (e Event) Bool(key string) bool {
	v, ok := e.raw[key]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

// Len returns the length of a string-valued field (used for buf/file payloads
// where only the size matters to a detector), or the numeric value of a
// field directly when it is already a number.
func (e Event) Len(key string) int64 {
	v, ok := e.raw[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case string:
		return int64(len(t))
	case float64:
		return int64(t)
	}
	return 0
}

// MetaMaxPages reads the nested meta.max_pages field used by the
// MemoryCorruption MMAP_SUM check.
func (e Event) MetaMaxPages() int64 {
	meta, ok := e.raw["meta"].(map[string]interface{})
	if !ok {
		return 0
	}
	v, ok := meta["max_pages"]
	if !ok {
		return 0
	}
	return toInt(v)
}

// Has reports whether the raw object carries the given key at all.
func (e Event) Has(key string) bool {
	_, ok := e.raw[key]
	return ok
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

func toInt(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}
