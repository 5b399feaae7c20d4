// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package tracejson

import (
	"bytes"
	"encoding/json"
)

// MinEventBytes is the shortest trimmed payload worth parsing. The
// smallest real event, {"id":0}, is eight bytes; anything shorter is
// a fragment or a wrapper delimiter.
const MinEventBytes = 8

// EventID is the identity triple of one trace event. A negative id
// marks an event that should be filtered rather than carried into
// output chunks; pid and tid default to -1 when absent but do not
// affect validity.
type EventID struct {
	ID  int64
	PID int64
	TID int64
}

// Less orders EventIDs by id, then pid, then tid. This is the order
// the verification hash feeds events in, so it must be total and
// stable.
func (e EventID) Less(other EventID) bool {
	if e.ID != other.ID {
		return e.ID < other.ID
	}
	if e.PID != other.PID {
		return e.PID < other.PID
	}
	return e.TID < other.TID
}

// Trim strips leading and trailing ASCII whitespace and at most one
// trailing comma from a raw line, returning the payload an output
// chunk should carry. The returned slice aliases line.
func Trim(line []byte) []byte {
	trimmed := bytes.Trim(line, " \t\r\n")
	if n := len(trimmed); n > 0 && trimmed[n-1] == ',' {
		trimmed = bytes.TrimRight(trimmed[:n-1], " \t\r")
	}
	return trimmed
}

// Valid reports whether a raw line looks like a trace event: after
// trimming it is at least MinEventBytes long and shaped like a JSON
// object. The array wrapper lines "[" and "]" fail the shape test.
// Valid is the cheap filter; ExtractEvent does the real parse.
func Valid(line []byte) bool {
	trimmed := Trim(line)
	if len(trimmed) < MinEventBytes {
		return false
	}
	return trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}'
}

// ExtractEvent validates a raw line and parses its identity fields.
// It returns ok only for lines that pass Valid, parse as a JSON
// object, and carry a non-negative integer id. Fields that are
// missing or not integers read as -1, so an event without an id is
// filtered while one without a pid or tid is kept.
func ExtractEvent(line []byte) (EventID, bool) {
	if !Valid(line) {
		return EventID{}, false
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(Trim(line), &object); err != nil {
		return EventID{}, false
	}
	id := EventID{
		ID:  intField(object, "id"),
		PID: intField(object, "pid"),
		TID: intField(object, "tid"),
	}
	if id.ID < 0 {
		return EventID{}, false
	}
	return id, true
}

// intField reads one integer field from a decoded object, returning
// -1 when the field is absent or not an integer.
func intField(object map[string]json.RawMessage, key string) int64 {
	raw, ok := object[key]
	if !ok {
		return -1
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return -1
	}
	v, err := n.Int64()
	if err != nil {
		return -1
	}
	return v
}
