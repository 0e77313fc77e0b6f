package changefeed

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// EventType mirrors TG_OP in the notify trigger.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Wildcard subscribes to every table.
const Wildcard = "*"

// MaxPayloadBytes is the largest NOTIFY payload PostgreSQL accepts.
const MaxPayloadBytes = 7999

// Event is a single row change. Notifications carry only ID; New is filled in
// before fan-out for inserts and updates. Old is only set by in-process publishers.
type Event struct {
	Table string          `json:"table"`
	Type  EventType       `json:"type"`
	ID    int64           `json:"id,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Decode parses a NOTIFY payload.
func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Table == "" {
		return Event{}, fmt.Errorf("decode change event: missing table")
	}
	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("decode change event: unknown type %q", ev.Type)
	}
	return ev, nil
}

// Row returns the payload that identifies the affected row. Events without a
// row body yield {"id":ID}.
func (e Event) Row() json.RawMessage {
	row := e.New
	if e.Type == EventDelete || isNull(row) {
		row = e.Old
	}
	if isNull(row) && e.ID != 0 {
		return json.RawMessage(`{"id":` + strconv.FormatInt(e.ID, 10) + `}`)
	}
	return row
}

// Hydrated reports whether the event already carries the changed row.
func (e Event) Hydrated() bool {
	return e.Type == EventDelete || !isNull(e.New)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
