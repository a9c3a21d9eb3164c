// Package transport delivers finished events to the HoneyHive backend.
//
// Three paths exist: the events API (JSON batches over HTTPS), OTLP span
// export (http/protobuf or gRPC), and an in-memory capture used by test
// mode. All paths share the same bounded-queue batcher with drop-oldest
// overflow, so a slow or unreachable backend costs memory up to the queue
// capacity and nothing more.
package transport

import "github.com/google/uuid"

// Event is the canonical wire representation of one finished span or
// session boundary. Timing fields are epoch milliseconds; Duration is
// end minus start in milliseconds.
type Event struct {
	Project   string `json:"project"`
	Source    string `json:"source"`
	EventName string `json:"event_name"`
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	ParentID  string `json:"parent_id,omitempty"`

	// ChildrenIDs is part of the wire schema; the backend reconstructs
	// it from parent links, so the SDK sends it only when a caller set
	// it explicitly.
	ChildrenIDs []string `json:"children_ids,omitempty"`

	Config   map[string]any `json:"config"`
	Inputs   map[string]any `json:"inputs"`
	Outputs  map[string]any `json:"outputs"`
	Metadata map[string]any `json:"metadata"`

	UserProperties map[string]any `json:"user_properties,omitempty"`
	Metrics        map[string]any `json:"metrics,omitempty"`
	Feedback       map[string]any `json:"feedback,omitempty"`
	Error          string         `json:"error,omitempty"`

	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Duration  float64 `json:"duration"`
}

// NormalizeSections fills any nil canonical section with an empty map so
// the wire form always carries all four keys.
func (e *Event) NormalizeSections() {
	if e.Config == nil {
		e.Config = map[string]any{}
	}
	if e.Inputs == nil {
		e.Inputs = map[string]any{}
	}
	if e.Outputs == nil {
		e.Outputs = map[string]any{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
}

// eventIDSpace namespaces deterministic event IDs derived from span
// identity, so re-processing the same span yields the same event ID.
var eventIDSpace = uuid.MustParse("8f3c6a51-49be-4c37-9f22-0f1dc9a5e0b7")

// DeterministicEventID derives a stable UUID from a trace/span identity
// string (or any other stable seed).
func DeterministicEventID(seed string) string {
	return uuid.NewSHA1(eventIDSpace, []byte(seed)).String()
}
