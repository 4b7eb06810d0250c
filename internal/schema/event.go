// Package schema defines the normalized event and alert models for the
// detection service. Events arrive schema-loose: only tenant attribution is
// required before a rule may see them, everything else is optional and rules
// must tolerate absence.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformed indicates an event payload that could not be decoded.
// The consumer negatively acknowledges such messages.
var ErrMalformed = errors.New("malformed event payload")

// Event is one normalized observed activity.
// Timestamp is kept as the producer-assigned ISO-8601 string; the detection
// windows are measured by store time, not event time.
type Event struct {
	TenantID   string         `json:"tenant_id"`
	EventID    string         `json:"event_id"`
	Timestamp  string         `json:"timestamp"`
	Category   string         `json:"category"`
	Outcome    string         `json:"outcome,omitempty"`
	Actor      *Entity        `json:"actor,omitempty"`
	Target     *Entity        `json:"target,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Entity identifies the subject or object of an event.
type Entity struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// DecodeEvent parses a JSON event payload. A payload that is not a JSON
// object is malformed; missing fields are not.
func DecodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &event, nil
}

// ActorID returns the actor id, or "" when no actor is attached.
func (e *Event) ActorID() string {
	if e.Actor == nil {
		return ""
	}
	return e.Actor.ID
}

// AttrString returns a string attribute. Non-string values are rendered via
// their default formatting; a missing attribute is "".
func (e *Event) AttrString(name string) string {
	v, ok := e.Attributes[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// AttrFloat returns a numeric attribute. JSON numbers decode as float64, but
// producers occasionally send numerics as strings, so those are parsed too.
// A missing or non-numeric attribute is 0.
func (e *Event) AttrFloat(name string) float64 {
	v, ok := e.Attributes[name]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
