package event

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Type identifies the kind of a sync event. Well-known types are listed
// below; any other non-empty string is treated as a custom application type.
type Type string

// Well-known event types.
const (
	TypeSessionUpdated Type = "session_updated"
	TypeSessionCleared Type = "session_cleared"
	TypeTabOpened      Type = "tab_opened"
	TypeTabClosing     Type = "tab_closing"
	TypeTabVisible     Type = "tab_visible"
	TypeTabHidden      Type = "tab_hidden"
	TypeTabOnline      Type = "tab_online"
	TypeTabOffline     Type = "tab_offline"
	TypeHeartbeat      Type = "heartbeat"
)

// Event is one cross-context sync event.
//
// INVARIANTS:
//   - OriginID is stable for the lifetime of one execution context.
//   - TimestampMs strictly increases per publish from one context
//     (enforced by the channel broadcaster, not by this package).
type Event struct {
	// Type tags the payload union.
	Type Type `json:"type"`

	// Data is the decoded payload. For well-known types this is the
	// corresponding payload struct from payload.go; for custom types it is
	// whatever json.Unmarshal produced (map, slice, or scalar).
	Data any `json:"data,omitempty"`

	// TimestampMs is the publish time in wall-clock milliseconds.
	TimestampMs int64 `json:"ts"`

	// OriginID uniquely identifies the publishing execution context.
	OriginID string `json:"origin_id"`

	// Origin is a human-readable source label (e.g., "cli", "gateway").
	Origin string `json:"origin,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.TimestampMs)
}

// Validate checks the structural invariants that every event must satisfy,
// regardless of type.
func (e Event) Validate() error {
	if e.Type == "" {
		return &DecodeError{Reason: "missing event type"}
	}
	if e.OriginID == "" {
		return &DecodeError{Reason: "missing origin id", Type: e.Type}
	}
	if e.TimestampMs <= 0 {
		return &DecodeError{Reason: "non-positive timestamp", Type: e.Type}
	}
	return nil
}

// Encode serializes the event to JSON. String fields are NFC-normalized so
// that byte comparison of encoded events is stable across contexts that
// compose strings differently.
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	e.Origin = norm.NFC.String(e.Origin)
	e.OriginID = norm.NFC.String(e.OriginID)
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Decode parses raw bytes into an Event, validating the payload against the
// schema registered for the event type. Unknown types keep their raw payload
// as decoded by encoding/json.
func Decode(raw []byte) (Event, error) {
	var wire struct {
		Type        Type            `json:"type"`
		Data        json.RawMessage `json:"data"`
		TimestampMs int64           `json:"ts"`
		OriginID    string          `json:"origin_id"`
		Origin      string          `json:"origin"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Event{}, &DecodeError{Reason: "malformed JSON", Err: err}
	}

	e := Event{
		Type:        wire.Type,
		TimestampMs: wire.TimestampMs,
		OriginID:    wire.OriginID,
		Origin:      wire.Origin,
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}

	data, err := decodePayload(wire.Type, wire.Data)
	if err != nil {
		return Event{}, err
	}
	e.Data = data
	return e, nil
}

// DecodeError reports a failure to decode or validate an event at the
// deserialization boundary. Malformed events are discarded by the
// coordinator, never dispatched.
type DecodeError struct {
	Reason string
	Type   Type
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("decode event %q: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("decode event: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
