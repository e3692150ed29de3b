package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SessionPayload accompanies session_updated and session_cleared events.
// It carries just enough for another context to converge without trusting
// the sender: the receiving context re-reads its own session store.
type SessionPayload struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ExpiresMs int64  `json:"expires_ms,omitempty"`
}

// TabPayload accompanies tab lifecycle events (opened, closing, visible,
// hidden, online, offline).
type TabPayload struct {
	TabID string `json:"tab_id"`
}

// HeartbeatPayload accompanies periodic heartbeat events. Consumers use the
// stream of heartbeats to estimate the active-context count; the coordinator
// only emits raw events.
type HeartbeatPayload struct {
	TabID  string `json:"tab_id"`
	SentMs int64  `json:"sent_ms"`
}

// decodePayload validates and decodes the payload for the given type.
// Well-known types get strict schema validation; custom types decode to
// generic JSON values.
func decodePayload(t Type, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		// Lifecycle events may legally carry no payload.
		return nil, nil
	}

	switch t {
	case TypeSessionUpdated, TypeSessionCleared:
		var p SessionPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, &DecodeError{Reason: "invalid session payload", Type: t, Err: err}
		}
		return p, nil

	case TypeTabOpened, TypeTabClosing, TypeTabVisible, TypeTabHidden, TypeTabOnline, TypeTabOffline:
		var p TabPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, &DecodeError{Reason: "invalid tab payload", Type: t, Err: err}
		}
		if p.TabID == "" {
			return nil, &DecodeError{Reason: "tab payload missing tab_id", Type: t}
		}
		return p, nil

	case TypeHeartbeat:
		var p HeartbeatPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, &DecodeError{Reason: "invalid heartbeat payload", Type: t, Err: err}
		}
		if p.TabID == "" {
			return nil, &DecodeError{Reason: "heartbeat payload missing tab_id", Type: t}
		}
		if p.SentMs <= 0 {
			return nil, &DecodeError{Reason: "heartbeat payload missing sent_ms", Type: t}
		}
		return p, nil

	default:
		// Custom type: preserve whatever JSON value was sent.
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &DecodeError{Reason: "invalid custom payload", Type: t, Err: err}
		}
		return v, nil
	}
}

// strictUnmarshal rejects unknown fields so payload typos surface at the
// boundary instead of silently dropping data.
func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
