package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload_Heartbeat(t *testing.T) {
	raw := []byte(`{"type":"heartbeat","data":{"tab_id":"t1","sent_ms":100},"ts":100,"origin_id":"o1"}`)

	got, err := Decode(raw)
	require.NoError(t, err)

	p, ok := got.Data.(HeartbeatPayload)
	require.True(t, ok)
	assert.Equal(t, "t1", p.TabID)
	assert.Equal(t, int64(100), p.SentMs)
}

func TestDecodePayload_HeartbeatMissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing tab_id", `{"type":"heartbeat","data":{"sent_ms":100},"ts":100,"origin_id":"o1"}`},
		{"missing sent_ms", `{"type":"heartbeat","data":{"tab_id":"t1"},"ts":100,"origin_id":"o1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, TypeHeartbeat, de.Type)
		})
	}
}

func TestDecodePayload_TabEventRejectsUnknownFields(t *testing.T) {
	raw := []byte(`{"type":"tab_opened","data":{"tab_id":"t1","bogus":true},"ts":100,"origin_id":"o1"}`)

	_, err := Decode(raw)
	require.Error(t, err)

	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestDecodePayload_SessionUpdated(t *testing.T) {
	raw := []byte(`{"type":"session_updated","data":{"user_id":"u1","session_id":"s1","expires_ms":999},"ts":100,"origin_id":"o1"}`)

	got, err := Decode(raw)
	require.NoError(t, err)

	p, ok := got.Data.(SessionPayload)
	require.True(t, ok)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, int64(999), p.ExpiresMs)
}

func TestDecodePayload_SessionClearedEmptyPayload(t *testing.T) {
	raw := []byte(`{"type":"session_cleared","data":{},"ts":100,"origin_id":"o1"}`)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, SessionPayload{}, got.Data)
}
