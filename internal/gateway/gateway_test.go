package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tabsync/internal/channel"
	"github.com/roach88/tabsync/internal/coordinator"
	"github.com/roach88/tabsync/internal/event"
	"github.com/roach88/tabsync/internal/identity"
	"github.com/roach88/tabsync/internal/session"
)

type fixture struct {
	server *Server
	ts     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := channel.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	coord, err := coordinator.New(store, func(event.Event) error { return nil },
		coordinator.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	sessions := session.New(identity.NewMockProvider(), session.WithLogger(logger))

	srv, err := New(Options{
		Sessions:    sessions,
		Coordinator: coord,
		Logger:      logger,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.feed.closeAll)

	return &fixture{server: srv, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/session/login",
		map[string]string{"email": "a@b.com", "password": "pw123456"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["authenticated"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "a@b.com", user["email"])
	assert.Equal(t, true, body["valid"])
	assert.Greater(t, body["remaining_ms"].(float64), 0.0)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/session/login",
		map[string]string{"email": "", "password": ""})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(session.ErrCodeInvalidCredentials), errorCode(body))
}

func TestLogin_MalformedBody(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/v1/session/login",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignup_CreatesSession(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/session/signup",
		map[string]string{"email": "a@b.com", "password": "pw", "name": "Ada"})

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "Ada", body["user"].(map[string]any)["name"])
}

func TestSignup_IncompleteProfile(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/session/signup",
		map[string]string{"email": "a@b.com", "password": "pw"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(session.ErrCodeInvalidProfile), errorCode(body))
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/v1/session/login",
		map[string]string{"email": "a@b.com", "password": "pw"})

	resp, body := f.do(t, http.MethodPost, "/v1/session/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["authenticated"])

	resp, _ = f.do(t, http.MethodPost, "/v1/session/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefresh_NoSessionIsNoOp(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/session/refresh", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["authenticated"])
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPatch, "/v1/session/profile",
		map[string]string{"name": "Grace"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(session.ErrCodeNoUser), errorCode(body))

	f.do(t, http.MethodPost, "/v1/session/login",
		map[string]string{"email": "a@b.com", "password": "pw"})

	resp, body = f.do(t, http.MethodPatch, "/v1/session/profile",
		map[string]string{"name": "Grace"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Grace", body["user"].(map[string]any)["name"])

	resp, _ = f.do(t, http.MethodPatch, "/v1/session/profile", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/v1/session/reset-password",
		map[string]string{"email": "a@b.com"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSessionState_Anonymous(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/session", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["authenticated"])
	assert.Nil(t, body["user"])
	assert.EqualValues(t, 0, body["remaining_ms"])
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/v1/events",
		map[string]any{"type": "cache_invalidate", "data": map[string]string{"key": "users"}})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/v1/events", map[string]any{"data": map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTabs(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/tabs", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["origin_id"])
	assert.EqualValues(t, 1, body["active_tab_count"])
	assert.Equal(t, true, body["online"])
}

func TestEventFeed_StreamsDispatchedEvents(t *testing.T) {
	f := newFixture(t)

	wsURL := strings.Replace(f.ts.URL, "http", "ws", 1) + "/v1/events/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	sent := event.Event{
		Type:        event.TypeTabOpened,
		Data:        event.TabPayload{TabID: "peer"},
		TimestampMs: 42,
		OriginID:    "peer",
	}
	require.NoError(t, f.server.HandleEvent(sent))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "tab_opened", got["type"])
	assert.Equal(t, "peer", got["origin_id"])
}

func TestEventFeed_SlowSubscriberDoesNotBlock(t *testing.T) {
	f := newFixture(t)

	ch, ok := f.server.feed.subscribe()
	require.True(t, ok)
	defer f.server.feed.unsubscribe(ch)

	// Overflow the buffer; publish must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			f.server.feed.publish([]byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("feed publish blocked on a slow subscriber")
	}
}
