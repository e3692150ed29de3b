package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roach88/tabsync/internal/event"
)

// subscriberBuffer is the per-subscriber queue depth. A subscriber that
// falls further behind than this is dropped rather than allowed to stall
// the dispatch path.
const subscriberBuffer = 16

var upgrader = websocket.Upgrader{
	// The gateway binds to loopback by default; same-origin enforcement is
	// the deployment's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feed fans dispatched events out to WebSocket subscribers.
type feed struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

func newFeed(logger *slog.Logger) *feed {
	return &feed{
		logger: logger,
		subs:   make(map[chan []byte]struct{}),
	}
}

func (f *feed) subscribe() (chan []byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	ch := make(chan []byte, subscriberBuffer)
	f.subs[ch] = struct{}{}
	return ch, true
}

func (f *feed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

// publish delivers raw bytes to every subscriber without blocking. A full
// subscriber queue drops the message for that subscriber only.
func (f *feed) publish(raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- raw:
		default:
			f.logger.Warn("event feed subscriber lagging, dropping message")
		}
	}
}

func (f *feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		close(ch)
	}
	f.subs = make(map[chan []byte]struct{})
}

// HandleEvent forwards a dispatched event to the WebSocket feed. Wire it as
// the coordinator handler (or call it from one).
func (s *Server) HandleEvent(e event.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.feed.publish(raw)
	return nil
}

// handleBroadcast publishes an event from an HTTP client into the mailbox.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "event type is required")
		return
	}

	var data any
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid event data")
			return
		}
	}

	s.coord.Broadcast(event.Type(req.Type), data)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleEventFeed upgrades to WebSocket and streams dispatched events until
// the client disconnects or the gateway shuts down.
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.feed.subscribe()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "gateway is shutting down")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.feed.unsubscribe(ch)
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	go func() {
		defer s.feed.unsubscribe(ch)
		defer conn.Close()
		for raw := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
		// Feed closed under us: tell the client before hanging up.
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
	}()

	// Reads only serve to detect disconnects; clients send nothing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.feed.unsubscribe(ch)
				return
			}
		}
	}()
}
