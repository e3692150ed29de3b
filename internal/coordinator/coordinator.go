package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tabsync/internal/channel"
	"github.com/roach88/tabsync/internal/clock"
	"github.com/roach88/tabsync/internal/event"
)

// Defaults for coordinator tuning knobs.
const (
	// DefaultDebounce is the coalescing window for incoming events.
	DefaultDebounce = 100 * time.Millisecond

	// DefaultHeartbeatInterval is how often the coordinator announces
	// liveness to its peers.
	DefaultHeartbeatInterval = 10 * time.Second
)

// Handler consumes dispatched events. It runs on its own goroutine; a
// returned error (or panic) is logged and never reaches the channel layer.
type Handler func(event.Event) error

// AuditSink records the coordinator's event flow. Implemented by
// audit.Recorder; a nil sink disables recording.
type AuditSink interface {
	// Record logs one event with its disposition: "published",
	// "dispatched", or "discarded" (with a reason).
	Record(direction string, e event.Event, reason string)
}

// Dispositions passed to AuditSink.Record.
const (
	DirectionPublished  = "published"
	DirectionDispatched = "dispatched"
	DirectionDiscarded  = "discarded"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithKey sets the mailbox key. Defaults to channel.DefaultKey.
func WithKey(key string) Option {
	return func(c *Coordinator) { c.key = key }
}

// WithDebounce sets the coalescing window. Defaults to DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithIgnoreOwnEvents controls whether events carrying this context's own
// origin id are discarded. Defaults to true.
func WithIgnoreOwnEvents(ignore bool) Option {
	return func(c *Coordinator) { c.ignoreOwn = ignore }
}

// WithOrigin sets the human-readable source label stamped on published
// events.
func WithOrigin(origin string) Option {
	return func(c *Coordinator) { c.origin = origin }
}

// WithOriginGenerator overrides origin id generation (fixed ids in tests).
func WithOriginGenerator(g channel.OriginGenerator) Option {
	return func(c *Coordinator) { c.originGen = g }
}

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.heartbeatEvery = d
		}
	}
}

// WithClock injects a clock. Defaults to the system clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithLogger injects a logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithAuditSink attaches an audit recorder to the event flow.
func WithAuditSink(sink AuditSink) Option {
	return func(c *Coordinator) { c.audit = sink }
}

// Coordinator binds one execution context to the shared mailbox.
//
// Thread-safety model:
//   - Broadcast, SetOnline, SetVisible, IsOnline, ActiveTabCount: safe from
//     any goroutine.
//   - All mailbox notifications are processed by the single watch loop
//     goroutine; the debounce timer callback is the only other writer of
//     pending state, serialized by mu.
type Coordinator struct {
	handler   Handler
	store     channel.Store
	key       string
	origin    string
	originGen channel.OriginGenerator
	debounce  time.Duration

	heartbeatEvery time.Duration
	ignoreOwn      bool
	clock          clock.Clock
	logger         *slog.Logger
	audit          AuditSink

	broadcaster *channel.Broadcaster

	cancelWatch context.CancelFunc
	wg          sync.WaitGroup

	mu            sync.Mutex
	pending       *event.Event
	debounceTimer clock.Timer
	online        bool
	visible       bool
	peers         map[string]time.Time
	started       bool
	closed        bool
}

// New creates a Coordinator. Call Start to bind it to the mailbox.
func New(store channel.Store, handler Handler, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("coordinator: store is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("coordinator: handler is required")
	}

	c := &Coordinator{
		handler:        handler,
		store:          store,
		key:            channel.DefaultKey,
		debounce:       DefaultDebounce,
		heartbeatEvery: DefaultHeartbeatInterval,
		ignoreOwn:      true,
		clock:          clock.NewSystem(),
		logger:         slog.Default(),
		online:         true,
		visible:        true,
		peers:          make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.broadcaster = channel.NewBroadcaster(store, channel.BroadcasterOptions{
		Key:       c.key,
		Origin:    c.origin,
		OriginGen: c.originGen,
		Clock:     c.clock,
		Logger:    c.logger,
	})
	return c, nil
}

// OriginID returns this context's stable origin id.
func (c *Coordinator) OriginID() string {
	return c.broadcaster.OriginID()
}

// Start binds the coordinator to the mailbox: it begins watching for
// notifications, announces tab_opened, and starts the heartbeat.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: already started or closed")
	}
	c.started = true

	watchCtx, cancel := context.WithCancel(ctx)
	c.cancelWatch = cancel
	ticker := c.clock.NewTicker(c.heartbeatEvery)
	c.mu.Unlock()

	notifications, err := c.store.Watch(watchCtx, c.key)
	if err != nil {
		cancel()
		ticker.Stop()
		return fmt.Errorf("coordinator: watch mailbox: %w", err)
	}

	c.Broadcast(event.TypeTabOpened, event.TabPayload{TabID: c.OriginID()})

	c.wg.Add(2)
	go c.watchLoop(notifications)
	go c.heartbeatLoop(watchCtx, ticker)
	return nil
}

// Close publishes tab_closing, cancels every scheduled timer, and waits for
// in-flight handler invocations to finish. Idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	c.pending = nil
	cancel := c.cancelWatch
	started := c.started
	c.mu.Unlock()

	if started {
		// Announce departure before tearing the watch down.
		c.publish(event.TypeTabClosing, event.TabPayload{TabID: c.OriginID()})
		cancel()
		c.wg.Wait()
	}
	c.broadcaster.Close()
}

// Broadcast publishes an event to every context bound to the mailbox. It is
// safe to call at any time, never blocks on consumers, and never fails to
// the caller: storage and serialization problems are logged and swallowed.
func (c *Coordinator) Broadcast(typ event.Type, data any) {
	c.publish(typ, data)
}

// IsOnline reports the connectivity flag set by SetOnline.
func (c *Coordinator) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records a connectivity change and announces it.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()
	if !changed {
		return
	}

	typ := event.TypeTabOnline
	if !online {
		typ = event.TypeTabOffline
	}
	c.publish(typ, event.TabPayload{TabID: c.OriginID()})
}

// SetVisible records a visibility change and announces it.
func (c *Coordinator) SetVisible(visible bool) {
	c.mu.Lock()
	changed := c.visible != visible
	c.visible = visible
	c.mu.Unlock()
	if !changed {
		return
	}

	typ := event.TypeTabVisible
	if !visible {
		typ = event.TypeTabHidden
	}
	c.publish(typ, event.TabPayload{TabID: c.OriginID()})
}

// ActiveTabCount estimates the number of live contexts: this one plus every
// peer whose heartbeat was seen within two heartbeat intervals. The estimate
// is derived from raw heartbeat events; the coordinator does not negotiate
// membership.
func (c *Coordinator) ActiveTabCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.clock.Now().Add(-2 * c.heartbeatEvery)
	count := 1
	for id, seen := range c.peers {
		if seen.Before(cutoff) {
			delete(c.peers, id)
			continue
		}
		count++
	}
	return count
}

// publish is Broadcast's fallible core, shared with lifecycle publishing.
func (c *Coordinator) publish(typ event.Type, data any) {
	ctx, cancelPub := context.WithTimeout(context.Background(), c.debounce*10)
	defer cancelPub()

	e, err := c.broadcaster.Publish(ctx, typ, data)
	if err != nil {
		c.logger.Warn("broadcast failed", "type", typ, "error", err)
		return
	}
	c.record(DirectionPublished, e, "")
}

func (c *Coordinator) watchLoop(notifications <-chan channel.Notification) {
	defer c.wg.Done()

	for n := range notifications {
		if n.Deleted {
			// Mailbox cleanup, not an event.
			continue
		}
		c.receive(n.Value)
	}
}

func (c *Coordinator) heartbeatLoop(ctx context.Context, ticker clock.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.publish(event.TypeHeartbeat, event.HeartbeatPayload{
				TabID:  c.OriginID(),
				SentMs: c.clock.Now().UnixMilli(),
			})
		}
	}
}

// receive runs the received -> validated -> (discarded|debounced) pipeline
// for one raw notification.
func (c *Coordinator) receive(raw []byte) {
	e, err := event.Decode(raw)
	if err != nil {
		c.logger.Warn("discarding malformed event", "error", err)
		return
	}

	if reason := c.filter(e); reason != "" {
		c.logger.Debug("discarding event", "type", e.Type, "origin_id", e.OriginID, "reason", reason)
		c.record(DirectionDiscarded, e, reason)
		return
	}

	if e.Type == event.TypeHeartbeat && e.OriginID != c.OriginID() {
		c.notePeer(e.OriginID)
	}

	c.enqueue(e)
}

// filter applies the validation discards. An empty return means the event
// proceeds to debounce.
func (c *Coordinator) filter(e event.Event) string {
	if c.ignoreOwn && e.OriginID == c.OriginID() {
		return "own origin"
	}

	// Events older than half the debounce window are propagation noise:
	// the initial mailbox state replayed at bind time, or a slow relay of
	// something every live peer already handled.
	age := c.clock.Now().UnixMilli() - e.TimestampMs
	if age > c.debounce.Milliseconds()/2 {
		return "stale timestamp"
	}

	// Echo guard: a storage race can hand our own write back with a
	// different origin id. Anything landing within the debounce window of
	// our own last publish is treated as that echo.
	if last := c.broadcaster.LastPublishMs(); last > 0 {
		delta := e.TimestampMs - last
		if delta < 0 {
			delta = -delta
		}
		if delta < c.debounce.Milliseconds() && e.OriginID != c.OriginID() && c.ignoreOwn {
			return "echo of own publish"
		}
	}

	return ""
}

// enqueue stores the event as the pending dispatch, starting the coalescing
// timer if none is running. Only the most recent event survives the window.
func (c *Coordinator) enqueue(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.pending = &e
	if c.debounceTimer == nil {
		c.debounceTimer = c.clock.AfterFunc(c.debounce/4, c.flush)
	}
}

// flush dispatches the surviving pending event on its own goroutine.
func (c *Coordinator) flush() {
	c.mu.Lock()
	e := c.pending
	c.pending = nil
	c.debounceTimer = nil
	closed := c.closed
	c.mu.Unlock()

	if e == nil || closed {
		return
	}

	c.record(DirectionDispatched, *e, "")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("handler panicked", "type", e.Type, "panic", r)
			}
		}()
		if err := c.handler(*e); err != nil {
			c.logger.Warn("handler failed", "type", e.Type, "error", err)
		}
	}()
}

func (c *Coordinator) notePeer(originID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[originID] = c.clock.Now()
}

func (c *Coordinator) record(direction string, e event.Event, reason string) {
	if c.audit == nil {
		return
	}
	c.audit.Record(direction, e, reason)
}
