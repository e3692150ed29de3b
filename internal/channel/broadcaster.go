package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tabsync/internal/clock"
	"github.com/roach88/tabsync/internal/event"
)

// DefaultCleanupDelay is how long a published event stays in the mailbox
// before this context removes it (if still the owner). Long enough for
// every peer to observe the write, short enough to keep the store from
// accumulating stale events.
const DefaultCleanupDelay = time.Second

// OriginGenerator produces origin ids for execution contexts.
// Implemented by UUIDOriginGenerator (production) and
// testutil.FixedOriginGenerator (tests).
type OriginGenerator interface {
	Generate() string
}

// UUIDOriginGenerator generates UUIDv7 origin ids. The time-ordered prefix
// makes origin ids sortable by context start time in the audit log.
type UUIDOriginGenerator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDOriginGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// BroadcasterOptions configures a Broadcaster.
type BroadcasterOptions struct {
	// Key is the mailbox key. Defaults to DefaultKey.
	Key string

	// Origin is a human-readable source label stamped on every event.
	Origin string

	// OriginGen generates this context's origin id. Defaults to
	// UUIDOriginGenerator.
	OriginGen OriginGenerator

	// CleanupDelay overrides DefaultCleanupDelay.
	CleanupDelay time.Duration

	// Clock defaults to the system clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Broadcaster publishes events to the shared mailbox on behalf of one
// execution context.
//
// INVARIANT: event timestamps strictly increase per Broadcaster. When two
// publishes land on the same wall-clock millisecond, the second is bumped
// by one.
type Broadcaster struct {
	store  Store
	key    string
	origin string
	id     string
	delay  time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	lastMs   int64
	cleanups map[*cleanupHandle]struct{}
	closed   bool
}

type cleanupHandle struct {
	timer clock.Timer
}

// NewBroadcaster creates a Broadcaster over the given store.
func NewBroadcaster(store Store, opts BroadcasterOptions) *Broadcaster {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.OriginGen == nil {
		opts.OriginGen = UUIDOriginGenerator{}
	}
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = DefaultCleanupDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Broadcaster{
		store:    store,
		key:      opts.Key,
		origin:   opts.Origin,
		id:       opts.OriginGen.Generate(),
		delay:    opts.CleanupDelay,
		clock:    opts.Clock,
		logger:   opts.Logger,
		cleanups: make(map[*cleanupHandle]struct{}),
	}
}

// OriginID returns this context's stable origin id.
func (b *Broadcaster) OriginID() string {
	return b.id
}

// Key returns the mailbox key.
func (b *Broadcaster) Key() string {
	return b.key
}

// LastPublishMs returns the timestamp of this context's most recent
// publish, or zero if it has not published. The coordinator uses it to
// filter echoes of its own writes.
func (b *Broadcaster) LastPublishMs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastMs
}

// Publish writes an event to the mailbox and schedules its cleanup.
// The built event is returned so callers can audit it.
//
// Storage and serialization failures are returned to the caller; the
// coordinator's Broadcast wrapper downgrades them to logged warnings per
// the never-fails broadcast contract.
func (b *Broadcaster) Publish(ctx context.Context, typ event.Type, data any) (event.Event, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return event.Event{}, ErrBroadcasterClosed
	}

	ts := b.clock.Now().UnixMilli()
	if ts <= b.lastMs {
		ts = b.lastMs + 1
	}
	b.lastMs = ts
	b.mu.Unlock()

	e := event.Event{
		Type:        typ,
		Data:        data,
		TimestampMs: ts,
		OriginID:    b.id,
		Origin:      b.origin,
	}

	raw, err := event.Encode(e)
	if err != nil {
		return event.Event{}, err
	}
	if err := b.store.Put(ctx, b.key, raw); err != nil {
		return event.Event{}, err
	}

	b.scheduleCleanup()
	return e, nil
}

// Close cancels all pending cleanup timers. Further publishes fail with
// ErrBroadcasterClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	for h := range b.cleanups {
		h.timer.Stop()
	}
	b.cleanups = make(map[*cleanupHandle]struct{})
}

// scheduleCleanup arranges removal of the published event after the
// cleanup delay, but only while the mailbox still holds this context's
// write. A newer write by any context (including this one) cancels the
// deletion by ownership check, never by lock.
func (b *Broadcaster) scheduleCleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	h := &cleanupHandle{}
	h.timer = b.clock.AfterFunc(b.delay, func() {
		b.forgetCleanup(h)
		b.cleanupMailbox()
	})
	b.cleanups[h] = struct{}{}
}

func (b *Broadcaster) forgetCleanup(h *cleanupHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cleanups, h)
}

func (b *Broadcaster) cleanupMailbox() {
	ctx, cancel := context.WithTimeout(context.Background(), b.delay)
	defer cancel()

	raw, ok, err := b.store.Get(ctx, b.key)
	if err != nil {
		b.logger.Warn("mailbox cleanup read failed", "key", b.key, "error", err)
		return
	}
	if !ok {
		return
	}

	e, err := event.Decode(raw)
	if err != nil {
		// Unparseable mailbox content is not ours to delete.
		b.logger.Warn("mailbox holds undecodable event", "key", b.key, "error", err)
		return
	}
	if e.OriginID != b.id {
		// A newer write from another context; leave it alone.
		return
	}

	if err := b.store.Delete(ctx, b.key); err != nil {
		b.logger.Warn("mailbox cleanup delete failed", "key", b.key, "error", err)
	}
}
