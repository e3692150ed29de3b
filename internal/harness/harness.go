package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tabsync/internal/channel"
	"github.com/roach88/tabsync/internal/coordinator"
	"github.com/roach88/tabsync/internal/event"
	"github.com/roach88/tabsync/internal/testutil"
)

// scenarioEpoch is the fixed fake-clock start. Trace timestamps are offsets
// from this instant, so the absolute value only matters for reproducibility.
var scenarioEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// settleWindow is how long the trace must stay unchanged before the harness
// considers the coordinator's async goroutines caught up with the last step.
const settleWindow = 25 * time.Millisecond

// settleTimeout bounds the wait for a settle.
const settleTimeout = 2 * time.Second

// TraceEvent is one entry of a scenario trace: an event plus the
// coordinator's disposition for it.
type TraceEvent struct {
	AtMs      int64  `json:"at_ms"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
	OriginID  string `json:"origin_id"`
	Reason    string `json:"reason,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`

	// Errors lists failed expectations. Empty means the scenario passed.
	Errors []string `json:"errors,omitempty"`
}

// Pass reports whether every expectation held.
func (r *Result) Pass() bool {
	return len(r.Errors) == 0
}

// traceSink records the coordinator's audit stream as the trace.
type traceSink struct {
	mu    sync.Mutex
	trace []TraceEvent
}

func (s *traceSink) Record(direction string, e event.Event, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, TraceEvent{
		AtMs:      e.TimestampMs - scenarioEpoch.UnixMilli(),
		Direction: direction,
		Type:      string(e.Type),
		OriginID:  e.OriginID,
		Reason:    reason,
		Data:      e.Data,
	})
}

func (s *traceSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trace)
}

func (s *traceSink) snapshot() []TraceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TraceEvent, len(s.trace))
	copy(out, s.trace)
	return out
}

// Run executes a scenario and returns its trace and expectation results.
//
// Each scenario runs against a fresh in-memory store with a fake clock and
// fixed origin ids ("self" for the coordinator, the peer name for peers),
// so repeated runs produce byte-identical traces.
func Run(scenario *Scenario) (*Result, error) {
	store := channel.NewMemoryStore()
	defer store.Close()

	fc := testutil.NewFakeClock(scenarioEpoch)
	sink := &traceSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := []coordinator.Option{
		coordinator.WithClock(fc),
		coordinator.WithOriginGenerator(testutil.NewFixedOriginGenerator(PublisherSelf)),
		coordinator.WithAuditSink(sink),
		coordinator.WithLogger(logger),
	}
	spec := scenario.Coordinator
	if spec.DebounceMs > 0 {
		opts = append(opts, coordinator.WithDebounce(time.Duration(spec.DebounceMs)*time.Millisecond))
	}
	if spec.HeartbeatMs > 0 {
		opts = append(opts, coordinator.WithHeartbeatInterval(time.Duration(spec.HeartbeatMs)*time.Millisecond))
	}
	if spec.IgnoreOwn != nil {
		opts = append(opts, coordinator.WithIgnoreOwnEvents(*spec.IgnoreOwn))
	}
	if spec.Origin != "" {
		opts = append(opts, coordinator.WithOrigin(spec.Origin))
	}

	// The handler is a no-op: the dispatched entries in the audit stream
	// already prove delivery, and a no-op keeps the trace free of
	// handler-side noise.
	coord, err := coordinator.New(store, func(event.Event) error { return nil }, opts...)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	if err := coord.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start coordinator: %w", err)
	}

	peers := make(map[string]*channel.Broadcaster)
	defer func() {
		for _, b := range peers {
			b.Close()
		}
	}()

	settle(sink)

	for i, step := range scenario.Steps {
		switch {
		case step.Advance != "":
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				coord.Close()
				return nil, fmt.Errorf("steps[%d]: bad advance duration: %w", i, err)
			}
			advanceSlowly(fc, d)

		case step.Publish != nil:
			if err := runPublish(coord, store, fc, peers, step.Publish, spec.Origin); err != nil {
				coord.Close()
				return nil, fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
		settle(sink)
	}

	coord.Close()
	settle(sink)

	result := &Result{
		Scenario: scenario.Name,
		Trace:    sink.snapshot(),
	}
	result.Errors = evaluate(scenario.Expect, result.Trace)
	return result, nil
}

func runPublish(
	coord *coordinator.Coordinator,
	store channel.Store,
	fc *testutil.FakeClock,
	peers map[string]*channel.Broadcaster,
	step *PublishStep,
	origin string,
) error {
	typ := event.Type(step.Type)

	var data any
	if step.Data != nil {
		data = step.Data
	}

	if step.From == PublisherSelf {
		coord.Broadcast(typ, data)
		return nil
	}

	peer, ok := peers[step.From]
	if !ok {
		peer = channel.NewBroadcaster(store, channel.BroadcasterOptions{
			Origin:    origin,
			OriginGen: testutil.NewFixedOriginGenerator(step.From),
			Clock:     fc,
			Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		peers[step.From] = peer
	}

	if _, err := peer.Publish(context.Background(), typ, data); err != nil {
		return fmt.Errorf("publish from %q: %w", step.From, err)
	}
	return nil
}

// advanceSlowly moves the fake clock in one-millisecond increments, yielding
// real time between increments so the watch loop observes notifications
// before timers scheduled after them come due.
func advanceSlowly(fc *testutil.FakeClock, d time.Duration) {
	for remaining := d; remaining > 0; remaining -= time.Millisecond {
		step := time.Millisecond
		if remaining < step {
			step = remaining
		}
		fc.Advance(step)
		time.Sleep(time.Millisecond)
	}
}

// settle waits until the trace stops growing: the coordinator's async
// goroutines have processed everything the previous step triggered.
func settle(sink *traceSink) {
	deadline := time.Now().Add(settleTimeout)
	stableSince := time.Now()
	last := sink.len()

	for time.Now().Before(deadline) {
		if n := sink.len(); n != last {
			last = n
			stableSince = time.Now()
		} else if time.Since(stableSince) >= settleWindow {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func evaluate(expectations []Expectation, trace []TraceEvent) []string {
	var errs []string
	for i, exp := range expectations {
		direction := exp.Direction
		if direction == "" {
			direction = coordinator.DirectionDispatched
		}

		count := 0
		for _, te := range trace {
			if te.Direction == direction && te.Type == exp.Type {
				count++
			}
		}
		if count != exp.Count {
			errs = append(errs, fmt.Sprintf(
				"expect[%d]: %s %s: want %d, got %d", i, direction, exp.Type, exp.Count, count))
		}
	}
	return errs
}
