package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/tabsync/internal/clock"
)

// FakeClock is a manually-advanced clock.Clock for deterministic tests.
//
// Time only moves when Advance is called. Due timers fire synchronously on
// the Advance goroutine, in deadline order, so the same test always observes
// the same interleaving. Timer callbacks may schedule further timers; those
// fire too if their deadline falls within the advance window.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFakeClock creates a fake clock at the given start time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now implements clock.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements clock.Clock. fn runs synchronously inside a future
// Advance call once the deadline is reached.
func (c *FakeClock) AfterFunc(d time.Duration, fn func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{
		clock:    c,
		deadline: c.now.Add(d),
		fn:       fn,
	}
	c.timers = append(c.timers, t)
	return t
}

// NewTicker implements clock.Clock. Ticks are delivered on a buffered
// channel; a tick that finds the buffer full is dropped, matching the
// behavior of time.Ticker under a slow consumer.
func (c *FakeClock) NewTicker(d time.Duration) clock.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTicker{
		clock:    c,
		interval: d,
		next:     c.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves time forward by d, firing every timer and ticker whose
// deadline falls within the window, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		fn, ok := c.popDue(target)
		if !ok {
			break
		}
		if fn != nil {
			fn()
		}
	}

	c.mu.Lock()
	if target.After(c.now) {
		c.now = target
	}
	c.mu.Unlock()
}

// popDue finds the earliest timer or ticker due at or before target,
// advances now to its deadline, and returns its callback. Ticker "callbacks"
// are performed inline (channel send) and return a nil fn with ok=true.
func (c *FakeClock) popDue(target time.Time) (func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Earliest pending timer.
	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	var dueTimer *fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.deadline.After(target) {
			dueTimer = t
			break
		}
	}

	// Earliest pending ticker tick.
	var dueTicker *fakeTicker
	for _, t := range c.tickers {
		if t.stopped || t.next.After(target) {
			continue
		}
		if dueTicker == nil || t.next.Before(dueTicker.next) {
			dueTicker = t
		}
	}

	switch {
	case dueTimer == nil && dueTicker == nil:
		return nil, false

	case dueTicker == nil || (dueTimer != nil && !dueTimer.deadline.After(dueTicker.next)):
		if dueTimer.deadline.After(c.now) {
			c.now = dueTimer.deadline
		}
		dueTimer.stopped = true
		c.removeTimer(dueTimer)
		return dueTimer.fn, true

	default:
		if dueTicker.next.After(c.now) {
			c.now = dueTicker.next
		}
		tick := dueTicker.next
		dueTicker.next = dueTicker.next.Add(dueTicker.interval)
		select {
		case dueTicker.ch <- tick:
		default:
		}
		return nil, true
	}
}

func (c *FakeClock) removeTimer(t *fakeTimer) {
	for i, cur := range c.timers {
		if cur == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// PendingTimers returns the number of unfired, unstopped timers. Used by
// tests asserting dispose symmetry.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	stopped  bool
}

// Stop implements clock.Timer.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped {
		return false
	}
	t.stopped = true
	t.clock.removeTimer(t)
	return true
}

type fakeTicker struct {
	clock    *FakeClock
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

// C implements clock.Ticker.
func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

// Stop implements clock.Ticker.
func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
