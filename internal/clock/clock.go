// Package clock abstracts wall time and timers so that every component that
// schedules work (debounce, broadcast cleanup, heartbeat, guard redirect)
// can run deterministically under a fake clock in tests.
package clock

import "time"

// Clock provides current time and timer construction.
//
// Every "schedule" must have a matching "dispose": callers own the returned
// Timer/Ticker handles and must Stop them when the owning component shuts
// down. Relying on garbage collection of closures for cleanup is forbidden.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// AfterFunc schedules fn to run on its own goroutine after d elapses.
	AfterFunc(d time.Duration, fn func()) Timer

	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable scheduled call.
type Timer interface {
	// Stop cancels the timer. Returns false if the timer already fired
	// or was already stopped.
	Stop() bool
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	// C returns the tick channel.
	C() <-chan time.Time

	// Stop shuts the ticker down. It does not close C.
	Stop()
}

// System is the production Clock backed by the time package.
type System struct{}

// NewSystem returns the real-time clock.
func NewSystem() System {
	return System{}
}

// Now implements Clock.
func (System) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Clock.
func (System) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

// NewTicker implements Clock.
func (System) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Stop() bool {
	return s.t.Stop()
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time {
	return s.t.C
}

func (s *systemTicker) Stop() {
	s.t.Stop()
}
