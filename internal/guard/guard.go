// Package guard gates access to an operation or view subtree on the
// current auth session state. It is a read-only consumer of session state;
// its only side effect is the scheduled redirect callback.
package guard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tabsync/internal/clock"
	"github.com/roach88/tabsync/internal/session"
)

// DefaultRedirectDelay is how long a denied evaluation waits before firing
// its redirect callback, giving the session state a chance to settle.
const DefaultRedirectDelay = 100 * time.Millisecond

// Deny reasons reported in Decision.Reason.
const (
	ReasonConflictingPolicy = "conflicting policy: RequireAuth and RequireNoAuth both set"
	ReasonAuthRequired      = "authentication required"
	ReasonAuthForbidden     = "already authenticated"
)

// Decision is the outcome of one policy evaluation.
//
// Exactly one of Allow and Pending is meaningful: Pending means the session
// state is still loading and the caller should show a waiting view. A
// decision with both false is a deny, and Reason says why.
type Decision struct {
	Allow   bool
	Pending bool
	Reason  string
}

// Options configures a Guard. RequireAuth and RequireNoAuth are mutually
// exclusive; setting both is a configuration error that denies every
// evaluation rather than panicking.
type Options struct {
	RequireAuth   bool
	RequireNoAuth bool

	// RedirectDelay is the wait before a deny fires its callback.
	// Defaults to DefaultRedirectDelay.
	RedirectDelay time.Duration

	// OnAuthRequired fires after a RequireAuth deny.
	OnAuthRequired func()

	// OnAuthForbidden fires after a RequireNoAuth deny.
	OnAuthForbidden func()

	Clock  clock.Clock
	Logger *slog.Logger
}

// Guard evaluates session state against a fixed policy. Each deny schedules
// the matching callback after RedirectDelay; a later evaluation or Close
// cancels the pending callback, so a state that settles to allowed before
// the delay elapses never redirects.
type Guard struct {
	opts Options

	mu       sync.Mutex
	redirect clock.Timer
	closed   bool
}

// New creates a Guard. A conflicting policy is reported here once; the
// guard still works, denying everything.
func New(opts Options) *Guard {
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequireAuth && opts.RequireNoAuth {
		opts.Logger.Error("guard configured with RequireAuth and RequireNoAuth; denying all access")
	}
	return &Guard{opts: opts}
}

// Evaluate applies the policy to the given session state and returns the
// decision. On deny it schedules the matching redirect callback; any
// callback pending from a previous evaluation is cancelled first.
func (g *Guard) Evaluate(state session.State) Decision {
	g.mu.Lock()
	g.cancelLocked()
	closed := g.closed
	g.mu.Unlock()

	if g.opts.RequireAuth && g.opts.RequireNoAuth {
		return Decision{Reason: ReasonConflictingPolicy}
	}
	if state.IsLoading {
		return Decision{Pending: true}
	}

	switch {
	case g.opts.RequireAuth && !state.IsAuthenticated():
		if !closed {
			g.schedule(g.opts.OnAuthRequired, ReasonAuthRequired)
		}
		return Decision{Reason: ReasonAuthRequired}
	case g.opts.RequireNoAuth && state.IsAuthenticated():
		if !closed {
			g.schedule(g.opts.OnAuthForbidden, ReasonAuthForbidden)
		}
		return Decision{Reason: ReasonAuthForbidden}
	}
	return Decision{Allow: true}
}

// Close cancels any pending redirect callback. Evaluations after Close
// still return decisions but never schedule callbacks.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.cancelLocked()
}

func (g *Guard) schedule(fn func(), reason string) {
	if fn == nil {
		return
	}
	g.opts.Logger.Debug("access denied, scheduling redirect",
		"reason", reason, "delay", g.opts.RedirectDelay)

	timer := g.opts.Clock.AfterFunc(g.opts.RedirectDelay, fn)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		timer.Stop()
		return
	}
	g.redirect = timer
}

func (g *Guard) cancelLocked() {
	if g.redirect != nil {
		g.redirect.Stop()
		g.redirect = nil
	}
}
