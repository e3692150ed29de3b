package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tabsync/internal/clock"
	"github.com/roach88/tabsync/internal/event"
	"github.com/roach88/tabsync/internal/identity"
)

// DefaultExpiryWarn is how close to expiry a session is considered
// "expiring" by IsSessionExpiring.
const DefaultExpiryWarn = 5 * time.Minute

// State is the session read model exposed to consumers.
type State struct {
	User      *identity.User
	Session   *identity.Session
	IsLoading bool
	Err       string
}

// IsAuthenticated is true when both a user and a session are present.
func (s State) IsAuthenticated() bool {
	return s.User != nil && s.Session != nil
}

// Broadcaster publishes session change events to peer contexts.
// Implemented by coordinator.Coordinator; a nil broadcaster disables
// cross-context notification.
type Broadcaster interface {
	Broadcast(typ event.Type, data any)
}

// TransitionSink records session state transitions for auditing.
// Implemented by audit.Recorder.
type TransitionSink interface {
	RecordTransition(op, outcome, userID string)
}

// Transition outcomes passed to TransitionSink.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock. Defaults to the system clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clk }
}

// WithLogger injects a logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithBroadcaster attaches cross-context session notifications.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Store) { s.notify = b }
}

// WithTransitionSink attaches a session transition recorder.
func WithTransitionSink(sink TransitionSink) Option {
	return func(s *Store) { s.audit = sink }
}

// WithExpiryWarn overrides DefaultExpiryWarn.
func WithExpiryWarn(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.expiryWarn = d
		}
	}
}

// Store owns the SessionState for one execution context. All mutation goes
// through the operation methods; readers get value copies via State().
//
// Concurrency: one auth attempt (login or signup) may be in flight at a
// time; a second attempt is rejected with ErrCodeAuthInProgress rather than
// racing last-write-wins.
type Store struct {
	provider   identity.Provider
	clock      clock.Clock
	logger     *slog.Logger
	notify     Broadcaster
	audit      TransitionSink
	expiryWarn time.Duration

	mu       sync.RWMutex
	state    State
	inFlight bool
}

// New creates a Store over the given identity provider. The state starts
// anonymous, not loading, with no error.
func New(provider identity.Provider, opts ...Option) *Store {
	s := &Store{
		provider:   provider,
		clock:      clock.NewSystem(),
		logger:     slog.Default(),
		expiryWarn: DefaultExpiryWarn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a copy of the current session state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyStateLocked()
}

// Login authenticates credentials. On success the state becomes
// authenticated and any prior error is cleared; on failure the state stays
// anonymous and Err carries the message.
func (s *Store) Login(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return s.fail("login", invalidCredentialsError(), "")
	}

	if err := s.beginAuth(); err != nil {
		return err
	}
	defer s.endAuth()

	user, sess, err := s.provider.Login(ctx, identity.Credentials{Email: email, Password: password})
	if err != nil {
		return s.fail("login", providerError("login", err), "")
	}

	s.setAuthenticated(user, sess)
	s.record("login", OutcomeSuccess, user.ID)
	return nil
}

// Signup registers a new user and opens a session exactly like Login.
func (s *Store) Signup(ctx context.Context, email, password, name string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" || name == "" {
		return s.fail("signup", invalidProfileError(), "")
	}

	if err := s.beginAuth(); err != nil {
		return err
	}
	defer s.endAuth()

	user, sess, err := s.provider.Signup(ctx, identity.Profile{Email: email, Password: password, Name: name})
	if err != nil {
		return s.fail("signup", providerError("signup", err), "")
	}

	s.setAuthenticated(user, sess)
	s.record("signup", OutcomeSuccess, user.ID)
	return nil
}

// Logout unconditionally clears user, session, and error. It always
// succeeds and is idempotent; the provider call is best-effort.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	sess := s.state.Session
	s.state = State{}
	s.mu.Unlock()

	if sess != nil {
		if err := s.provider.Logout(ctx, sess.ID); err != nil {
			s.logger.Warn("provider logout failed", "error", err)
		}
	}

	s.record("logout", OutcomeSuccess, "")
	s.broadcast(event.TypeSessionCleared, event.SessionPayload{})
}

// RefreshSession re-validates the current session. With no session it is a
// successful no-op. A provider failure forces the logout-equivalent state
// and returns the error.
func (s *Store) RefreshSession(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Session == nil {
		s.mu.Unlock()
		return nil
	}
	sessID := s.state.Session.ID
	userID := s.state.Session.UserID
	s.state.IsLoading = true
	s.mu.Unlock()

	refreshed, err := s.provider.Refresh(ctx, sessID)
	if err != nil {
		// Failed refresh forces logout: an unverifiable session must not
		// keep the context authenticated.
		ae := providerError("refresh", err)
		s.mu.Lock()
		s.state = State{Err: ae.Message}
		s.mu.Unlock()
		s.record("refresh", OutcomeFailure, userID)
		s.broadcast(event.TypeSessionCleared, event.SessionPayload{})
		return ae
	}

	s.mu.Lock()
	s.state.Session = &refreshed
	s.state.IsLoading = false
	s.state.Err = ""
	s.mu.Unlock()

	s.record("refresh", OutcomeSuccess, userID)
	s.broadcast(event.TypeSessionUpdated, event.SessionPayload{
		UserID:    refreshed.UserID,
		SessionID: refreshed.ID,
		ExpiresMs: refreshed.ExpiresAt.UnixMilli(),
	})
	return nil
}

// UpdateProfile merges the given changes into the logged-in user.
func (s *Store) UpdateProfile(ctx context.Context, changes identity.ProfileChanges) error {
	s.mu.RLock()
	user := s.state.User
	s.mu.RUnlock()
	if user == nil {
		return s.fail("update_profile", noUserError(), "")
	}

	updated, err := s.provider.UpdateProfile(ctx, user.ID, changes)
	if err != nil {
		return s.fail("update_profile", providerError("profile update", err), user.ID)
	}

	s.mu.Lock()
	s.state.User = &updated
	s.state.Err = ""
	s.mu.Unlock()

	s.record("update_profile", OutcomeSuccess, updated.ID)
	return nil
}

// ResetPassword requests a password reset. Fire-and-forget: session state
// is never altered, success or fail.
func (s *Store) ResetPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return invalidCredentialsError()
	}

	if err := s.provider.ResetPassword(ctx, email); err != nil {
		s.record("reset_password", OutcomeFailure, "")
		return providerError("password reset", err)
	}
	s.record("reset_password", OutcomeSuccess, "")
	return nil
}

// ClearError explicitly clears the persistent error message.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Err = ""
}

// HasValidSession reports whether the context is authenticated with an
// unexpired session. Unlike IsAuthenticated, it checks the expiry instant
// against the clock.
func (s *Store) HasValidSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsAuthenticated() && s.state.Session.ExpiresAt.After(s.clock.Now())
}

// IsSessionExpired reports whether a session exists but its expiry has
// passed. No session at all is not "expired".
func (s *Store) IsSessionExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Session != nil && !s.state.Session.ExpiresAt.After(s.clock.Now())
}

// IsSessionExpiring reports whether a valid session is within the expiry
// warning threshold.
func (s *Store) IsSessionExpiring() bool {
	remaining := s.SessionTimeRemaining()
	return remaining > 0 && remaining <= s.expiryWarn
}

// SessionTimeRemaining returns the time until the session expires, zero if
// there is no session or it has already expired.
func (s *Store) SessionTimeRemaining() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.Session == nil {
		return 0
	}
	remaining := s.state.Session.ExpiresAt.Sub(s.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// beginAuth claims the single auth-attempt slot and flips the state to
// authenticating.
func (s *Store) beginAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return authInProgressError()
	}
	s.inFlight = true
	s.state.IsLoading = true
	return nil
}

func (s *Store) endAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.state.IsLoading = false
}

func (s *Store) setAuthenticated(user identity.User, sess identity.Session) {
	s.mu.Lock()
	s.state = State{User: &user, Session: &sess}
	s.mu.Unlock()

	s.broadcast(event.TypeSessionUpdated, event.SessionPayload{
		UserID:    user.ID,
		SessionID: sess.ID,
		ExpiresMs: sess.ExpiresAt.UnixMilli(),
	})
}

// fail normalizes a failure: the message is mirrored into the state and the
// AuthError returned to the caller.
func (s *Store) fail(op string, ae *AuthError, userID string) error {
	s.mu.Lock()
	s.state.Err = ae.Message
	s.mu.Unlock()

	s.logger.Debug("session operation failed", "op", op, "code", ae.Code, "error", ae)
	s.record(op, OutcomeFailure, userID)
	return ae
}

func (s *Store) copyStateLocked() State {
	out := s.state
	if s.state.User != nil {
		u := *s.state.User
		out.User = &u
	}
	if s.state.Session != nil {
		sess := *s.state.Session
		out.Session = &sess
	}
	return out
}

func (s *Store) broadcast(typ event.Type, data any) {
	if s.notify == nil {
		return
	}
	s.notify.Broadcast(typ, data)
}

func (s *Store) record(op, outcome, userID string) {
	if s.audit == nil {
		return
	}
	s.audit.RecordTransition(op, outcome, userID)
}

// normalizeEmail canonicalizes an email for comparison and provider calls:
// NFC-normalized, trimmed, lowercased.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(email)))
}
