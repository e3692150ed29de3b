package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tabsync/internal/clock"
)

// DefaultSessionTTL is the lifetime of sessions issued by MockProvider.
const DefaultSessionTTL = time.Hour

// mockNamespace derives stable user ids from email addresses, so the same
// email always maps to the same mock user across restarts.
var mockNamespace = uuid.MustParse("8d7a6f52-3f0e-4c7b-9f7d-2b1a4c3e5d61")

// MockProvider is an in-memory Provider. Any non-empty credentials
// authenticate; users are materialized on first login. It exists so the
// session store can be exercised without a real identity backend.
type MockProvider struct {
	clock   clock.Clock
	latency time.Duration
	ttl     time.Duration

	mu       sync.Mutex
	users    map[string]User    // by user id
	sessions map[string]Session // by session id
}

// MockOption configures a MockProvider.
type MockOption func(*MockProvider)

// WithClock injects a clock. Defaults to the system clock.
func WithClock(clk clock.Clock) MockOption {
	return func(p *MockProvider) { p.clock = clk }
}

// WithLatency adds a simulated network delay to every call.
func WithLatency(d time.Duration) MockOption {
	return func(p *MockProvider) { p.latency = d }
}

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(d time.Duration) MockOption {
	return func(p *MockProvider) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// NewMockProvider creates an empty mock identity backend.
func NewMockProvider(opts ...MockOption) *MockProvider {
	p := &MockProvider{
		clock:    clock.NewSystem(),
		ttl:      DefaultSessionTTL,
		users:    make(map[string]User),
		sessions: make(map[string]Session),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Login implements Provider.
func (p *MockProvider) Login(ctx context.Context, creds Credentials) (User, Session, error) {
	if err := p.delay(ctx); err != nil {
		return User{}, Session{}, err
	}
	if creds.Email == "" || creds.Password == "" {
		return User{}, Session{}, fmt.Errorf("invalid credentials")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	userID := uuid.NewSHA1(mockNamespace, []byte(creds.Email)).String()
	user, ok := p.users[userID]
	if !ok {
		user = User{
			ID:        userID,
			Email:     creds.Email,
			Name:      nameFromEmail(creds.Email),
			CreatedAt: p.clock.Now(),
		}
		p.users[userID] = user
	}

	sess := p.openSessionLocked(userID)
	return user, sess, nil
}

// Signup implements Provider.
func (p *MockProvider) Signup(ctx context.Context, profile Profile) (User, Session, error) {
	if err := p.delay(ctx); err != nil {
		return User{}, Session{}, err
	}
	if profile.Email == "" || profile.Password == "" || profile.Name == "" {
		return User{}, Session{}, fmt.Errorf("email, password and name are required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	userID := uuid.NewSHA1(mockNamespace, []byte(profile.Email)).String()
	if _, exists := p.users[userID]; exists {
		return User{}, Session{}, fmt.Errorf("user already exists")
	}

	user := User{
		ID:        userID,
		Email:     profile.Email,
		Name:      profile.Name,
		CreatedAt: p.clock.Now(),
	}
	p.users[userID] = user

	sess := p.openSessionLocked(userID)
	return user, sess, nil
}

// Logout implements Provider.
func (p *MockProvider) Logout(ctx context.Context, sessionID string) error {
	if err := p.delay(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
	return nil
}

// Refresh implements Provider. Expired or unknown sessions cannot be
// refreshed; live ones get a fresh TTL.
func (p *MockProvider) Refresh(ctx context.Context, sessionID string) (Session, error) {
	if err := p.delay(ctx); err != nil {
		return Session{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("unknown session")
	}
	if !sess.ExpiresAt.After(p.clock.Now()) {
		delete(p.sessions, sessionID)
		return Session{}, fmt.Errorf("session expired")
	}

	sess.ExpiresAt = p.clock.Now().Add(p.ttl)
	p.sessions[sessionID] = sess
	return sess, nil
}

// UpdateProfile implements Provider.
func (p *MockProvider) UpdateProfile(ctx context.Context, userID string, changes ProfileChanges) (User, error) {
	if err := p.delay(ctx); err != nil {
		return User{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.users[userID]
	if !ok {
		return User{}, fmt.Errorf("unknown user")
	}
	if changes.Name != nil {
		user.Name = *changes.Name
	}
	if changes.Email != nil {
		user.Email = *changes.Email
	}
	p.users[userID] = user
	return user, nil
}

// ResetPassword implements Provider. The mock acknowledges every request
// without revealing whether the email exists.
func (p *MockProvider) ResetPassword(ctx context.Context, email string) error {
	if err := p.delay(ctx); err != nil {
		return err
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}
	return nil
}

func (p *MockProvider) openSessionLocked(userID string) Session {
	sess := Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		ExpiresAt: p.clock.Now().Add(p.ttl),
	}
	p.sessions[sess.ID] = sess
	return sess
}

// delay simulates network latency, honoring context cancellation.
func (p *MockProvider) delay(ctx context.Context) error {
	if p.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.latency):
		return nil
	}
}

func nameFromEmail(email string) string {
	for i, r := range email {
		if r == '@' {
			return email[:i]
		}
	}
	return email
}
