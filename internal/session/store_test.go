package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tabsync/internal/event"
	"github.com/roach88/tabsync/internal/identity"
	"github.com/roach88/tabsync/internal/testutil"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordedBroadcast struct {
	typ  event.Type
	data any
}

// recordingBroadcaster captures cross-context notifications.
type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []recordedBroadcast
}

func (r *recordingBroadcaster) Broadcast(typ event.Type, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedBroadcast{typ: typ, data: data})
}

func (r *recordingBroadcaster) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.typ
	}
	return out
}

type recordedTransition struct {
	op, outcome, userID string
}

type recordingTransitions struct {
	mu   sync.Mutex
	rows []recordedTransition
}

func (r *recordingTransitions) RecordTransition(op, outcome, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, recordedTransition{op, outcome, userID})
}

// slowProvider wraps a provider and blocks Login until released, to force
// overlap between concurrent auth attempts.
type slowProvider struct {
	identity.Provider
	entered chan struct{}
	release chan struct{}
}

func (p *slowProvider) Login(ctx context.Context, creds identity.Credentials) (identity.User, identity.Session, error) {
	close(p.entered)
	<-p.release
	return p.Provider.Login(ctx, creds)
}

// failingProvider fails every call.
type failingProvider struct {
	identity.Provider
}

func (p *failingProvider) Refresh(ctx context.Context, sessionID string) (identity.Session, error) {
	return identity.Session{}, fmt.Errorf("backend unreachable")
}

func (p *failingProvider) Login(ctx context.Context, creds identity.Credentials) (identity.User, identity.Session, error) {
	return identity.User{}, identity.Session{}, fmt.Errorf("backend unreachable")
}

func newStore(t *testing.T, opts ...Option) (*Store, *testutil.FakeClock, *recordingBroadcaster) {
	t.Helper()
	fc := testutil.NewFakeClock(t0)
	rb := &recordingBroadcaster{}
	base := []Option{
		WithClock(fc),
		WithBroadcaster(rb),
	}
	provider := identity.NewMockProvider(identity.WithClock(fc))
	return New(provider, append(base, opts...)...), fc, rb
}

func TestStore_LoginTransitionsToAuthenticated(t *testing.T) {
	s, _, rb := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "a@b.com", "pw123456"))

	st := s.State()
	require.True(t, st.IsAuthenticated())
	assert.Equal(t, "a@b.com", st.User.Email)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Err)
	assert.Equal(t, []event.Type{event.TypeSessionUpdated}, rb.types())
}

func TestStore_LoginSessionExpiryUsesProviderTTL(t *testing.T) {
	s, _, _ := newStore(t)

	require.NoError(t, s.Login(context.Background(), "a@b.com", "pw123456"))

	st := s.State()
	assert.Equal(t, t0.Add(identity.DefaultSessionTTL), st.Session.ExpiresAt)
}

func TestStore_LoginEmptyCredentialsFails(t *testing.T) {
	s, _, rb := newStore(t)

	err := s.Login(context.Background(), "", "")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidCredentials, CodeOf(err))

	st := s.State()
	assert.False(t, st.IsAuthenticated())
	assert.Equal(t, "invalid credentials", st.Err)
	assert.Empty(t, rb.types(), "no broadcast on failure")
}

func TestStore_LoginClearsPriorError(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	require.Error(t, s.Login(ctx, "", ""))
	require.NotEmpty(t, s.State().Err)

	require.NoError(t, s.Login(ctx, "a@b.com", "pw123456"))
	assert.Empty(t, s.State().Err)
}

func TestStore_LoginProviderFailureMirrorsError(t *testing.T) {
	fc := testutil.NewFakeClock(t0)
	s := New(&failingProvider{}, WithClock(fc))

	err := s.Login(context.Background(), "a@b.com", "pw")
	require.Error(t, err)
	assert.Equal(t, ErrCodeProvider, CodeOf(err))
	assert.Equal(t, "login failed", s.State().Err)
	assert.False(t, s.State().IsAuthenticated())
}

func TestStore_ConcurrentLoginRejected(t *testing.T) {
	fc := testutil.NewFakeClock(t0)
	slow := &slowProvider{
		Provider: identity.NewMockProvider(identity.WithClock(fc)),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	s := New(slow, WithClock(fc))
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.Login(ctx, "a@b.com", "pw")
	}()
	<-slow.entered

	err := s.Login(ctx, "c@d.com", "pw")
	require.Error(t, err)
	assert.Equal(t, ErrCodeAuthInProgress, CodeOf(err))

	close(slow.release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, "a@b.com", s.State().User.Email)
}

func TestStore_SignupTransitionsToAuthenticated(t *testing.T) {
	s, _, rb := newStore(t)

	require.NoError(t, s.Signup(context.Background(), "a@b.com", "pw123456", "Ada"))

	st := s.State()
	require.True(t, st.IsAuthenticated())
	assert.Equal(t, "Ada", st.User.Name)
	assert.Equal(t, []event.Type{event.TypeSessionUpdated}, rb.types())
}

func TestStore_SignupIncompleteProfileFails(t *testing.T) {
	s, _, _ := newStore(t)

	err := s.Signup(context.Background(), "a@b.com", "pw", "")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidProfile, CodeOf(err))
	assert.NotEmpty(t, s.State().Err)
}

func TestStore_LogoutClearsEverythingAndIsIdempotent(t *testing.T) {
	s, _, rb := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "a@b.com", "pw123456"))

	s.Logout(ctx)
	st := s.State()
	assert.Nil(t, st.User)
	assert.Nil(t, st.Session)
	assert.Empty(t, st.Err)

	// Logging out while anonymous also succeeds.
	s.Logout(ctx)
	assert.False(t, s.State().IsAuthenticated())
	assert.Equal(t,
		[]event.Type{event.TypeSessionUpdated, event.TypeSessionCleared, event.TypeSessionCleared},
		rb.types())
}

func TestStore_RefreshNoSessionIsNoOp(t *testing.T) {
	s, _, rb := newStore(t)
	require.NoError(t, s.RefreshSession(context.Background()))
	assert.Empty(t, rb.types())
}

func TestStore_RefreshExtendsSession(t *testing.T) {
	s, fc, rb := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "a@b.com", "pw123456"))
	fc.Advance(30 * time.Minute)

	require.NoError(t, s.RefreshSession(ctx))
	st := s.State()
	assert.Equal(t, t0.Add(30*time.Minute).Add(identity.DefaultSessionTTL), st.Session.ExpiresAt)
	assert.Equal(t, []event.Type{event.TypeSessionUpdated, event.TypeSessionUpdated}, rb.types())
}

func TestStore_RefreshFailureForcesLogout(t *testing.T) {
	fc := testutil.NewFakeClock(t0)
	mock := identity.NewMockProvider(identity.WithClock(fc))
	rb := &recordingBroadcaster{}
	s := New(mock, WithClock(fc), WithBroadcaster(rb))
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "a@b.com", "pw123456"))

	// Let the session expire so the provider rejects the refresh.
	fc.Advance(identity.DefaultSessionTTL + time.Minute)
	err := s.RefreshSession(ctx)
	require.Error(t, err)
	assert.Equal(t, ErrCodeProvider, CodeOf(err))

	st := s.State()
	assert.Nil(t, st.User)
	assert.Nil(t, st.Session)
	assert.Equal(t, "refresh failed", st.Err)
	assert.Equal(t, []event.Type{event.TypeSessionUpdated, event.TypeSessionCleared}, rb.types())
}

func TestStore_UpdateProfileRequiresUser(t *testing.T) {
	s, _, _ := newStore(t)

	name := "Grace"
	err := s.UpdateProfile(context.Background(), identity.ProfileChanges{Name: &name})
	require.Error(t, err)
	assert.Equal(t, ErrCodeNoUser, CodeOf(err))
}

func TestStore_UpdateProfileMergesChanges(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "a@b.com", "pw123456"))
	before := s.State()

	name := "Grace"
	require.NoError(t, s.UpdateProfile(ctx, identity.ProfileChanges{Name: &name}))

	st := s.State()
	assert.Equal(t, "Grace", st.User.Name)
	assert.Equal(t, before.User.Email, st.User.Email, "unchanged fields preserved")
	assert.Equal(t, before.Session.ID, st.Session.ID, "session untouched")
}

func TestStore_ResetPasswordLeavesStateUntouched(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "a@b.com", "pw123456"))
	before := s.State()

	require.NoError(t, s.ResetPassword(ctx, "a@b.com"))
	after := s.State()
	assert.Equal(t, before.Session.ID, after.Session.ID)
	assert.True(t, after.IsAuthenticated())

	err := s.ResetPassword(ctx, "")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidCredentials, CodeOf(err))
}

func TestStore_ClearError(t *testing.T) {
	s, _, _ := newStore(t)

	require.Error(t, s.Login(context.Background(), "", ""))
	require.NotEmpty(t, s.State().Err)

	s.ClearError()
	assert.Empty(t, s.State().Err)
}

func TestStore_ExpiryQueries(t *testing.T) {
	s, fc, _ := newStore(t, WithExpiryWarn(10*time.Minute))
	ctx := context.Background()

	// Anonymous: nothing is valid, expired, or expiring.
	assert.False(t, s.HasValidSession())
	assert.False(t, s.IsSessionExpired())
	assert.False(t, s.IsSessionExpiring())
	assert.Zero(t, s.SessionTimeRemaining())

	require.NoError(t, s.Login(ctx, "a@b.com", "pw123456"))
	assert.True(t, s.HasValidSession())
	assert.False(t, s.IsSessionExpiring())
	assert.Equal(t, identity.DefaultSessionTTL, s.SessionTimeRemaining())

	// Inside the warning window.
	fc.Advance(identity.DefaultSessionTTL - 5*time.Minute)
	assert.True(t, s.HasValidSession())
	assert.True(t, s.IsSessionExpiring())
	assert.Equal(t, 5*time.Minute, s.SessionTimeRemaining())

	// Past expiry.
	fc.Advance(10 * time.Minute)
	assert.False(t, s.HasValidSession())
	assert.True(t, s.IsSessionExpired())
	assert.False(t, s.IsSessionExpiring())
	assert.Zero(t, s.SessionTimeRemaining())
}

func TestStore_EmailNormalization(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "  A@B.com ", "pw123456"))
	assert.Equal(t, "a@b.com", s.State().User.Email)
}

func TestStore_TransitionSinkRecordsOutcomes(t *testing.T) {
	sink := &recordingTransitions{}
	s, _, _ := newStore(t, WithTransitionSink(sink))
	ctx := context.Background()

	require.Error(t, s.Login(ctx, "", ""))
	require.NoError(t, s.Login(ctx, "a@b.com", "pw123456"))
	s.Logout(ctx)

	require.Len(t, sink.rows, 3)
	assert.Equal(t, recordedTransition{"login", OutcomeFailure, ""}, sink.rows[0])
	assert.Equal(t, "login", sink.rows[1].op)
	assert.Equal(t, OutcomeSuccess, sink.rows[1].outcome)
	assert.NotEmpty(t, sink.rows[1].userID)
	assert.Equal(t, recordedTransition{"logout", OutcomeSuccess, ""}, sink.rows[2])
}

func TestStore_StateReturnsCopy(t *testing.T) {
	s, _, _ := newStore(t)
	require.NoError(t, s.Login(context.Background(), "a@b.com", "pw123456"))

	st := s.State()
	st.User.Name = "mutated"
	assert.NotEqual(t, "mutated", s.State().User.Name)
}
