// Package identity abstracts the remote identity provider behind the auth
// session store. The Provider interface models network calls that can fail
// with validation or transport errors; MockProvider is the in-process
// implementation used by tests, the CLI, and single-node deployments.
package identity

import (
	"context"
	"time"
)

// User is the identity record for an authenticated principal.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a time-bounded authorization grant tied to one user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Credentials authenticate an existing user.
type Credentials struct {
	Email    string
	Password string
}

// Profile registers a new user.
type Profile struct {
	Email    string
	Password string
	Name     string
}

// ProfileChanges is a partial profile update. Nil fields are left unchanged.
type ProfileChanges struct {
	Name  *string
	Email *string
}

// Provider is the remote identity capability. All calls are network-shaped:
// they take a context and can fail with transport or validation errors.
type Provider interface {
	// Login authenticates credentials and opens a session.
	Login(ctx context.Context, creds Credentials) (User, Session, error)

	// Signup registers a profile and opens a session, exactly like Login.
	Signup(ctx context.Context, profile Profile) (User, Session, error)

	// Logout invalidates a session. Unknown sessions are not an error.
	Logout(ctx context.Context, sessionID string) error

	// Refresh re-validates a session and extends its expiry.
	Refresh(ctx context.Context, sessionID string) (Session, error)

	// UpdateProfile merges changes into the stored user record.
	UpdateProfile(ctx context.Context, userID string, changes ProfileChanges) (User, error)

	// ResetPassword requests a password reset. Fire-and-forget: the
	// provider acknowledges without revealing whether the email exists.
	ResetPassword(ctx context.Context, email string) error
}
