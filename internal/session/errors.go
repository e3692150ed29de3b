package session

import (
	"errors"
	"fmt"
)

// AuthErrorCode categorizes auth failures.
type AuthErrorCode string

const (
	// ErrCodeInvalidCredentials indicates missing or malformed credentials,
	// detected before any provider call.
	ErrCodeInvalidCredentials AuthErrorCode = "INVALID_CREDENTIALS"

	// ErrCodeInvalidProfile indicates an incomplete signup profile.
	ErrCodeInvalidProfile AuthErrorCode = "INVALID_PROFILE"

	// ErrCodeAuthInProgress indicates a login/signup arrived while another
	// auth attempt was still in flight.
	ErrCodeAuthInProgress AuthErrorCode = "AUTH_IN_PROGRESS"

	// ErrCodeNoUser indicates an operation that requires a logged-in user.
	ErrCodeNoUser AuthErrorCode = "NO_USER"

	// ErrCodeProvider indicates a remote/network failure, normalized from
	// the identity provider.
	ErrCodeProvider AuthErrorCode = "PROVIDER"
)

// AuthError is the failure result of a session operation.
//
// Session operations never throw past their own boundary: every failure is
// an AuthError, and its message is also mirrored into State.Err for
// persistent display.
type AuthError struct {
	Code    AuthErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the provider error, if any.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the AuthErrorCode from an error chain.
// Returns "" if the error is not an AuthError.
func CodeOf(err error) AuthErrorCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func invalidCredentialsError() *AuthError {
	return &AuthError{Code: ErrCodeInvalidCredentials, Message: "invalid credentials"}
}

func invalidProfileError() *AuthError {
	return &AuthError{Code: ErrCodeInvalidProfile, Message: "email, password and name are required"}
}

func authInProgressError() *AuthError {
	return &AuthError{Code: ErrCodeAuthInProgress, Message: "another auth attempt is in progress"}
}

func noUserError() *AuthError {
	return &AuthError{Code: ErrCodeNoUser, Message: "no user logged in"}
}

func providerError(op string, err error) *AuthError {
	return &AuthError{Code: ErrCodeProvider, Message: op + " failed", Err: err}
}
