// Package session holds the authoritative auth session state for one
// execution context.
//
// State machine:
//
//	anonymous -> authenticating -> authenticated -> anonymous (logout)
//	authenticated -> refreshing -> authenticated | anonymous (failed refresh)
//
// An error message coexists with any state and is cleared explicitly (or by
// the next successful operation). Operations never panic and never leak
// provider errors past their boundary: every failure is normalized into an
// AuthError and mirrored into the state's Err field so it survives
// re-reads until cleared.
//
// The store is constructor-injected, never a package-level singleton, and
// concurrent auth attempts are rejected rather than racing last-write-wins.
package session
