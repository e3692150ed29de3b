// Package coordinator converts raw mailbox notifications into
// de-duplicated, debounced handler invocations, and publishes this
// context's lifecycle events.
//
// Per-event state machine:
//
//	received -> validated -> (discarded | debounced -> dispatched)
//
// Discards happen for malformed payloads, stale propagation noise, events
// from this context's own origin id (when configured), and echoes landing
// within the debounce window of this context's own last publish. Rapid
// bursts are coalesced: a single pending timer (a quarter of the debounce
// window) fires once and only the most recent event survives to reach the
// handler.
//
// The coordinator owns every timer it schedules (debounce, heartbeat) and
// cancels them deterministically on Close. Handler failures and panics are
// caught and logged, never propagated to the channel layer.
package coordinator
