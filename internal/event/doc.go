// Package event defines the cross-context sync event model.
//
// A SyncEvent is the unit of communication between execution contexts
// (processes, tabs, agents) that share a persistent key-value store but not
// memory. Events are serialized to JSON at a single well-known key acting as
// a broadcast mailbox; every context bound to that key observes writes made
// by the others.
//
// Payloads form a tagged union keyed by the event type. Well-known types
// have concrete payload schemas that are validated at the decode boundary;
// unknown types pass through with their raw payload preserved. Trusting the
// payload shape implicitly is never allowed past Decode.
package event
