// Package harness runs scripted multi-context sync scenarios against a real
// coordinator and produces a deterministic event trace.
//
// A scenario (YAML, see scenario.go) drives one coordinator bound to an
// in-memory store with a fake clock and fixed origin ids. Steps publish
// events from the coordinator itself or from named peer contexts and advance
// the fake clock; the audit stream of published, dispatched, and discarded
// events becomes the trace. The same scenario always yields a byte-identical
// trace, so traces are compared against golden files.
package harness
