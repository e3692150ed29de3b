// Package channel implements the broadcast mailbox shared by execution
// contexts.
//
// A Store is a persistent key-value store visible to all participating
// contexts, with change notifications delivered to watchers when a key is
// written. One well-known key acts as a single-writer-at-a-time broadcast
// mailbox: each publish overwrites the previous event, and writers must
// tolerate their own write being immediately overwritten by another context.
//
// Three backends are provided:
//   - MemoryStore: in-process, for tests and single-process deployments
//   - RedisStore: cross-process via Redis SET + pub/sub notifications
//   - DirStore: cross-process via files in a shared directory, watched
//     with fsnotify
//
// The Broadcaster publishes events to the mailbox and owns the cleanup
// timer that removes a published event after a fixed delay, but only while
// the mailbox still holds this context's write. The ownership check, not a
// lock, is the concurrency-safety mechanism.
package channel
