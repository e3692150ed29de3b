package channel

import "context"

// DefaultKey is the shared mailbox key used when the caller does not
// configure one.
const DefaultKey = "tabsync:events"

// Notification reports a change to a watched key.
type Notification struct {
	// Key is the changed key.
	Key string

	// Value is the new value, nil when the key was deleted.
	Value []byte

	// Deleted is true when the change was a removal.
	Deleted bool
}

// Store is a shared persistent key-value store with change notifications.
//
// Depending on the backend, the writer may or may not observe its own
// writes via Watch. Consumers must filter self-originated notifications
// themselves; see coordinator.Options.IgnoreOwnEvents.
//
// Delivery is not guaranteed to be FIFO across contexts. Event timestamps
// are the only cross-context ordering signal.
type Store interface {
	// Put stores value at key and notifies watchers.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the value at key. The second return is false when the
	// key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes key and notifies watchers. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// Watch returns a channel of notifications for key. The channel is
	// closed when ctx is cancelled or the store is closed. A slow consumer
	// may miss intermediate notifications; only the latest state matters
	// for mailbox semantics.
	Watch(ctx context.Context, key string) (<-chan Notification, error)

	// Close releases backend resources and closes all watch channels.
	Close() error
}
