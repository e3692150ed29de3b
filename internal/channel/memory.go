package channel

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store.
//
// All watchers, including the writer's own, receive notifications. This
// matches the worst-case platform behavior the coordinator must tolerate
// and makes self-event filtering observable in tests.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string][]byte
	watchers map[string][]*memoryWatcher
	closed   bool
}

type memoryWatcher struct {
	ch   chan Notification
	done <-chan struct{}
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string][]byte),
		watchers: make(map[string][]*memoryWatcher),
	}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	s.values[key] = cp

	s.notifyLocked(key, Notification{Key: key, Value: cp})
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}

	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)

	s.notifyLocked(key, Notification{Key: key, Deleted: true})
	return nil
}

// Watch implements Store.
func (s *MemoryStore) Watch(ctx context.Context, key string) (<-chan Notification, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}

	w := &memoryWatcher{
		ch:   make(chan Notification, 16),
		done: ctx.Done(),
	}
	s.watchers[key] = append(s.watchers[key], w)
	s.mu.Unlock()

	// Reap the watcher when the context ends.
	go func() {
		<-ctx.Done()
		s.removeWatcher(key, w)
	}()

	return w.ch, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, ws := range s.watchers {
		for _, w := range ws {
			close(w.ch)
		}
	}
	s.watchers = make(map[string][]*memoryWatcher)
	return nil
}

// notifyLocked fans a notification out to every watcher of key.
// Non-blocking: a watcher with a full buffer misses the notification,
// which mailbox semantics allow (only the latest state matters).
func (s *MemoryStore) notifyLocked(key string, n Notification) {
	for _, w := range s.watchers[key] {
		select {
		case <-w.done:
		case w.ch <- n:
		default:
		}
	}
}

func (s *MemoryStore) removeWatcher(key string, target *memoryWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	ws := s.watchers[key]
	for i, w := range ws {
		if w == target {
			s.watchers[key] = append(ws[:i], ws[i+1:]...)
			close(w.ch)
			return
		}
	}
}
