package channel

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// DirStore is a Store backed by one file per key in a shared directory,
// with change notifications via fsnotify. It is the closest analog of
// same-origin browser storage plus storage events: any process watching
// the directory observes writes made by the others.
//
// Whether the writing process observes its own write depends on the
// platform watcher; consumers must filter self-originated events.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed and returns a store over it.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Put implements Store. The write is atomic: a temp file is renamed into
// place so watchers never observe a partial value.
func (s *DirStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish key file: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *DirStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read key file: %w", err)
	}
	return data, true, nil
}

// Delete implements Store.
func (s *DirStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove key file: %w", err)
	}
	return nil
}

// Watch implements Store.
func (s *DirStore) Watch(ctx context.Context, key string) (<-chan Notification, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch store dir: %w", err)
	}

	want := s.path(key)
	out := make(chan Notification, 16)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != want {
					continue
				}

				var n Notification
				switch {
				case ev.Op.Has(fsnotify.Remove):
					n = Notification{Key: key, Deleted: true}
				case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Rename):
					data, err := os.ReadFile(want)
					if os.IsNotExist(err) {
						n = Notification{Key: key, Deleted: true}
					} else if err != nil {
						continue
					} else {
						n = Notification{Key: key, Value: data}
					}
				default:
					continue
				}

				select {
				case out <- n:
				case <-ctx.Done():
					return
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Watcher errors are transient (e.g., overflow); the next
				// event re-reads the file, so nothing to do here.
			}
		}
	}()
	return out, nil
}

// Close implements Store. DirStore holds no long-lived resources beyond
// per-Watch watchers, which are owned by their contexts.
func (s *DirStore) Close() error {
	return nil
}

// path maps a key to a filename. Keys may contain characters that are not
// filesystem-safe (":" on Windows), so non-alphanumeric runs are hex-escaped.
func (s *DirStore) path(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteString("%" + hex.EncodeToString([]byte(string(r))))
		}
	}
	return filepath.Join(s.dir, b.String()+".json")
}
