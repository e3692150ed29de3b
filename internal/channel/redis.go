package channel

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// notifyChannelPrefix namespaces the pub/sub channel carrying change
// notifications for a mailbox key.
const notifyChannelPrefix = "tabsync:notify:"

// RedisStore is a Store backed by Redis: values live under their key and
// change notifications travel over a pub/sub channel derived from the key.
//
// Redis pub/sub delivers to every subscriber, including the writing
// context. Self-event filtering happens in the coordinator.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of the client lifecycle only until Close is called.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	if err := s.client.Publish(ctx, notifyChannelPrefix+key, value).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, true, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	// Deletion notification carries no value.
	if err := s.client.Publish(ctx, notifyChannelPrefix+key, nil).Err(); err != nil {
		return fmt.Errorf("redis publish delete %q: %w", key, err)
	}
	return nil
}

// Watch implements Store.
func (s *RedisStore) Watch(ctx context.Context, key string) (<-chan Notification, error) {
	pubsub := s.client.Subscribe(ctx, notifyChannelPrefix+key)

	// Force the subscription to be established before returning so callers
	// do not miss writes that race with Watch.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", key, err)
	}

	out := make(chan Notification, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				n := Notification{Key: key}
				if msg.Payload == "" {
					n.Deleted = true
				} else {
					n.Value = []byte(msg.Payload)
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
