package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a [TabStore] backed by Redis. Mutations are published on a
// pub/sub channel so that tabs in other processes observe them.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	origin string
	buffer int
}

var _ TabStore = (*RedisStore)(nil)

// NewRedisStore creates a handle for origin. Keys live under prefix and events
// are published on "<prefix>:events".
func NewRedisStore(client redis.UniversalClient, prefix, origin string) *RedisStore {
	if prefix == "" {
		prefix = "ts"
	}
	if origin == "" {
		origin = NewTabID()
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		origin: origin,
		buffer: defaultWatchBuffer,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) channel() string {
	return s.prefix + ":events"
}

func (s *RedisStore) Origin() string {
	return s.origin
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	prev, err := s.redis.SetArgs(ctx, s.key(key), value, redis.SetArgs{Get: true}).Result()
	existed := true
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		existed = false
	}
	if existed && prev == value {
		return nil
	}
	return s.publish(ctx, Event{Key: key, NewValue: value, Origin: s.origin})
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	n, err := s.redis.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, Event{Key: key, Removed: true, Origin: s.origin})
}

func (s *RedisStore) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.redis.Publish(ctx, s.channel(), payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Watch subscribes to the event channel. The subscription is confirmed before
// Watch returns, so mutations made afterwards are never missed.
func (s *RedisStore) Watch(ctx context.Context) (<-chan Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	sub := s.redis.Subscribe(ctx, s.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan Event, s.buffer)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("session: discard malformed storage event: %v", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
