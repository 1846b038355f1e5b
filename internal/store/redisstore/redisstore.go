// Package redisstore implements the store contract on Redis. Tree paths map
// directly to keys, and live subscriptions ride on a single pub/sub channel
// carrying changed paths.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fosdem-friends/talktrack/internal/store"
)

// changeChannel is the pub/sub channel every mutation announces itself on.
// Watchers filter by prefix client-side; group trees are small enough that
// per-prefix channels would buy nothing.
const changeChannel = "talktrack:changes"

// retryDelay spaces out snapshot rebuilds after a transient List failure.
const retryDelay = time.Second

// Store is a Redis-backed store.Store.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Redis-backed store using the given client.
func New(client *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

// Get reads the value at an exact path.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	value, err := s.client.Get(ctx, path).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", path, err)
	}
	return value, nil
}

// List reads every value under prefix via SCAN + MGET.
func (s *Store) List(ctx context.Context, prefix string) (store.Snapshot, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"/*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}

	snap := make(store.Snapshot, len(keys))
	if len(keys) == 0 {
		return snap, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range values {
		// A key may vanish between SCAN and MGET.
		str, ok := v.(string)
		if !ok {
			continue
		}
		rel := strings.TrimPrefix(keys[i], prefix+"/")
		snap[rel] = []byte(str)
	}
	return snap, nil
}

// Set writes a value and announces the change. The write and the publish
// ride one pipeline; subscribers seeing the announcement before the write
// lands is not possible within a single Redis instance.
func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, path, value, 0)
	pipe.Publish(ctx, changeChannel, path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set %s: %w", path, err)
	}
	return nil
}

// Delete removes a value and announces the change.
func (s *Store) Delete(ctx context.Context, path string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, path)
	pipe.Publish(ctx, changeChannel, path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis del %s: %w", path, err)
	}
	return nil
}

// Now returns the Redis server's clock, the closest thing this backend has
// to a server-assigned timestamp.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis time: %w", err)
	}
	return t.UTC(), nil
}

// Watch subscribes to a subtree. Announcements for paths outside the prefix
// are filtered out; bursts coalesce into a single rebuilt snapshot.
func (s *Store) Watch(ctx context.Context, prefix string) (<-chan store.Snapshot, error) {
	sub := s.client.Subscribe(ctx, changeChannel)
	// Confirm the subscription before the initial snapshot so no change can
	// slip between the two.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	notify := make(chan struct{}, 1)
	go func() {
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
				if store.UnderPrefix(msg.Payload, prefix) {
					select {
					case notify <- struct{}{}:
					default:
					}
				}
			}
		}
	}()

	out := make(chan store.Snapshot)
	go func() {
		defer close(out)
		for {
			snap, err := s.List(ctx, prefix)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("watch snapshot rebuild failed",
					slog.String("prefix", prefix),
					slog.String("error", err.Error()))
				select {
				case <-time.After(retryDelay):
					continue
				case <-ctx.Done():
					return
				}
			}

			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
