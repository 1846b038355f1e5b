package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore implements fixed-window rate limiting backed by Redis,
// so the limit holds across daemon replicas sharing one Redis.
//
// The store fails open: if Redis is unreachable the request is allowed and
// the error is counted, never surfaced to the client.
type RedisRateLimitStore struct {
	client  redis.Cmdable
	metrics *Metrics
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client redis.Cmdable) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// WithMetrics attaches a metrics sink for fail-open event counting.
func (s *RedisRateLimitStore) WithMetrics(m *Metrics) *RedisRateLimitStore {
	s.metrics = m
	return s
}

// Allow checks whether a request for key fits in the current window.
// It returns whether the request is allowed, how many requests remain in the
// window, and (when blocked) the number of seconds until the window resets.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.failOpen(config)
	}

	count := incr.Val()
	if count == 1 {
		// First hit in the window owns the TTL.
		if err := s.client.PExpire(ctx, key, config.WindowDuration).Err(); err != nil {
			return s.failOpen(config)
		}
	}

	if count <= int64(config.RequestsPerWindow) {
		return true, config.RequestsPerWindow - int(count), 0
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		// Either Redis dropped out mid-check or the window just rolled;
		// tell the client to retry shortly.
		return false, 0, 1
	}
	retryAfter = int(ttl / time.Second)
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, 0, retryAfter
}

func (s *RedisRateLimitStore) failOpen(config RateLimitConfig) (bool, int, int) {
	if s.metrics != nil {
		s.metrics.IncRateLimitRedisErrors()
	}
	return true, config.RequestsPerWindow, 0
}

// redisRateLimitAdapter adapts RedisRateLimitStore to the RateLimitStore
// interface consumed by the RateLimiter middleware.
type redisRateLimitAdapter struct {
	store *RedisRateLimitStore
}

func (a redisRateLimitAdapter) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	allowed, _, retryAfter := a.store.Allow(ctx, key, config)
	return allowed, retryAfter
}

// AsStore exposes the Redis store through the RateLimitStore interface.
func (s *RedisRateLimitStore) AsStore() RateLimitStore {
	return redisRateLimitAdapter{store: s}
}
