package cache

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerCache wraps a remote Cache with a gobreaker breaker, mirroring
// the transport pool's circuit breaker: once consecutive failures reach the
// configured threshold, the breaker opens and calls fail fast with the
// breaker's own error instead of paying the remote backend's timeout on
// every request. Composed with FallbackCache, an open breaker sends traffic
// straight to the local backend.
type CircuitBreakerCache struct {
	remote Cache
	cb     *gobreaker.CircuitBreaker[struct{}]
}

// NewCircuitBreakerCache builds a CircuitBreakerCache around remote. A
// threshold of 0 applies a default of 5 consecutive failures.
func NewCircuitBreakerCache(remote Cache, threshold uint32) *CircuitBreakerCache {
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "cache-remote",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	return &CircuitBreakerCache{remote: remote, cb: cb}
}

func (c *CircuitBreakerCache) Get(ctx context.Context, key string) (interface{}, error) {
	var value interface{}
	var missErr error
	_, err := c.cb.Execute(func() (struct{}, error) {
		v, gErr := c.remote.Get(ctx, key)
		if gErr != nil && gErr != ErrNotFound {
			return struct{}{}, gErr
		}
		value, missErr = v, gErr
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}
	return value, missErr
}

func (c *CircuitBreakerCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.remote.Set(ctx, key, value, ttl)
	})
	return err
}

func (c *CircuitBreakerCache) Delete(ctx context.Context, key string) error {
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.remote.Delete(ctx, key)
	})
	return err
}

func (c *CircuitBreakerCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	var n int
	_, err := c.cb.Execute(func() (struct{}, error) {
		var pErr error
		n, pErr = c.remote.InvalidatePattern(ctx, pattern)
		return struct{}{}, pErr
	})
	return n, err
}

func (c *CircuitBreakerCache) InvalidateModel(ctx context.Context, model string) (int, error) {
	var n int
	_, err := c.cb.Execute(func() (struct{}, error) {
		var mErr error
		n, mErr = c.remote.InvalidateModel(ctx, model)
		return struct{}{}, mErr
	})
	return n, err
}

// GetStats and Close pass straight through; breaker state is an
// availability concern, not something reflected in backend identity.
func (c *CircuitBreakerCache) GetStats() Stats { return c.remote.GetStats() }
func (c *CircuitBreakerCache) Close() error    { return c.remote.Close() }
