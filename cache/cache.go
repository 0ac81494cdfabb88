// Package cache provides the pluggable cache abstraction consumed by the
// transaction manager (invalidation on commit), plus two concrete backends:
// an in-process memory LRU and a Redis-backed remote cache with optional
// local fallback.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by any operation on a backend after Close.
var ErrClosed = errors.New("cache: backend is closed")

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Stats reports backend identity and aggregate hit/miss counters.
type Stats struct {
	Backend string
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Size    int64
}

// Cache is the contract relied upon by the transaction manager: get/set/
// delete a value, invalidate by glob pattern or by model,
// report stats, and tear down.
type Cache interface {
	// Get returns the cached value for key, or ErrNotFound if absent/expired.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores value under key with the given ttl (0 means no expiry).
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// InvalidatePattern deletes every key matching a glob-style pattern
	// (e.g. "res.partner:*") and returns the number of keys removed.
	InvalidatePattern(ctx context.Context, pattern string) (int, error)

	// InvalidateModel deletes every entry associated with model's
	// generated keys/patterns and returns the number of keys removed.
	InvalidateModel(ctx context.Context, model string) (int, error)

	// GetStats returns a snapshot of backend identity and counters.
	GetStats() Stats

	// Close idempotently tears down the backend.
	Close() error
}

// ModelPatterns returns the cache-invalidation patterns associated with a
// model, matching the transaction manager's invalidation hint scheme:
// "<model>:*", "query:<model>:*", "search:<model>:*", "list:<model>:*".
func ModelPatterns(model string) []string {
	return []string{
		model + ":*",
		"query:" + model + ":*",
		"search:" + model + ":*",
		"list:" + model + ":*",
	}
}

// RecordKeys returns the per-record invalidation keys for a model/id pair:
// "<model>:<id>" and "record:<model>:<id>".
func RecordKeys(model string, id int) []string {
	return []string{
		model + ":" + itoa(id),
		"record:" + model + ":" + itoa(id),
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
