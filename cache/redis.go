package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a cache backend on top of github.com/redis/go-redis/v9. Values
// are JSON-encoded; pattern invalidation uses Redis SCAN (not KEYS) to
// avoid blocking the server on large keyspaces.
type Redis struct {
	client *redis.Client
	prefix string

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

// NewRedis connects to the given Redis URL (redis://host:port/db).
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: redis.NewClient(opts), prefix: "zenoo:"}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (interface{}, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		r.misses.Add(1)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	r.hits.Add(1)
	return value, nil
}

func (r *Redis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.sets.Add(1)
	return r.client.Set(ctx, r.prefix+key, raw, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	r.deletes.Add(1)
	return r.client.Del(ctx, r.prefix+key).Err()
}

func (r *Redis) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := r.scanKeys(ctx, r.prefix+pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	r.deletes.Add(int64(len(keys)))
	return len(keys), nil
}

func (r *Redis) InvalidateModel(ctx context.Context, model string) (int, error) {
	total := 0
	for _, pattern := range ModelPatterns(model) {
		n, err := r.InvalidatePattern(ctx, pattern)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Redis) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *Redis) GetStats() Stats {
	size, _ := r.client.DBSize(context.Background()).Result()
	return Stats{
		Backend: "redis",
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Sets:    r.sets.Load(),
		Deletes: r.deletes.Load(),
		Size:    size,
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// FallbackCache wraps a remote backend with a local one: reads and writes
// prefer remote, but fall back to local on a remote error, logging a
// warning through the supplied logFn. Matches the setup_cache_manager
// enable_fallback option.
type FallbackCache struct {
	remote Cache
	local  Cache
	logFn  func(msg string, err error)
}

// NewFallbackCache builds a FallbackCache. logFn may be nil to suppress logging.
func NewFallbackCache(remote, local Cache, logFn func(msg string, err error)) *FallbackCache {
	if logFn == nil {
		logFn = func(string, error) {}
	}
	return &FallbackCache{remote: remote, local: local, logFn: logFn}
}

func (f *FallbackCache) Get(ctx context.Context, key string) (interface{}, error) {
	value, err := f.remote.Get(ctx, key)
	if err == nil || err == ErrNotFound {
		return value, err
	}
	f.logFn("cache: remote get failed, falling back to local", err)
	return f.local.Get(ctx, key)
}

func (f *FallbackCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := f.remote.Set(ctx, key, value, ttl); err != nil {
		f.logFn("cache: remote set failed, falling back to local", err)
		return f.local.Set(ctx, key, value, ttl)
	}
	return nil
}

func (f *FallbackCache) Delete(ctx context.Context, key string) error {
	err := f.remote.Delete(ctx, key)
	if err != nil {
		f.logFn("cache: remote delete failed, falling back to local", err)
	}
	_ = f.local.Delete(ctx, key)
	return err
}

func (f *FallbackCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	n, err := f.remote.InvalidatePattern(ctx, pattern)
	if err != nil {
		f.logFn("cache: remote invalidate-pattern failed, falling back to local", err)
		return f.local.InvalidatePattern(ctx, pattern)
	}
	return n, nil
}

func (f *FallbackCache) InvalidateModel(ctx context.Context, model string) (int, error) {
	n, err := f.remote.InvalidateModel(ctx, model)
	if err != nil {
		f.logFn("cache: remote invalidate-model failed, falling back to local", err)
		return f.local.InvalidateModel(ctx, model)
	}
	return n, nil
}

func (f *FallbackCache) GetStats() Stats {
	return f.remote.GetStats()
}

func (f *FallbackCache) Close() error {
	err := f.remote.Close()
	if lerr := f.local.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}
