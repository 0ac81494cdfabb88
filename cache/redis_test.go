package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedisGetSet(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	if _, err := r.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := r.Set(ctx, "k", map[string]interface{}{"name": "Acme"}, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := r.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	m, ok := value.(map[string]interface{})
	if !ok || m["name"] != "Acme" {
		t.Errorf("unexpected value: %v", value)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := r.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("expected expired key to be ErrNotFound, got %v", err)
	}
}

func TestRedisDelete(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "k", "v", 0)
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := r.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("expected deleted key to be ErrNotFound, got %v", err)
	}
}

func TestRedisInvalidatePattern(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "res.partner:1", "a", 0)
	r.Set(ctx, "res.partner:2", "b", 0)
	r.Set(ctx, "res.user:1", "c", 0)

	n, err := r.InvalidatePattern(ctx, "res.partner:*")
	if err != nil {
		t.Fatalf("InvalidatePattern failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 keys invalidated, got %d", n)
	}
	if _, err := r.Get(ctx, "res.user:1"); err != nil {
		t.Errorf("expected unrelated key to survive, got %v", err)
	}
}

func TestRedisInvalidateModel(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "res.partner:1", "a", 0)
	r.Set(ctx, "query:res.partner:1", "b", 0)
	r.Set(ctx, "search:res.partner:1", "c", 0)

	n, err := r.InvalidateModel(ctx, "res.partner")
	if err != nil {
		t.Fatalf("InvalidateModel failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 keys invalidated, got %d", n)
	}
}

func TestFallbackCacheUsesLocalOnRemoteError(t *testing.T) {
	mr := miniredis.RunT(t)
	remote, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	local := NewMemory(10)
	var loggedErr error
	fb := NewFallbackCache(remote, local, func(msg string, err error) { loggedErr = err })

	ctx := context.Background()
	mr.Close() // remote now unreachable

	if err := fb.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("expected Set to succeed via local fallback, got %v", err)
	}
	if loggedErr == nil {
		t.Error("expected fallback to log the remote error")
	}

	value, err := local.Get(ctx, "k")
	if err != nil {
		t.Fatalf("expected local fallback to have the value, got %v", err)
	}
	if value != "v" {
		t.Errorf("expected v, got %v", value)
	}
}
