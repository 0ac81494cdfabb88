package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory(10)
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "v" {
		t.Errorf("expected v, got %v", value)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	c := NewMemory(10)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := c.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("expected expired key to be ErrNotFound, got %v", err)
	}
}

func TestMemoryLRUEviction(t *testing.T) {
	c := NewMemory(2)
	ctx := context.Background()

	c.Set(ctx, "a", 1, 0)
	c.Set(ctx, "b", 2, 0)
	c.Set(ctx, "c", 3, 0) // evicts "a"

	if _, err := c.Get(ctx, "a"); err != ErrNotFound {
		t.Error("expected a to be evicted")
	}
	if _, err := c.Get(ctx, "b"); err != nil {
		t.Error("expected b to survive")
	}
}

func TestMemoryInvalidatePattern(t *testing.T) {
	c := NewMemory(10)
	ctx := context.Background()

	c.Set(ctx, "res.partner:1", 1, 0)
	c.Set(ctx, "res.partner:2", 2, 0)
	c.Set(ctx, "res.user:1", 3, 0)

	n, err := c.InvalidatePattern(ctx, "res.partner:*")
	if err != nil {
		t.Fatalf("InvalidatePattern failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 invalidated, got %d", n)
	}

	if _, err := c.Get(ctx, "res.user:1"); err != nil {
		t.Error("expected unrelated key to survive")
	}
}

func TestMemoryInvalidateModel(t *testing.T) {
	c := NewMemory(10)
	ctx := context.Background()

	c.SetForModel(ctx, "query:res.partner:abc", []int{1, 2}, 0, "res.partner")
	c.Set(ctx, "res.partner:1", map[string]interface{}{"id": 1}, 0)

	n, err := c.InvalidateModel(ctx, "res.partner")
	if err != nil {
		t.Fatalf("InvalidateModel failed: %v", err)
	}
	if n == 0 {
		t.Error("expected at least one key invalidated")
	}
}

func TestMemoryCloseRejectsOperations(t *testing.T) {
	c := NewMemory(10)
	ctx := context.Background()
	c.Close()

	if err := c.Set(ctx, "k", "v", 0); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryStats(t *testing.T) {
	c := NewMemory(10)
	ctx := context.Background()

	c.Set(ctx, "k", "v", 0)
	c.Get(ctx, "k")
	c.Get(ctx, "missing")

	stats := c.GetStats()
	if stats.Backend != "memory" {
		t.Errorf("expected backend=memory, got %s", stats.Backend)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit/1 miss, got hits=%d misses=%d", stats.Hits, stats.Misses)
	}
}
