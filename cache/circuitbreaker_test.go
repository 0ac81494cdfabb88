package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type flakyBackend struct {
	Memory
	calls     atomic.Int64
	failUntil int64
}

func newFlakyBackend(failUntil int64) *flakyBackend {
	return &flakyBackend{Memory: *NewMemory(0), failUntil: failUntil}
}

func (f *flakyBackend) Get(ctx context.Context, key string) (interface{}, error) {
	if f.calls.Add(1) <= f.failUntil {
		return nil, errors.New("flaky backend unavailable")
	}
	return f.Memory.Get(ctx, key)
}

func TestCircuitBreakerCacheOpensAfterThreshold(t *testing.T) {
	backend := newFlakyBackend(100)
	cbc := NewCircuitBreakerCache(backend, 3)

	var lastErr error
	for i := 0; i < 3; i++ {
		_, lastErr = cbc.Get(context.Background(), "k")
		if lastErr == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}

	callsBeforeOpen := backend.calls.Load()

	// The breaker should now be open and reject without reaching the backend.
	_, err := cbc.Get(context.Background(), "k")
	if err == nil {
		t.Fatal("expected circuit breaker to reject the call")
	}
	if backend.calls.Load() != callsBeforeOpen {
		t.Errorf("expected breaker to short-circuit without calling backend, calls went from %d to %d", callsBeforeOpen, backend.calls.Load())
	}
}

func TestCircuitBreakerCachePassesThroughMisses(t *testing.T) {
	backend := newFlakyBackend(0)
	cbc := NewCircuitBreakerCache(backend, 3)

	_, err := cbc.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a clean miss, got %v", err)
	}
}

func TestCircuitBreakerCacheSetGetRoundTrip(t *testing.T) {
	backend := newFlakyBackend(0)
	cbc := NewCircuitBreakerCache(backend, 3)

	if err := cbc.Set(context.Background(), "k", "v", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, err := cbc.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "v" {
		t.Errorf("expected %q, got %v", "v", value)
	}
}
