package batch

import (
	"context"
	"errors"
	"testing"
)

func TestManagerBulkCreate(t *testing.T) {
	client := newFakeClient()
	mgr := NewManager(client, DefaultOptions())

	ids, err := mgr.BulkCreate(context.Background(), "res.partner", []map[string]interface{}{{"name": "A"}, {"name": "B"}}, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 created ids, got %d", len(ids))
	}
}

func TestManagerBulkUpdateAndDelete(t *testing.T) {
	client := newFakeClient()
	mgr := NewManager(client, DefaultOptions())

	if err := mgr.BulkUpdate(context.Background(), "res.partner", map[string]interface{}{"active": false}, []int{1, 2}, nil, 0, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.BulkDelete(context.Background(), "res.partner", []int{1, 2}, 0, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBatchExecuteOnce(t *testing.T) {
	client := newFakeClient()
	mgr := NewManager(client, DefaultOptions())

	b := mgr.CreateBatch("")
	if _, err := b.Create("res.partner", []map[string]interface{}{{"name": "A"}}, nil, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := b.Execute(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := b.Execute(context.Background(), nil); !errors.Is(err, ErrBatchAlreadyExecuted) {
		t.Errorf("expected ErrBatchAlreadyExecuted on second execute, got %v", err)
	}
}

func TestBatchExecuteEmptyErrors(t *testing.T) {
	client := newFakeClient()
	mgr := NewManager(client, DefaultOptions())
	b := mgr.CreateBatch("")

	if _, _, err := b.Execute(context.Background(), nil); !errors.Is(err, ErrBatchEmpty) {
		t.Errorf("expected ErrBatchEmpty, got %v", err)
	}
}

// orderRecordingClient notes the method of each call in invocation order,
// serialized by a mutex so it is safe to read once all calls complete.
type orderRecordingClient struct {
	fakeClient
	mu    chanMutex
	order []string
}

type chanMutex chan struct{}

func newOrderRecordingClient() *orderRecordingClient {
	c := &orderRecordingClient{fakeClient: *newFakeClient(), mu: make(chanMutex, 1)}
	c.mu <- struct{}{}
	return c
}

func (c *orderRecordingClient) ExecuteKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	<-c.mu
	c.order = append(c.order, method)
	c.mu <- struct{}{}
	return c.fakeClient.ExecuteKw(ctx, model, method, args, kwargs)
}

func TestBatchSortsByPriorityDescending(t *testing.T) {
	client := newOrderRecordingClient()
	mgr := NewManager(client, Options{MaxChunkSize: 100, MaxConcurrency: 1})

	b := mgr.CreateBatch("")
	_, _ = b.Delete("res.partner", []int{1}, nil, 1)    // lower priority, added first
	_, _ = b.Create("res.partner", []map[string]interface{}{{"name": "A"}}, nil, 5) // higher priority

	if _, _, err := b.Execute(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.order) != 2 || client.order[0] != "create" {
		t.Errorf("expected create (higher priority) dispatched before delete, got %v", client.order)
	}
}

func TestBatchClearBeforeExecute(t *testing.T) {
	client := newFakeClient()
	mgr := NewManager(client, DefaultOptions())
	b := mgr.CreateBatch("")
	_, _ = b.Create("res.partner", []map[string]interface{}{{"name": "A"}}, nil, 0)

	if err := b.Clear(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.OperationCount() != 0 {
		t.Errorf("expected 0 operations after clear, got %d", b.OperationCount())
	}
}

func TestWithBatchAutoExecutes(t *testing.T) {
	client := newFakeClient()
	mgr := NewManager(client, DefaultOptions())

	stats, err := mgr.WithBatch(context.Background(), func(c *Collector) error {
		return c.Create("res.partner", []map[string]interface{}{{"name": "A"}, {"name": "B"}}, nil)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.CompletedOperations != 1 {
		t.Errorf("expected 1 completed operation, got %d", stats.CompletedOperations)
	}
}

func TestWithBatchSkipsExecuteWhenEmpty(t *testing.T) {
	client := newFakeClient()
	mgr := NewManager(client, DefaultOptions())

	stats, err := mgr.WithBatch(context.Background(), func(c *Collector) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalOperations != 0 {
		t.Errorf("expected no-op stats for an empty collector, got %+v", stats)
	}
}

func TestCollectorExecuteEmptyIsError(t *testing.T) {
	client := newFakeClient()
	mgr := NewManager(client, DefaultOptions())
	collector := &Collector{manager: mgr}

	_, err := collector.Execute(context.Background(), nil)
	if !errors.Is(err, ErrBatchEmpty) {
		t.Errorf("expected ErrBatchEmpty, got %v", err)
	}
}

func TestCollectorExecuteRunsQueuedOperations(t *testing.T) {
	client := newFakeClient()
	mgr := NewManager(client, DefaultOptions())
	collector := &Collector{manager: mgr}

	if err := collector.Create("res.partner", []map[string]interface{}{{"name": "A"}}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := collector.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.CompletedOperations != 1 {
		t.Errorf("expected 1 completed operation, got %d", stats.CompletedOperations)
	}
}
