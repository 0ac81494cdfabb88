package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrBatchAlreadyExecuted is returned by Execute on a Batch that already ran.
var ErrBatchAlreadyExecuted = errors.New("batch: already executed")

// ErrBatchEmpty is returned by Execute on a Batch with no operations.
var ErrBatchEmpty = errors.New("batch: no operations to execute")

// ManagerStats aggregates a Manager's lifetime batch/operation counters.
type ManagerStats struct {
	TotalBatches     int64
	CompletedBatches int64
	FailedBatches    int64
	TotalOperations  int64
	TotalRecords     int64
}

// Manager is the high-level entry point for batch operations: single-shot
// bulk_create/update/delete shortcuts, a fluent Batch builder, and a
// batch() scope that auto-executes on exit.
type Manager struct {
	client Client
	opts   Options

	mu            sync.Mutex
	activeBatches map[string]*Batch
	stats         ManagerStats
}

// NewManager builds a Manager, applying Options defaults.
func NewManager(client Client, opts Options) *Manager {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = 100
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 5
	}
	return &Manager{client: client, opts: opts, activeBatches: make(map[string]*Batch)}
}

// CreateBatch starts a new fluent Batch builder. An empty id generates one.
func (m *Manager) CreateBatch(id string) *Batch {
	if id == "" {
		id = uuid.NewString()
	}
	b := &Batch{manager: m, id: id}

	m.mu.Lock()
	m.activeBatches[id] = b
	m.mu.Unlock()

	return b
}

// GetBatch looks up an active batch by id.
func (m *Manager) GetBatch(id string) (*Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.activeBatches[id]
	return b, ok
}

// ExecuteOperations validates and runs ops directly, outside any Batch.
func (m *Manager) ExecuteOperations(ctx context.Context, ops []Operation, progress func(Progress)) ([]Result, Stats, error) {
	if err := ValidateAll(ops); err != nil {
		return nil, Stats{}, err
	}

	executor := NewExecutor(m.client, m.opts)
	results, stats, err := executor.ExecuteOperations(ctx, ops, progress)

	m.mu.Lock()
	m.stats.TotalOperations += int64(len(ops))
	for _, op := range ops {
		m.stats.TotalRecords += int64(op.BatchSize())
	}
	m.mu.Unlock()

	return results, stats, err
}

// WithBatch opens a batch scope: fn accumulates operations onto the
// returned Collector, which is executed automatically once fn returns
// (mirroring the batch() async context manager's auto-exec-on-exit).
func (m *Manager) WithBatch(ctx context.Context, fn func(c *Collector) error) (Stats, error) {
	collector := &Collector{manager: m}

	if err := fn(collector); err != nil {
		return Stats{}, err
	}

	if len(collector.operations) == 0 {
		return Stats{}, nil
	}

	_, stats, err := m.ExecuteOperations(ctx, collector.operations, nil)
	return stats, err
}

// BulkCreate creates records in a single operation (chunked/concurrent
// internally), returning the created ids flattened in chunk order.
func (m *Manager) BulkCreate(ctx context.Context, model string, records []map[string]interface{}, chunkSize int, callCtx map[string]interface{}) ([]int, error) {
	op, err := NewCreateOperation(model, records, callCtx, 0)
	if err != nil {
		return nil, err
	}

	opts := m.opts
	if chunkSize > 0 {
		opts.MaxChunkSize = chunkSize
	}
	executor := NewExecutor(m.client, opts)

	results, _, err := executor.ExecuteOperations(ctx, []Operation{op}, nil)
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, r := range results {
		if !r.Success {
			return nil, fmt.Errorf("batch: bulk create failed: %s", r.Err)
		}
		if created, ok := r.Value.([]int); ok {
			ids = append(ids, created...)
		}
	}
	return ids, nil
}

// BulkUpdate updates records in a single operation. Pass recordIDs with a
// non-nil data map for the bulk-same-values form, or leave recordIDs nil
// and pass per-record maps via records for the per-record form.
func (m *Manager) BulkUpdate(ctx context.Context, model string, data map[string]interface{}, recordIDs []int, records []map[string]interface{}, chunkSize int, callCtx map[string]interface{}) error {
	var op *UpdateOperation
	var err error
	if data != nil {
		op, err = NewBulkUpdateOperation(model, recordIDs, data, callCtx, 0)
	} else {
		op, err = NewPerRecordUpdateOperation(model, records, callCtx, 0)
	}
	if err != nil {
		return err
	}

	opts := m.opts
	if chunkSize > 0 {
		opts.MaxChunkSize = chunkSize
	}
	executor := NewExecutor(m.client, opts)

	results, _, err := executor.ExecuteOperations(ctx, []Operation{op}, nil)
	if err != nil {
		return err
	}
	for _, r := range results {
		if !r.Success {
			return fmt.Errorf("batch: bulk update failed: %s", r.Err)
		}
	}
	return nil
}

// BulkDelete deletes records in a single operation.
func (m *Manager) BulkDelete(ctx context.Context, model string, recordIDs []int, chunkSize int, callCtx map[string]interface{}) error {
	op, err := NewDeleteOperation(model, recordIDs, callCtx, 0)
	if err != nil {
		return err
	}

	opts := m.opts
	if chunkSize > 0 {
		opts.MaxChunkSize = chunkSize
	}
	executor := NewExecutor(m.client, opts)

	results, _, err := executor.ExecuteOperations(ctx, []Operation{op}, nil)
	if err != nil {
		return err
	}
	for _, r := range results {
		if !r.Success {
			return fmt.Errorf("batch: bulk delete failed: %s", r.Err)
		}
	}
	return nil
}

// GetStats returns a snapshot of the manager's lifetime counters.
func (m *Manager) GetStats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) recordBatchOutcome(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.TotalBatches++
	if failed {
		m.stats.FailedBatches++
	} else {
		m.stats.CompletedBatches++
	}
}

func (m *Manager) forgetBatch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeBatches, id)
}

// Batch is a fluent builder of heterogeneous operations, executed exactly
// once in priority-descending order.
type Batch struct {
	manager *Manager
	id      string

	mu         sync.Mutex
	operations []Operation
	executed   bool
	results    []Result
}

// ID returns the batch's identifier.
func (b *Batch) ID() string { return b.id }

// Create adds a create operation to the batch.
func (b *Batch) Create(model string, records []map[string]interface{}, ctx map[string]interface{}, priority int) (*Batch, error) {
	op, err := NewCreateOperation(model, records, ctx, priority)
	if err != nil {
		return b, err
	}
	b.addOperation(op)
	return b, nil
}

// Update adds a bulk-same-values update operation to the batch.
func (b *Batch) Update(model string, recordIDs []int, data map[string]interface{}, ctx map[string]interface{}, priority int) (*Batch, error) {
	op, err := NewBulkUpdateOperation(model, recordIDs, data, ctx, priority)
	if err != nil {
		return b, err
	}
	b.addOperation(op)
	return b, nil
}

// Delete adds a delete operation to the batch.
func (b *Batch) Delete(model string, recordIDs []int, ctx map[string]interface{}, priority int) (*Batch, error) {
	op, err := NewDeleteOperation(model, recordIDs, ctx, priority)
	if err != nil {
		return b, err
	}
	b.addOperation(op)
	return b, nil
}

// AddOperation adds a pre-built operation to the batch.
func (b *Batch) AddOperation(op Operation) *Batch {
	b.addOperation(op)
	return b
}

func (b *Batch) addOperation(op Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.operations = append(b.operations, op)
}

// OperationCount returns the number of operations queued on the batch.
func (b *Batch) OperationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.operations)
}

// RecordCount returns the total record count across all queued operations.
func (b *Batch) RecordCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, op := range b.operations {
		total += op.BatchSize()
	}
	return total
}

// Clear empties an unexecuted batch's operation list.
func (b *Batch) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.executed {
		return fmt.Errorf("batch: cannot clear executed batch %s", b.id)
	}
	b.operations = nil
	return nil
}

// Execute runs every queued operation, sorted by descending priority.
// A batch may only be executed once; an empty batch is an error.
func (b *Batch) Execute(ctx context.Context, progress func(Progress)) ([]Result, Stats, error) {
	b.mu.Lock()
	if b.executed {
		b.mu.Unlock()
		return nil, Stats{}, ErrBatchAlreadyExecuted
	}
	if len(b.operations) == 0 {
		b.mu.Unlock()
		return nil, Stats{}, ErrBatchEmpty
	}
	ops := append([]Operation(nil), b.operations...)
	b.mu.Unlock()

	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Priority() > ops[j].Priority() })

	results, stats, err := b.manager.ExecuteOperations(ctx, ops, progress)

	b.mu.Lock()
	b.executed = true
	b.results = results
	b.mu.Unlock()

	b.manager.recordBatchOutcome(stats.FailedOperations > 0 || err != nil)
	b.manager.forgetBatch(b.id)

	return results, stats, err
}

// Collector accumulates operations for a single WithBatch scope.
type Collector struct {
	manager    *Manager
	operations []Operation
}

// Create queues a create operation.
func (c *Collector) Create(model string, records []map[string]interface{}, ctx map[string]interface{}) error {
	op, err := NewCreateOperation(model, records, ctx, 0)
	if err != nil {
		return err
	}
	c.operations = append(c.operations, op)
	return nil
}

// Update queues a bulk-same-values update operation.
func (c *Collector) Update(model string, recordIDs []int, data map[string]interface{}, ctx map[string]interface{}) error {
	op, err := NewBulkUpdateOperation(model, recordIDs, data, ctx, 0)
	if err != nil {
		return err
	}
	c.operations = append(c.operations, op)
	return nil
}

// Delete queues a delete operation.
func (c *Collector) Delete(model string, recordIDs []int, ctx map[string]interface{}) error {
	op, err := NewDeleteOperation(model, recordIDs, ctx, 0)
	if err != nil {
		return err
	}
	c.operations = append(c.operations, op)
	return nil
}

// Execute runs the collector's queued operations directly, independent of
// WithBatch's auto-exec-on-scope-exit. Unlike WithBatch, which treats an
// empty collector as a no-op, a direct Execute on an empty collector is an
// error: there is no scope left to exit quietly out of.
func (c *Collector) Execute(ctx context.Context, progress func(Progress)) (Stats, error) {
	if len(c.operations) == 0 {
		return Stats{}, ErrBatchEmpty
	}

	_, stats, err := c.manager.ExecuteOperations(ctx, c.operations, progress)
	return stats, err
}
