package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Client is the narrow RPC surface the executor needs. client.Client
// satisfies this implicitly; this package does not import client to avoid
// an import cycle.
type Client interface {
	ExecuteKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
}

// TimeoutError describes a single operation exceeding its configured
// per-operation timeout. The executor does not return it; its message is
// recorded as the failed Result's Err.
type TimeoutError struct {
	OperationID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("batch: operation %s timed out", e.OperationID)
}

// ExecutionError wraps a failure that aborted the whole batch run (as
// opposed to a single operation's per-chunk failure, which is recorded in
// its Result instead of aborting).
type ExecutionError struct {
	Cause error
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("batch: execution failed: %v", e.Cause) }
func (e *ExecutionError) Unwrap() error { return e.Cause }

// Result is the outcome of one (possibly chunked) operation.
type Result struct {
	Success       bool
	OperationID   string
	OperationType OperationType
	Model         string
	RecordCount   int
	Value         interface{}
	Err           string
	Duration      time.Duration
}

// Stats aggregates an executor run's progress and throughput.
type Stats struct {
	TotalOperations     int64
	CompletedOperations int64
	FailedOperations    int64
	TotalRecords        int64
	ProcessedRecords    int64
	StartedAt           time.Time
	FinishedAt          time.Time
}

// Progress is reported to an optional callback after every completion.
type Progress struct {
	Completed  int
	Total      int
	Percentage float64
	Stats      Stats
}

// Options configures an Executor.
type Options struct {
	MaxChunkSize   int
	MaxConcurrency int
	Timeout        time.Duration
}

// DefaultOptions returns the default chunking and concurrency limits (100 per chunk, concurrency 5).
func DefaultOptions() Options {
	return Options{MaxChunkSize: 100, MaxConcurrency: 5}
}

// Executor runs a list of Operations with bounded concurrency and
// per-chunk fault isolation.
type Executor struct {
	client Client
	opts   Options
	sem    *semaphore.Weighted

	completed atomic.Int64
	failed    atomic.Int64
	processed atomic.Int64
}

// NewExecutor builds an Executor against client, applying option defaults.
func NewExecutor(client Client, opts Options) *Executor {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = 100
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 5
	}
	return &Executor{client: client, opts: opts, sem: semaphore.NewWeighted(int64(opts.MaxConcurrency))}
}

// ExecuteOperations chunks, runs, and aggregates results for ops.
// progress, if non-nil, is invoked after every single completion.
func (e *Executor) ExecuteOperations(ctx context.Context, ops []Operation, progress func(Progress)) ([]Result, Stats, error) {
	stats := Stats{StartedAt: time.Now()}
	if len(ops) == 0 {
		stats.FinishedAt = stats.StartedAt
		return nil, stats, nil
	}

	stats.TotalOperations = int64(len(ops))
	for _, op := range ops {
		stats.TotalRecords += int64(op.BatchSize())
	}

	chunks := e.chunkOperations(ops)

	results, err := e.executeChunked(ctx, chunks, &stats, progress)
	stats.FinishedAt = time.Now()
	if err != nil {
		return results, stats, &ExecutionError{Cause: err}
	}
	return results, stats, nil
}

func (e *Executor) chunkOperations(ops []Operation) []Operation {
	var chunked []Operation
	for _, op := range ops {
		if op.BatchSize() > e.opts.MaxChunkSize {
			chunked = append(chunked, op.Split(e.opts.MaxChunkSize)...)
		} else {
			chunked = append(chunked, op)
		}
	}
	return chunked
}

type completion struct {
	index  int
	result Result
}

// executeChunked launches every chunk as a semaphore-gated goroutine and
// fans completions into a single channel, processed in completion order.
// The returned results are in chunk order.
func (e *Executor) executeChunked(ctx context.Context, chunks []Operation, stats *Stats, progress func(Progress)) ([]Result, error) {
	done := make(chan completion, len(chunks))
	var wg sync.WaitGroup

	for i, op := range chunks {
		i, op := i, op
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.sem.Acquire(ctx, 1); err != nil {
				done <- completion{index: i, result: Result{Success: false, OperationID: op.ID(), Err: err.Error()}}
				return
			}
			defer e.sem.Release(1)
			done <- completion{index: i, result: e.executeOne(ctx, op)}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	results := make([]Result, len(chunks))
	completedCount := 0
	for c := range done {
		results[c.index] = c.result
		completedCount++

		if c.result.Success {
			e.completed.Add(1)
			e.processed.Add(int64(c.result.RecordCount))
			atomic.AddInt64(&stats.CompletedOperations, 1)
			atomic.AddInt64(&stats.ProcessedRecords, int64(c.result.RecordCount))
		} else {
			e.failed.Add(1)
			atomic.AddInt64(&stats.FailedOperations, 1)
		}

		if progress != nil {
			progress(Progress{
				Completed:  completedCount,
				Total:      len(chunks),
				Percentage: float64(completedCount) / float64(len(chunks)) * 100,
				Stats:      *stats,
			})
		}
	}

	return results, nil
}

// executeOne performs a single chunk's RPC, honoring the configured
// per-operation timeout. A timeout or other failure is returned as a
// failed Result rather than propagated, so the rest of the batch proceeds.
func (e *Executor) executeOne(ctx context.Context, op Operation) Result {
	op.setStatus(StatusExecuting)
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if e.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	value, err := e.perform(runCtx, op)
	duration := time.Since(start)

	if err != nil {
		op.setStatus(StatusFailed)
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{
				Success: false, OperationID: op.ID(), OperationType: op.Type(), Model: op.Model(),
				RecordCount: op.BatchSize(), Err: (&TimeoutError{OperationID: op.ID()}).Error(), Duration: duration,
			}
		}
		return Result{
			Success: false, OperationID: op.ID(), OperationType: op.Type(), Model: op.Model(),
			RecordCount: op.BatchSize(), Err: err.Error(), Duration: duration,
		}
	}

	op.setStatus(StatusCompleted)
	return Result{
		Success: true, OperationID: op.ID(), OperationType: op.Type(), Model: op.Model(),
		RecordCount: op.BatchSize(), Value: value, Duration: duration,
	}
}

func (e *Executor) perform(ctx context.Context, op Operation) (interface{}, error) {
	switch o := op.(type) {
	case *CreateOperation:
		return e.performCreate(ctx, o)
	case *UpdateOperation:
		return e.performUpdate(ctx, o)
	case *DeleteOperation:
		return e.performDelete(ctx, o)
	default:
		return nil, fmt.Errorf("batch: unknown operation type %T", op)
	}
}

// performCreate attempts a single bulk create; on failure it falls back to
// sequential per-record creates, returning whatever succeeded. It only
// raises when nothing at all could be created.
func (e *Executor) performCreate(ctx context.Context, op *CreateOperation) ([]int, error) {
	raw, err := e.client.ExecuteKw(ctx, op.model, "create", []interface{}{toAnySlice(op.Data)}, op.ctx)
	if err == nil {
		return coerceIDs(raw), nil
	}

	var created []int
	for _, record := range op.Data {
		id, recErr := e.client.ExecuteKw(ctx, op.model, "create", []interface{}{record}, op.ctx)
		if recErr != nil {
			continue
		}
		created = append(created, coerceIDs(id)...)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("failed to create any records individually: %w", err)
	}
	return created, nil
}

func (e *Executor) performUpdate(ctx context.Context, op *UpdateOperation) (bool, error) {
	if op.IsBulkOperation() {
		raw, err := e.client.ExecuteKw(ctx, op.model, "write", []interface{}{toAnyIntSlice(op.RecordIDs), op.Data}, op.ctx)
		if err != nil {
			return false, err
		}
		return coerceBool(raw), nil
	}

	successCount := 0
	for _, rec := range op.Records {
		id, _ := rec["id"].(int)
		values := make(map[string]interface{}, len(rec)-1)
		for k, v := range rec {
			if k != "id" {
				values[k] = v
			}
		}
		if _, err := e.client.ExecuteKw(ctx, op.model, "write", []interface{}{[]interface{}{id}, values}, op.ctx); err == nil {
			successCount++
		}
	}
	return successCount == len(op.Records), nil
}

func (e *Executor) performDelete(ctx context.Context, op *DeleteOperation) (bool, error) {
	raw, err := e.client.ExecuteKw(ctx, op.model, "unlink", []interface{}{toAnyIntSlice(op.RecordIDs)}, op.ctx)
	if err != nil {
		return false, err
	}
	return coerceBool(raw), nil
}

// GetStats returns a snapshot of this executor's cumulative counters.
func (e *Executor) GetStats() (completed, failed, processed int64) {
	return e.completed.Load(), e.failed.Load(), e.processed.Load()
}

func toAnySlice(records []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

func toAnyIntSlice(ids []int) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func coerceIDs(raw interface{}) []int {
	switch v := raw.(type) {
	case []int:
		return v
	case int:
		return []int{v}
	case float64:
		return []int{int(v)}
	case []interface{}:
		ids := make([]int, 0, len(v))
		for _, item := range v {
			switch id := item.(type) {
			case int:
				ids = append(ids, id)
			case float64:
				ids = append(ids, int(id))
			}
		}
		return ids
	default:
		return nil
	}
}

func coerceBool(raw interface{}) bool {
	b, ok := raw.(bool)
	return !ok || b
}
