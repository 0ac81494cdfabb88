package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenoo-go/zenoo/cache"
)

// Status is the lifecycle state of a Transaction.
type Status string

const (
	StatusActive     Status = "active"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	StatusFailed     Status = "failed"
)

// ErrNoActiveTransaction is returned by operations that require a current
// transaction when none is active.
var ErrNoActiveTransaction = errors.New("transaction: no active transaction")

// ErrUnknownSavepoint is returned by ReleaseSavepoint/RollbackToSavepoint
// for an id that does not name a live savepoint on the transaction.
var ErrUnknownSavepoint = errors.New("transaction: unknown savepoint")

// ErrTooManyActiveTransactions is returned by Begin when the manager's
// max_active_transactions budget is exhausted.
var ErrTooManyActiveTransactions = errors.New("transaction: too many active transactions")

// CommitError wraps the error that aborted a commit, transitioning the
// transaction to Failed.
type CommitError struct {
	TransactionID string
	Cause         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("transaction %s: commit failed: %v", e.TransactionID, e.Cause)
}
func (e *CommitError) Unwrap() error { return e.Cause }

// RollbackFailure records one compensating operation that could not be
// applied during rollback.
type RollbackFailure struct {
	OperationID string
	Model       string
	Error       string
}

// RollbackError is raised when one or more compensating operations fail
// during rollback. PartialRollback is true iff at least one other
// compensation in the same rollback succeeded.
type RollbackError struct {
	TransactionID   string
	Failures        []RollbackFailure
	PartialRollback bool
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("transaction %s: rollback had %d failure(s) (partial=%v)", e.TransactionID, len(e.Failures), e.PartialRollback)
}

// Executor is the narrow CRUD surface the transaction manager needs from a
// client to execute compensating operations. A client.Client satisfies this
// implicitly; the package deliberately does not import client to avoid an
// import cycle.
type Executor interface {
	Create(ctx context.Context, model string, values map[string]interface{}, callCtx map[string]interface{}) (int, error)
	Write(ctx context.Context, model string, ids []int, values map[string]interface{}, callCtx map[string]interface{}) error
	Unlink(ctx context.Context, model string, ids []int, callCtx map[string]interface{}) error

	// IsNotFoundError reports whether err represents a "record not found"
	// condition, used to treat rollback-of-an-already-gone-record as
	// idempotent success rather than failure.
	IsNotFoundError(err error) bool
}

// Options configures a Manager, mirroring setup_transaction_manager.
type Options struct {
	MaxActiveTransactions int
	DefaultTimeout        time.Duration
}

// DefaultOptions returns the default transaction limits: 100 max active
// transactions, a 300s default timeout.
func DefaultOptions() Options {
	return Options{MaxActiveTransactions: 100, DefaultTimeout: 300 * time.Second}
}

// Manager owns the set of active transactions and the single
// current-transaction stack used to support nesting.
type Manager struct {
	executor Executor
	cache    cache.Cache
	opts     Options

	mu      sync.Mutex
	active  map[string]*Transaction
	stack   []*Transaction
}

// NewManager builds a Manager. cache may be nil, in which case commit skips
// invalidation publishing entirely.
func NewManager(executor Executor, c cache.Cache, opts Options) *Manager {
	if opts.MaxActiveTransactions <= 0 {
		opts.MaxActiveTransactions = 100
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 300 * time.Second
	}
	return &Manager{
		executor: executor,
		cache:    c,
		opts:     opts,
		active:   make(map[string]*Transaction),
	}
}

// Current returns the innermost active transaction on this manager's stack,
// or nil if none is active.
func (m *Manager) Current() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.stack) == 0 {
		return nil
	}
	return m.stack[len(m.stack)-1]
}

// Begin starts a new Transaction, nested under the current one if any, and
// pushes it as current.
func (m *Manager) Begin(ctx context.Context, id string, autoCommit bool) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) >= m.opts.MaxActiveTransactions {
		return nil, ErrTooManyActiveTransactions
	}

	if id == "" {
		id = uuid.NewString()
	}

	var parent *Transaction
	if len(m.stack) > 0 {
		parent = m.stack[len(m.stack)-1]
	}

	tx := &Transaction{
		id:         id,
		manager:    m,
		parent:     parent,
		autoCommit: autoCommit,
		status:     StatusActive,
		context:    make(map[string]interface{}),
		cacheKeys:     make(map[string]struct{}),
		cachePatterns: make(map[string]struct{}),
		cacheModels:   make(map[string]struct{}),
	}

	if parent != nil {
		parent.children = append(parent.children, tx)
	}

	m.active[id] = tx
	m.stack = append(m.stack, tx)

	return tx, nil
}

// pop removes tx from the current-transaction stack once it finishes
// (commit or rollback), restoring the previously-current transaction.
func (m *Manager) pop(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, tx.id)

	for i := len(m.stack) - 1; i >= 0; i-- {
		if m.stack[i] == tx {
			m.stack = append(m.stack[:i], m.stack[i+1:]...)
			break
		}
	}
}

// WithTransaction runs fn inside a new Transaction scope: on a clean return
// it commits (if autoCommit); on panic or error it always rolls back and
// the error/panic is re-raised, mirroring Python's context-manager scope
// contract translated to Go.
func (m *Manager) WithTransaction(ctx context.Context, autoCommit bool, fn func(tx *Transaction) error) (err error) {
	tx, beginErr := m.Begin(ctx, "", autoCommit)
	if beginErr != nil {
		return beginErr
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if runErr := fn(tx); runErr != nil {
		_ = tx.Rollback(ctx)
		return runErr
	}

	if autoCommit {
		return tx.Commit(ctx)
	}
	return nil
}

// Transaction records mutating operations inside a scope and, on commit or
// rollback, either publishes or undoes their effects.
type Transaction struct {
	id         string
	manager    *Manager
	parent     *Transaction
	children   []*Transaction
	autoCommit bool

	mu         sync.Mutex
	status     Status
	operations []*OperationRecord
	savepoints map[string]*Savepoint
	savepointOrder []string
	context    map[string]interface{}

	cacheKeys     map[string]struct{}
	cachePatterns map[string]struct{}
	cacheModels   map[string]struct{}
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() string { return t.id }

// Status returns the current lifecycle state.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// AddOperation records a mutating call and registers its cache-invalidation
// hints. The client's CRUD methods and the batch package do not call it;
// only mutations passed to AddOperation are undone on rollback.
func (t *Transaction) AddOperation(opType OperationType, model string, recordIDs, createdIDs []int, originalData map[string]interface{}, rollbackData interface{}, idempotencyKey string, callCtx map[string]interface{}) *OperationRecord {
	rec := NewOperationRecord(opType, model, recordIDs, createdIDs, originalData, rollbackData, idempotencyKey, callCtx)

	t.mu.Lock()
	t.operations = append(t.operations, rec)
	t.cacheModels[model] = struct{}{}
	for _, pattern := range modelPatterns(model) {
		t.cachePatterns[pattern] = struct{}{}
	}
	for _, key := range rec.cacheKeys() {
		t.cacheKeys[key] = struct{}{}
	}
	t.mu.Unlock()

	return rec
}

// CreateSavepoint records the current operation_index and a snapshot of the
// transaction's context, linked to the most recently created active
// savepoint as parent.
func (t *Transaction) CreateSavepoint(name string, callCtx map[string]interface{}) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusActive {
		return "", fmt.Errorf("transaction: cannot create savepoint on a %s transaction", t.status)
	}

	if t.savepoints == nil {
		t.savepoints = make(map[string]*Savepoint)
	}

	var parentID string
	for i := len(t.savepointOrder) - 1; i >= 0; i-- {
		if sp, ok := t.savepoints[t.savepointOrder[i]]; ok && !sp.Released {
			parentID = sp.ID
			break
		}
	}

	snapshot := mergeContext(t.context, callCtx)
	sp := newSavepoint(name, len(t.operations), snapshot, parentID)

	t.savepoints[sp.ID] = sp
	t.savepointOrder = append(t.savepointOrder, sp.ID)

	return sp.ID, nil
}

// RollbackToSavepoint executes compensating operations for every record
// after the savepoint's operation_index (LIFO order), truncates the
// operation log, releases every savepoint created after the target, and
// restores the context snapshot.
func (t *Transaction) RollbackToSavepoint(ctx context.Context, id string) error {
	t.mu.Lock()
	sp, ok := t.savepoints[id]
	if !ok || sp.Released {
		t.mu.Unlock()
		return ErrUnknownSavepoint
	}

	toUndo := append([]*OperationRecord(nil), t.operations[sp.OperationIndex:]...)
	t.operations = t.operations[:sp.OperationIndex]
	t.context = sp.ContextSnapshot

	// Release every savepoint created after the target, matching log
	// truncation.
	after := false
	for _, otherID := range t.savepointOrder {
		if otherID == sp.ID {
			after = true
			continue
		}
		if after {
			t.savepoints[otherID].Released = true
		}
	}
	sp.RollbackCount++
	t.mu.Unlock()

	result := t.manager.executeRollbackOperations(ctx, toUndo)
	if len(result.Failures) > 0 {
		return &RollbackError{TransactionID: t.id, Failures: result.Failures, PartialRollback: result.AnySucceeded}
	}
	return nil
}

// ReleaseSavepoint marks a savepoint released. Releasing an unknown or
// already-released savepoint is an error (released-via-rollback-truncation
// shares the same "unknown savepoint" error as one that never existed).
func (t *Transaction) ReleaseSavepoint(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sp, ok := t.savepoints[id]
	if !ok || sp.Released {
		return ErrUnknownSavepoint
	}
	sp.Released = true
	return nil
}

// Commit publishes this transaction's effects. A nested transaction simply
// marks itself committed and returns — the root transaction controls the
// actual commit (cache invalidation), matching the commit-as-we-go design:
// every CRUD call was already sent to the server when issued, so Commit's
// only transaction-specific effect is the invalidation publish step.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return nil
	}

	if t.parent != nil {
		t.status = StatusCommitted
		t.mu.Unlock()
		t.manager.pop(t)
		return nil
	}
	t.mu.Unlock()

	for _, child := range t.children {
		if child.Status() == StatusActive {
			if err := child.Commit(ctx); err != nil {
				t.mu.Lock()
				t.status = StatusFailed
				t.mu.Unlock()
				return &CommitError{TransactionID: t.id, Cause: err}
			}
		}
	}

	t.publishCacheInvalidation(ctx)

	t.mu.Lock()
	t.status = StatusCommitted
	t.mu.Unlock()

	t.manager.pop(t)
	return nil
}

// publishCacheInvalidation deletes every recorded key/pattern/model. A
// cache error is ignored (this package has no logger handle) and never
// fails an otherwise-successful commit.
func (t *Transaction) publishCacheInvalidation(ctx context.Context) {
	if t.manager.cache == nil {
		return
	}

	for key := range t.cacheKeys {
		_ = t.manager.cache.Delete(ctx, key)
	}
	for pattern := range t.cachePatterns {
		_, _ = t.manager.cache.InvalidatePattern(ctx, pattern)
	}
	for model := range t.cacheModels {
		_, _ = t.manager.cache.InvalidateModel(ctx, model)
	}
}

// Rollback undoes this transaction's effects via compensating operations,
// executed in reverse order. Children are rolled back first. A transaction
// already committed or rolled back is a no-op.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	if t.status == StatusCommitted || t.status == StatusRolledBack {
		t.mu.Unlock()
		return nil
	}
	ops := append([]*OperationRecord(nil), t.operations...)
	t.mu.Unlock()

	for _, child := range t.children {
		_ = child.Rollback(ctx)
	}

	result := t.manager.executeRollbackOperations(ctx, ops)

	t.mu.Lock()
	if len(result.Failures) > 0 {
		t.status = StatusFailed
	} else {
		t.status = StatusRolledBack
	}
	t.mu.Unlock()

	t.manager.pop(t)

	if len(result.Failures) > 0 {
		return &RollbackError{TransactionID: t.id, Failures: result.Failures, PartialRollback: result.AnySucceeded}
	}
	return nil
}

type rollbackResult struct {
	Failures     []RollbackFailure
	AnySucceeded bool
}

// executeRollbackOperations iterates ops in reverse and runs the
// compensating operation for each, continuing past individual failures so
// partial-rollback semantics hold.
func (m *Manager) executeRollbackOperations(ctx context.Context, ops []*OperationRecord) rollbackResult {
	var result rollbackResult

	for i := len(ops) - 1; i >= 0; i-- {
		rec := ops[i]

		if !rec.CanRollback() {
			rec.Status = StatusSkipped
			rec.Error = "insufficient data to compute a compensating operation"
			continue
		}

		if err := m.compensate(ctx, rec); err != nil {
			rec.Status = StatusFailed
			rec.Error = err.Error()
			result.Failures = append(result.Failures, RollbackFailure{OperationID: rec.ID, Model: rec.Model, Error: err.Error()})
			continue
		}

		rec.Status = StatusSuccess
		result.AnySucceeded = true
	}

	return result
}

// compensate executes the single compensating operation for rec.
func (m *Manager) compensate(ctx context.Context, rec *OperationRecord) error {
	switch rec.Type {
	case OpCreate:
		ids := rec.effectiveCreatedIDs()
		err := m.executor.Unlink(ctx, rec.Model, ids, rec.Context)
		if err != nil && m.executor.IsNotFoundError(err) {
			return nil
		}
		return err

	case OpUpdate:
		return m.executor.Write(ctx, rec.Model, rec.RecordIDs, rec.OriginalData, rec.Context)

	case OpDelete:
		switch data := rec.RollbackData.(type) {
		case map[string]interface{}:
			_, err := m.executor.Create(ctx, rec.Model, data, rec.Context)
			return err
		case []map[string]interface{}:
			for _, values := range data {
				if _, err := m.executor.Create(ctx, rec.Model, values, rec.Context); err != nil {
					return err
				}
			}
			return nil
		default:
			return fmt.Errorf("transaction: unsupported rollback_data type %T for delete compensation", rec.RollbackData)
		}

	default:
		return fmt.Errorf("transaction: unknown operation type %q", rec.Type)
	}
}

func mergeContext(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
