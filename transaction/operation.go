// Package transaction implements scoped recording of mutating calls with
// nested commit/rollback semantics, savepoints, and cache-invalidation
// publishing on commit.
package transaction

import (
	"time"

	"github.com/google/uuid"
)

// OperationType classifies a recorded mutation.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// OperationStatus tracks a recorded operation through rollback execution.
type OperationStatus string

const (
	StatusPending OperationStatus = "pending"
	StatusSuccess OperationStatus = "success"
	StatusFailed  OperationStatus = "failed"
	StatusSkipped OperationStatus = "skipped"
)

// OperationRecord captures enough information about a mutating call to
// compute a compensating operation during rollback, without replaying the
// original request.
type OperationRecord struct {
	ID             string
	Type           OperationType
	Model          string
	RecordIDs      []int
	OriginalData   map[string]interface{} // pre-image, required to undo update
	CreatedIDs     []int                   // ids returned by create, required to undo create
	RollbackData   interface{}             // map[string]interface{} or []map[string]interface{}, required to undo delete
	IdempotencyKey string
	Context        map[string]interface{}
	Status         OperationStatus
	Error          string
	RecordedAt     time.Time
}

// NewOperationRecord builds a record with a fresh id and pending status.
func NewOperationRecord(opType OperationType, model string, recordIDs, createdIDs []int, originalData map[string]interface{}, rollbackData interface{}, idempotencyKey string, ctx map[string]interface{}) *OperationRecord {
	return &OperationRecord{
		ID:             uuid.NewString(),
		Type:           opType,
		Model:          model,
		RecordIDs:      recordIDs,
		CreatedIDs:     createdIDs,
		OriginalData:   originalData,
		RollbackData:   rollbackData,
		IdempotencyKey: idempotencyKey,
		Context:        ctx,
		Status:         StatusPending,
		RecordedAt:     time.Now(),
	}
}

// CanRollback reports whether enough information was captured to compute a
// compensating operation for this record.
func (r *OperationRecord) CanRollback() bool {
	switch r.Type {
	case OpCreate:
		return len(r.effectiveCreatedIDs()) > 0
	case OpUpdate:
		return r.OriginalData != nil && len(r.RecordIDs) > 0
	case OpDelete:
		return r.RollbackData != nil
	default:
		return false
	}
}

func (r *OperationRecord) effectiveCreatedIDs() []int {
	if len(r.CreatedIDs) > 0 {
		return r.CreatedIDs
	}
	return r.RecordIDs
}

// cacheKeys returns the per-record invalidation keys this operation touches.
func (r *OperationRecord) cacheKeys() []string {
	var keys []string
	for _, id := range r.RecordIDs {
		keys = append(keys, recordKeys(r.Model, id)...)
	}
	for _, id := range r.CreatedIDs {
		keys = append(keys, recordKeys(r.Model, id)...)
	}
	return keys
}

func recordKeys(model string, id int) []string {
	return []string{
		model + ":" + itoa(id),
		"record:" + model + ":" + itoa(id),
	}
}

func modelPatterns(model string) []string {
	return []string{
		model + ":*",
		"query:" + model + ":*",
		"search:" + model + ":*",
		"list:" + model + ":*",
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
