// Package batch implements efficient bulk CRUD with bounded concurrency
// and per-chunk fault isolation: operation splitting, a semaphore-gated
// executor, and a fluent BatchManager/Batch builder.
package batch

import (
	"fmt"

	"github.com/google/uuid"
)

// OperationType classifies a batch operation.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Status tracks an Operation through execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ValidationError is raised by Validate for malformed operation data.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Operation is the common surface every batch operation kind implements.
type Operation interface {
	Validate() error
	Model() string
	Type() OperationType
	ID() string
	Priority() int
	BatchSize() int
	Split(chunkSize int) []Operation

	setStatus(Status)
	getStatus() Status
	context() map[string]interface{}
}

type base struct {
	id       string
	model    string
	priority int
	ctx      map[string]interface{}
	status   Status
}

func newBase(model string, priority int, ctx map[string]interface{}) base {
	return base{id: uuid.NewString(), model: model, priority: priority, ctx: ctx, status: StatusPending}
}

func (b *base) ID() string                      { return b.id }
func (b *base) Model() string                   { return b.model }
func (b *base) Priority() int                   { return b.priority }
func (b *base) context() map[string]interface{} { return b.ctx }
func (b *base) setStatus(s Status)              { b.status = s }
func (b *base) getStatus() Status               { return b.status }

// CreateOperation creates records in a single batch operation.
type CreateOperation struct {
	base
	Data       []map[string]interface{}
	ReturnIDs  bool
}

// NewCreateOperation builds and validates a create operation.
func NewCreateOperation(model string, data []map[string]interface{}, ctx map[string]interface{}, priority int) (*CreateOperation, error) {
	op := &CreateOperation{base: newBase(model, priority, ctx), Data: data, ReturnIDs: true}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *CreateOperation) Type() OperationType { return OpCreate }

func (o *CreateOperation) Validate() error {
	if o.model == "" {
		return &ValidationError{"model is required for create operation"}
	}
	if len(o.Data) == 0 {
		return &ValidationError{"create operation data cannot be empty"}
	}
	for i, rec := range o.Data {
		if len(rec) == 0 {
			return &ValidationError{fmt.Sprintf("record %d cannot be empty", i)}
		}
	}
	return nil
}

func (o *CreateOperation) BatchSize() int { return len(o.Data) }

func (o *CreateOperation) Split(chunkSize int) []Operation {
	if chunkSize >= len(o.Data) {
		return []Operation{o}
	}
	var chunks []Operation
	for i := 0; i < len(o.Data); i += chunkSize {
		end := i + chunkSize
		if end > len(o.Data) {
			end = len(o.Data)
		}
		chunks = append(chunks, &CreateOperation{
			base:      newBase(o.model, o.priority, o.ctx),
			Data:      o.Data[i:end],
			ReturnIDs: o.ReturnIDs,
		})
	}
	return chunks
}

// UpdateOperation updates multiple records, either with the same values
// (bulk form, Data+RecordIDs) or with per-record values (Records form,
// each map requires an "id" key plus at least one field to update).
type UpdateOperation struct {
	base
	Data      map[string]interface{}
	RecordIDs []int
	Records   []map[string]interface{}
}

// NewBulkUpdateOperation builds a same-values-for-many-ids update.
func NewBulkUpdateOperation(model string, recordIDs []int, data map[string]interface{}, ctx map[string]interface{}, priority int) (*UpdateOperation, error) {
	op := &UpdateOperation{base: newBase(model, priority, ctx), Data: data, RecordIDs: recordIDs}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// NewPerRecordUpdateOperation builds a per-record-values update.
func NewPerRecordUpdateOperation(model string, records []map[string]interface{}, ctx map[string]interface{}, priority int) (*UpdateOperation, error) {
	op := &UpdateOperation{base: newBase(model, priority, ctx), Records: records}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *UpdateOperation) Type() OperationType { return OpUpdate }

// IsBulkOperation reports whether this update applies the same values to
// every id in RecordIDs, as opposed to per-record values.
func (o *UpdateOperation) IsBulkOperation() bool {
	return o.Data != nil && o.RecordIDs != nil
}

func (o *UpdateOperation) Validate() error {
	if o.model == "" {
		return &ValidationError{"model is required for update operation"}
	}
	if o.Data != nil {
		if len(o.RecordIDs) == 0 {
			return &ValidationError{"record ids are required for bulk update"}
		}
		if len(o.Data) == 0 {
			return &ValidationError{"update data cannot be empty"}
		}
		return nil
	}
	if len(o.Records) == 0 {
		return &ValidationError{"update operation data cannot be empty"}
	}
	for i, rec := range o.Records {
		if _, ok := rec["id"]; !ok {
			return &ValidationError{fmt.Sprintf("record %d must contain an id field", i)}
		}
		if len(rec) < 2 {
			return &ValidationError{fmt.Sprintf("record %d must contain fields to update", i)}
		}
	}
	return nil
}

func (o *UpdateOperation) BatchSize() int {
	if o.Data != nil {
		return len(o.RecordIDs)
	}
	return len(o.Records)
}

func (o *UpdateOperation) Split(chunkSize int) []Operation {
	if o.Data != nil {
		if chunkSize >= len(o.RecordIDs) {
			return []Operation{o}
		}
		var chunks []Operation
		for i := 0; i < len(o.RecordIDs); i += chunkSize {
			end := i + chunkSize
			if end > len(o.RecordIDs) {
				end = len(o.RecordIDs)
			}
			chunks = append(chunks, &UpdateOperation{
				base:      newBase(o.model, o.priority, o.ctx),
				Data:      o.Data,
				RecordIDs: o.RecordIDs[i:end],
			})
		}
		return chunks
	}

	if chunkSize >= len(o.Records) {
		return []Operation{o}
	}
	var chunks []Operation
	for i := 0; i < len(o.Records); i += chunkSize {
		end := i + chunkSize
		if end > len(o.Records) {
			end = len(o.Records)
		}
		chunks = append(chunks, &UpdateOperation{
			base:    newBase(o.model, o.priority, o.ctx),
			Records: o.Records[i:end],
		})
	}
	return chunks
}

// DeleteOperation deletes multiple records by positive integer id.
type DeleteOperation struct {
	base
	RecordIDs []int
}

// NewDeleteOperation builds and validates a delete operation.
func NewDeleteOperation(model string, recordIDs []int, ctx map[string]interface{}, priority int) (*DeleteOperation, error) {
	op := &DeleteOperation{base: newBase(model, priority, ctx), RecordIDs: recordIDs}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *DeleteOperation) Type() OperationType { return OpDelete }

func (o *DeleteOperation) Validate() error {
	if o.model == "" {
		return &ValidationError{"model is required for delete operation"}
	}
	if len(o.RecordIDs) == 0 {
		return &ValidationError{"delete operation data cannot be empty"}
	}
	for i, id := range o.RecordIDs {
		if id <= 0 {
			return &ValidationError{fmt.Sprintf("record id at index %d must be a positive integer", i)}
		}
	}
	return nil
}

func (o *DeleteOperation) BatchSize() int { return len(o.RecordIDs) }

func (o *DeleteOperation) Split(chunkSize int) []Operation {
	if chunkSize >= len(o.RecordIDs) {
		return []Operation{o}
	}
	var chunks []Operation
	for i := 0; i < len(o.RecordIDs); i += chunkSize {
		end := i + chunkSize
		if end > len(o.RecordIDs) {
			end = len(o.RecordIDs)
		}
		chunks = append(chunks, &DeleteOperation{
			base:      newBase(o.model, o.priority, o.ctx),
			RecordIDs: o.RecordIDs[i:end],
		})
	}
	return chunks
}

// ValidateAll validates each operation, annotating failures with its index.
func ValidateAll(ops []Operation) error {
	if len(ops) == 0 {
		return &ValidationError{"operations list cannot be empty"}
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return &ValidationError{fmt.Sprintf("operation %d validation failed: %v", i, err)}
		}
	}
	return nil
}
