package transaction

import "github.com/google/uuid"

// Savepoint marks a point in a transaction's operation log that a later
// call can roll back to without undoing the whole transaction.
type Savepoint struct {
	ID             string
	Name           string
	OperationIndex int // length of the operation log when the savepoint was created
	ContextSnapshot map[string]interface{}
	ParentID       string
	Released       bool
	RollbackCount  int
}

func newSavepoint(name string, operationIndex int, contextSnapshot map[string]interface{}, parentID string) *Savepoint {
	if name == "" {
		name = "sp_" + uuid.NewString()[:8]
	}
	return &Savepoint{
		ID:              uuid.NewString(),
		Name:            name,
		OperationIndex:  operationIndex,
		ContextSnapshot: contextSnapshot,
		ParentID:        parentID,
	}
}
