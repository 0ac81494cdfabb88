package client

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/zenoo-go/zenoo/protocol"
)

// debugFormatter is implemented by every error type below so FormatError
// can dispatch without a type switch.
type debugFormatter interface {
	FormatError(bool) string
}

// ConnectionError represents transport-level failures: unreachable server,
// DNS failure, pool exhaustion, circuit-open rejection.
type ConnectionError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	Cause      error                  `json:"cause,omitempty"`
	Retryable  bool                   `json:"retryable"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

func (e *ConnectionError) Error() string { return e.FormatError(false) }

func (e *ConnectionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{
		"code": e.Code, "type": e.Type, "message": e.Message, "details": e.Details,
		"retryable": e.Retryable, "cause": causeString(e.Cause), "stack_trace": e.StackTrace,
	})
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// TimeoutError represents per-request, per-operation, or per-retry-budget
// expirations.
type TimeoutError struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Budget   time.Duration `json:"budget"`
	Elapsed  time.Duration `json:"elapsed"`
	Attempts int           `json:"attempts,omitempty"`
}

func (e *TimeoutError) Error() string { return e.FormatError(false) }

func (e *TimeoutError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{
		"code": e.Code, "message": e.Message, "budget": e.Budget.String(),
		"elapsed": e.Elapsed.String(), "attempts": e.Attempts,
	})
}

// AuthenticationError represents login failure, refused API key, or a
// gated call attempted without an authenticated session.
type AuthenticationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (e *AuthenticationError) Error() string { return e.FormatError(false) }

func (e *AuthenticationError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{"code": e.Code, "message": e.Message, "hint": e.Hint})
}

// AccessError represents a server-side record- or model-level permission
// denial.
type AccessError struct {
	Code    string `json:"code"`
	Model   string `json:"model,omitempty"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (e *AccessError) Error() string { return e.FormatError(false) }

func (e *AccessError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{
		"code": e.Code, "model": e.Model, "message": e.Message, "hint": e.Hint,
	})
}

// ValidationError represents a missing required field (client pre-check),
// a server-reported validation/constraint error, or an integrity violation.
type ValidationError struct {
	Code          string                 `json:"code"`
	Model         string                 `json:"model,omitempty"`
	Message       string                 `json:"message"`
	MissingFields []string               `json:"missing_fields,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Hint          string                 `json:"hint,omitempty"`
}

func (e *ValidationError) Error() string { return e.FormatError(false) }

func (e *ValidationError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{
		"code": e.Code, "model": e.Model, "message": e.Message,
		"missing_fields": e.MissingFields, "details": e.Details, "hint": e.Hint,
	})
}

// MissingError represents the server reporting a record not found.
type MissingError struct {
	Code    string `json:"code"`
	Model   string `json:"model,omitempty"`
	Message string `json:"message"`
}

func (e *MissingError) Error() string { return e.FormatError(false) }

func (e *MissingError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{"code": e.Code, "model": e.Model, "message": e.Message})
}

// MethodNotFoundError represents a JSON-RPC -32601 response: the server
// does not expose the requested service/method pair.
type MethodNotFoundError struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Message string `json:"message"`
}

func (e *MethodNotFoundError) Error() string { return e.FormatError(false) }

func (e *MethodNotFoundError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("METHOD_NOT_FOUND: %s.%s: %s", e.Service, e.Method, e.Message)
	}
	return jsonDebug(map[string]interface{}{
		"service": e.Service, "method": e.Method, "message": e.Message,
	})
}

// InternalError represents server-side programming or infrastructure
// failures (JSON-RPC -32603 or an unrecognized server exception).
type InternalError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Debug   string `json:"debug,omitempty"`
}

func (e *InternalError) Error() string { return e.FormatError(false) }

func (e *InternalError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{"code": e.Code, "message": e.Message, "debug": e.Debug})
}

// StateError represents an operation attempted against a subsystem or
// transaction that is not in the required state.
type StateError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	StackTrace []string               `json:"stack_trace,omitempty"`
}

func (e *StateError) Error() string { return e.FormatError(false) }

func (e *StateError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{
		"code": e.Code, "type": e.Type, "message": e.Message, "details": e.Details,
		"stack_trace": e.StackTrace,
	})
}

// ErrInvalidState creates a StateError for operations attempted in the
// wrong connection state.
func ErrInvalidState(operation string, required, actual ConnectionState) error {
	return &StateError{
		Code:    "INVALID_STATE",
		Type:    "STATE_ERROR",
		Message: fmt.Sprintf("%s requires %s state, currently %s", operation, required, actual),
		Details: map[string]interface{}{
			"operation":     operation,
			"requiredState": required.String(),
			"currentState":  actual.String(),
		},
		StackTrace: captureStackTrace(),
	}
}

// QueryError represents a failed RPC call against a model method, enriched
// with the operation name/model/payload summary before propagation.
type QueryError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Model      string                 `json:"model,omitempty"`
	Method     string                 `json:"method,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

func (e *QueryError) Error() string { return e.FormatError(false) }

func (e *QueryError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{
		"code": e.Code, "type": e.Type, "model": e.Model, "method": e.Method,
		"message": e.Message, "details": e.Details, "cause": causeString(e.Cause),
		"stack_trace": e.StackTrace,
	})
}

func (e *QueryError) Unwrap() error { return e.Cause }

// TransactionError represents transaction state, commit, or rollback
// failures.
type TransactionError struct {
	Code            string                 `json:"code"`
	Type            string                 `json:"type"`
	Message         string                 `json:"message"`
	Details         map[string]interface{} `json:"details"`
	TransactionID   string                 `json:"transaction_id,omitempty"`
	State           string                 `json:"state,omitempty"`
	PartialRollback bool                   `json:"partial_rollback,omitempty"`
	Cause           error                  `json:"cause,omitempty"`
	StackTrace      []string               `json:"stack_trace,omitempty"`
	Timestamp       time.Time              `json:"timestamp,omitempty"`
}

func (e *TransactionError) Error() string { return e.FormatError(false) }

func (e *TransactionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (TX: %s, caused by: %s)", e.Code, e.Message, e.TransactionID, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s (TX: %s)", e.Code, e.Message, e.TransactionID)
	}
	return jsonDebug(map[string]interface{}{
		"code": e.Code, "type": e.Type, "message": e.Message, "transaction_id": e.TransactionID,
		"state": e.State, "partial_rollback": e.PartialRollback, "details": e.Details,
		"cause": causeString(e.Cause), "stack_trace": e.StackTrace,
	})
}

func (e *TransactionError) Unwrap() error { return e.Cause }

// ErrNoActiveTransaction creates an error when trying to commit/rollback
// without an active transaction.
func ErrNoActiveTransaction(operation string) *TransactionError {
	return &TransactionError{
		Code:    "E_NO_ACTIVE_TX",
		Type:    "TRANSACTION_ERROR",
		Message: fmt.Sprintf("no active transaction to %s", operation),
		Details: map[string]interface{}{"operation": operation},
	}
}

// BatchError represents batch validation, execution, size, or timeout
// failures.
type BatchError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Failures   []BatchFailure         `json:"failures,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
}

// BatchFailure records one failed operation inside a partially-failed
// batch.
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func (e *BatchError) Error() string { return e.FormatError(false) }

func (e *BatchError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return jsonDebug(map[string]interface{}{
		"code": e.Code, "message": e.Message, "details": e.Details, "failures": e.Failures,
	})
}

// RetryError represents a retry loop giving up: max attempts exceeded or
// the wall-clock budget breached.
type RetryError struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
	Cause    error         `json:"cause,omitempty"`
}

func (e *RetryError) Error() string { return e.FormatError(false) }

func (e *RetryError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s (attempts=%d)", e.Code, e.Message, e.Attempts)
	}
	return jsonDebug(map[string]interface{}{
		"code": e.Code, "message": e.Message, "attempts": e.Attempts,
		"elapsed": e.Elapsed.String(), "cause": causeString(e.Cause),
	})
}

func (e *RetryError) Unwrap() error { return e.Cause }

// fromServerError converts a protocol.ServerError (produced by mapping a
// JSON-RPC error envelope) into the matching typed client error.
func fromServerError(model, method string, se *protocol.ServerError) error {
	if se == nil {
		return nil
	}

	switch se.Kind {
	case protocol.KindAccess:
		return &AccessError{Code: "E_ACCESS_DENIED", Model: model, Message: se.Message, Hint: se.Hint}
	case protocol.KindAuthentication:
		return &AuthenticationError{Code: "E_AUTH_FAILED", Message: se.Message, Hint: se.Hint}
	case protocol.KindMissing:
		return &MissingError{Code: "E_RECORD_NOT_FOUND", Model: model, Message: se.Message}
	case protocol.KindMethodNotFound:
		return &MethodNotFoundError{Service: "object", Method: method, Message: se.Message}
	case protocol.KindInternal:
		return &InternalError{Code: "E_SERVER_INTERNAL", Message: se.Message, Debug: se.Debug}
	case protocol.KindValidation:
		return &ValidationError{Code: "E_VALIDATION", Model: model, Message: se.Message, Hint: se.Hint}
	default:
		return &QueryError{
			Code:    "E_SERVER_ERROR",
			Type:    "QUERY_ERROR",
			Model:   model,
			Method:  method,
			Message: se.Message,
			Details: map[string]interface{}{"name": se.Name},
		}
	}
}

// Helper functions

func causeString(err error) interface{} {
	if err == nil {
		return nil
	}
	return err.Error()
}

func jsonDebug(data map[string]interface{}) string {
	b, _ := json.MarshalIndent(data, "", "  ")
	return string(b)
}

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs)

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()
		frames = append(frames, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}

	return frames
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}
	if formatter, ok := err.(debugFormatter); ok {
		return formatter.FormatError(debugMode)
	}
	return err.Error()
}
