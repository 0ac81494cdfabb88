package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorKind classifies a server-reported error so callers can branch on it
// without string-matching messages themselves.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindMethodNotFound ErrorKind = "method_not_found"
	KindInternal       ErrorKind = "internal"
	KindAccess         ErrorKind = "access"
	KindAuthentication ErrorKind = "authentication"
	KindMissing        ErrorKind = "missing"
	KindUnknown        ErrorKind = "unknown"
)

// JSON-RPC 2.0 reserved error codes (see spec §7).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ServerError is a JSON-RPC error translated into a typed, application-level
// error. It carries both the original wire fields and a remediation Hint
// produced by the mapping cascade below.
type ServerError struct {
	Kind    ErrorKind
	Code    int
	Name    string // server-side exception class name, e.g. "odoo.exceptions.AccessError"
	Message string
	Debug   string // server traceback / debug payload, when present
	Hint    string
}

func (e *ServerError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s\n%s", e.Kind, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// errorPayload mirrors the "data" member the server attaches to a JSON-RPC
// error, carrying the exception class name and an optional traceback.
type errorPayload struct {
	Name      string `json:"name"`
	Debug     string `json:"debug"`
	Message   string `json:"message"`
	Arguments []any  `json:"arguments"`
}

// MapRPCError implements the code -> name-suffix -> keyword mapping cascade:
// first the error is classified by its JSON-RPC reserved code, then (for
// application-level codes) by the server exception class name, and finally
// by keyword matching against the message text. Each branch attaches a
// human-actionable hint so callers surfacing the error to a human get
// remediation guidance, not just a code.
func MapRPCError(rpcErr *RPCError) *ServerError {
	if rpcErr == nil {
		return nil
	}

	var payload errorPayload
	if len(rpcErr.Data) > 0 {
		_ = json.Unmarshal(rpcErr.Data, &payload)
	}

	se := &ServerError{
		Code:    rpcErr.Code,
		Name:    payload.Name,
		Message: firstNonEmpty(payload.Message, rpcErr.Message),
		Debug:   payload.Debug,
	}

	switch rpcErr.Code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		se.Kind = KindValidation
		se.Hint = enhanceValidationMessage(se.Message)
		return se
	case CodeMethodNotFound:
		se.Kind = KindMethodNotFound
		se.Hint = "check the service/method pair passed to the call envelope"
		return se
	case CodeInternalError:
		se.Kind = KindInternal
	}

	if classifyByName(se) {
		return se
	}

	classifyByKeyword(se)
	return se
}

// classifyByName matches the server exception class name suffix, mirroring
// the name-suffix cascade the reference client applies before falling back
// to keyword matching.
func classifyByName(se *ServerError) bool {
	name := se.Name
	switch {
	case strings.HasSuffix(name, "AccessError"), strings.HasSuffix(name, "AccessDenied"):
		se.Kind = KindAccess
		se.Hint = enhanceAccessMessage(se.Message)
		return true
	case strings.HasSuffix(name, "AuthenticationError"):
		se.Kind = KindAuthentication
		se.Hint = enhanceAuthMessage(se.Message)
		return true
	case strings.HasSuffix(name, "MissingError"):
		se.Kind = KindMissing
		se.Message = "record not found: " + se.Message
		se.Hint = enhanceMissingMessage(se.Message)
		return true
	case strings.HasSuffix(name, "ValidationError"), strings.HasSuffix(name, "UserError"),
		strings.HasSuffix(name, "IntegrityError"), strings.HasSuffix(name, "Warning"):
		se.Kind = KindValidation
		se.Hint = enhanceValidationMessage(se.Message)
		return true
	}
	return false
}

// classifyByKeyword is the last-resort cascade step: when the server didn't
// send a recognizable exception class name, guess the kind from message
// text. Defaults to KindUnknown if nothing matches.
func classifyByKeyword(se *ServerError) {
	msg := strings.ToLower(se.Message)

	switch {
	case containsAny(msg, "permission", "access denied", "forbidden"):
		se.Kind = KindAccess
		se.Hint = enhanceAccessMessage(se.Message)
	case containsAny(msg, "required", "constraint", "invalid"):
		se.Kind = KindValidation
		se.Hint = enhanceValidationMessage(se.Message)
	case containsAny(msg, "foreign key", "referenced", "violates"):
		se.Kind = KindValidation
		se.Hint = enhanceValidationMessage(se.Message)
	default:
		if se.Kind == "" {
			se.Kind = KindUnknown
		}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func enhanceAccessMessage(msg string) string {
	return fmt.Sprintf("%s\nhint: verify the authenticated user holds the required access rights/record rule for this model", msg)
}

func enhanceValidationMessage(msg string) string {
	return fmt.Sprintf("%s\nhint: check field values and required constraints against the model definition", msg)
}

func enhanceAuthMessage(msg string) string {
	return fmt.Sprintf("%s\nhint: verify database name, username and password/API key used to authenticate", msg)
}

func enhanceMissingMessage(msg string) string {
	return fmt.Sprintf("%s\nhint: the referenced record id may have been deleted or is not visible to this user", msg)
}
