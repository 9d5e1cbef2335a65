package mcp

import "fmt"

// JSON-RPC 2.0 standard error codes.
// https://www.jsonrpc.org/specification#error_object
const (
	// CodeParseError indicates invalid JSON was received.
	CodeParseError int64 = -32700

	// CodeInvalidRequest indicates the JSON is not a valid Request object.
	CodeInvalidRequest int64 = -32600

	// CodeMethodNotFound indicates the method does not exist or is not available.
	CodeMethodNotFound int64 = -32601

	// CodeInvalidParams indicates invalid method parameters.
	CodeInvalidParams int64 = -32602

	// CodeInternalError indicates an internal JSON-RPC error.
	CodeInternalError int64 = -32603
)

// Gateway-defined codes in the implementation-defined server error range.
const (
	// CodeUnauthorized is returned when no credential strategy accepted the caller.
	CodeUnauthorized int64 = -32000

	// CodeDependencyUnavailable signals a retryable store or network failure.
	CodeDependencyUnavailable int64 = -32001
)

// Error is a protocol-level failure carrying a JSON-RPC error code.
// Message is client-facing and MUST NOT contain internal details.
type Error struct {
	Code    int64
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates a new Error with the given code and message.
func NewError(code int64, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}
