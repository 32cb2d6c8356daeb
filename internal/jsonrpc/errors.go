// ABOUTME: JSON-RPC error codes and the wire-level Error type.
// ABOUTME: Maps internal failures onto protocol codes without leaking detail.

package jsonrpc

import "fmt"

// Protocol error codes. The -32000 range is reserved for
// server-defined errors.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeInitializationFailed = -32000
	CodeResourceNotFound     = -32001
	CodeToolExecutionError   = -32002
	CodeTransportError       = -32005
)

// Error is a JSON-RPC error object. It satisfies the error interface
// so handlers can return it directly through normal error paths.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewParseError reports malformed JSON that could not be decoded.
func NewParseError(detail string) *Error {
	return &Error{Code: CodeParseError, Message: "Parse error", Data: detail}
}

// NewInvalidRequest reports valid JSON that violates the request shape.
func NewInvalidRequest(detail string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid Request", Data: detail}
}

// NewMethodNotFound reports a method with no registered handler.
func NewMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
}

// NewInvalidParams reports parameters that failed validation. The data
// payload carries the individual violations so clients can show which
// fields were wrong.
func NewInvalidParams(detail string, violations []string) *Error {
	err := &Error{Code: CodeInvalidParams, Message: detail}
	if len(violations) > 0 {
		err.Data = map[string]any{"violations": violations}
	}
	return err
}

// NewInternalError reports an unexpected server-side failure. The
// message is fixed so internals never leak to clients.
func NewInternalError() *Error {
	return &Error{Code: CodeInternalError, Message: "Internal error"}
}

// NewInitializationFailed reports a handshake failure, carrying the
// supported protocol versions so the client can retry.
func NewInitializationFailed(requested string, supported []string) *Error {
	return &Error{
		Code:    CodeInitializationFailed,
		Message: fmt.Sprintf("Unsupported protocol version: %s", requested),
		Data:    map[string]any{"supported": supported},
	}
}

// NewResourceNotFound reports a resource read against a missing or
// unsupported target.
func NewResourceNotFound(msg string) *Error {
	return &Error{Code: CodeResourceNotFound, Message: msg}
}

// NewToolExecutionError reports a tool that failed outside its own
// control, such as a backing source going away mid-call.
func NewToolExecutionError(msg string) *Error {
	return &Error{Code: CodeToolExecutionError, Message: msg}
}

// NewTransportError reports a send or connection failure surfaced to a
// local caller. It never travels over the wire to the peer that broke.
func NewTransportError(msg string) *Error {
	return &Error{Code: CodeTransportError, Message: msg}
}

// AsError coerces any error into a protocol Error. Typed errors pass
// through unchanged; everything else collapses to an internal error so
// stack detail and file paths stay out of responses.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}
	return NewInternalError()
}
