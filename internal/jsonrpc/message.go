// ABOUTME: JSON-RPC 2.0 envelope types shared by transports, dispatch, and handlers.
// ABOUTME: Requests keep id/params as raw JSON so values round-trip byte-for-byte.

package jsonrpc

import "encoding/json"

// Version is the protocol version carried by every message.
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request or notification.
// ID and Params are kept raw so the original bytes are preserved
// until a handler decodes them.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no usable id and
// therefore must not receive a response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result
// and Error is set. The id is echoed from the request verbatim; a nil
// id marshals as JSON null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification represents a server-initiated JSON-RPC notification.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewResult builds a success response echoing the request id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse builds an error response echoing the request id.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   err,
	}
}

// NewNotification builds a server-initiated notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
}
