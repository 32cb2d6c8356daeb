// Package jsonrpc implements the JSON-RPC 2.0 message layer.
//
// The package is deliberately small: envelope types, error codes, and
// a decoder. It performs structural validation only. Whether a method
// exists, whether parameters satisfy a schema, and whether the session
// is in a state to accept the call are all judged by layers above.
//
// # Message Kinds
//
// Three shapes cross the wire:
//
//   - Request: has an id, expects exactly one Response
//   - Notification: no id (absent or null), expects nothing back
//   - Response: echoes the request id, carries result or error
//
// A request whose id is the JSON literal null is treated as a
// notification. This mirrors the decode check used on inbound
// messages: len(id) == 0 || string(id) == "null".
//
// # Error Discipline
//
// Error values returned by handlers are coerced through AsError before
// marshaling. Typed *Error values pass through with their code and
// data intact; any other Go error collapses to a bare internal error
// so implementation detail never reaches a client.
package jsonrpc
