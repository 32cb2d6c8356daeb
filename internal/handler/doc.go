// Package handler routes decoded requests to method handlers.
//
// The Registry is populated once at startup; registering the same
// method twice is refused so wiring mistakes surface immediately
// rather than silently shadowing a handler.
//
// Dispatch is total: whatever a handler does, the caller gets either a
// well-formed response or nil for a notification. Unknown methods
// become method-not-found responses, handler panics become internal
// errors, and non-protocol error values are stripped to a bare
// internal error before they reach the wire.
package handler
