// Package mcp is the Model Context Protocol engine.
//
// # Overview
//
// The engine sits between the transport registry and the handler
// registry. It consumes the merged transport event stream, decodes
// each inbound payload through the jsonrpc codec, dispatches requests
// by method name, and sends the resulting response back on the
// connection the request arrived on. Each request runs in its own
// goroutine, so responses can leave out of arrival order; clients
// correlate by request id.
//
// # Handshake
//
// A connection's session moves uninitialized → initializing →
// initialized. The initialize request negotiates the protocol version
// by exact match against a fixed allow-list and returns the server's
// static capability set; the initialized notification confirms the
// handshake. Requests are not gated on handshake completion: a client
// that calls tools/list early still gets an answer.
//
// # Method Surface
//
// initialize, initialized, ping, tools/list, tools/call,
// resources/list, resources/templates/list, resources/read,
// resources/subscribe, resources/unsubscribe, logging/setLevel.
// Outbound the engine emits notifications/resources/updated to
// subscribed sessions, list-changed broadcasts after catalog reloads,
// notifications/progress during tool calls that carry a progressToken,
// and notifications/message for sessions that opted into log
// forwarding.
//
// # Sessions
//
// Session state (negotiated version, client info, URI subscriptions,
// log level) lives in memory keyed by connection id and is dropped
// when the connection closes.
package mcp
