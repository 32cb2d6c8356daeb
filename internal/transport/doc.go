// Package transport moves raw JSON-RPC payloads between peers and the
// dispatch loop.
//
// # Overview
//
// Two implementations exist:
//
//   - StdioTransport: newline-delimited JSON over a reader/writer
//     pair, used when the server is spawned as a child process
//   - WebSocketTransport: one JSON message per text frame, used by the
//     gateway's HTTP endpoint and by the probe client
//
// Both follow the same contract. A transport owns its event channel
// and is its only writer: message and error events arrive in the order
// the peer produced them, the close event is delivered exactly once,
// and the channel is closed afterwards. Payloads are opaque bytes
// here; decoding and validation happen in the jsonrpc package.
//
// # Registry
//
// The Registry merges every live transport's events into a single
// stream for the dispatch loop, tagging each event with its connection
// id. One pump goroutine per transport preserves per-connection
// ordering. The registry also provides targeted lookup for replies,
// broadcast for list-changed notifications, and CloseAll for
// shutdown.
//
// # Fault Handling
//
// Malformed input does not kill a connection: the transport emits an
// error event carrying the offending bytes and keeps reading. Only a
// long run of consecutive garbage, a peer disconnect, or a local Close
// ends the stream.
package transport
