// Package client implements an MCP client for carrel servers.
//
// # Overview
//
// A Client runs over any transport.Transport; Dial provides the common
// case of connecting to a server's /mcp WebSocket endpoint, optionally
// with a bearer token. Requests get sequential ids and a read loop
// correlates responses back to their callers, so calls may be issued
// concurrently and the server may answer them in any order.
//
// Server-initiated notifications (progress, resource updates, log
// messages) are delivered on the Notifications channel. The channel has
// a small buffer; a consumer that falls behind loses notifications
// rather than stalling the read loop.
//
// Typed helpers cover the session lifecycle: Initialize performs the
// two-step handshake, ListTools and ListResources follow pagination
// cursors to exhaustion, and CallTool, ReadResource, and Subscribe wrap
// their respective methods.
package client
