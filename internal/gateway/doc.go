// Package gateway composes and runs the carrel server.
//
// # Overview
//
// The gateway is the composition root. From a validated configuration
// it loads the catalog, builds the provider and tool sets, registers
// the full method surface on the handler registry, and starts the MCP
// engine over a transport registry. It then serves connections from:
//
//   - the /mcp WebSocket endpoint on the HTTP listener, guarded by the
//     configured auth mode (none, token, or ssh);
//   - stdin/stdout as a single stdio connection when enabled;
//   - an optional tsnet (Tailscale) listener replacing the plain TCP
//     one.
//
// GET /healthz reports liveness plus a small inventory snapshot and is
// never authenticated.
//
// # Reload and Watching
//
// With catalog.watch enabled, a changed catalog file is reloaded: the
// provider set is replaced wholesale, the tool set is swapped, and
// list-changed notifications are broadcast. Providers that support
// watching (the files provider) run a watcher goroutine whose change
// events become resources/updated notifications for subscribed
// sessions. A failed reload keeps the previous sets running.
//
// # Shutdown
//
// Run blocks until its context is canceled, then shuts down in order:
// HTTP listener, all transports (each emits its close event), provider
// watchers, the tsnet node, and finally the providers themselves.
package gateway
