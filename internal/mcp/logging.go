// ABOUTME: The logging/setLevel handler and slog fan-out to sessions.
// ABOUTME: Server log records become notifications/message for opted-in clients.

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/carrelhq/carrel/internal/handler"
	"github.com/carrelhq/carrel/internal/jsonrpc"
)

// logLevels maps MCP logging levels onto slog levels. The syslog-style
// levels above error all collapse to slog's error.
var logLevels = map[string]slog.Level{
	"debug":     slog.LevelDebug,
	"info":      slog.LevelInfo,
	"notice":    slog.LevelInfo,
	"warning":   slog.LevelWarn,
	"error":     slog.LevelError,
	"critical":  slog.LevelError,
	"alert":     slog.LevelError,
	"emergency": slog.LevelError,
}

// mcpLevelFor converts a slog level back to the MCP level name.
func mcpLevelFor(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warning"
	default:
		return "error"
	}
}

type setLevelParams struct {
	Level string `json:"level"`
}

// handleLoggingSetLevel records the session's minimum forwarded level
// and switches forwarding on for that session.
func (s *Server) handleLoggingSetLevel(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var p setLevelParams
	if err := handler.UnmarshalParams(params, &p); err != nil {
		return nil, err
	}
	level, ok := logLevels[p.Level]
	if !ok {
		return nil, jsonrpc.NewInvalidParams("invalid parameters",
			[]string{"level: must be one of debug, info, notice, warning, error, critical, alert, emergency"})
	}

	sess := s.sessions.getOrCreate(connID)
	sess.SetLogLevel(level)
	s.logger.Debug("log forwarding enabled", "conn_id", connID, "level", p.Level)
	return struct{}{}, nil
}

// ForwardLog sends one log record to every session whose forwarding
// level admits it. Delivery failures are the transport's problem;
// logging never affects control flow.
func (s *Server) ForwardLog(ctx context.Context, level slog.Level, loggerName, message string, fields map[string]any) {
	targets := s.sessions.logTargets(level)
	if len(targets) == 0 {
		return
	}

	data := map[string]any{"message": message}
	for k, v := range fields {
		data[k] = v
	}
	note := jsonrpc.NewNotification(NotifMessage, map[string]any{
		"level":  mcpLevelFor(level),
		"logger": loggerName,
		"data":   data,
	})
	for _, connID := range targets {
		s.send(ctx, connID, note)
	}
}

// ForwardingHandler is a slog.Handler that tees records into the MCP
// log notification stream on top of an inner handler. Install it as
// the process logger once the engine exists and clients that called
// logging/setLevel see the server's own logs.
type ForwardingHandler struct {
	inner  slog.Handler
	server *Server
	name   string
}

// NewForwardingHandler wraps inner so records also reach subscribed
// sessions.
func NewForwardingHandler(inner slog.Handler, server *Server, name string) *ForwardingHandler {
	return &ForwardingHandler{inner: inner, server: server, name: name}
}

func (h *ForwardingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ForwardingHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.String()
		return true
	})
	// Forwarding happens outside the request path; use a background
	// context so a canceled request context cannot suppress delivery.
	h.server.ForwardLog(context.WithoutCancel(ctx), r.Level, h.name, r.Message, fields)
	return h.inner.Handle(ctx, r)
}

func (h *ForwardingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ForwardingHandler{inner: h.inner.WithAttrs(attrs), server: h.server, name: h.name}
}

func (h *ForwardingHandler) WithGroup(name string) slog.Handler {
	return &ForwardingHandler{inner: h.inner.WithGroup(name), server: h.server, name: h.name}
}
