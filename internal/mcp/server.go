// ABOUTME: The MCP engine: consumes transport events and dispatches JSON-RPC.
// ABOUTME: One goroutine per request, responses correlated by id only.

package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/carrelhq/carrel/internal/handler"
	"github.com/carrelhq/carrel/internal/jsonrpc"
	"github.com/carrelhq/carrel/internal/provider"
	"github.com/carrelhq/carrel/internal/tools"
	"github.com/carrelhq/carrel/internal/transport"
)

// defaultPageSize bounds list results when the config does not say.
const defaultPageSize = 50

// Config holds the engine's collaborators and identity.
type Config struct {
	Handlers   *handler.Registry
	Transports *transport.Registry
	Providers  *provider.Registry
	Tools      *tools.Registry
	Logger     *slog.Logger

	ServerName    string
	ServerVersion string
	Instructions  string
	PageSize      int
}

// Server runs the request lifecycle for every connection: decode,
// dispatch through the handler registry, send the response back on the
// transport the request arrived on.
type Server struct {
	handlers   *handler.Registry
	transports *transport.Registry
	providers  *provider.Registry
	tools      *tools.Registry
	logger     *slog.Logger
	sessions   *sessionStore

	serverInfo   Implementation
	instructions string
	pageSize     int

	inflight sync.WaitGroup
}

// NewServer builds the engine and registers every method handler. A
// duplicate method registration fails here and aborts startup.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Handlers == nil {
		return nil, errors.New("handler registry is required")
	}
	if cfg.Transports == nil {
		return nil, errors.New("transport registry is required")
	}
	if cfg.Providers == nil {
		return nil, errors.New("provider registry is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("tool registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.ServerName
	if name == "" {
		name = "carrel"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "dev"
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	s := &Server{
		handlers:     cfg.Handlers,
		transports:   cfg.Transports,
		providers:    cfg.Providers,
		tools:        cfg.Tools,
		logger:       logger,
		sessions:     newSessionStore(),
		serverInfo:   Implementation{Name: name, Version: version},
		instructions: cfg.Instructions,
		pageSize:     pageSize,
	}
	if err := s.registerMethods(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerMethods binds the full method surface. Every binding goes
// through the same duplicate check, so a wiring mistake surfaces as a
// startup error rather than a shadowed handler.
func (s *Server) registerMethods() error {
	bindings := map[string]handler.Func{
		MethodInitialize:            s.handleInitialize,
		MethodInitialized:           s.handleInitialized,
		MethodNotifInitialized:      s.handleInitialized,
		MethodPing:                  s.handlePing,
		MethodToolsList:             s.handleToolsList,
		MethodToolsCall:             s.handleToolsCall,
		MethodResourcesList:         s.handleResourcesList,
		MethodResourceTemplatesList: s.handleResourceTemplatesList,
		MethodResourcesRead:         s.handleResourcesRead,
		MethodResourcesSubscribe:    s.handleResourcesSubscribe,
		MethodResourcesUnsubscribe:  s.handleResourcesUnsubscribe,
		MethodLoggingSetLevel:       s.handleLoggingSetLevel,
	}
	for method, fn := range bindings {
		if err := s.handlers.Register(method, fn); err != nil {
			return err
		}
	}
	return nil
}

// Session returns the session for a connection id.
func (s *Server) Session(connID string) (*Session, bool) {
	return s.sessions.get(connID)
}

// SessionCount returns the number of live sessions, for health output.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

// Run consumes the transport registry's event stream until it closes
// or ctx is canceled, then waits for in-flight requests to finish.
// Each request runs in its own goroutine: a slow downstream call on one
// request never delays the next message on the same connection, so
// responses may leave out of arrival order. Clients correlate by id.
func (s *Server) Run(ctx context.Context) {
	defer s.inflight.Wait()

	events := s.transports.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Server) handleEvent(ctx context.Context, ev transport.ConnEvent) {
	switch ev.Event.Kind {
	case transport.EventMessage:
		s.handleMessage(ctx, ev.ConnID, ev.Event.Payload)
	case transport.EventError:
		// Not tied to a request id, so there is nothing to respond to.
		s.logger.Warn("transport error",
			"conn_id", ev.ConnID,
			"error", ev.Event.Err)
	case transport.EventClose:
		s.sessions.delete(ev.ConnID)
		s.logger.Info("session ended", "conn_id", ev.ConnID)
	}
}

// handleMessage decodes one inbound payload and dispatches it. Decode
// failures that still carry a readable id get an error response; the
// rest are logged and dropped.
func (s *Server) handleMessage(ctx context.Context, connID string, payload []byte) {
	req, decErr := jsonrpc.Decode(payload)
	if decErr != nil {
		id := jsonrpc.ExtractID(payload)
		if id == nil {
			s.logger.Warn("dropping undeliverable invalid message",
				"conn_id", connID,
				"code", decErr.Code)
			return
		}
		s.send(ctx, connID, jsonrpc.NewErrorResponse(id, decErr))
		return
	}

	s.sessions.getOrCreate(connID)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		resp := s.handlers.Dispatch(ctx, connID, req)
		if resp == nil {
			return
		}
		s.send(ctx, connID, resp)
	}()
}

// send delivers a message to one connection. A failed send is logged,
// never retried: if the connection died the response has nowhere to go.
func (s *Server) send(ctx context.Context, connID string, v any) {
	t, ok := s.transports.Get(connID)
	if !ok {
		s.logger.Debug("dropping message for departed connection", "conn_id", connID)
		return
	}
	if err := t.Send(ctx, v); err != nil {
		s.logger.Warn("response send failed",
			"conn_id", connID,
			"error", err)
	}
}

// ResourceUpdated notifies the sessions subscribed to a record's URI
// that it changed. Unsubscribed sessions hear nothing.
func (s *Server) ResourceUpdated(ctx context.Context, sourceID, recordID string) {
	uri := URIScheme + "://" + sourceID + "/" + recordID
	targets := s.sessions.subscribersOf(uri)
	if len(targets) == 0 {
		return
	}
	note := jsonrpc.NewNotification(NotifResourcesUpdated, map[string]string{"uri": uri})
	for _, connID := range targets {
		s.send(ctx, connID, note)
	}
	s.logger.Debug("resource update fanned out", "uri", uri, "subscribers", len(targets))
}

// NotifyResourcesListChanged broadcasts that the resource set changed,
// typically after a catalog reload.
func (s *Server) NotifyResourcesListChanged(ctx context.Context) {
	s.transports.Broadcast(ctx, jsonrpc.NewNotification(NotifResourcesListChanged, nil))
}

// NotifyToolsListChanged broadcasts that the tool set changed.
func (s *Server) NotifyToolsListChanged(ctx context.Context) {
	s.transports.Broadcast(ctx, jsonrpc.NewNotification(NotifToolsListChanged, nil))
}
