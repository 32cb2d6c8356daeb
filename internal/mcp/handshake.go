// ABOUTME: The initialize/initialized handshake and the ping keepalive.
// ABOUTME: Version negotiation is exact-match against a fixed allow-list.

package mcp

import (
	"context"
	"encoding/json"

	"github.com/carrelhq/carrel/internal/handler"
	"github.com/carrelhq/carrel/internal/jsonrpc"
)

// handleInitialize negotiates the protocol version and returns the
// server's fixed capability set. An unsupported version leaves the
// session untouched so a client can retry with a version from the
// error's data.
func (s *Server) handleInitialize(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var p InitializeParams
	if err := handler.UnmarshalParams(params, &p); err != nil {
		return nil, err
	}

	if !supportedProtocolVersions[p.ProtocolVersion] {
		s.logger.Warn("initialize rejected",
			"conn_id", connID,
			"requested_version", p.ProtocolVersion)
		return nil, jsonrpc.NewInitializationFailed(p.ProtocolVersion, SupportedVersions())
	}

	sess := s.sessions.getOrCreate(connID)
	sess.beginInitialize(p.ProtocolVersion, p.ClientInfo, p.Capabilities)

	s.logger.Info("session initializing",
		"conn_id", connID,
		"protocol_version", p.ProtocolVersion,
		"client", p.ClientInfo.Name,
		"client_version", p.ClientInfo.Version)

	return InitializeResult{
		ProtocolVersion: p.ProtocolVersion,
		Capabilities:    serverCapabilities(),
		ServerInfo:      s.serverInfo,
		Instructions:    s.instructions,
	}, nil
}

// handleInitialized confirms the handshake. It takes no params and is
// normally a notification; a client that sends it with an id gets an
// empty result back.
func (s *Server) handleInitialized(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	sess := s.sessions.getOrCreate(connID)
	sess.confirmInitialized()
	s.logger.Debug("session initialized", "conn_id", connID)
	return struct{}{}, nil
}

// handlePing answers with an empty object. Clients use it to probe
// connection liveness.
func (s *Server) handlePing(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	return struct{}{}, nil
}
