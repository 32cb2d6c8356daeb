// ABOUTME: HTTP surface of the gateway: the /mcp socket endpoint and /healthz
// ABOUTME: Builds the configured authenticator and wraps the upgrade with it

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/carrelhq/carrel/internal/auth"
	"github.com/carrelhq/carrel/internal/config"
	"github.com/carrelhq/carrel/internal/transport"
)

// buildMux assembles the HTTP routes: the authenticated socket upgrade
// and the unauthenticated health endpoint.
func (g *Gateway) buildMux() (*http.ServeMux, error) {
	authenticator, err := g.buildAuthenticator()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	socket := websocket.Handler(g.handleSocket)
	mux.Handle("/mcp", auth.Middleware(authenticator)(socket))
	mux.HandleFunc("/healthz", g.handleHealthz)
	return mux, nil
}

// buildAuthenticator picks the authenticator for the configured auth
// mode. Config validation has already checked the mode's inputs.
func (g *Gateway) buildAuthenticator() (auth.Authenticator, error) {
	switch g.config.Auth.Mode {
	case config.AuthModeNone:
		g.logger.Warn("auth disabled - every connection is anonymous")
		return auth.NoneAuthenticator{}, nil
	case config.AuthModeToken:
		verifier := auth.NewJWTVerifier(
			[]byte(g.config.Auth.JWTSecret),
			g.config.Auth.Issuer,
			g.config.Auth.Audience,
		)
		g.logger.Info("token auth enabled")
		return &auth.TokenAuthenticator{Verifier: verifier}, nil
	case config.AuthModeSSH:
		keys, err := auth.LoadAuthorizedKeys(g.config.Auth.AuthorizedKeys)
		if err != nil {
			return nil, fmt.Errorf("loading authorized keys: %w", err)
		}
		g.sshVerifier = auth.NewSSHVerifier(keys)
		g.logger.Info("ssh auth enabled", "authorized_keys", keys.Len())
		return &auth.SSHAuthenticator{Verifier: g.sshVerifier}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", g.config.Auth.Mode)
	}
}

// handleSocket adopts one accepted websocket connection as a
// transport. The handler must block until the transport finishes:
// returning closes the underlying conn.
func (g *Gateway) handleSocket(ws *websocket.Conn) {
	id := uuid.NewString()

	var principal string
	if authCtx := auth.FromContext(ws.Request().Context()); authCtx != nil {
		principal = authCtx.PrincipalID
	}

	t := transport.NewWebSocketTransport(id, ws, g.logger.With("component", "ws-transport"))
	if err := g.transports.Add(t); err != nil {
		g.logger.Error("rejecting connection", "conn_id", id, "error", err)
		_ = t.Close()
		return
	}
	g.logger.Info("socket connection adopted", "conn_id", id, "principal", principal)

	<-t.Done()
}

// healthStatus is the /healthz response body.
type healthStatus struct {
	Status      string `json:"status"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Sources     int    `json:"sources"`
	Tools       int    `json:"tools"`
	Connections int    `json:"connections"`
	Sessions    int    `json:"sessions"`
}

// handleHealthz reports liveness plus a small inventory snapshot.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:      "ok",
		Name:        g.config.ServerInfo.Name,
		Version:     g.config.ServerInfo.Version,
		Sources:     len(g.providers.Sources()),
		Tools:       g.tools.Count(),
		Connections: g.transports.ActiveCount(),
		Sessions:    g.engine.SessionCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		g.logger.Warn("health response write failed", "error", err)
	}
}
