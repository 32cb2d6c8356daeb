// ABOUTME: Gateway orchestrator that composes the engine, transports, and listeners
// ABOUTME: Manages catalog loading, auth, serving, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/carrelhq/carrel/internal/auth"
	"github.com/carrelhq/carrel/internal/catalog"
	"github.com/carrelhq/carrel/internal/config"
	"github.com/carrelhq/carrel/internal/handler"
	"github.com/carrelhq/carrel/internal/mcp"
	"github.com/carrelhq/carrel/internal/provider"
	"github.com/carrelhq/carrel/internal/tools"
	"github.com/carrelhq/carrel/internal/transport"
)

// Gateway composes the carrel server: catalog-built providers and
// tools, the handler and transport registries, the MCP engine, and the
// listeners that feed it connections.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	providers  *provider.Registry
	tools      *tools.Registry
	handlers   *handler.Registry
	transports *transport.Registry
	engine     *mcp.Server

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	sshVerifier *auth.SSHVerifier

	catalogPath string

	// watchers for the current provider set; replaced on reload
	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

// New creates a Gateway from the configuration: loads the catalog,
// builds providers and tools, and wires the engine and HTTP surface.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	providers := provider.NewRegistry(logger.With("component", "providers"))
	built, err := cat.BuildProviders(logger.With("component", "providers"))
	if err != nil {
		return nil, fmt.Errorf("building providers: %w", err)
	}
	for _, p := range built {
		if err := providers.Register(p); err != nil {
			providers.CloseAll()
			return nil, fmt.Errorf("registering provider: %w", err)
		}
	}

	toolReg := tools.NewRegistry(logger.With("component", "tools"))
	execs, err := cat.BuildTools(providers, logger.With("component", "tools"))
	if err != nil {
		providers.CloseAll()
		return nil, fmt.Errorf("building tools: %w", err)
	}
	for _, e := range execs {
		if err := toolReg.Register(e); err != nil {
			providers.CloseAll()
			return nil, fmt.Errorf("registering tool: %w", err)
		}
	}

	handlers := handler.NewRegistry(logger.With("component", "handlers"))
	transports := transport.NewRegistry(logger.With("component", "transports"))

	// The engine gets the plain logger: its own sends must never loop
	// back through the log-forwarding handler.
	engine, err := mcp.NewServer(mcp.Config{
		Handlers:      handlers,
		Transports:    transports,
		Providers:     providers,
		Tools:         toolReg,
		Logger:        logger.With("component", "mcp"),
		ServerName:    cfg.ServerInfo.Name,
		ServerVersion: cfg.ServerInfo.Version,
		Instructions:  cfg.ServerInfo.Instructions,
		PageSize:      cfg.Resources.PageSize,
	})
	if err != nil {
		providers.CloseAll()
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	g := &Gateway{
		config:      cfg,
		logger:      logger.With("component", "gateway"),
		providers:   providers,
		tools:       toolReg,
		handlers:    handlers,
		transports:  transports,
		engine:      engine,
		catalogPath: cfg.Catalog.Path,
	}

	mux, err := g.buildMux()
	if err != nil {
		providers.CloseAll()
		return nil, err
	}
	g.httpServer = &http.Server{
		Addr:              cfg.Server.WSAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Engine exposes the MCP engine, for installing the log-forwarding
// slog handler after construction.
func (g *Gateway) Engine() *mcp.Server {
	return g.engine
}

// Run starts the gateway and blocks until the context is canceled or a
// listener fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var engineDone sync.WaitGroup
	engineDone.Add(1)
	go func() {
		defer engineDone.Done()
		g.engine.Run(runCtx)
	}()

	g.startProviderWatchers(runCtx)

	var catalogWatch sync.WaitGroup
	if g.config.Catalog.Watch {
		catalogWatch.Add(1)
		go func() {
			defer catalogWatch.Done()
			g.watchCatalog(runCtx)
		}()
	}

	if g.config.Server.Stdio.Enabled {
		st := transport.NewStdioTransport("stdio", os.Stdin, os.Stdout,
			g.logger.With("component", "stdio-transport"))
		if err := g.transports.Add(st); err != nil {
			return fmt.Errorf("adding stdio transport: %w", err)
		}
		g.logger.Info("stdio transport serving on stdin/stdout")
	}

	listener, err := g.setupListener(runCtx)
	if err != nil {
		return err
	}

	errCh := g.startServer(listener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()
	cancel()
	engineDone.Wait()
	catalogWatch.Wait()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the socket listener: tsnet when enabled,
// plain TCP otherwise.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "ws_addr", g.config.Server.WSAddr)
	ln, err := net.Listen("tcp", g.config.Server.WSAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on socket address: %w", err)
	}
	return ln, nil
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, closes every transport, stops the
// watchers, and releases providers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	g.transports.CloseAll()
	g.stopProviderWatchers()

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := g.providers.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("provider close: %w", err))
	}
	if g.sshVerifier != nil {
		g.sshVerifier.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "carrel", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
