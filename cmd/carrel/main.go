// ABOUTME: Entry point for the carrel MCP server
// ABOUTME: Serves catalog sources and tools over stdio and WebSocket

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/carrelhq/carrel/internal/config"
	"github.com/carrelhq/carrel/internal/gateway"
	"github.com/carrelhq/carrel/internal/mcp"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                           _
  ___ __ _ _ __ _ __ ___  | |
 / __/ _' | '__| '__/ _ \ | |
| (_| (_| | |  | | |  __/ | |
 \___\__,_|_|  |_|  \___| |_|
`

// getConfigPath returns the path to the carrel config file.
// Priority: CARREL_CONFIG env var > ./carrel.yaml > ~/.config/carrel/carrel.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CARREL_CONFIG"); envPath != "" {
		return envPath
	}

	if _, err := os.Stat("carrel.yaml"); err == nil {
		return "carrel.yaml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "carrel.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "carrel", "carrel.yaml")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "catalog":
		err = runCatalog()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: carrel <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the server")
	fmt.Println("  init                   Create a config and sample catalog interactively")
	fmt.Println("  catalog                Show the sources and tools the catalog declares")
	fmt.Println("  token --subject NAME   Mint an access token (auth mode \"token\")")
	fmt.Println("  health                 Check server health")
	fmt.Println("  version                Print the version")
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.ServerInfo.Version == "" {
		cfg.ServerInfo.Version = version
	}

	baseHandler := buildLogHandler(cfg.Logging)
	logger := slog.New(baseHandler)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Catalog:   %s\n", cfg.Catalog.Path)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Socket:    %s\n", cfg.Server.WSAddr)
	}
	if cfg.Server.Stdio.Enabled {
		green.Print("    ▶ ")
		fmt.Println("Stdio:     enabled")
	}
	green.Print("    ▶ ")
	fmt.Printf("Auth:      %s\n", cfg.Auth.Mode)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.Mode == config.AuthModeNone {
		yellow.Println("    ! auth disabled, any client may connect")
	}

	fmt.Println()

	logger.Info("starting carrel",
		"config", configPath,
		"catalog", cfg.Catalog.Path,
		"ws_addr", cfg.Server.WSAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	// Process-wide logs also reach sessions that asked for them via
	// logging/setLevel. The gateway's own components keep the plain
	// logger so forwarding cannot feed back into itself.
	slog.SetDefault(slog.New(mcp.NewForwardingHandler(baseHandler, gw.Engine(), cfg.ServerInfo.Name)))

	return gw.Run(ctx)
}
