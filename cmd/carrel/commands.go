// ABOUTME: The init, catalog, token, and health subcommands
// ABOUTME: Workspace scaffolding plus small operational helpers

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/carrelhq/carrel/internal/auth"
	"github.com/carrelhq/carrel/internal/catalog"
	"github.com/carrelhq/carrel/internal/client"
	"github.com/carrelhq/carrel/internal/config"
)

// runInit interactively writes a config file and scaffolds a sample
// catalog next to it.
func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("carrel configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	wsAddr := prompt(reader, "Socket address", config.DefaultWSAddr)
	stdioStr := prompt(reader, "Serve stdio too?", "no")
	stdioEnabled := strings.ToLower(stdioStr) == "yes" || strings.ToLower(stdioStr) == "y"

	fmt.Println("\n--- Catalog Configuration ---")
	catalogDir := prompt(reader, "Catalog directory", filepath.Dir(outputFile))
	watchStr := prompt(reader, "Reload catalog on change?", "yes")
	watch := strings.ToLower(watchStr) == "yes" || strings.ToLower(watchStr) == "y"

	fmt.Println("\n--- Auth Configuration ---")
	authMode := prompt(reader, "Auth mode (none/token/ssh)", config.AuthModeNone)

	var jwtSecret, authorizedKeys string
	switch authMode {
	case config.AuthModeToken:
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
		fmt.Println("Generated a random JWT secret.")
	case config.AuthModeSSH:
		defaultKeys := filepath.Join(filepath.Dir(outputFile), "authorized_keys")
		authorizedKeys = prompt(reader, "Authorized keys file", defaultKeys)
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Scaffold the catalog first so the config never points at nothing.
	catalogPath, err := catalog.WriteSample(catalogDir)
	if err != nil {
		return fmt.Errorf("scaffolding catalog: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# carrel configuration\n")
	cfg.WriteString("# Generated by carrel init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  ws_addr: \"%s\"\n", wsAddr))
	cfg.WriteString("  stdio:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", stdioEnabled))
	cfg.WriteString("\n")

	cfg.WriteString("catalog:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", catalogPath))
	cfg.WriteString(fmt.Sprintf("  watch: %t\n", watch))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  mode: \"%s\"\n", authMode))
	if jwtSecret != "" {
		cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	}
	if authorizedKeys != "" {
		cfg.WriteString(fmt.Sprintf("  authorized_keys: \"%s\"\n", authorizedKeys))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Config:  %s\n", outputFile)
	green.Printf("  ✓ Catalog: %s\n", catalogPath)
	fmt.Println("\nTo start the server:")
	fmt.Println("  carrel serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

// runCatalog prints what the catalog declares without starting a server.
func runCatalog() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Printf("Sources (%d)\n", len(cat.Sources))
	for _, src := range cat.Sources {
		fmt.Printf("  %-16s %-8s %s", src.ID, src.Kind, src.Path)
		if src.Description != "" {
			gray.Printf("  %s", src.Description)
		}
		fmt.Println()
	}

	fmt.Println()
	cyan.Printf("Tools (%d + 2 built-in)\n", len(cat.Tools))
	fmt.Printf("  %-24s ", "records_query")
	gray.Println("built-in")
	fmt.Printf("  %-24s ", "records_get")
	gray.Println("built-in")
	for _, tool := range cat.Tools {
		fmt.Printf("  %-24s ", tool.Name)
		gray.Println(tool.Description)
	}

	return nil
}

// runToken mints a JWT for a subject using the configured secret.
func runToken() error {
	var subject string
	ttlStr := ""
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			ttlStr = args[i+1]
			i++
		case strings.HasPrefix(arg, "--ttl="):
			ttlStr = strings.TrimPrefix(arg, "--ttl=")
		default:
			return fmt.Errorf("unknown argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Mode != config.AuthModeToken {
		return fmt.Errorf("auth mode is %q, tokens are only used in mode %q", cfg.Auth.Mode, config.AuthModeToken)
	}

	ttl := cfg.Auth.TokenTTL
	if ttlStr != "" {
		ttl, err = time.ParseDuration(ttlStr)
		if err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "subject=%s expires=%s\n", subject, time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return nil
}

// runHealth checks liveness two ways: the /healthz endpoint for the
// inventory, then a real handshake over the socket endpoint.
func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.WSAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var status struct {
		Status      string `json:"status"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		Sources     int    `json:"sources"`
		Tools       int    `json:"tools"`
		Connections int    `json:"connections"`
		Sessions    int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("%s %s %s\n", status.Status, status.Name, status.Version)
	fmt.Printf("sources=%d tools=%d connections=%d sessions=%d\n",
		status.Sources, status.Tools, status.Connections, status.Sessions)

	// Handshake over the real protocol path. CARREL_TOKEN covers the
	// token auth mode; anything else needing credentials fails here,
	// which is the point of a health check.
	wsURL := fmt.Sprintf("ws://%s/mcp", cfg.Server.WSAddr)
	c, err := client.Dial(wsURL, url, os.Getenv("CARREL_TOKEN"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return fmt.Errorf("dialing socket endpoint: %w", err)
	}
	defer c.Close()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := c.Initialize(dialCtx, "carrel-health", version); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	tools, err := c.ListTools(dialCtx)
	if err != nil {
		return fmt.Errorf("tools/list failed: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ handshake ok, %d tools\n", len(tools))
	return nil
}
