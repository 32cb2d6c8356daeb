// ABOUTME: Command-line MCP client for poking a running carrel server
// ABOUTME: Handshakes, lists, calls tools, reads resources, and watches updates

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/carrelhq/carrel/internal/client"
)

var version = "dev"

const defaultURL = "ws://127.0.0.1:8700/mcp"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Println(version)
		return
	}
	if cmd == "help" {
		printUsage()
		return
	}

	url, token, rest := parseConnFlags(args)

	c, err := dial(ctx, url, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	switch cmd {
	case "ping":
		err = runPing(ctx, c)
	case "tools":
		err = runTools(ctx, c)
	case "call":
		err = runCall(ctx, c, rest)
	case "resources":
		err = runResources(ctx, c)
	case "read":
		err = runRead(ctx, c, rest)
	case "watch":
		err = runWatch(ctx, c, rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: carrel-probe <command> [--url URL] [--token TOKEN] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ping                 Handshake and ping the server")
	fmt.Println("  tools                List the server's tools")
	fmt.Println("  call NAME [JSON]     Call a tool with JSON arguments")
	fmt.Println("  resources            List the server's resources")
	fmt.Println("  read URI             Read one resource")
	fmt.Println("  watch URI [URI...]   Subscribe to resources and print updates")
	fmt.Println("  version              Print the version")
	fmt.Println()
	fmt.Printf("Default URL: %s (CARREL_URL and CARREL_TOKEN are honored)\n", defaultURL)
}

// parseConnFlags strips --url and --token from args, falling back to
// the CARREL_URL and CARREL_TOKEN environment variables.
func parseConnFlags(args []string) (url, token string, rest []string) {
	url = os.Getenv("CARREL_URL")
	token = os.Getenv("CARREL_TOKEN")

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--url":
			if i+1 < len(args) {
				url = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--url="):
			url = strings.TrimPrefix(arg, "--url=")
		case arg == "--token":
			if i+1 < len(args) {
				token = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--token="):
			token = strings.TrimPrefix(arg, "--token=")
		default:
			rest = append(rest, arg)
		}
	}

	if url == "" {
		url = defaultURL
	}
	return url, token, rest
}

// dial connects and completes the handshake.
func dial(ctx context.Context, url, token string) (*client.Client, error) {
	origin := "http://" + strings.TrimPrefix(strings.TrimPrefix(url, "ws://"), "wss://")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := client.Dial(url, origin, token, logger)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := c.Initialize(initCtx, "carrel-probe", version)
	if err != nil {
		c.Close()
		return nil, err
	}

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(os.Stderr, "connected to %s %s (protocol %s)\n",
		res.ServerInfo.Name, res.ServerInfo.Version, res.ProtocolVersion)
	return c, nil
}

func runPing(ctx context.Context, c *client.Client) error {
	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		return err
	}
	fmt.Printf("pong (%s)\n", time.Since(start).Round(time.Microsecond))
	return nil
}

func runTools(ctx context.Context, c *client.Client) error {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	for _, tool := range tools {
		fmt.Printf("%-24s ", tool.Name)
		gray.Println(tool.Description)
	}
	return nil
}

func runCall(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: call NAME [JSON]")
	}
	name := args[0]

	var toolArgs json.RawMessage
	if len(args) > 1 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("arguments must be valid JSON: %s", args[1])
		}
		toolArgs = json.RawMessage(args[1])
	}

	result, err := c.CallTool(ctx, name, toolArgs)
	if err != nil {
		return err
	}

	if result.IsError {
		red := color.New(color.FgRed)
		for _, content := range result.Content {
			red.Println(content.Text)
		}
		os.Exit(1)
	}
	for _, content := range result.Content {
		fmt.Println(content.Text)
	}
	return nil
}

func runResources(ctx context.Context, c *client.Client) error {
	resources, err := c.ListResources(ctx)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	for _, res := range resources {
		fmt.Printf("%-48s ", res.URI)
		gray.Println(res.MimeType)
	}
	return nil
}

func runRead(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: read URI")
	}

	contents, err := c.ReadResource(ctx, args[0])
	if err != nil {
		return err
	}

	for _, item := range contents {
		if item.Text != "" {
			fmt.Println(item.Text)
			continue
		}
		fmt.Printf("(%s, %d bytes base64)\n", item.MimeType, len(item.Blob))
	}
	return nil
}

// runWatch subscribes to the given URIs and prints notifications until
// interrupted.
func runWatch(ctx context.Context, c *client.Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: watch URI [URI...]")
	}

	for _, uri := range args {
		if err := c.Subscribe(ctx, uri); err != nil {
			return fmt.Errorf("subscribing to %s: %w", uri, err)
		}
		fmt.Fprintf(os.Stderr, "watching %s\n", uri)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case note, ok := <-c.Notifications:
			if !ok {
				return fmt.Errorf("connection closed")
			}
			fmt.Printf("%s %s %s\n",
				time.Now().Format("15:04:05"), note.Method, string(note.Params))
		}
	}
}
