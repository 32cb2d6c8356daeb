// ABOUTME: MCP client over a transport: handshake, calls, and id correlation
// ABOUTME: Used by the health subcommand and the probe tool

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/net/websocket"

	"github.com/carrelhq/carrel/internal/jsonrpc"
	"github.com/carrelhq/carrel/internal/mcp"
	"github.com/carrelhq/carrel/internal/transport"
)

// Client drives one MCP connection. Requests carry sequential ids;
// responses are matched by id, so out-of-order completion on the
// server is invisible to callers.
type Client struct {
	transport transport.Transport
	logger    *slog.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Response
	closed  bool

	// Notifications delivers server-initiated notifications. The
	// channel is closed when the connection ends; slow consumers drop.
	Notifications chan *jsonrpc.Request

	done chan struct{}
}

// New wraps an existing transport and starts the read loop.
func New(t transport.Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		transport:     t,
		logger:        logger,
		pending:       make(map[string]chan *jsonrpc.Response),
		Notifications: make(chan *jsonrpc.Request, 32),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial connects to a carrel socket endpoint. A non-empty token is sent
// as a bearer token on the upgrade request.
func Dial(url, origin, token string, logger *slog.Logger) (*Client, error) {
	cfg, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("bad endpoint url: %w", err)
	}
	if token != "" {
		cfg.Header.Set("Authorization", "Bearer "+token)
	}

	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	t := transport.NewWebSocketTransport("client", conn, logger)
	return New(t, logger), nil
}

// Close tears the connection down and fails every pending call.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Done is closed once the connection has fully shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readLoop routes inbound messages: responses to their pending call,
// notifications to the Notifications channel.
func (c *Client) readLoop() {
	defer c.finish()

	for ev := range c.transport.Events() {
		switch ev.Kind {
		case transport.EventMessage:
			c.route(ev.Payload)
		case transport.EventError:
			c.logger.Warn("transport error", "error", ev.Err)
		case transport.EventClose:
			return
		}
	}
}

// finish fails outstanding calls and closes the notification stream.
func (c *Client) finish() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan *jsonrpc.Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	close(c.Notifications)
	close(c.done)
}

func (c *Client) route(payload []byte) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		c.logger.Warn("undecodable message", "error", err)
		return
	}

	// A method without an id is a server notification.
	if probe.Method != "" && (len(probe.ID) == 0 || string(probe.ID) == "null") {
		var note jsonrpc.Request
		if err := json.Unmarshal(payload, &note); err != nil {
			return
		}
		select {
		case c.Notifications <- &note:
		default:
			c.logger.Debug("notification dropped, consumer is slow", "method", note.Method)
		}
		return
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logger.Warn("undecodable response", "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[string(resp.ID)]
	if ok {
		delete(c.pending, string(resp.ID))
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("response for unknown request id", "id", string(resp.ID))
		return
	}
	ch <- &resp
}

// Call sends one request and waits for its response or ctx cancellation.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := strconv.FormatInt(c.nextID.Add(1), 10)

	ch := make(chan *jsonrpc.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := map[string]any{
		"jsonrpc": jsonrpc.Version,
		"id":      json.Number(id),
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	if err := c.transport.Send(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed during %s", method)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return nil, fmt.Errorf("re-encoding result: %w", err)
		}
		return raw, nil
	}
}

// Notify sends a notification; no response is expected.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	return c.transport.Send(ctx, jsonrpc.NewNotification(method, params))
}

// Initialize performs the full handshake: the initialize request
// followed by the initialized notification.
func (c *Client) Initialize(ctx context.Context, name, version string) (*mcp.InitializeResult, error) {
	raw, err := c.Call(ctx, mcp.MethodInitialize, mcp.InitializeParams{
		ProtocolVersion: mcp.SupportedVersions()[len(mcp.SupportedVersions())-1],
		ClientInfo:      mcp.Implementation{Name: name, Version: version},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding initialize result: %w", err)
	}

	if err := c.Notify(ctx, mcp.MethodNotifInitialized, nil); err != nil {
		return nil, fmt.Errorf("confirming handshake: %w", err)
	}
	return &result, nil
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, mcp.MethodPing, nil)
	return err
}

// ListTools fetches every tool definition, following cursors.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var out []ToolInfo
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := c.Call(ctx, mcp.MethodToolsList, params)
		if err != nil {
			return nil, err
		}
		var page struct {
			Tools      []ToolInfo `json:"tools"`
			NextCursor string     `json:"nextCursor"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decoding tools page: %w", err)
		}
		out = append(out, page.Tools...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// ToolInfo is one entry of a tools/list page.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// CallTool invokes one tool and returns its result.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	params := map[string]any{"name": name}
	if len(args) > 0 {
		params["arguments"] = args
	}
	raw, err := c.Call(ctx, mcp.MethodToolsCall, params)
	if err != nil {
		return nil, err
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tool result: %w", err)
	}
	return &result, nil
}

// ListResources fetches every resource header, following cursors.
func (c *Client) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	var out []mcp.Resource
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := c.Call(ctx, mcp.MethodResourcesList, params)
		if err != nil {
			return nil, err
		}
		var page struct {
			Resources  []mcp.Resource `json:"resources"`
			NextCursor string         `json:"nextCursor"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decoding resources page: %w", err)
		}
		out = append(out, page.Resources...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	raw, err := c.Call(ctx, mcp.MethodResourcesRead, map[string]string{"uri": uri})
	if err != nil {
		return nil, err
	}
	var result struct {
		Contents []mcp.ResourceContents `json:"contents"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding resource contents: %w", err)
	}
	return result.Contents, nil
}

// Subscribe registers for change notifications on a resource URI.
func (c *Client) Subscribe(ctx context.Context, uri string) error {
	_, err := c.Call(ctx, mcp.MethodResourcesSubscribe, map[string]string{"uri": uri})
	return err
}
