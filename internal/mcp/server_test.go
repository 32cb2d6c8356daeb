// ABOUTME: Tests for the MCP engine: handshake, dispatch, and method handlers.
// ABOUTME: Drives handlers through the dispatcher the way transports would.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carrelhq/carrel/internal/handler"
	"github.com/carrelhq/carrel/internal/jsonrpc"
	"github.com/carrelhq/carrel/internal/provider"
	"github.com/carrelhq/carrel/internal/tools"
	"github.com/carrelhq/carrel/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memProvider serves a fixed record set from memory.
type memProvider struct {
	id      string
	records map[string]provider.Record
}

func (m *memProvider) SourceID() string { return m.id }

func (m *memProvider) Describe() provider.SourceInfo {
	return provider.SourceInfo{ID: m.id, Kind: "memory", Description: "test source"}
}

func (m *memProvider) FetchRecords(ctx context.Context, q provider.Query) ([]provider.Record, error) {
	var out []provider.Record
	for _, rec := range m.records {
		header := rec
		header.Text = ""
		header.Blob = nil
		out = append(out, header)
	}
	return out, nil
}

func (m *memProvider) FetchRecord(ctx context.Context, id string) (*provider.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, provider.ErrRecordNotFound
	}
	return &rec, nil
}

func (m *memProvider) Close() error { return nil }

// sleepTool blocks for the duration named in its arguments, then
// returns it. Used to prove out-of-order completion.
type sleepTool struct{}

func (sleepTool) Definition() tools.Definition {
	return tools.Definition{Name: "sleep", InputSchema: json.RawMessage(`{"type":"object"}`)}
}

func (sleepTool) Execute(ctx context.Context, args json.RawMessage, progress tools.ProgressFunc) (string, error) {
	var p struct {
		Millis int `json:"millis"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return "", err
		}
	}
	select {
	case <-time.After(time.Duration(p.Millis) * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return fmt.Sprintf("slept %dms", p.Millis), nil
}

// progressTool reports two progress steps then finishes.
type progressTool struct{}

func (progressTool) Definition() tools.Definition {
	return tools.Definition{Name: "stepper", InputSchema: json.RawMessage(`{"type":"object"}`)}
}

func (progressTool) Execute(ctx context.Context, args json.RawMessage, progress tools.ProgressFunc) (string, error) {
	if progress != nil {
		progress(1, 2)
		progress(2, 2)
	}
	return "done", nil
}

func newTestServer(t *testing.T) (*Server, *transport.Registry) {
	t.Helper()

	logger := testLogger()
	providers := provider.NewRegistry(logger)
	src := &memProvider{
		id: "notes",
		records: map[string]provider.Record{
			"n1": {SourceID: "notes", ID: "n1", Title: "First", MIMEType: "text/plain", Text: "hello"},
			"n2": {SourceID: "notes", ID: "n2", Title: "Second", MIMEType: "text/markdown", Text: "# hi", HTML: "<h1>hi</h1>"},
		},
	}
	if err := providers.Register(src); err != nil {
		t.Fatalf("register provider: %v", err)
	}

	toolReg := tools.NewRegistry(logger)
	for _, e := range []tools.Executor{tools.NewQueryTool(providers), tools.NewGetTool(providers), sleepTool{}, progressTool{}} {
		if err := toolReg.Register(e); err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}

	transports := transport.NewRegistry(logger)
	t.Cleanup(transports.CloseAll)

	srv, err := NewServer(Config{
		Handlers:      handler.NewRegistry(logger),
		Transports:    transports,
		Providers:     providers,
		Tools:         toolReg,
		Logger:        logger,
		ServerName:    "carrel-test",
		ServerVersion: "0.0.1",
		Instructions:  "query records with records_query",
		PageSize:      10,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, transports
}

func dispatch(t *testing.T, s *Server, connID string, id int, method string, params string) *jsonrpc.Response {
	t.Helper()
	req := &jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
	}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return s.handlers.Dispatch(context.Background(), connID, req)
}

func resultMap(t *testing.T, resp *jsonrpc.Response) map[string]any {
	t.Helper()
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return m
}

func TestInitialize(t *testing.T) {
	t.Run("supported version", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := dispatch(t, srv, "c1", 1, MethodInitialize,
			`{"protocolVersion":"2025-11-25","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}`)

		result := resultMap(t, resp)
		if result["protocolVersion"] != "2025-11-25" {
			t.Errorf("expected negotiated version echoed, got %v", result["protocolVersion"])
		}
		caps, ok := result["capabilities"].(map[string]any)
		if !ok {
			t.Fatal("capabilities missing")
		}
		for _, want := range []string{"tools", "resources", "logging"} {
			if _, ok := caps[want]; !ok {
				t.Errorf("capability %s not declared", want)
			}
		}
		if result["instructions"] != "query records with records_query" {
			t.Errorf("instructions not returned: %v", result["instructions"])
		}

		sess, ok := srv.Session("c1")
		if !ok {
			t.Fatal("session not created")
		}
		if sess.State() != StateInitializing {
			t.Errorf("expected initializing, got %s", sess.State())
		}
	})

	t.Run("capabilities independent of client", func(t *testing.T) {
		srv, _ := newTestServer(t)
		bare := dispatch(t, srv, "c1", 1, MethodInitialize,
			`{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"a","version":"1"}}`)
		rich := dispatch(t, srv, "c2", 1, MethodInitialize,
			`{"protocolVersion":"2025-03-26","capabilities":{"roots":{"listChanged":true},"sampling":{}},"clientInfo":{"name":"b","version":"1"}}`)

		bareCaps, _ := json.Marshal(resultMap(t, bare)["capabilities"])
		richCaps, _ := json.Marshal(resultMap(t, rich)["capabilities"])
		if string(bareCaps) != string(richCaps) {
			t.Errorf("server capabilities varied with client capabilities: %s vs %s", bareCaps, richCaps)
		}
	})

	t.Run("unsupported version", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := dispatch(t, srv, "c1", 7, MethodInitialize,
			`{"protocolVersion":"1999-01-01","capabilities":{},"clientInfo":{"name":"old","version":"0"}}`)

		if resp.Error == nil {
			t.Fatal("expected an error response")
		}
		if resp.Error.Code != jsonrpc.CodeInitializationFailed {
			t.Errorf("expected code %d, got %d", jsonrpc.CodeInitializationFailed, resp.Error.Code)
		}
		data, ok := resp.Error.Data.(map[string]any)
		if !ok {
			t.Fatal("expected supported versions in error data")
		}
		if _, ok := data["supported"]; !ok {
			t.Error("error data missing supported version list")
		}
		if string(resp.ID) != "7" {
			t.Errorf("id not echoed: %s", resp.ID)
		}

		if sess, ok := srv.Session("c1"); ok && sess.State() != StateUninitialized {
			t.Errorf("session should stay uninitialized, got %s", sess.State())
		}
	})

	t.Run("initialized confirms", func(t *testing.T) {
		srv, _ := newTestServer(t)
		dispatch(t, srv, "c1", 1, MethodInitialize,
			`{"protocolVersion":"2025-11-25","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}`)

		note := &jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: MethodNotifInitialized}
		if resp := srv.handlers.Dispatch(context.Background(), "c1", note); resp != nil {
			t.Error("notification should not produce a response")
		}

		sess, _ := srv.Session("c1")
		if sess.State() != StateInitialized {
			t.Errorf("expected initialized, got %s", sess.State())
		}
	})

	t.Run("requests allowed before handshake", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := dispatch(t, srv, "cold", 1, MethodToolsList, `{}`)
		if resp.Error != nil {
			t.Errorf("pre-handshake request should succeed, got %v", resp.Error)
		}
	})
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := dispatch(t, srv, "c1", 3, MethodPing, "")
	if resp.Error != nil {
		t.Fatalf("ping failed: %v", resp.Error)
	}
	if string(resp.ID) != "3" {
		t.Errorf("id not echoed: %s", resp.ID)
	}
}

func TestMethodNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := dispatch(t, srv, "c1", 9, "prompts/list", `{}`)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp)
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	srv, _ := newTestServer(t)
	err := srv.handlers.Register(MethodToolsList, srv.handleToolsList)
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer(t)
	result := resultMap(t, dispatch(t, srv, "c1", 1, MethodToolsList, `{}`))

	toolList, ok := result["tools"].([]any)
	if !ok || len(toolList) == 0 {
		t.Fatalf("expected a non-empty tools array, got %v", result["tools"])
	}
	if _, ok := result["nextCursor"]; ok {
		t.Error("single page should not carry a nextCursor")
	}

	names := make(map[string]bool)
	for _, item := range toolList {
		def := item.(map[string]any)
		names[def["name"].(string)] = true
		if _, ok := def["inputSchema"]; !ok {
			t.Errorf("tool %v missing inputSchema", def["name"])
		}
	}
	if !names["records_query"] || !names["records_get"] {
		t.Errorf("built-in tools missing from listing: %v", names)
	}
}

func TestToolsListPagination(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.pageSize = 2

	first := resultMap(t, dispatch(t, srv, "c1", 1, MethodToolsList, `{}`))
	cursor, ok := first["nextCursor"].(string)
	if !ok || cursor == "" {
		t.Fatal("expected a nextCursor on the first page")
	}
	if n := len(first["tools"].([]any)); n != 2 {
		t.Fatalf("expected 2 tools on first page, got %d", n)
	}

	second := resultMap(t, dispatch(t, srv, "c1", 2, MethodToolsList,
		fmt.Sprintf(`{"cursor":%q}`, cursor)))
	if n := len(second["tools"].([]any)); n != 2 {
		t.Fatalf("expected 2 tools on second page, got %d", n)
	}
	if _, ok := second["nextCursor"]; ok {
		t.Error("final page should not carry a nextCursor")
	}

	resp := dispatch(t, srv, "c1", 3, MethodToolsList, `{"cursor":"not base64!"}`)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidParams {
		t.Errorf("invalid cursor should yield invalid params, got %+v", resp)
	}
}

func TestToolsCall(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv, _ := newTestServer(t)
		result := resultMap(t, dispatch(t, srv, "c1", 1, MethodToolsCall,
			`{"name":"records_get","arguments":{"source":"notes","id":"n1"}}`))

		content := result["content"].([]any)
		text := content[0].(map[string]any)["text"].(string)
		if !strings.Contains(text, "hello") {
			t.Errorf("expected record content in result, got %s", text)
		}
		if result["isError"] != nil {
			t.Error("success should not set isError")
		}
	})

	t.Run("tool-level failure is in-band", func(t *testing.T) {
		srv, _ := newTestServer(t)
		result := resultMap(t, dispatch(t, srv, "c1", 1, MethodToolsCall,
			`{"name":"records_get","arguments":{"source":"notes","id":"missing"}}`))

		if result["isError"] != true {
			t.Fatalf("expected isError true, got %v", result["isError"])
		}
		content := result["content"].([]any)
		text := content[0].(map[string]any)["text"].(string)
		if !strings.Contains(text, "does not exist") {
			t.Errorf("expected the tool's message, got %s", text)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := dispatch(t, srv, "c1", 1, MethodToolsCall, `{"name":"nope"}`)
		if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidParams {
			t.Fatalf("expected invalid params, got %+v", resp)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := dispatch(t, srv, "c1", 1, MethodToolsCall, `{}`)
		if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidParams {
			t.Fatalf("expected invalid params, got %+v", resp)
		}
	})
}

func TestResourcesList(t *testing.T) {
	srv, _ := newTestServer(t)
	result := resultMap(t, dispatch(t, srv, "c1", 1, MethodResourcesList, `{}`))

	resources := result["resources"].([]any)
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	first := resources[0].(map[string]any)
	if !strings.HasPrefix(first["uri"].(string), "carrel://notes/") {
		t.Errorf("unexpected resource uri %v", first["uri"])
	}
}

func TestResourceTemplatesList(t *testing.T) {
	srv, _ := newTestServer(t)
	result := resultMap(t, dispatch(t, srv, "c1", 1, MethodResourceTemplatesList, `{}`))

	templates := result["resourceTemplates"].([]any)
	if len(templates) != 1 {
		t.Fatalf("expected 1 template, got %d", len(templates))
	}
	tpl := templates[0].(map[string]any)
	if tpl["uriTemplate"] != "carrel://notes/{record_id}" {
		t.Errorf("unexpected template %v", tpl["uriTemplate"])
	}
}

func TestResourcesRead(t *testing.T) {
	t.Run("text record", func(t *testing.T) {
		srv, _ := newTestServer(t)
		result := resultMap(t, dispatch(t, srv, "c1", 1, MethodResourcesRead,
			`{"uri":"carrel://notes/n1"}`))

		contents := result["contents"].([]any)
		item := contents[0].(map[string]any)
		if item["text"] != "hello" || item["uri"] != "carrel://notes/n1" {
			t.Errorf("unexpected contents %v", item)
		}
	})

	t.Run("rendered html variant", func(t *testing.T) {
		srv, _ := newTestServer(t)
		result := resultMap(t, dispatch(t, srv, "c1", 1, MethodResourcesRead,
			`{"uri":"carrel://notes/n2"}`))

		contents := result["contents"].([]any)
		if len(contents) != 2 {
			t.Fatalf("expected text plus html variant, got %d items", len(contents))
		}
		html := contents[1].(map[string]any)
		if html["mimeType"] != "text/html" {
			t.Errorf("second item should be html, got %v", html["mimeType"])
		}
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := dispatch(t, srv, "c1", 2, MethodResourcesRead,
			`{"uri":"scheme://unknown/path"}`)

		if resp.Error == nil {
			t.Fatal("expected an error response")
		}
		if resp.Error.Code != jsonrpc.CodeResourceNotFound {
			t.Errorf("expected code %d, got %d", jsonrpc.CodeResourceNotFound, resp.Error.Code)
		}
		if !strings.Contains(resp.Error.Message, "Unsupported URI scheme") {
			t.Errorf("message should name the scheme problem, got %q", resp.Error.Message)
		}
		if string(resp.ID) != "2" {
			t.Errorf("id not echoed: %s", resp.ID)
		}
	})

	t.Run("unknown record", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := dispatch(t, srv, "c1", 1, MethodResourcesRead,
			`{"uri":"carrel://notes/absent"}`)
		if resp.Error == nil || resp.Error.Code != jsonrpc.CodeResourceNotFound {
			t.Fatalf("expected resource-not-found, got %+v", resp)
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := dispatch(t, srv, "c1", 1, MethodResourcesRead,
			`{"uri":"carrel://ghosts/g1"}`)
		if resp.Error == nil || resp.Error.Code != jsonrpc.CodeResourceNotFound {
			t.Fatalf("expected resource-not-found, got %+v", resp)
		}
	})
}

func TestSubscriptions(t *testing.T) {
	srv, transports := newTestServer(t)

	tr := newFakeTransport("c1")
	if err := transports.Add(tr); err != nil {
		t.Fatalf("add transport: %v", err)
	}

	resp := dispatch(t, srv, "c1", 1, MethodResourcesSubscribe, `{"uri":"carrel://notes/n1"}`)
	if resp.Error != nil {
		t.Fatalf("subscribe failed: %v", resp.Error)
	}
	// Subscribing twice is a no-op.
	if resp := dispatch(t, srv, "c1", 2, MethodResourcesSubscribe, `{"uri":"carrel://notes/n1"}`); resp.Error != nil {
		t.Fatalf("re-subscribe failed: %v", resp.Error)
	}

	srv.ResourceUpdated(context.Background(), "notes", "n1")
	if got := tr.sentCount(); got != 1 {
		t.Fatalf("expected 1 update notification, got %d", got)
	}

	// A change to an unsubscribed record is silent.
	srv.ResourceUpdated(context.Background(), "notes", "n2")
	if got := tr.sentCount(); got != 1 {
		t.Fatalf("unsubscribed update should not notify, got %d sends", got)
	}

	if resp := dispatch(t, srv, "c1", 3, MethodResourcesUnsubscribe, `{"uri":"carrel://notes/n1"}`); resp.Error != nil {
		t.Fatalf("unsubscribe failed: %v", resp.Error)
	}
	srv.ResourceUpdated(context.Background(), "notes", "n1")
	if got := tr.sentCount(); got != 1 {
		t.Fatalf("post-unsubscribe update should not notify, got %d sends", got)
	}

	t.Run("bad scheme rejected", func(t *testing.T) {
		resp := dispatch(t, srv, "c1", 4, MethodResourcesSubscribe, `{"uri":"file:///etc/passwd"}`)
		if resp.Error == nil || resp.Error.Code != jsonrpc.CodeResourceNotFound {
			t.Fatalf("expected resource-not-found, got %+v", resp)
		}
	})
}

func TestProgressNotifications(t *testing.T) {
	srv, transports := newTestServer(t)

	tr := newFakeTransport("c1")
	if err := transports.Add(tr); err != nil {
		t.Fatalf("add transport: %v", err)
	}

	resp := dispatch(t, srv, "c1", 1, MethodToolsCall,
		`{"name":"stepper","arguments":{},"progressToken":"tok-1"}`)
	if resp.Error != nil {
		t.Fatalf("call failed: %v", resp.Error)
	}
	if got := tr.sentCount(); got != 2 {
		t.Errorf("expected 2 progress notifications, got %d", got)
	}

	// Without a token, progress goes nowhere.
	tr2 := newFakeTransport("c2")
	if err := transports.Add(tr2); err != nil {
		t.Fatalf("add transport: %v", err)
	}
	if resp := dispatch(t, srv, "c2", 1, MethodToolsCall, `{"name":"stepper","arguments":{}}`); resp.Error != nil {
		t.Fatalf("call failed: %v", resp.Error)
	}
	if got := tr2.sentCount(); got != 0 {
		t.Errorf("expected no progress without a token, got %d", got)
	}
}

func TestLoggingSetLevel(t *testing.T) {
	srv, transports := newTestServer(t)

	tr := newFakeTransport("c1")
	if err := transports.Add(tr); err != nil {
		t.Fatalf("add transport: %v", err)
	}

	resp := dispatch(t, srv, "c1", 1, MethodLoggingSetLevel, `{"level":"warning"}`)
	if resp.Error != nil {
		t.Fatalf("setLevel failed: %v", resp.Error)
	}

	srv.ForwardLog(context.Background(), slog.LevelInfo, "test", "below threshold", nil)
	if got := tr.sentCount(); got != 0 {
		t.Fatalf("info record should not be forwarded at warning level, got %d", got)
	}
	srv.ForwardLog(context.Background(), slog.LevelError, "test", "above threshold", nil)
	if got := tr.sentCount(); got != 1 {
		t.Fatalf("error record should be forwarded, got %d", got)
	}

	t.Run("invalid level", func(t *testing.T) {
		resp := dispatch(t, srv, "c1", 2, MethodLoggingSetLevel, `{"level":"loud"}`)
		if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidParams {
			t.Fatalf("expected invalid params, got %+v", resp)
		}
	})

	t.Run("sessions without setLevel hear nothing", func(t *testing.T) {
		tr2 := newFakeTransport("c2")
		if err := transports.Add(tr2); err != nil {
			t.Fatalf("add transport: %v", err)
		}
		dispatch(t, srv, "c2", 1, MethodPing, "")
		srv.ForwardLog(context.Background(), slog.LevelError, "test", "noise", nil)
		if got := tr2.sentCount(); got != 0 {
			t.Errorf("session that never called setLevel got %d notifications", got)
		}
	})
}

// TestEngineEndToEnd runs the full loop: messages arrive through a
// transport, the engine dispatches them, and responses come back on
// the same transport, possibly out of order.
func TestEngineEndToEnd(t *testing.T) {
	srv, transports := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Run(ctx)
	}()

	tr := newFakeTransport("c1")
	if err := transports.Add(tr); err != nil {
		t.Fatalf("add transport: %v", err)
	}

	// Request A sleeps; request B is immediate. B should finish first,
	// and each response must carry its own request's id.
	tr.events <- transport.Event{Kind: transport.EventMessage,
		Payload: []byte(`{"jsonrpc":"2.0","id":100,"method":"tools/call","params":{"name":"sleep","arguments":{"millis":150}}}`)}
	tr.events <- transport.Event{Kind: transport.EventMessage,
		Payload: []byte(`{"jsonrpc":"2.0","id":200,"method":"tools/call","params":{"name":"sleep","arguments":{"millis":1}}}`)}

	first := tr.waitSent(t, 1)[0]
	second := tr.waitSent(t, 2)[1]

	firstResp := first.(*jsonrpc.Response)
	secondResp := second.(*jsonrpc.Response)
	if string(firstResp.ID) != "200" {
		t.Errorf("fast request should respond first, got id %s", firstResp.ID)
	}
	if string(secondResp.ID) != "100" {
		t.Errorf("slow request should respond second, got id %s", secondResp.ID)
	}

	// A malformed-but-identifiable request gets an error response.
	tr.events <- transport.Event{Kind: transport.EventMessage,
		Payload: []byte(`{"jsonrpc":"1.0","id":300,"method":"ping"}`)}
	third := tr.waitSent(t, 3)[2].(*jsonrpc.Response)
	if third.Error == nil || third.Error.Code != jsonrpc.CodeInvalidRequest {
		t.Errorf("expected invalid request, got %+v", third)
	}
	if string(third.ID) != "300" {
		t.Errorf("error response should echo id, got %s", third.ID)
	}

	// Closing the transport ends the session.
	tr.Close()
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := srv.Session("c1"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("session not removed after transport close")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	wg.Wait()
}
