// ABOUTME: Tests for JSON-RPC decoding, the notification rule, and error coercion.
// ABOUTME: Covers the parse-error versus invalid-request boundary cases.

package jsonrpc

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeValidRequest(t *testing.T) {
	req, rpcErr := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if rpcErr != nil {
		t.Fatalf("Decode failed: %v", rpcErr)
	}
	if req.Method != "ping" {
		t.Errorf("expected method ping, got %q", req.Method)
	}
	if string(req.ID) != "1" {
		t.Errorf("expected raw id 1, got %q", string(req.ID))
	}
	if req.IsNotification() {
		t.Error("request with id should not be a notification")
	}
}

func TestDecodePreservesRawParams(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":"abc","method":"tools/call","params":{"name":"t","arguments":{"x":1}}}`
	req, rpcErr := Decode([]byte(body))
	if rpcErr != nil {
		t.Fatalf("Decode failed: %v", rpcErr)
	}
	if string(req.ID) != `"abc"` {
		t.Errorf("string id should keep quotes, got %q", string(req.ID))
	}
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("params did not round-trip: %v", err)
	}
	if params.Name != "t" {
		t.Errorf("expected tool name t, got %q", params.Name)
	}
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"absent id", `{"jsonrpc":"2.0","method":"notifications/initialized"}`},
		{"null id", `{"jsonrpc":"2.0","id":null,"method":"notifications/initialized"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rpcErr := Decode([]byte(tt.body))
			if rpcErr != nil {
				t.Fatalf("Decode failed: %v", rpcErr)
			}
			if !req.IsNotification() {
				t.Error("expected notification")
			}
		})
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"truncated object", `{"jsonrpc":"2.0","method":`},
		{"bare text", `not json at all`},
		{"empty input", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rpcErr := Decode([]byte(tt.body))
			if rpcErr == nil {
				t.Fatal("expected parse error")
			}
			if rpcErr.Code != CodeParseError {
				t.Errorf("expected code %d, got %d", CodeParseError, rpcErr.Code)
			}
		})
	}
}

func TestDecodeInvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`},
		{"missing version", `{"id":1,"method":"ping"}`},
		{"missing method", `{"jsonrpc":"2.0","id":1}`},
		{"empty method", `{"jsonrpc":"2.0","id":1,"method":""}`},
		{"method not a string", `{"jsonrpc":"2.0","id":1,"method":42}`},
		{"array payload", `[1,2,3]`},
		{"string payload", `"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rpcErr := Decode([]byte(tt.body))
			if rpcErr == nil {
				t.Fatal("expected invalid request error")
			}
			if rpcErr.Code != CodeInvalidRequest {
				t.Errorf("expected code %d, got %d", CodeInvalidRequest, rpcErr.Code)
			}
		})
	}
}

func TestResponseMarshalsNullID(t *testing.T) {
	resp := NewErrorResponse(nil, NewInvalidRequest("bad shape"))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"id":null`) {
		t.Errorf("nil id should marshal as null, got %s", data)
	}
}

func TestResponseEchoesRequestID(t *testing.T) {
	req, _ := Decode([]byte(`{"jsonrpc":"2.0","id":"req-7","method":"ping"}`))
	resp := NewResult(req.ID, map[string]any{})
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"id":"req-7"`) {
		t.Errorf("response should echo id verbatim, got %s", data)
	}
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"numeric id", `{"jsonrpc":"2.0","id":42,"method":"x"}`, "42"},
		{"string id", `{"id":"a1"}`, `"a1"`},
		{"null id", `{"id":null,"method":"x"}`, ""},
		{"no id", `{"method":"x"}`, ""},
		{"not an object", `[1]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractID([]byte(tt.body))
			if string(got) != tt.want {
				t.Errorf("expected %q, got %q", tt.want, string(got))
			}
		})
	}
}

func TestAsErrorPassesTypedErrors(t *testing.T) {
	original := NewResourceNotFound("no such record")
	coerced := AsError(original)
	if coerced != original {
		t.Error("typed error should pass through unchanged")
	}
	if coerced.Code != CodeResourceNotFound {
		t.Errorf("expected code %d, got %d", CodeResourceNotFound, coerced.Code)
	}
}

func TestAsErrorCoercesUnknownErrors(t *testing.T) {
	coerced := AsError(errors.New("pq: connection refused on 10.0.0.5"))
	if coerced.Code != CodeInternalError {
		t.Errorf("expected code %d, got %d", CodeInternalError, coerced.Code)
	}
	if strings.Contains(coerced.Message, "10.0.0.5") {
		t.Error("internal detail must not leak into the message")
	}
	if coerced.Data != nil {
		t.Error("coerced internal error must not carry data")
	}
}

func TestAsErrorNil(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("nil error should coerce to nil")
	}
}

func TestInvalidParamsCarriesViolations(t *testing.T) {
	rpcErr := NewInvalidParams("invalid parameters", []string{"name: required", "limit: must be positive"})
	data, err := json.Marshal(rpcErr)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, want := range []string{"name: required", "limit: must be positive"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("violations payload missing %q: %s", want, data)
		}
	}
}

func TestInitializationFailedCarriesSupportedVersions(t *testing.T) {
	rpcErr := NewInitializationFailed("1999-01-01", []string{"2025-03-26", "2025-11-25"})
	data, err := json.Marshal(rpcErr)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), "2025-03-26") || !strings.Contains(string(data), "2025-11-25") {
		t.Errorf("supported versions missing from data: %s", data)
	}
	if !strings.Contains(string(data), "1999-01-01") {
		t.Errorf("requested version missing from message: %s", data)
	}
}
