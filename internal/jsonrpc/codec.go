// ABOUTME: Decodes raw transport bytes into validated Request values.
// ABOUTME: Distinguishes unparseable JSON from well-formed but invalid requests.

package jsonrpc

import "encoding/json"

// Decode parses a single JSON-RPC message. Malformed JSON yields a
// parse error; structurally valid JSON that breaks the request
// invariants (wrong version tag, missing method) yields an invalid
// request error. The returned request is never partially valid.
func Decode(data []byte) (*Request, *Error) {
	if !json.Valid(data) {
		return nil, NewParseError("request body is not valid JSON")
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		// Valid JSON of the wrong shape, e.g. an array or a string
		// where an object is required.
		return nil, NewInvalidRequest(err.Error())
	}

	if req.JSONRPC != Version {
		return nil, NewInvalidRequest("jsonrpc field must be \"2.0\"")
	}
	if req.Method == "" {
		return nil, NewInvalidRequest("method field must be a non-empty string")
	}

	return &req, nil
}

// ExtractID pulls the id out of a raw message without full decoding.
// It is used to correlate error responses for requests that failed
// validation after the id was already readable.
func ExtractID(data []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil
	}
	if string(probe.ID) == "null" {
		return nil
	}
	return probe.ID
}
