// ABOUTME: Parameter decoding helpers shared by method handlers.
// ABOUTME: Collects every violation so clients see all problems at once.

package handler

import (
	"encoding/json"
	"fmt"

	"github.com/carrelhq/carrel/internal/jsonrpc"
)

// UnmarshalParams decodes raw params into dst. Absent params decode as
// an empty object so handlers with all-optional parameters need no
// special case. A type mismatch comes back as an invalid-params error.
func UnmarshalParams(params json.RawMessage, dst any) *jsonrpc.Error {
	if len(params) == 0 {
		params = []byte("{}")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return jsonrpc.NewInvalidParams("invalid parameters", []string{err.Error()})
	}
	return nil
}

// Violations accumulates parameter problems. Handlers add one entry
// per failed check and convert the lot into a single invalid-params
// error, so a client fixing its request sees every problem in one
// round trip.
type Violations struct {
	list []string
}

// Addf records one violation.
func (v *Violations) Addf(format string, args ...any) {
	v.list = append(v.list, fmt.Sprintf(format, args...))
}

// Empty reports whether any violations were recorded.
func (v *Violations) Empty() bool {
	return len(v.list) == 0
}

// Err returns an invalid-params error carrying the collected
// violations, or nil when there are none.
func (v *Violations) Err() *jsonrpc.Error {
	if v.Empty() {
		return nil
	}
	return jsonrpc.NewInvalidParams("invalid parameters", v.list)
}
