// ABOUTME: Catalog-defined tools written as JavaScript snippets.
// ABOUTME: Each call gets a fresh interpreter with record access bindings.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/carrelhq/carrel/internal/provider"
)

const defaultScriptTimeout = 10 * time.Second

// ScriptTool executes a JavaScript snippet. The script sees its call
// arguments as `args`, can read records through `queryRecords` and
// `getRecord`, report progress with `progress`, and log with `log`.
// Its return value becomes the tool result.
type ScriptTool struct {
	def     Definition
	script  string
	timeout time.Duration
	fetcher RecordFetcher
	logger  *slog.Logger
}

// NewScriptTool builds a script tool. A zero timeout falls back to the
// default; an empty schema advertises a plain object.
func NewScriptTool(name, description string, schema json.RawMessage, script string, timeout time.Duration, fetcher RecordFetcher, logger *slog.Logger) *ScriptTool {
	if logger == nil {
		logger = slog.Default()
	}
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	return &ScriptTool{
		def: Definition{
			Name:        name,
			Description: description,
			InputSchema: schema,
		},
		script:  script,
		timeout: timeout,
		fetcher: fetcher,
		logger:  logger,
	}
}

func (t *ScriptTool) Definition() Definition {
	return t.def
}

func (t *ScriptTool) Execute(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// Runtimes are not safe for concurrent use, so every call builds
	// its own.
	vm := goja.New()

	var argsVal any = map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsVal); err != nil {
			return "", Execf("invalid arguments: %v", err)
		}
	}
	vm.Set("args", argsVal)
	vm.Set("log", func(msg string) {
		t.logger.Info("script output", "tool", t.def.Name, "message", msg)
	})
	vm.Set("progress", func(p, total float64) {
		if progress != nil {
			progress(p, total)
		}
	})
	vm.Set("queryRecords", func(source string, opts map[string]any) (any, error) {
		q, err := queryFromOpts(opts)
		if err != nil {
			return nil, err
		}
		records, err := t.fetcher.FetchRecords(execCtx, source, q)
		if err != nil {
			return nil, err
		}
		return toScriptValue(records)
	})
	vm.Set("getRecord", func(source, id string) (any, error) {
		rec, err := t.fetcher.FetchRecord(execCtx, source, id)
		if err != nil {
			return nil, err
		}
		return toScriptValue(struct {
			URI string `json:"uri"`
			*provider.Record
		}{URI: rec.URI(), Record: rec})
	})

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-execCtx.Done():
			vm.Interrupt("interrupted")
		case <-watchdogDone:
		}
	}()

	wrapped := fmt.Sprintf("(function() {\n%s\n})()", t.script)
	value, err := vm.RunString(wrapped)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause := execCtx.Err(); cause != nil {
				return "", fmt.Errorf("script %s interrupted: %w", t.def.Name, cause)
			}
			return "", fmt.Errorf("script %s interrupted", t.def.Name)
		}
		var ex *goja.Exception
		if errors.As(err, &ex) {
			// The script threw; that is the tool's own failure and
			// goes back in-band.
			return "", &ExecError{Message: ex.Error()}
		}
		return "", fmt.Errorf("script %s failed to run: %w", t.def.Name, err)
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", nil
	}
	exported := value.Export()
	if s, ok := exported.(string); ok {
		return s, nil
	}
	out, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal script result: %w", err)
	}
	return string(out), nil
}

// queryFromOpts converts the loose options object a script passes into
// a typed query.
func queryFromOpts(opts map[string]any) (provider.Query, error) {
	if len(opts) == 0 {
		return provider.Query{}, nil
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return provider.Query{}, fmt.Errorf("invalid query options: %w", err)
	}
	var q struct {
		Filters []provider.Filter `json:"filters"`
		Sort    *provider.Sort    `json:"sort"`
		Limit   int               `json:"limit"`
	}
	if err := json.Unmarshal(raw, &q); err != nil {
		return provider.Query{}, fmt.Errorf("invalid query options: %w", err)
	}
	return provider.Query{Filters: q.Filters, Sort: q.Sort, Limit: q.Limit}, nil
}

// toScriptValue converts a Go value into plain maps and slices so the
// script sees ordinary JavaScript objects.
func toScriptValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
