// ABOUTME: Tool definitions, the executor contract, and the tool registry.
// ABOUTME: Separates tool-reported failures from infrastructure failures.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	// ErrToolNotFound is returned when a call names an unregistered
	// tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolCollision is returned when two tools claim the same name.
	ErrToolCollision = errors.New("tool name collision")
)

// Definition describes a tool to clients. InputSchema is a JSON
// Schema document kept raw so it round-trips untouched.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ProgressFunc reports intermediate progress during a call. Total may
// be zero when the amount of work is unknown up front.
type ProgressFunc func(progress, total float64)

// ExecError is a failure produced by the tool's own logic, as opposed
// to the machinery running it. These surface to clients inside the
// call result rather than as protocol errors, so a model can read the
// message and try again.
type ExecError struct {
	Message string
}

func (e *ExecError) Error() string {
	return e.Message
}

// Execf builds an ExecError.
func Execf(format string, args ...any) *ExecError {
	return &ExecError{Message: fmt.Sprintf(format, args...)}
}

// Executor is one runnable tool.
type Executor interface {
	// Definition returns the advertised tool description.
	Definition() Definition

	// Execute runs the tool. The returned string is the textual
	// result. Returning *ExecError reports a tool-level failure;
	// any other error means the machinery failed.
	Execute(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error)
}

// Registry holds the live tool set. Like the provider registry it is
// replaced wholesale on catalog reload.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]Executor
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		tools:  make(map[string]Executor),
	}
}

// Register adds a tool, refusing name collisions.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := e.Definition().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolCollision, name)
	}
	r.tools[name] = e
	r.logger.Debug("tool registered", "tool", name)
	return nil
}

// Get returns the executor for a tool name.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// Definitions lists every tool sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SwapAll replaces the whole tool set atomically. On a collision the
// existing set is left untouched.
func (r *Registry) SwapAll(execs []Executor) error {
	next := make(map[string]Executor, len(execs))
	for _, e := range execs {
		name := e.Definition().Name
		if _, exists := next[name]; exists {
			return fmt.Errorf("%w: %s", ErrToolCollision, name)
		}
		next[name] = e
	}

	r.mu.Lock()
	r.tools = next
	r.mu.Unlock()
	return nil
}
