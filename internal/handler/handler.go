// ABOUTME: Method registry and the request pipeline that runs handlers.
// ABOUTME: Converts handler outcomes into protocol responses, containing panics.

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/carrelhq/carrel/internal/jsonrpc"
)

// ErrMethodAlreadyRegistered is returned when two handlers claim the
// same method name. Registration collisions are a wiring bug, so
// callers treat this as fatal at startup.
var ErrMethodAlreadyRegistered = errors.New("method already registered")

// Func handles one request. It receives the connection id so it can
// consult per-session state, and the raw params for its own decoding.
// Returning a *jsonrpc.Error produces that exact protocol error; any
// other error is reported to the client as a bare internal error.
type Func func(ctx context.Context, connID string, params json.RawMessage) (any, error)

// Registry maps method names to handlers and runs the dispatch
// pipeline. A request passes through four stages: envelope validation
// (done by the codec before dispatch), parameter validation (inside
// each handler), execution, and response shaping (here).
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Func
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		handlers: make(map[string]Func),
	}
}

// Register binds a handler to a method name. Registering a name twice
// fails.
func (r *Registry) Register(method string, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[method]; exists {
		return fmt.Errorf("%w: %s", ErrMethodAlreadyRegistered, method)
	}
	r.handlers[method] = fn
	return nil
}

// Unregister removes a method binding and reports whether it existed.
func (r *Registry) Unregister(method string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[method]; !exists {
		return false
	}
	delete(r.handlers, method)
	return true
}

// Clear removes every binding and returns how many were removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.handlers)
	r.handlers = make(map[string]Func)
	return n
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Lookup returns the handler for a method.
func (r *Registry) Lookup(method string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[method]
	return fn, ok
}

// Dispatch runs a decoded request through the pipeline and returns the
// response to send, or nil when the request was a notification.
// Dispatch never panics: an unknown method becomes a method-not-found
// response, a handler panic becomes an internal error response.
func (r *Registry) Dispatch(ctx context.Context, connID string, req *jsonrpc.Request) *jsonrpc.Response {
	fn, ok := r.Lookup(req.Method)
	if !ok {
		if req.IsNotification() {
			r.logger.Debug("ignoring notification for unknown method",
				"conn_id", connID,
				"method", req.Method)
			return nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewMethodNotFound(req.Method))
	}

	result, err := r.invoke(ctx, connID, req, fn)

	if req.IsNotification() {
		if err != nil {
			r.logger.Warn("notification handler failed",
				"conn_id", connID,
				"method", req.Method,
				"error", err)
		}
		return nil
	}

	if err != nil {
		rpcErr := jsonrpc.AsError(err)
		if rpcErr.Code == jsonrpc.CodeInternalError {
			r.logger.Error("handler failed",
				"conn_id", connID,
				"method", req.Method,
				"error", err)
		}
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}
	return jsonrpc.NewResult(req.ID, result)
}

// invoke runs the handler with panic containment so one bad handler
// cannot take down the dispatch loop.
func (r *Registry) invoke(ctx context.Context, connID string, req *jsonrpc.Request, fn Func) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked",
				"conn_id", connID,
				"method", req.Method,
				"panic", rec)
			result = nil
			err = jsonrpc.NewInternalError()
		}
	}()
	return fn(ctx, connID, req.Params)
}
