// ABOUTME: Connection registry that fans every transport's events into one stream.
// ABOUTME: Owns broadcast, targeted send lookup, and coordinated shutdown.

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ConnEvent is a transport event tagged with the connection it came
// from. The dispatcher consumes these in arrival order per connection.
type ConnEvent struct {
	ConnID string
	Event  Event
}

type registration struct {
	transport Transport
	stop      chan struct{}
}

// Registry tracks live transports and merges their event channels into
// a single stream. Each transport gets one pump goroutine, so the
// per-connection ordering of the source channel is preserved.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*registration
	closed  bool

	events chan ConnEvent
	pumps  sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		entries: make(map[string]*registration),
		events:  make(chan ConnEvent, 256),
	}
}

// Events returns the merged event stream. The channel is closed by
// CloseAll.
func (r *Registry) Events() <-chan ConnEvent {
	return r.events
}

// Add registers a transport and starts pumping its events. Adding a
// connection id that is already present fails.
func (r *Registry) Add(t Transport) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, exists := r.entries[t.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransportExists, t.ID())
	}
	reg := &registration{
		transport: t,
		stop:      make(chan struct{}),
	}
	r.entries[t.ID()] = reg
	total := len(r.entries)
	r.mu.Unlock()

	r.pumps.Add(1)
	go r.pump(reg)

	r.logger.Info("=== CLIENT CONNECTED ===",
		"conn_id", t.ID(),
		"total_connections", total)
	return nil
}

// pump forwards one transport's events onto the merged stream. A close
// event removes the entry from the registry before it is re-emitted, so
// consumers never see events for a connection the registry still counts.
func (r *Registry) pump(reg *registration) {
	defer r.pumps.Done()
	id := reg.transport.ID()

	for {
		var ev Event
		var ok bool
		select {
		case <-reg.stop:
			return
		case ev, ok = <-reg.transport.Events():
			if !ok {
				// The transport shut down without a deliverable close
				// event (full buffer); drop the entry anyway.
				r.detach(id)
				return
			}
		}

		if ev.Kind == EventClose {
			r.detach(id)
		}

		select {
		case r.events <- ConnEvent{ConnID: id, Event: ev}:
		case <-reg.stop:
			return
		}

		if ev.Kind == EventClose {
			return
		}
	}
}

// detach deletes an entry without touching its pump. Used by the pump
// itself on a close event; Remove additionally stops the pump.
func (r *Registry) detach(id string) bool {
	r.mu.Lock()
	_, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	total := len(r.entries)
	r.mu.Unlock()

	r.logger.Info("Client disconnected",
		"conn_id", id,
		"total_connections", total)
	return true
}

// Remove detaches a transport from the registry without closing it.
// It reports whether the id was present; removing an unknown id is a
// no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	reg, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	total := len(r.entries)
	r.mu.Unlock()

	close(reg.stop)
	r.logger.Info("Client disconnected",
		"conn_id", id,
		"total_connections", total)
	return true
}

// Get returns the transport for a connection id.
func (r *Registry) Get(id string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return reg.transport, true
}

// ActiveCount reports how many registered transports are currently in
// the open state. It exists for health reporting, not for dispatch
// decisions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, reg := range r.entries {
		if reg.transport.Connected() {
			count++
		}
	}
	return count
}

// Broadcast sends v to every registered transport concurrently and
// waits for all sends to settle. Individual failures are logged and do
// not stop delivery to the rest. It returns the number of successful
// deliveries.
func (r *Registry) Broadcast(ctx context.Context, v any) int {
	r.mu.RLock()
	targets := make([]Transport, 0, len(r.entries))
	for _, reg := range r.entries {
		targets = append(targets, reg.transport)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	var countMu sync.Mutex
	delivered := 0

	for _, t := range targets {
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			if err := t.Send(ctx, v); err != nil {
				r.logger.Warn("broadcast delivery failed",
					"conn_id", t.ID(),
					"error", err)
				return
			}
			countMu.Lock()
			delivered++
			countMu.Unlock()
		}(t)
	}
	wg.Wait()
	return delivered
}

// CloseAll shuts down every transport concurrently, waits for all of
// them, clears the registry, and closes the merged event stream. The
// registry cannot be reused afterwards.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	regs := make([]*registration, 0, len(r.entries))
	for _, reg := range r.entries {
		regs = append(regs, reg)
	}
	r.entries = make(map[string]*registration)
	r.mu.Unlock()

	for _, reg := range regs {
		close(reg.stop)
	}
	r.pumps.Wait()

	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			if err := t.Close(); err != nil {
				r.logger.Warn("transport close failed",
					"conn_id", t.ID(),
					"error", err)
			}
		}(reg.transport)
	}
	wg.Wait()

	close(r.events)
	r.logger.Info("All transports closed", "count", len(regs))
}
