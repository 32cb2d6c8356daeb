// ABOUTME: In-memory transport stub for engine tests.
// ABOUTME: Records sent messages and lets tests inject inbound events.

package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/carrelhq/carrel/internal/transport"
)

type fakeTransport struct {
	id     string
	events chan transport.Event

	mu     sync.Mutex
	sent   []any
	closed bool
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{
		id:     id,
		events: make(chan transport.Event, 16),
	}
}

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Send(ctx context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.events <- transport.Event{Kind: transport.EventClose}
	close(f.events)
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) State() transport.State {
	if f.Connected() {
		return transport.StateOpen
	}
	return transport.StateClosed
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// waitSent blocks until at least n messages have been sent and returns
// a snapshot of them.
func (f *fakeTransport) waitSent(t *testing.T, n int) []any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		if len(f.sent) >= n {
			out := make([]any, len(f.sent))
			copy(out, f.sent)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sent messages, have %d", n, f.sentCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
