// ABOUTME: Transport abstraction shared by the stdio and websocket implementations.
// ABOUTME: Defines the event stream contract and the connection state machine.

package transport

import (
	"context"
	"errors"
)

// MaxMessageSize caps a single inbound message at 1MB.
const MaxMessageSize = 1 << 20

var (
	// ErrNotConnected is returned by Send when the transport has been
	// closed or never finished connecting.
	ErrNotConnected = errors.New("transport not connected")

	// ErrTransportExists is returned when registering a connection id
	// that is already present in the registry.
	ErrTransportExists = errors.New("transport already registered")

	// ErrRegistryClosed is returned when adding to a registry that has
	// already been shut down.
	ErrRegistryClosed = errors.New("transport registry closed")
)

// State tracks the connection lifecycle. A transport moves from
// StateConnecting to StateOpen, then through StateClosing to
// StateClosed on a deliberate shutdown, or straight from StateOpen to
// StateClosed when the peer disappears.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind discriminates the values delivered on a transport's event
// channel.
type EventKind int

const (
	// EventMessage carries one complete inbound message payload.
	EventMessage EventKind = iota

	// EventError reports a recoverable fault, such as a malformed
	// line. The connection stays up after an error event.
	EventError

	// EventClose is the final event a transport emits. It is sent
	// exactly once, after which the event channel is closed.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is a single occurrence on a connection. Payload is set for
// message events and, where useful for diagnostics, for error events.
type Event struct {
	Kind    EventKind
	Payload []byte
	Err     error
}

// Transport is one bidirectional peer connection. Implementations own
// their event channel: events arrive in the order the peer sent them,
// and the channel is closed after the close event.
type Transport interface {
	// ID returns the stable connection identifier.
	ID() string

	// Send marshals v and writes it to the peer. It fails with
	// ErrNotConnected once the transport has left the open state.
	Send(ctx context.Context, v any) error

	// Events returns the inbound event stream.
	Events() <-chan Event

	// Close shuts the transport down. It is idempotent: the first call
	// triggers a single close event, later calls do nothing.
	Close() error

	// Connected reports whether the transport is in the open state.
	Connected() bool

	// State returns the current lifecycle state.
	State() State
}
