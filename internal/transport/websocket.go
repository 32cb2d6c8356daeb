// ABOUTME: WebSocket transport carrying one JSON message per frame.
// ABOUTME: Wraps an accepted or dialed conn; malformed frames do not kill the stream.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/net/websocket"
)

// WebSocketTransport adapts a websocket connection to the Transport
// interface. Each text frame holds exactly one JSON message. The same
// type serves both sides: the gateway wraps accepted conns and the
// probe client wraps dialed ones.
type WebSocketTransport struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	events   chan Event
	done     chan struct{}
	finished chan struct{}

	writeMu sync.Mutex

	mu    sync.Mutex
	state State
}

// NewWebSocketTransport wraps an established conn and starts the read
// loop. The caller keeps ownership of nothing: Close tears the conn
// down.
func NewWebSocketTransport(id string, conn *websocket.Conn, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	conn.MaxPayloadBytes = MaxMessageSize
	t := &WebSocketTransport{
		id:       id,
		conn:     conn,
		logger:   logger,
		events:   make(chan Event, 32),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		state:    StateOpen,
	}
	go t.readLoop()
	return t
}

func (t *WebSocketTransport) ID() string {
	return t.id
}

func (t *WebSocketTransport) Events() <-chan Event {
	return t.events
}

func (t *WebSocketTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WebSocketTransport) Connected() bool {
	return t.State() == StateOpen
}

// Done is closed once the transport has fully shut down. The gateway
// handler blocks on it because returning from a websocket handler
// closes the underlying conn.
func (t *WebSocketTransport) Done() <-chan struct{} {
	return t.finished
}

// Send writes v as a single text frame.
func (t *WebSocketTransport) Send(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.Connected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := websocket.Message.Send(t.conn, string(data)); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Close requests shutdown and closes the conn to unblock the read
// loop. Repeated calls are no-ops.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.state == StateClosing || t.state == StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosing
	t.mu.Unlock()

	close(t.done)
	t.conn.Close()
	return nil
}

func (t *WebSocketTransport) readLoop() {
	failures := 0
	for {
		var data []byte
		if err := websocket.Message.Receive(t.conn, &data); err != nil {
			select {
			case <-t.done:
				t.finish(nil)
			default:
				if errors.Is(err, io.EOF) {
					err = nil
				}
				t.finish(err)
			}
			return
		}

		payload := bytes.TrimSpace(data)
		if len(payload) == 0 {
			continue
		}

		if !json.Valid(payload) {
			failures++
			t.logger.Warn("dropping malformed frame",
				"conn_id", t.id,
				"bytes", len(payload),
				"consecutive_failures", failures)
			if !t.emit(Event{Kind: EventError, Payload: payload, Err: fmt.Errorf("malformed message: not valid JSON")}) {
				// Close was requested mid-emit; still run the full
				// shutdown so Done closes and the state reaches closed.
				t.finish(nil)
				return
			}
			if failures >= maxDecodeFailures {
				t.logger.Error("too many consecutive malformed frames, dropping connection", "conn_id", t.id)
				t.conn.Close()
				t.finish(fmt.Errorf("%d consecutive malformed frames", failures))
				return
			}
			continue
		}

		failures = 0
		if !t.emit(Event{Kind: EventMessage, Payload: payload}) {
			t.finish(nil)
			return
		}
	}
}

func (t *WebSocketTransport) emit(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	}
}

func (t *WebSocketTransport) finish(cause error) {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = StateClosed
	t.mu.Unlock()

	ev := Event{Kind: EventClose, Err: cause}
	select {
	case t.events <- ev:
	default:
	}
	close(t.events)
	close(t.finished)
}
