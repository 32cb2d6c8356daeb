// ABOUTME: Newline-delimited JSON transport over a reader/writer pair.
// ABOUTME: Tolerates blank and malformed lines; one message per line.

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// maxDecodeFailures is the number of consecutive non-JSON lines
// tolerated before the peer is assumed to not speak the protocol at
// all and the connection is dropped. Any valid line resets the count.
const maxDecodeFailures = 25

// StdioTransport frames messages as newline-delimited JSON over an
// arbitrary reader/writer pair, typically stdin and stdout. Partial
// lines are buffered until the terminating newline arrives. A
// malformed line produces an error event and the connection stays up.
type StdioTransport struct {
	id     string
	r      io.Reader
	w      io.Writer
	logger *slog.Logger

	events   chan Event
	done     chan struct{}
	finished chan struct{}

	writeMu sync.Mutex

	mu    sync.Mutex
	state State
}

// NewStdioTransport wires a transport over r and w and starts the read
// loop. If r implements io.Closer, Close will close it to unblock a
// pending read.
func NewStdioTransport(id string, r io.Reader, w io.Writer, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &StdioTransport{
		id:       id,
		r:        r,
		w:        w,
		logger:   logger,
		events:   make(chan Event, 32),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		state:    StateOpen,
	}
	go t.readLoop()
	return t
}

func (t *StdioTransport) ID() string {
	return t.id
}

func (t *StdioTransport) Events() <-chan Event {
	return t.events
}

func (t *StdioTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *StdioTransport) Connected() bool {
	return t.State() == StateOpen
}

// Done is closed once the transport has fully shut down.
func (t *StdioTransport) Done() <-chan struct{} {
	return t.finished
}

// Send writes v as a single JSON line. Concurrent sends are serialized
// so lines never interleave.
func (t *StdioTransport) Send(ctx context.Context, v any) error {
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
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close requests shutdown. The read loop emits the close event and
// closes the event channel; repeated calls are no-ops.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.state == StateClosing || t.state == StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosing
	t.mu.Unlock()

	close(t.done)
	if c, ok := t.r.(io.Closer); ok {
		c.Close()
	}
	return nil
}

// readLoop is the only writer to the event channel, which keeps the
// close-exactly-once guarantee trivial.
func (t *StdioTransport) readLoop() {
	scanner := bufio.NewScanner(t.r)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)

	failures := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		payload := make([]byte, len(line))
		copy(payload, line)

		if !json.Valid(payload) {
			failures++
			t.logger.Warn("dropping malformed line",
				"conn_id", t.id,
				"bytes", len(payload),
				"consecutive_failures", failures)
			if !t.emit(Event{Kind: EventError, Payload: payload, Err: fmt.Errorf("malformed message: not valid JSON")}) {
				break
			}
			if failures >= maxDecodeFailures {
				t.logger.Error("too many consecutive malformed lines, dropping connection", "conn_id", t.id)
				t.finish(fmt.Errorf("%d consecutive malformed lines", failures))
				return
			}
			continue
		}

		failures = 0
		if !t.emit(Event{Kind: EventMessage, Payload: payload}) {
			break
		}
	}

	cause := scanner.Err()
	select {
	case <-t.done:
		// Deliberate close; the reader error is just the side effect
		// of unblocking the scan.
		cause = nil
	default:
	}
	t.finish(cause)
}

// emit delivers an event unless a close has been requested. It reports
// whether the read loop should keep going.
func (t *StdioTransport) emit(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	}
}

// finish moves the transport to closed, emits the single close event,
// and closes the event channel. Only the read loop calls it.
func (t *StdioTransport) finish(cause error) {
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
		// Nobody is draining and the buffer is full; do not block the
		// shutdown path.
	}
	close(t.events)
	close(t.finished)
}
