// ABOUTME: Per-connection session state: handshake progress and subscriptions.
// ABOUTME: Sessions are created on initialize and die with their connection.

package mcp

import (
	"log/slog"
	"sync"
	"time"
)

// HandshakeState tracks where a connection is in the initialize
// exchange. There is no transition out of StateInitialized and no
// re-initialization.
type HandshakeState int

const (
	StateUninitialized HandshakeState = iota
	StateInitializing
	StateInitialized
)

func (s HandshakeState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// Session is the negotiated state of one connection. Requests are not
// gated on handshake completion: a client that calls tools/list before
// sending the initialized notification still gets an answer.
type Session struct {
	mu sync.Mutex

	connID          string
	state           HandshakeState
	protocolVersion string
	clientInfo      Implementation
	clientCaps      ClientCapabilities
	subscriptions   map[string]bool
	logLevel        slog.Level
	logForwarding   bool
	createdAt       time.Time
}

func newSession(connID string) *Session {
	return &Session{
		connID:        connID,
		state:         StateUninitialized,
		subscriptions: make(map[string]bool),
		logLevel:      slog.LevelInfo,
		createdAt:     time.Now(),
	}
}

// State returns the current handshake state.
func (s *Session) State() HandshakeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProtocolVersion returns the negotiated version, empty before a
// successful initialize.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// ClientInfo returns the identity the client declared.
func (s *Session) ClientInfo() Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// beginInitialize records a successful initialize exchange.
func (s *Session) beginInitialize(version string, info Implementation, caps ClientCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateInitializing
	s.protocolVersion = version
	s.clientInfo = info
	s.clientCaps = caps
}

// confirmInitialized marks the handshake complete. Arriving in any
// state is tolerated; the notification is a confirmation barrier, not
// a gate.
func (s *Session) confirmInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateInitialized
}

// Subscribe adds a URI to the session's watch set. Re-subscribing is a
// no-op.
func (s *Session) Subscribe(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[uri] = true
}

// Unsubscribe removes a URI; unknown URIs are ignored.
func (s *Session) Unsubscribe(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, uri)
}

// SubscribedTo reports whether the session watches uri.
func (s *Session) SubscribedTo(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[uri]
}

// SetLogLevel stores the minimum level for forwarded log messages and
// switches forwarding on.
func (s *Session) SetLogLevel(level slog.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLevel = level
	s.logForwarding = true
}

// wantsLog reports whether a record at level should be forwarded.
func (s *Session) wantsLog(level slog.Level) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logForwarding && level >= s.logLevel
}

// sessionStore holds the live sessions keyed by connection id.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*Session)}
}

// getOrCreate returns the session for connID, creating it on first
// touch. Creation on first message rather than on initialize keeps the
// no-gate policy simple: every request has a session to consult.
func (s *sessionStore) getOrCreate(connID string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[connID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[connID]; ok {
		return sess
	}
	sess = newSession(connID)
	s.sessions[connID] = sess
	return sess
}

func (s *sessionStore) get(connID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[connID]
	return sess, ok
}

func (s *sessionStore) delete(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connID)
}

// subscribersOf returns the connection ids subscribed to uri.
func (s *sessionStore) subscribersOf(uri string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.SubscribedTo(uri) {
			ids = append(ids, id)
		}
	}
	return ids
}

// logTargets returns the connection ids that want records at level.
func (s *sessionStore) logTargets(level slog.Level) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.wantsLog(level) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
