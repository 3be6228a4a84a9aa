// Package inbound implements the inbound transport multiplexer (C7): it
// accepts stdio / streamable-HTTP / SSE inbound sessions, attaches a
// per-session filter and auth context, and manages session lifetime.
package inbound

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1mcp/gateway/internal/filter"
)

// AuthContext carries the OAuth identity bound to a session, if any.
type AuthContext struct {
	Enabled       bool
	ClientID      string
	GrantedScopes []string
	GrantedTags   []string
}

// TransportKind is the inbound transport variant.
type TransportKind int

const (
	TransportStdio TransportKind = iota
	TransportStreamableHTTP
	TransportSSE
)

// Session is one inbound session record (spec §3 "Inbound session record").
// Ownership: exclusively the owning session's task; other components only
// read it through the Manager's accessors.
type Session struct {
	ID        string
	Transport TransportKind
	Filter    filter.Context
	Auth      AuthContext
	CreatedAt time.Time

	// Paginated is this session's default list-pagination mode, set once
	// from the session-creation request's `pagination` query parameter
	// (spec §6); true unless the client explicitly opts out.
	Paginated bool

	mu     sync.Mutex
	cancel context.CancelFunc
	deliver func(ctx context.Context, notification any) error
}

func (s *Session) Admits(serverName string, serverTags []string) bool {
	return s.Filter.Admits(serverTags)
}

// SetDeliver installs (or replaces) the transport-level delivery function
// after construction — needed by HTTP/SSE sessions, whose event-stream
// channel isn't allocated until the session id is already known (see
// Multiplexer.deliverFunc).
func (s *Session) SetDeliver(fn func(ctx context.Context, notification any) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = fn
}

// Deliver sends a server-originated notification/message to this session's
// transport. Safe for concurrent use; serialized per session so that a
// single outbound server's emission order is preserved when forwarded.
func (s *Session) Deliver(ctx context.Context, notification any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliver == nil {
		return nil
	}
	return s.deliver(ctx, notification)
}

// Cancel tears down all in-flight work owned by this session (spec §5
// "Cancellation").
func (s *Session) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Manager owns the set of live inbound sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// tagsOf resolves a named outbound server's tag set, from which a
	// session's filter decides whether it admits that server; wired by the
	// caller (cmd/1mcp/commands) against the live catalog snapshot.
	tagsOf func(serverName string) ([]string, bool)

	// onCreate/onRemove let the caller (cmd/1mcp/commands) keep an external
	// registry (the dispatcher's notification hub) in sync with session
	// lifetime without this package depending on dispatcher.
	onCreate func(*Session)
	onRemove func(id string)
}

func NewManager(tagsOf func(serverName string) ([]string, bool)) *Manager {
	return &Manager{sessions: map[string]*Session{}, tagsOf: tagsOf}
}

// SetHooks installs lifecycle callbacks invoked after a session is created
// and before it is removed. Either may be nil.
func (m *Manager) SetHooks(onCreate func(*Session), onRemove func(id string)) {
	m.onCreate = onCreate
	m.onRemove = onRemove
}

// Create allocates a new session id and record. parentCtx is the server
// lifetime context; the returned context is cancelled when the session is
// removed.
func (m *Manager) Create(parentCtx context.Context, kind TransportKind, f filter.Context, auth AuthContext, deliver func(ctx context.Context, notification any) error) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	s := &Session{
		ID:        uuid.NewString(),
		Transport: kind,
		Filter:    f,
		Auth:      auth,
		CreatedAt: time.Now(),
		Paginated: true,
		cancel:    cancel,
		deliver:   deliver,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	if m.onCreate != nil {
		m.onCreate(s)
	}
	return s, ctx
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove cancels and drops a session (spec §4.7 "When a session's transport
// closes, the multiplexer removes it and cancels any in-flight dispatches").
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		if m.onRemove != nil {
			m.onRemove(id)
		}
		s.Cancel()
	}
}

// ID/Admits/Deliver adapt *Session to dispatcher.InboundSink.
func (s *Session) sinkAdmits(serverName string, tagsOf func(string) ([]string, bool)) bool {
	tags, ok := tagsOf(serverName)
	if !ok {
		return false
	}
	return s.Admits(serverName, tags)
}

// Sink returns a dispatcher.InboundSink-shaped adapter for s.
func (m *Manager) Sink(s *Session) sessionSink {
	return sessionSink{session: s, manager: m}
}

type sessionSink struct {
	session *Session
	manager *Manager
}

func (s sessionSink) ID() string { return s.session.ID }
func (s sessionSink) Admits(serverName string) bool {
	return s.session.sinkAdmits(serverName, s.manager.tagsOf)
}
func (s sessionSink) Deliver(ctx context.Context, notification any) error {
	return s.session.Deliver(ctx, notification)
}

// All returns every live session, for listChanged broadcast.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
