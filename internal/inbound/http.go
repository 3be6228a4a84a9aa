package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/1mcp/gateway/internal/filter"
	"github.com/1mcp/gateway/pkg/log"
)

// sessionIDHeader is the streamable-HTTP session id header (spec §6).
const sessionIDHeader = "mcp-session-id"

// MessageHandler processes one raw inbound JSON-RPC message for a session
// and returns the raw JSON-RPC response (empty for notifications). It is
// supplied by the caller wiring this multiplexer to the dispatcher/
// aggregator; this package only owns transport plumbing, session
// lifecycle, and filter/auth attachment (C7), not MCP message semantics.
type MessageHandler func(ctx context.Context, sess *Session, raw []byte) ([]byte, error)

// Authenticator validates a bearer token and returns the resulting
// AuthContext. A nil Authenticator means auth is disabled.
type Authenticator func(r *http.Request) (AuthContext, error)

// HealthSnapshot reports per-outbound connection status for /healthz.
type HealthSnapshot func() (status map[string]string, healthy bool)

// PresetResolver resolves a named preset (query parameter `preset=<name>`,
// spec §4.6/§6) into its filter context.
type PresetResolver func(name string) (filter.Context, error)

// Multiplexer is the HTTP-facing half of C7: streamable HTTP (/mcp) and SSE
// (/sse, /messages), plus /healthz. stdio is handled separately (one
// process-wide session, no HTTP) in RunStdio.
type Multiplexer struct {
	Sessions *Manager
	Handler  MessageHandler
	Auth     Authenticator
	Health   HealthSnapshot
	Preset   PresetResolver // optional; nil disables the `preset` query parameter

	sseStreams sync.Map // session id -> chan []byte, for /sse event delivery
}

// resolveFilter builds the session's filter context from the request's
// query parameters: a named `preset` is mutually exclusive with `tags`/
// `tag-filter` (spec §4.6 lists all three as alternative selectors).
func (m *Multiplexer) resolveFilter(q url.Values) (filter.Context, error) {
	name := q.Get("preset")
	if name == "" {
		return filter.ParseQuery(q)
	}
	if q.Get("tags") != "" || q.Get("tag-filter") != "" {
		return filter.Context{}, fmt.Errorf("preset is mutually exclusive with tags/tag-filter")
	}
	if m.Preset == nil {
		return filter.Context{}, fmt.Errorf("named presets are not configured")
	}
	return m.Preset(name)
}

// paginationDefault parses the `pagination` query parameter (spec §6);
// absent or unparseable defaults to enabled.
func paginationDefault(q url.Values) bool {
	v := q.Get("pagination")
	if v == "" {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

// Mux builds the http.Handler per spec §4.7 and §6, grounded on the
// teacher's originSecurityHandler/healthHandler ServeMux layout.
func (m *Multiplexer) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.handleHealthz)
	mux.Handle("/mcp", m.originSecurity(m.authenticate(http.HandlerFunc(m.handleStreamableHTTP))))
	mux.Handle("/sse", m.originSecurity(m.authenticate(http.HandlerFunc(m.handleSSEStream))))
	mux.Handle("/messages", m.originSecurity(m.authenticate(http.HandlerFunc(m.handleSSEMessage))))
	return mux
}

func (m *Multiplexer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status, healthy := m.Health()
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"outbound": status})
}

// handleStreamableHTTP implements spec §4.7's streamable-HTTP contract:
// POST carries one message and allocates a session on first call; GET opens
// the session's event stream; DELETE closes it.
func (m *Multiplexer) handleStreamableHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		m.handlePost(w, r)
	case http.MethodGet:
		m.handleStream(w, r)
	case http.MethodDelete:
		m.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *Multiplexer) handlePost(w http.ResponseWriter, r *http.Request) {
	sessID := r.Header.Get(sessionIDHeader)
	sess, ok := m.Sessions.Get(sessID)
	if !ok {
		fctx, err := m.resolveFilter(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		auth, err := m.authContext(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid_token", err.Error())
			return
		}
		fctx, err = m.applyGrant(fctx, auth, w)
		if err != nil {
			return
		}
		sess, _ = m.Sessions.Create(r.Context(), TransportStreamableHTTP, fctx, auth, nil)
		sess.SetDeliver(m.deliverFunc(sess.ID))
		sess.Paginated = paginationDefault(r.URL.Query())
		w.Header().Set(sessionIDHeader, sess.ID)
	}

	body, err := readAll(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := m.Handler(r.Context(), sess, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set(sessionIDHeader, sess.ID)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func (m *Multiplexer) handleStream(w http.ResponseWriter, r *http.Request) {
	sessID := r.Header.Get(sessionIDHeader)
	sess, ok := m.Sessions.Get(sessID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	streamEvents(w, r, sess, &m.sseStreams)
}

func (m *Multiplexer) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessID := r.Header.Get(sessionIDHeader)
	if sessID != "" {
		m.Sessions.Remove(sessID)
		m.sseStreams.Delete(sessID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSSEStream implements the legacy SSE transport: GET /sse opens a
// stream and returns the server-generated session id in the initial event.
func (m *Multiplexer) handleSSEStream(w http.ResponseWriter, r *http.Request) {
	fctx, err := m.resolveFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	auth, err := m.authContext(r)
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}
	fctx, err = m.applyGrant(fctx, auth, w)
	if err != nil {
		return
	}
	sess, _ := m.Sessions.Create(r.Context(), TransportSSE, fctx, auth, nil)
	sess.SetDeliver(m.deliverFunc(sess.ID))
	sess.Paginated = paginationDefault(r.URL.Query())
	streamEvents(w, r, sess, &m.sseStreams, fmt.Sprintf("event: endpoint\ndata: /messages?sessionId=%s\n\n", sess.ID))
}

func (m *Multiplexer) handleSSEMessage(w http.ResponseWriter, r *http.Request) {
	sessID := r.URL.Query().Get("sessionId")
	sess, ok := m.Sessions.Get(sessID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	body, err := readAll(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := m.Handler(r.Context(), sess, body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (m *Multiplexer) authContext(r *http.Request) (AuthContext, error) {
	if m.Auth == nil {
		return AuthContext{Enabled: false}, nil
	}
	return m.Auth(r)
}

// applyGrant narrows fctx by the session's granted tags when auth is
// enabled, answering 403 insufficient_scope per spec §4.6 when the request
// names a tag outside the grant.
func (m *Multiplexer) applyGrant(fctx filter.Context, auth AuthContext, w http.ResponseWriter) (filter.Context, error) {
	if !auth.Enabled {
		return fctx, nil
	}
	if !fctx.RequestedTagsWithinGrant(auth.GrantedTags) {
		writeAuthError(w, http.StatusForbidden, "insufficient_scope", "requested tag(s) fall outside the granted scope")
		return fctx, fmt.Errorf("insufficient_scope")
	}
	return fctx.IntersectGrant(auth.GrantedTags), nil
}

// writeAuthError writes the OAuth-shaped JSON error envelope spec §4.8/§6
// require on 401/403 responses ({"error", "error_description"} with
// application/json), mirroring oauthserver's writeOAuthError so every
// bearer-auth failure in the gateway speaks the same wire format whether it
// originates from C7 or C8.
func writeAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": description})
}

// deliverFunc returns the Session.deliver callback for an HTTP/SSE session:
// it marshals the notification (if not already raw JSON bytes) and pushes it
// onto that session's event-stream channel in m.sseStreams. The channel only
// exists while a GET /mcp or GET /sse stream is connected for this session
// id; delivery before the stream connects, or after it disconnects, is
// reported as an error rather than silently dropped.
func (m *Multiplexer) deliverFunc(sessionID string) func(ctx context.Context, notification any) error {
	return func(ctx context.Context, notification any) error {
		raw, ok := notification.([]byte)
		if !ok {
			b, err := json.Marshal(notification)
			if err != nil {
				return fmt.Errorf("inbound: marshal notification for session %s: %w", sessionID, err)
			}
			raw = b
		}
		v, ok := m.sseStreams.Load(sessionID)
		if !ok {
			log.Warnf("inbound: no active stream for session %s, dropping notification", sessionID)
			return fmt.Errorf("inbound: no active stream for session %s", sessionID)
		}
		ch := v.(chan []byte)
		select {
		case ch <- raw:
			return nil
		default:
			log.Warnf("inbound: stream backpressure for session %s, dropping notification", sessionID)
			return fmt.Errorf("inbound: stream backpressure for session %s", sessionID)
		}
	}
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

// originSecurity rejects cross-origin browser requests per spec's DNS
// rebinding protection, grounded on the teacher's originSecurityHandler
// (pkg/gateway/transport.go), skipped in a container environment.
func (m *Multiplexer) originSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if os.Getenv("ONE_MCP_IN_CONTAINER") == "1" {
			next.ServeHTTP(w, r)
			return
		}
		origin := r.Header.Get("Origin")
		if origin != "" && !isAllowedOrigin(origin) {
			http.Error(w, "Forbidden: Invalid Origin header", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Multiplexer) authenticate(next http.Handler) http.Handler {
	return next // auth is resolved per-handler via authContext/applyGrant, which also needs query-derived filter context
}

func isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func streamEvents(w http.ResponseWriter, r *http.Request, sess *Session, registry *sync.Map, preamble ...string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan []byte, 16)
	registry.Store(sess.ID, ch)
	defer registry.Delete(sess.ID)

	for _, p := range preamble {
		_, _ = w.Write([]byte(p))
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
