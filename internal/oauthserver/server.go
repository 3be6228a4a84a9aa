package oauthserver

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/1mcp/gateway/pkg/log"
)

// authResult is what Authenticate hands back to the inbound multiplexer; it
// is shaped to plug directly into inbound.AuthContext without this package
// importing internal/inbound (which would create an import cycle, since
// inbound wires an Authenticator supplied by cmd/1mcp/commands).
type authResult struct {
	ClientID    string
	GrantedTags []string
}

// Server is 1mcp's OAuth 2.1 authorization server (C8).
type Server struct {
	issuer string
	store  *Store
	tagsOf func() []string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// Config wires the pieces Server needs from the rest of the gateway.
type Config struct {
	Issuer  string         // public base URL, e.g. "http://localhost:3000"
	Store   *Store
	TagsOf  func() []string // current catalog tag universe, for discovery's scopes_supported
}

func NewServer(cfg Config) *Server {
	return &Server{
		issuer:   strings.TrimRight(cfg.Issuer, "/"),
		store:    cfg.Store,
		tagsOf:   cfg.TagsOf,
		limiters: map[string]*rate.Limiter{},
	}
}

// Mux builds the authorization server's HTTP surface, grounded on the
// teacher's ServeMux-based transport layout.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleAuthServerMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
	mux.Handle("/register", s.rateLimited(http.HandlerFunc(s.handleRegister)))
	mux.Handle("/authorize", s.rateLimited(http.HandlerFunc(s.handleAuthorize)))
	mux.Handle("/token", s.rateLimited(http.HandlerFunc(s.handleToken)))
	mux.Handle("/revoke", s.rateLimited(http.HandlerFunc(s.handleRevoke)))
	return mux
}

// rateLimited enforces 10 requests/minute/IP on the sensitive OAuth
// endpoints (spec C8), grounded on golang.org/x/time/rate's token-bucket
// limiter rather than a hand-rolled counter.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiterFor(ip).Allow() {
			writeOAuthError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Every(6*time.Second), 10)
		s.limiters[ip] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Authenticate validates the bearer token on an inbound HTTP/SSE request's
// Authorization header, returning the client identity and tags its granted
// scopes imply. It is the entry point the inbound multiplexer calls on
// every request when OAuth is enabled.
func (s *Server) Authenticate(r *http.Request) (authResult, error) {
	return s.authenticateHeader(r.Header.Get("Authorization"))
}

func (s *Server) authenticateHeader(header string) (authResult, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return authResult{}, errMissingBearer
	}
	token := strings.TrimPrefix(header, prefix)
	var rec TokenRecord
	found, err := s.store.Get(context.Background(), kindToken, token, &rec)
	if err != nil {
		return authResult{}, err
	}
	if !found {
		return authResult{}, errInvalidToken
	}
	return authResult{ClientID: rec.ClientID, GrantedTags: rec.GrantedTags}, nil
}

// RunSweeper periodically deletes expired records until ctx is cancelled
// (spec C8 "a background sweeper clears expired codes/tokens/requests").
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.store.Sweep()
			if err != nil {
				log.Warnf("oauthserver: sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Debugf("oauthserver: swept %d expired record(s)", n)
			}
		}
	}
}

type authError string

func (e authError) Error() string { return string(e) }

const (
	errMissingBearer = authError("missing bearer token")
	errInvalidToken  = authError("invalid or expired token")
)
