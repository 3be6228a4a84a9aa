package inbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp/gateway/internal/filter"
)

func newTestMux() (*Multiplexer, *Manager) {
	mgr := NewManager(func(string) ([]string, bool) { return nil, true })
	mux := &Multiplexer{
		Sessions: mgr,
		Handler: func(ctx context.Context, sess *Session, raw []byte) ([]byte, error) {
			return []byte(`{"ok":true}`), nil
		},
		Health: func() (map[string]string, bool) {
			return map[string]string{"a": "connected"}, true
		},
	}
	return mux, mgr
}

func TestHealthzHealthy(t *testing.T) {
	mux, _ := newTestMux()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthzUnhealthy(t *testing.T) {
	mux, _ := newTestMux()
	mux.Health = func() (map[string]string, bool) { return map[string]string{"a": "error"}, false }
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPostAllocatesSessionAndReturnsHeader(t *testing.T) {
	mux, mgr := newTestMux()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	sessID := w.Header().Get(sessionIDHeader)
	require.NotEmpty(t, sessID)
	_, ok := mgr.Get(sessID)
	assert.True(t, ok)
}

func TestPostReusesExistingSession(t *testing.T) {
	mux, mgr := newTestMux()
	sess, _ := mgr.Create(context.Background(), TransportStreamableHTTP, filter.Context{Mode: filter.ModeNone}, AuthContext{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set(sessionIDHeader, sess.ID)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sess.ID, w.Header().Get(sessionIDHeader))
}

func TestDeleteRemovesSession(t *testing.T) {
	mux, mgr := newTestMux()
	sess, _ := mgr.Create(context.Background(), TransportStreamableHTTP, filter.Context{Mode: filter.ModeNone}, AuthContext{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionIDHeader, sess.ID)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	_, ok := mgr.Get(sess.ID)
	assert.False(t, ok)
}

func TestStreamUnknownSessionNotFound(t *testing.T) {
	mux, _ := newTestMux()
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set(sessionIDHeader, "nope")
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOriginSecurityRejectsUntrustedOrigin(t *testing.T) {
	mux, _ := newTestMux()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOriginSecurityAllowsLocalhost(t *testing.T) {
	mux, _ := newTestMux()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSSEMessageUnknownSession(t *testing.T) {
	mux, _ := newTestMux()
	req := httptest.NewRequest(http.MethodPost, "/messages?sessionId=nope", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthInsufficientScopeRejected(t *testing.T) {
	mux, _ := newTestMux()
	mux.Auth = func(r *http.Request) (AuthContext, error) {
		return AuthContext{Enabled: true, GrantedTags: []string{"alpha"}}, nil
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp?tags=beta", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPostResolvesNamedPreset(t *testing.T) {
	mux, mgr := newTestMux()
	mux.Preset = func(name string) (filter.Context, error) {
		assert.Equal(t, "prod-readonly", name)
		return filter.Context{Mode: filter.ModeSimple, Tags: []string{"prod"}}, nil
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp?preset=prod-readonly", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	sess, ok := mgr.Get(w.Header().Get(sessionIDHeader))
	require.True(t, ok)
	assert.Equal(t, filter.ModeSimple, sess.Filter.Mode)
	assert.Equal(t, []string{"prod"}, sess.Filter.Tags)
}

func TestPostRejectsPresetCombinedWithTags(t *testing.T) {
	mux, _ := newTestMux()
	mux.Preset = func(name string) (filter.Context, error) { return filter.Context{}, nil }
	req := httptest.NewRequest(http.MethodPost, "/mcp?preset=x&tags=a", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostWithoutPresetResolverRejectsPresetParam(t *testing.T) {
	mux, _ := newTestMux()
	req := httptest.NewRequest(http.MethodPost, "/mcp?preset=x", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostPaginationDefaultsTrue(t *testing.T) {
	mux, mgr := newTestMux()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	sess, ok := mgr.Get(w.Header().Get(sessionIDHeader))
	require.True(t, ok)
	assert.True(t, sess.Paginated)
}

func TestPostPaginationFalseDisables(t *testing.T) {
	mux, mgr := newTestMux()
	req := httptest.NewRequest(http.MethodPost, "/mcp?pagination=false", nil)
	w := httptest.NewRecorder()
	mux.Mux().ServeHTTP(w, req)
	sess, ok := mgr.Get(w.Header().Get(sessionIDHeader))
	require.True(t, ok)
	assert.False(t, sess.Paginated)
}

func TestIsAllowedOrigin(t *testing.T) {
	assert.True(t, isAllowedOrigin("http://localhost:3000"))
	assert.True(t, isAllowedOrigin("https://127.0.0.1"))
	assert.False(t, isAllowedOrigin("https://example.com"))
	assert.False(t, isAllowedOrigin("not a url"))
}

