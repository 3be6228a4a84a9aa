// Package outbound implements the transport factory (C2) and the outbound
// connection manager (C3): building MCP client transports from catalog
// entries, connecting with retry/backoff, detecting self-loops, and
// reconciling the live connection set against catalog changes.
package outbound

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1mcp/gateway/internal/catalog"
	"github.com/1mcp/gateway/pkg/mcperrors"
)

// headerRoundTripper attaches a fixed header set to every outbound HTTP
// request, used by the http/sse transports to carry the catalog entry's
// configured headers.
type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	base := h.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// BuildTransport constructs the mcp.Transport for a catalog entry, per its
// Kind. Errors are wrapped as TransportError.
func BuildTransport(e *catalog.Entry) (mcp.Transport, error) {
	switch e.Type {
	case catalog.KindStdio:
		return buildStdioTransport(e)
	case catalog.KindHTTP:
		return buildHTTPTransport(e)
	case catalog.KindSSE:
		return buildSSETransport(e)
	default:
		return nil, mcperrors.TransportError(e.Name, fmt.Errorf("unknown transport kind %q", e.Type))
	}
}

func buildStdioTransport(e *catalog.Entry) (mcp.Transport, error) {
	cmd := exec.Command(e.Command, e.Args...)
	if e.Cwd != "" {
		cmd.Dir = e.Cwd
	}
	// Merge, don't replace: the child sees the parent environment plus the
	// catalog entry's overrides (SPEC_FULL.md §5 C2 expansion — consistent
	// with ${VAR} substitution implying the parent env stays visible).
	cmd.Env = os.Environ()
	for k, v := range e.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func buildHTTPTransport(e *catalog.Entry) (mcp.Transport, error) {
	if e.URL == "" {
		return nil, mcperrors.TransportError(e.Name, fmt.Errorf("http entry missing url"))
	}
	httpClient := &http.Client{
		Timeout:   timeoutFor(e),
		Transport: &headerRoundTripper{headers: e.Headers},
	}
	return mcp.NewStreamableClientTransport(e.URL, &mcp.StreamableClientTransportOptions{
		HTTPClient: httpClient,
	}), nil
}

func buildSSETransport(e *catalog.Entry) (mcp.Transport, error) {
	if e.URL == "" {
		return nil, mcperrors.TransportError(e.Name, fmt.Errorf("sse entry missing url"))
	}
	httpClient := &http.Client{
		Timeout:   timeoutFor(e),
		Transport: &headerRoundTripper{headers: e.Headers},
	}
	return mcp.NewSSEClientTransport(e.URL, &mcp.SSEClientTransportOptions{
		HTTPClient: httpClient,
	}), nil
}

func timeoutFor(e *catalog.Entry) time.Duration {
	if e.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.TimeoutMS) * time.Millisecond
}
