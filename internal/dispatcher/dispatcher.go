// Package dispatcher implements the request dispatcher (C5), the heart of
// the gateway: addressed-request routing via composite ids, list fan-out
// with cross-server cursor pagination, notification forwarding in both
// directions, and logging/sampling routing.
package dispatcher

import (
	"context"
	"time"

	"github.com/1mcp/gateway/pkg/cursor"
	"github.com/1mcp/gateway/pkg/mcperrors"
	"github.com/1mcp/gateway/pkg/retry"
	"github.com/1mcp/gateway/pkg/telemetry"
)

// Outbound is the dispatcher's view of one outbound connection: just
// enough surface to proxy addressed calls and list requests. internal/
// outbound.Record's live mcp.ClientSession is adapted to this interface by
// internal/outbound's clientAdapter (dispatch.go), keeping
// this package testable against fakes with no real MCP server.
type Outbound interface {
	// Name is the outbound server's catalog name.
	Name() string
	// CallTool, ReadResource, GetPrompt, Subscribe, Unsubscribe proxy an
	// addressed request, substituting innerID for the composite id.
	CallTool(ctx context.Context, innerName string, args map[string]any) (any, error)
	ReadResource(ctx context.Context, innerURI string) (any, error)
	GetPrompt(ctx context.Context, innerName string, args map[string]any) (any, error)
	Subscribe(ctx context.Context, innerURI string) error
	Unsubscribe(ctx context.Context, innerURI string) error

	// ListTools, ListResources, ListPrompts, ListResourceTemplates fetch one
	// page from the outbound server's native cursor.
	ListTools(ctx context.Context, nativeCursor string) (Page, error)
	ListResources(ctx context.Context, nativeCursor string) (Page, error)
	ListPrompts(ctx context.Context, nativeCursor string) (Page, error)
	ListResourceTemplates(ctx context.Context, nativeCursor string) (Page, error)

	// SetLoggingLevel proxies the broadcast logging/setLevel request.
	SetLoggingLevel(ctx context.Context, level string) error

	// SupportsCategory reports whether the target currently advertises the
	// given capability category, so an addressed request against a category
	// the target never declared can be refused before ever calling it (spec
	// §4.5(a): "returns CapabilityNotSupported when the target lacks that
	// category").
	SupportsCategory(category Category) bool

	// Notify forwards a client-originated notification (any JSON-RPC method
	// with no response expected) to this outbound server. Best-effort: an
	// outbound server that cannot represent a given notification method
	// drops it rather than failing the whole broadcast.
	Notify(ctx context.Context, method string, params any) error
}

// Page is one page of a list response from a single outbound server.
type Page struct {
	Items      []Item
	NextCursor string // native cursor for the *next* page on this server, "" if none
}

// Item is one list-response element, carrying the raw inner id and a
// Rewrite hook that produces the wire payload with the composite id
// substituted in.
type Item struct {
	InnerID string
	Rewrite func(compositeID string) any
}

// Category selects which of the four list methods / addressed-call kinds a
// request targets.
type Category int

const (
	CategoryTools Category = iota
	CategoryResources
	CategoryPrompts
	CategoryResourceTemplates
)

// String names the category the way it appears in error messages and in
// the MCP method names it's dispatched from.
func (c Category) String() string {
	switch c {
	case CategoryTools:
		return "tools"
	case CategoryResources:
		return "resources"
	case CategoryPrompts:
		return "prompts"
	case CategoryResourceTemplates:
		return "resourceTemplates"
	default:
		return "unknown"
	}
}

// RetryPolicy is the dispatcher's per-request retry configuration (spec
// §4.5): configurable count (default 0) and fixed delay (default 1000ms).
// Retries apply only to non-terminal transport errors.
type RetryPolicy struct {
	Count int
	Delay time.Duration
}

func (p RetryPolicy) toRetryPolicy(retryable func(error) bool) retry.Policy {
	delay := p.Delay
	if delay <= 0 {
		delay = time.Second
	}
	return retry.Policy{Count: p.Count, Delay: delay, Retryable: retryable}
}

// Registry resolves an outbound name to its Outbound adapter and reports
// the deterministic, filtered iteration order for list fan-out.
type Registry interface {
	Get(name string) (Outbound, bool)
	// FilteredNames returns outbound names admitted by the caller's filter
	// context, in deterministic (catalog-key) order.
	FilteredNames() []string
}

// Dispatcher routes inbound MCP requests per spec §4.5.
type Dispatcher struct {
	registry Registry
	tel      *telemetry.Telemetry
	retry    RetryPolicy
}

func New(registry Registry, tel *telemetry.Telemetry, retryPolicy RetryPolicy) *Dispatcher {
	return &Dispatcher{registry: registry, tel: tel, retry: retryPolicy}
}

// retryableTransportError decides whether an error is a non-terminal
// transport error eligible for retry (spec §4.5): anything that is not
// already a classified *mcperrors.MCPError is treated as transport-level
// and retried; a protocol-level MCPError is surfaced unchanged.
func retryableTransportError(err error) bool {
	_, isTyped := err.(*mcperrors.MCPError)
	return !isTyped
}

// runRetried executes op under the dispatcher's retry policy, and on final
// failure wraps a non-MCPError cause as INTERNAL_SERVER_ERROR (spec §4.5
// "After the last attempt...").
func (d *Dispatcher) runRetried(ctx context.Context, serverName string, op func(ctx context.Context) error) error {
	attempts := 0
	err := retry.Run(ctx, d.retry.toRetryPolicy(retryableTransportError), func(ctx context.Context) error {
		if attempts > 0 && d.tel != nil {
			d.tel.DispatchRetries.Add(ctx, 1)
		}
		attempts++
		return op(ctx)
	})
	if err == nil {
		return nil
	}
	return mcperrors.Wrap(err)
}

// DispatchAddressed handles an addressed request (tools/call,
// resources/read, prompts/get, resources/subscribe|unsubscribe): spec
// §4.5(a).
func (d *Dispatcher) DispatchAddressed(ctx context.Context, category Category, compositeID string, args map[string]any) (any, error) {
	name, inner, ok := cursor.ParseURI(compositeID)
	if !ok {
		return nil, mcperrors.InvalidRequestError("addressed id must contain exactly one " + cursor.Sep + " separator")
	}
	ob, found := d.registry.Get(name)
	if !found {
		return nil, mcperrors.ClientNotFoundError(name)
	}
	switch category {
	case CategoryTools, CategoryResources, CategoryPrompts:
		if !ob.SupportsCategory(category) {
			return nil, mcperrors.CapabilityNotSupported(name, category.String())
		}
	}

	var result any
	err := d.runRetried(ctx, name, func(ctx context.Context) error {
		var opErr error
		switch category {
		case CategoryTools:
			result, opErr = ob.CallTool(ctx, inner, args)
		case CategoryResources:
			result, opErr = ob.ReadResource(ctx, inner)
		case CategoryPrompts:
			result, opErr = ob.GetPrompt(ctx, inner, args)
		default:
			opErr = mcperrors.InvalidRequestError("unsupported addressed category")
		}
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DispatchSubscribe and DispatchUnsubscribe are addressed requests with no
// return payload beyond success/failure.
func (d *Dispatcher) DispatchSubscribe(ctx context.Context, compositeID string) error {
	name, inner, ok := cursor.ParseURI(compositeID)
	if !ok {
		return mcperrors.InvalidRequestError("addressed id must contain exactly one " + cursor.Sep + " separator")
	}
	ob, found := d.registry.Get(name)
	if !found {
		return mcperrors.ClientNotFoundError(name)
	}
	return d.runRetried(ctx, name, func(ctx context.Context) error { return ob.Subscribe(ctx, inner) })
}

func (d *Dispatcher) DispatchUnsubscribe(ctx context.Context, compositeID string) error {
	name, inner, ok := cursor.ParseURI(compositeID)
	if !ok {
		return mcperrors.InvalidRequestError("addressed id must contain exactly one " + cursor.Sep + " separator")
	}
	ob, found := d.registry.Get(name)
	if !found {
		return mcperrors.ClientNotFoundError(name)
	}
	return d.runRetried(ctx, name, func(ctx context.Context) error { return ob.Unsubscribe(ctx, inner) })
}

// SetLoggingLevel broadcasts logging/setLevel to every outbound client the
// registry's FilteredNames lists, i.e. the connected clients the session's
// filter admits; connected clients outside that filter are not sent it.
// Per-client failures are collected, not fatal to the others.
func (d *Dispatcher) SetLoggingLevel(ctx context.Context, level string) []error {
	var errs []error
	for _, name := range d.registry.FilteredNames() {
		ob, ok := d.registry.Get(name)
		if !ok {
			continue
		}
		if err := ob.SetLoggingLevel(ctx, level); err != nil {
			errs = append(errs, mcperrors.ClientOperationError(name, err))
		}
	}
	return errs
}
