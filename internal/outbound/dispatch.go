package outbound

import (
	"context"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1mcp/gateway/internal/dispatcher"
	"github.com/1mcp/gateway/internal/filter"
	"github.com/1mcp/gateway/pkg/mcperrors"
)

// clientAdapter adapts a connected Record's live mcp.ClientSession to
// dispatcher.Outbound. This is the one place the dispatcher's hand-defined
// interfaces meet the go-sdk's concrete wire types (spec §4.5; the seam the
// dispatcher package's doc comment calls out).
type clientAdapter struct {
	rec *Record
}

func (a *clientAdapter) Name() string { return a.rec.Name }

func (a *clientAdapter) session() (*mcp.ClientSession, error) {
	s := a.rec.Session()
	if s == nil {
		return nil, mcperrors.ClientConnectionError(a.rec.Name, "not connected")
	}
	return s, nil
}

func (a *clientAdapter) CallTool(ctx context.Context, innerName string, args map[string]any) (any, error) {
	s, err := a.session()
	if err != nil {
		return nil, err
	}
	return s.CallTool(ctx, &mcp.CallToolParams{Name: innerName, Arguments: args})
}

func (a *clientAdapter) ReadResource(ctx context.Context, innerURI string) (any, error) {
	s, err := a.session()
	if err != nil {
		return nil, err
	}
	return s.ReadResource(ctx, &mcp.ReadResourceParams{URI: innerURI})
}

func (a *clientAdapter) GetPrompt(ctx context.Context, innerName string, args map[string]any) (any, error) {
	s, err := a.session()
	if err != nil {
		return nil, err
	}
	return s.GetPrompt(ctx, &mcp.GetPromptParams{Name: innerName, Arguments: stringifyArgs(args)})
}

func (a *clientAdapter) Subscribe(ctx context.Context, innerURI string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	return s.Subscribe(ctx, &mcp.SubscribeParams{URI: innerURI})
}

func (a *clientAdapter) Unsubscribe(ctx context.Context, innerURI string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	return s.Unsubscribe(ctx, &mcp.UnsubscribeParams{URI: innerURI})
}

func (a *clientAdapter) SetLoggingLevel(ctx context.Context, level string) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	return s.SetLoggingLevel(ctx, &mcp.SetLoggingLevelParams{Level: mcp.LoggingLevel(level)})
}

// SupportsCategory reports whether this outbound's initialize handshake
// advertised the given capability category.
func (a *clientAdapter) SupportsCategory(category dispatcher.Category) bool {
	s := a.rec.Session()
	if s == nil {
		return false
	}
	info := s.InitializeResult()
	if info == nil || info.Capabilities == nil {
		return false
	}
	switch category {
	case dispatcher.CategoryTools:
		return info.Capabilities.Tools != nil
	case dispatcher.CategoryResources, dispatcher.CategoryResourceTemplates:
		return info.Capabilities.Resources != nil
	case dispatcher.CategoryPrompts:
		return info.Capabilities.Prompts != nil
	default:
		return false
	}
}

// Notify forwards a client-originated notification to the outbound server.
// Only the handful of methods the go-sdk's ClientSession exposes a typed
// call for are actually relayed; anything else is dropped without an
// error, matching the spec's "forward best-effort" semantics for
// notifications this proxy cannot represent one-for-one.
func (a *clientAdapter) Notify(ctx context.Context, method string, params any) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	switch method {
	case "notifications/roots/list_changed":
		return s.RootsListChanged(ctx)
	default:
		return nil
	}
}

func (a *clientAdapter) ListTools(ctx context.Context, nativeCursor string) (dispatcher.Page, error) {
	s, err := a.session()
	if err != nil {
		return dispatcher.Page{}, err
	}
	res, err := s.ListTools(ctx, &mcp.ListToolsParams{Cursor: nativeCursor})
	if err != nil {
		return dispatcher.Page{}, err
	}
	items := make([]dispatcher.Item, len(res.Tools))
	for i, tool := range res.Tools {
		tool := tool
		items[i] = dispatcher.Item{
			InnerID: tool.Name,
			Rewrite: func(id string) any {
				copied := *tool
				copied.Name = id
				return &copied
			},
		}
	}
	return dispatcher.Page{Items: items, NextCursor: res.NextCursor}, nil
}

func (a *clientAdapter) ListResources(ctx context.Context, nativeCursor string) (dispatcher.Page, error) {
	s, err := a.session()
	if err != nil {
		return dispatcher.Page{}, err
	}
	res, err := s.ListResources(ctx, &mcp.ListResourcesParams{Cursor: nativeCursor})
	if err != nil {
		return dispatcher.Page{}, err
	}
	items := make([]dispatcher.Item, len(res.Resources))
	for i, r := range res.Resources {
		r := r
		items[i] = dispatcher.Item{
			InnerID: r.URI,
			Rewrite: func(id string) any {
				copied := *r
				copied.URI = id
				return &copied
			},
		}
	}
	return dispatcher.Page{Items: items, NextCursor: res.NextCursor}, nil
}

func (a *clientAdapter) ListPrompts(ctx context.Context, nativeCursor string) (dispatcher.Page, error) {
	s, err := a.session()
	if err != nil {
		return dispatcher.Page{}, err
	}
	res, err := s.ListPrompts(ctx, &mcp.ListPromptsParams{Cursor: nativeCursor})
	if err != nil {
		return dispatcher.Page{}, err
	}
	items := make([]dispatcher.Item, len(res.Prompts))
	for i, p := range res.Prompts {
		p := p
		items[i] = dispatcher.Item{
			InnerID: p.Name,
			Rewrite: func(id string) any {
				copied := *p
				copied.Name = id
				return &copied
			},
		}
	}
	return dispatcher.Page{Items: items, NextCursor: res.NextCursor}, nil
}

func (a *clientAdapter) ListResourceTemplates(ctx context.Context, nativeCursor string) (dispatcher.Page, error) {
	s, err := a.session()
	if err != nil {
		return dispatcher.Page{}, err
	}
	res, err := s.ListResourceTemplates(ctx, &mcp.ListResourceTemplatesParams{Cursor: nativeCursor})
	if err != nil {
		return dispatcher.Page{}, err
	}
	items := make([]dispatcher.Item, len(res.ResourceTemplates))
	for i, rt := range res.ResourceTemplates {
		rt := rt
		items[i] = dispatcher.Item{
			InnerID: rt.URITemplate,
			Rewrite: func(id string) any {
				copied := *rt
				copied.URITemplate = id
				return &copied
			},
		}
	}
	return dispatcher.Page{Items: items, NextCursor: res.NextCursor}, nil
}

// stringifyArgs converts tools/call-shaped arguments to the string-valued
// map prompts/get expects.
func stringifyArgs(args map[string]any) map[string]string {
	if args == nil {
		return nil
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// FilteredRegistry adapts a Manager plus one request's filter context to
// dispatcher.Registry. It is built fresh per inbound request (cheap: a
// snapshot copy and a sort), so the dispatcher itself stays stateless
// besides its retry policy and telemetry handle.
type FilteredRegistry struct {
	snapshot map[string]Record
	fctx     filter.Context
}

// NewFilteredRegistry snapshots manager and binds it to fctx for the
// lifetime of one dispatch call.
func NewFilteredRegistry(manager *Manager, fctx filter.Context) *FilteredRegistry {
	return &FilteredRegistry{snapshot: manager.Snapshot(), fctx: fctx}
}

func (r *FilteredRegistry) Get(name string) (dispatcher.Outbound, bool) {
	rec, ok := r.snapshot[name]
	if !ok || rec.Status != StatusConnected {
		return nil, false
	}
	recCopy := rec
	return &clientAdapter{rec: &recCopy}, true
}

// FilteredNames returns the Connected, filter-admitted subset of the
// snapshot in deterministic (alphabetical, matching catalog order) name
// order.
func (r *FilteredRegistry) FilteredNames() []string {
	names := make([]string, 0, len(r.snapshot))
	for name := range r.snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		rec := r.snapshot[name]
		if rec.Status != StatusConnected {
			continue
		}
		if rec.Entry != nil && !r.fctx.Admits(rec.Entry.Tags) {
			continue
		}
		out = append(out, name)
	}
	return out
}
