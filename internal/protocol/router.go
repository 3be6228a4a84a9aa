package protocol

import (
	"context"
	"encoding/json"

	"github.com/1mcp/gateway/internal/aggregator"
	"github.com/1mcp/gateway/internal/dispatcher"
	"github.com/1mcp/gateway/internal/inbound"
	"github.com/1mcp/gateway/internal/outbound"
	"github.com/1mcp/gateway/pkg/log"
	"github.com/1mcp/gateway/pkg/mcperrors"
	"github.com/1mcp/gateway/pkg/telemetry"
)

// Router implements inbound.MessageHandler: one call per raw inbound
// message, building a dispatcher scoped to that session's live, filtered
// outbound set (the dispatcher itself carries no per-session state, so
// this construction is cheap).
type Router struct {
	Outbound *outbound.Manager
	Caps     *aggregator.Publisher
	Hub      *dispatcher.NotificationHub
	Tel      *telemetry.Telemetry
	Retry    dispatcher.RetryPolicy

	ServerName    string
	ServerVersion string
}

// Handle satisfies inbound.MessageHandler.
func (rt *Router) Handle(ctx context.Context, sess *inbound.Session, raw []byte) ([]byte, error) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, mcperrors.InvalidRequestError("malformed JSON-RPC message: " + err.Error())
	}

	registry := outbound.NewFilteredRegistry(rt.Outbound, sess.Filter)
	d := dispatcher.New(registry, rt.Tel, rt.Retry)

	result, err := rt.dispatch(ctx, d, req, sess.Paginated)
	if req.isNotification() {
		// Notifications (including ones the dispatcher rejected) never get a
		// wire response; dispatch()'s own logging already recorded failures.
		return nil, nil
	}
	if err != nil {
		me := mcperrors.Wrap(err)
		return errorResponse(req.ID, int(me.Code), me.Message, me.Data), nil
	}
	return successResponse(req.ID, result), nil
}

func (rt *Router) dispatch(ctx context.Context, d *dispatcher.Dispatcher, req request, paginated bool) (any, error) {
	switch req.Method {
	case "initialize":
		return rt.handleInitialize(), nil

	case "notifications/initialized":
		return nil, nil

	case "tools/list":
		return rt.handleList(ctx, d, dispatcher.CategoryTools, "tools", req.Params, paginated)
	case "resources/list":
		return rt.handleList(ctx, d, dispatcher.CategoryResources, "resources", req.Params, paginated)
	case "prompts/list":
		return rt.handleList(ctx, d, dispatcher.CategoryPrompts, "prompts", req.Params, paginated)
	case "resources/templates/list":
		return rt.handleList(ctx, d, dispatcher.CategoryResourceTemplates, "resourceTemplates", req.Params, paginated)

	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return d.DispatchAddressed(ctx, dispatcher.CategoryTools, p.Name, p.Arguments)

	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return d.DispatchAddressed(ctx, dispatcher.CategoryResources, p.URI, nil)

	case "prompts/get":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return d.DispatchAddressed(ctx, dispatcher.CategoryPrompts, p.Name, p.Arguments)

	case "resources/subscribe":
		var p struct {
			URI string `json:"uri"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return struct{}{}, d.DispatchSubscribe(ctx, p.URI)

	case "resources/unsubscribe":
		var p struct {
			URI string `json:"uri"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return struct{}{}, d.DispatchUnsubscribe(ctx, p.URI)

	case "logging/setLevel":
		var p struct {
			Level string `json:"level"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if errs := d.SetLoggingLevel(ctx, p.Level); len(errs) > 0 {
			return nil, errs[0]
		}
		return struct{}{}, nil

	default:
		if req.isNotification() {
			// Any other client-originated notification is relayed
			// best-effort to the connected outbound clients this session's
			// filter admits; clients outside the filter do not receive it.
			var raw any
			_ = unmarshalParams(req.Params, &raw)
			for _, err := range d.BroadcastToOutbound(ctx, func(ctx context.Context, ob dispatcher.Outbound) error {
				return ob.Notify(ctx, req.Method, raw)
			}) {
				log.Warnf("protocol: forwarding notification %s: %v", req.Method, err)
			}
			return nil, nil
		}
		return nil, mcperrors.InvalidRequestError("unknown method " + req.Method)
	}
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return mcperrors.ValidationError("params", err.Error())
	}
	return nil
}

// handleList runs a fan-out list request, shaped per spec §4.5(b). nextCursor
// is included only when non-empty, matching the teacher's omitempty wire
// convention. paginated is the originating session's default pagination mode
// (spec §6 `pagination` query parameter); a cursor on the request always
// implies paginated mode regardless of that default.
func (rt *Router) handleList(ctx context.Context, d *dispatcher.Dispatcher, category dispatcher.Category, key string, params json.RawMessage, paginated bool) (any, error) {
	var p struct {
		Cursor string `json:"cursor,omitempty"`
	}
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	res, err := d.List(ctx, category, p.Cursor != "" || paginated, p.Cursor)
	if err != nil {
		return nil, err
	}
	out := map[string]any{key: res.Items}
	if res.NextCursor != "" {
		out["nextCursor"] = res.NextCursor
	}
	return out, nil
}

func (rt *Router) handleInitialize() any {
	caps := rt.Caps.Current().ToMCP()
	return map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    caps,
		"serverInfo": map[string]string{
			"name":    rt.ServerName,
			"version": rt.ServerVersion,
		},
	}
}
