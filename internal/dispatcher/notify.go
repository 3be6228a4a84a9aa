package dispatcher

import (
	"context"
	"sync"

	"github.com/1mcp/gateway/pkg/log"
)

// InboundSink is the dispatcher's view of one inbound session for
// notification forwarding: it knows whether its filter context currently
// admits a given outbound server, and how to deliver a message to its
// transport.
type InboundSink interface {
	ID() string
	Admits(serverName string) bool
	Deliver(ctx context.Context, notification any) error
}

// NotificationHub forwards server-to-client notifications to every inbound
// session whose filter currently admits the originating outbound server
// (spec §4.5(c)). Admission is recomputed on every notification per
// DESIGN.md's resolution of Open Question #5 — caching per (session,
// outbound) is deferred as the spec itself calls out as an optional
// optimization, not required for correctness.
//
// Callers MUST invoke Forward for a given serverName from a single
// goroutine (typically that server's own receive loop) to preserve the
// per-server emission order the spec requires; the hub itself does not
// reorder or buffer.
type NotificationHub struct {
	mu    sync.RWMutex
	sinks map[string]InboundSink
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{sinks: map[string]InboundSink{}}
}

func (h *NotificationHub) Register(s InboundSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[s.ID()] = s
}

func (h *NotificationHub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, id)
}

// Forward delivers notification to every registered sink that admits
// serverName. A disconnected sink's delivery failure is dropped with a
// warning (spec §7 "notification send on disconnected transport").
func (h *NotificationHub) Forward(ctx context.Context, serverName string, notification any) {
	h.mu.RLock()
	sinks := make([]InboundSink, 0, len(h.sinks))
	for _, s := range h.sinks {
		if s.Admits(serverName) {
			sinks = append(sinks, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Deliver(ctx, notification); err != nil {
			log.Warnf("dispatcher: dropping notification from %s to session %s: %v", serverName, s.ID(), err)
		}
	}
}

// BroadcastToOutbound sends a client-to-server notification to every
// outbound client the registry's FilteredNames lists, i.e. the connected
// clients the session's filter admits; connected clients outside that
// filter do not receive it. Per-client failures are collected, not fatal.
func (d *Dispatcher) BroadcastToOutbound(ctx context.Context, send func(ctx context.Context, ob Outbound) error) []error {
	var errs []error
	for _, name := range d.registry.FilteredNames() {
		ob, ok := d.registry.Get(name)
		if !ok {
			continue
		}
		if err := send(ctx, ob); err != nil {
			log.Warnf("dispatcher: notification to %s failed: %v", name, err)
			errs = append(errs, err)
		}
	}
	return errs
}
