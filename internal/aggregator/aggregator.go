// Package aggregator implements the capability aggregator (C4): after each
// outbound reconciliation, it computes the union of connected outbound
// servers' declared MCP capabilities (the handshake-level {tools, resources,
// prompts, logging, experimental} object — not the live tool/resource/prompt
// lists themselves, which the dispatcher fans out per-request).
package aggregator

import (
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolsCap mirrors the MCP "tools" capability sub-object.
type ToolsCap struct{ ListChanged bool }

// ResourcesCap mirrors the MCP "resources" capability sub-object.
type ResourcesCap struct{ Subscribe, ListChanged bool }

// PromptsCap mirrors the MCP "prompts" capability sub-object.
type PromptsCap struct{ ListChanged bool }

// Set is the aggregated capability set advertised to inbound clients
// (spec §3 "Aggregated capability set").
type Set struct {
	Tools        *ToolsCap
	Resources    *ResourcesCap
	Prompts      *PromptsCap
	Logging      bool
	Experimental map[string]any
}

// SourceCapabilities is the subset of a connected outbound server's
// handshake capabilities the aggregator merges. record order (by the
// caller, catalog-key order) determines which experimental key wins on
// collision.
type SourceCapabilities struct {
	Name      string
	Tools     *ToolsCap
	Resources *ResourcesCap
	Prompts   *PromptsCap
	Logging   bool
	Experimental map[string]any
}

// FromMCP adapts one outbound server's handshake capabilities (as returned
// by its mcp.ClientSession.InitializeResult()) into a SourceCapabilities
// ready for Merge. A nil caps (a server that advertised none) yields a
// SourceCapabilities with every field at its zero value, which Merge treats
// as "contributes nothing".
func FromMCP(name string, caps *mcp.ServerCapabilities) SourceCapabilities {
	sc := SourceCapabilities{Name: name}
	if caps == nil {
		return sc
	}
	if caps.Tools != nil {
		sc.Tools = &ToolsCap{ListChanged: caps.Tools.ListChanged}
	}
	if caps.Resources != nil {
		sc.Resources = &ResourcesCap{Subscribe: caps.Resources.Subscribe, ListChanged: caps.Resources.ListChanged}
	}
	if caps.Prompts != nil {
		sc.Prompts = &PromptsCap{ListChanged: caps.Prompts.ListChanged}
	}
	sc.Logging = caps.Logging != nil
	sc.Experimental = caps.Experimental
	return sc
}

// Merge computes the union over sources, in the order given (spec §4.4 and
// Open Question #1's resolution: catalog-file order is the pin, and a
// shallow key union never lets a later-seen key override an earlier one).
func Merge(sources []SourceCapabilities) *Set {
	out := &Set{Experimental: map[string]any{}}
	for _, s := range sources {
		if s.Tools != nil {
			if out.Tools == nil {
				out.Tools = &ToolsCap{}
			}
			out.Tools.ListChanged = out.Tools.ListChanged || s.Tools.ListChanged
		}
		if s.Resources != nil {
			if out.Resources == nil {
				out.Resources = &ResourcesCap{}
			}
			out.Resources.Subscribe = out.Resources.Subscribe || s.Resources.Subscribe
			out.Resources.ListChanged = out.Resources.ListChanged || s.Resources.ListChanged
		}
		if s.Prompts != nil {
			if out.Prompts == nil {
				out.Prompts = &PromptsCap{}
			}
			out.Prompts.ListChanged = out.Prompts.ListChanged || s.Prompts.ListChanged
		}
		out.Logging = out.Logging || s.Logging
		for k, v := range s.Experimental {
			if _, exists := out.Experimental[k]; !exists {
				out.Experimental[k] = v
			}
		}
	}
	return out
}

// ToMCP converts an aggregated Set to the go-sdk's wire capabilities type,
// for use building this proxy's own mcp.ServerOptions.
func (s *Set) ToMCP() *mcp.ServerCapabilities {
	caps := &mcp.ServerCapabilities{}
	if s.Tools != nil {
		caps.Tools = &mcp.ToolCapabilities{ListChanged: s.Tools.ListChanged}
	}
	if s.Resources != nil {
		caps.Resources = &mcp.ResourceCapabilities{Subscribe: s.Resources.Subscribe, ListChanged: s.Resources.ListChanged}
	}
	if s.Prompts != nil {
		caps.Prompts = &mcp.PromptCapabilities{ListChanged: s.Prompts.ListChanged}
	}
	if s.Logging {
		caps.Logging = &mcp.LoggingCapabilities{}
	}
	if len(s.Experimental) > 0 {
		caps.Experimental = s.Experimental
	}
	return caps
}

// Equal reports whether two sets advertise the same capability shape,
// ignoring experimental-map value identity beyond key presence. Used to
// decide whether a reconciliation actually changed the aggregate (and thus
// whether a listChanged notification is warranted).
func (s *Set) Equal(o *Set) bool {
	if s == nil || o == nil {
		return s == o
	}
	if !capPtrEqual(s.Tools, o.Tools, func(a, b *ToolsCap) bool { return *a == *b }) {
		return false
	}
	if !capPtrEqual(s.Resources, o.Resources, func(a, b *ResourcesCap) bool { return *a == *b }) {
		return false
	}
	if !capPtrEqual(s.Prompts, o.Prompts, func(a, b *PromptsCap) bool { return *a == *b }) {
		return false
	}
	if s.Logging != o.Logging {
		return false
	}
	if len(s.Experimental) != len(o.Experimental) {
		return false
	}
	for k := range s.Experimental {
		if _, ok := o.Experimental[k]; !ok {
			return false
		}
	}
	return true
}

func capPtrEqual[T any](a, b *T, eq func(a, b *T) bool) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return eq(a, b)
}

// Publisher holds the latest aggregated Set and notifies subscribers
// (inbound sessions) on change, guarded by a single mutex (read-mostly,
// published by generation per spec §5).
type Publisher struct {
	mu      sync.RWMutex
	current *Set

	subsMu sync.Mutex
	subs   []chan struct{}
}

func NewPublisher() *Publisher {
	return &Publisher{current: &Set{Experimental: map[string]any{}}}
}

func (p *Publisher) Current() *Set {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Publish installs next and, if it differs from the current set, notifies
// every subscriber (non-blocking — a coalescing 1-buffer channel per
// subscriber, mirroring the catalog watcher's subscription model).
func (p *Publisher) Publish(next *Set) {
	p.mu.Lock()
	changed := !p.current.Equal(next)
	p.current = next
	p.mu.Unlock()

	if !changed {
		return
	}
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel signaled (non-blocking, coalesced) whenever
// the aggregated set changes.
func (p *Publisher) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	p.subsMu.Lock()
	p.subs = append(p.subs, ch)
	p.subsMu.Unlock()
	return ch
}
