// Package catalog implements the server-catalog loader (C1): it parses the
// on-disk JSON document, expands "${VAR}" references against the process
// environment, and validates entries. See watcher.go for the hot-reload
// half of C1.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/1mcp/gateway/pkg/mcperrors"
)

// Kind is the transport variant of a catalog entry.
type Kind string

const (
	KindStdio Kind = "stdio"
	KindHTTP  Kind = "http"
	KindSSE   Kind = "sse"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
var tagRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

// Entry is one server-catalog entry, keyed by name in the containing
// document.
type Entry struct {
	Name string `json:"-"`

	Type Kind `json:"type"`

	// stdio fields.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	// http/sse fields.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Tags       []string `json:"tags,omitempty"`
	TimeoutMS  int       `json:"timeout"`
	Disabled   bool      `json:"disabled,omitempty"`
}

// document is the on-disk shape: { "mcpServers": { name: entry } }.
type document struct {
	MCPServers map[string]*Entry `json:"mcpServers"`
}

// Snapshot is an immutable, validated view of the catalog at one point in
// time. Callers never mutate a Snapshot; a reload produces a new one.
type Snapshot struct {
	Entries map[string]*Entry // by name, enabled and disabled alike
	Names   []string          // sorted, stable iteration order (Open Question #1 resolution)
}

// Enabled returns the subset of entries with Disabled == false, in Names
// order.
func (s *Snapshot) Enabled() []*Entry {
	out := make([]*Entry, 0, len(s.Names))
	for _, n := range s.Names {
		if e := s.Entries[n]; !e.Disabled {
			out = append(out, e)
		}
	}
	return out
}

// Load reads and parses the catalog file at path, expanding ${VAR}
// references against env, and validates it. A read or parse failure
// returns an error and no snapshot; callers implementing fail-soft
// semantics (the watcher) retain their last good snapshot on error.
func Load(path string, env []string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(raw, env)
}

// Parse parses raw catalog JSON bytes, expands environment references, and
// validates the result. env is a slice of "KEY=VALUE" strings (os.Environ
// shape) so tests can supply a synthetic environment.
func Parse(raw []byte, env []string) (*Snapshot, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	lookup := envLookup(env)
	names := make([]string, 0, len(doc.MCPServers))
	for name, e := range doc.MCPServers {
		e.Name = name
		expandEntry(e, lookup)
		names = append(names, name)
	}
	sort.Strings(names)

	snap := &Snapshot{Entries: doc.MCPServers, Names: names}
	if errs := validateSnapshot(snap); len(errs) > 0 {
		return nil, errs[0]
	}
	return snap, nil
}

// Validate runs the same parse/validate path as Load without installing a
// watch, shared by the "1mcp catalog validate" CLI verb and the runtime
// loader. It returns every validation error found rather than stopping at
// the first, so the CLI can report them all.
func Validate(path string, env []string) []error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return []error{fmt.Errorf("reading catalog %s: %w", path, err)}
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []error{fmt.Errorf("parsing catalog: %w", err)}
	}
	lookup := envLookup(env)
	names := make([]string, 0, len(doc.MCPServers))
	for name, e := range doc.MCPServers {
		e.Name = name
		expandEntry(e, lookup)
		names = append(names, name)
	}
	sort.Strings(names)
	snap := &Snapshot{Entries: doc.MCPServers, Names: names}
	return validateSnapshot(snap)
}

func validateSnapshot(snap *Snapshot) []error {
	var errs []error
	seen := make(map[string]struct{}, len(snap.Names))
	for _, name := range snap.Names {
		e := snap.Entries[name]
		if _, dup := seen[name]; dup {
			errs = append(errs, mcperrors.ValidationError("name", fmt.Sprintf("duplicate catalog entry %q", name)))
			continue
		}
		seen[name] = struct{}{}
		if !nameRE.MatchString(name) {
			errs = append(errs, mcperrors.ValidationError("name", fmt.Sprintf("%q must match [A-Za-z0-9_-]{1,50}", name)))
		}
		for _, tag := range e.Tags {
			if !tagRE.MatchString(tag) {
				errs = append(errs, mcperrors.ValidationError("tags", fmt.Sprintf("%q has invalid tag %q", name, tag)))
			}
		}
		switch e.Type {
		case KindStdio:
			if e.Command == "" {
				errs = append(errs, mcperrors.ValidationError("command", fmt.Sprintf("%q: stdio entries require command", name)))
			}
		case KindHTTP, KindSSE:
			if e.URL == "" {
				errs = append(errs, mcperrors.ValidationError("url", fmt.Sprintf("%q: %s entries require url", name, e.Type)))
			}
		default:
			errs = append(errs, mcperrors.ValidationError("type", fmt.Sprintf("%q: unknown transport type %q", name, e.Type)))
		}
	}
	return errs
}
