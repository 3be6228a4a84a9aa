package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/1mcp/gateway/pkg/log"
	"github.com/1mcp/gateway/pkg/mcperrors"
)

// PresetDoc is a saved JSON filter document (spec §4.6):
// { tag?, $and?, $or?, $not?, $in? }.
type PresetDoc struct {
	Tag string       `json:"tag,omitempty" yaml:"tag,omitempty"`
	And []*PresetDoc `json:"$and,omitempty" yaml:"$and,omitempty"`
	Or  []*PresetDoc `json:"$or,omitempty" yaml:"$or,omitempty"`
	Not *PresetDoc   `json:"$not,omitempty" yaml:"$not,omitempty"`
	In  []string     `json:"$in,omitempty" yaml:"$in,omitempty"`
}

// Eval evaluates the preset document against a tag set.
func (d *PresetDoc) Eval(tags []string) bool {
	if d == nil {
		return true
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return d.eval(set)
}

func (d *PresetDoc) eval(set map[string]struct{}) bool {
	if d.Tag != "" {
		_, ok := set[d.Tag]
		return ok
	}
	if len(d.In) > 0 {
		for _, t := range d.In {
			if _, ok := set[t]; ok {
				return true
			}
		}
		return false
	}
	if d.Not != nil {
		return !d.Not.eval(set)
	}
	if len(d.And) > 0 {
		for _, sub := range d.And {
			if !sub.eval(set) {
				return false
			}
		}
		return true
	}
	if len(d.Or) > 0 {
		for _, sub := range d.Or {
			if sub.eval(set) {
				return true
			}
		}
		return false
	}
	return true
}

// ToContext adapts a preset document to a Context usable by the dispatcher.
func (d *PresetDoc) ToContext() Context {
	return Context{Mode: ModeExpression, Expr: presetExpr{doc: d}}
}

type presetExpr struct{ doc *PresetDoc }

func (p presetExpr) Eval(tags map[string]struct{}) bool {
	names := make([]string, 0, len(tags))
	for t := range tags {
		names = append(names, t)
	}
	return p.doc.Eval(names)
}
func (p presetExpr) String() string { return "preset" }

// PresetStore is the file-backed named-preset store, hot-reloaded with the
// same debounce machinery as the catalog watcher (SPEC_FULL.md §5 C6
// expansion: presets are catalog-adjacent state).
type PresetStore struct {
	path string

	mu      sync.RWMutex
	presets map[string]*PresetDoc

	subsMu sync.Mutex
	subs   map[string][]chan struct{} // preset name -> coalescing channels

	lastMTime time.Time
}

// NewPresetStore loads path (if it exists; a missing file means no presets
// yet, not an error).
func NewPresetStore(path string) (*PresetStore, error) {
	s := &PresetStore{path: path, presets: map[string]*PresetDoc{}, subs: map[string][]chan struct{}{}}
	if err := s.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *PresetStore) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc map[string]*PresetDoc
	// Presets may be authored as JSON (the spec's literal wire format) or
	// YAML (an authoring convenience, SPEC_FULL.md §3); detect by extension,
	// falling back to JSON for any unrecognized suffix.
	if ext := strings.ToLower(filepath.Ext(s.path)); ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing presets %s: %w", s.path, err)
		}
	} else if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing presets %s: %w", s.path, err)
	}

	s.mu.Lock()
	changed := make([]string, 0)
	for name, p := range doc {
		old, existed := s.presets[name]
		if !existed || !presetsEqual(old, p) {
			changed = append(changed, name)
		}
	}
	s.presets = doc
	s.mu.Unlock()

	for _, name := range changed {
		s.notify(name)
	}
	return nil
}

func presetsEqual(a, b *PresetDoc) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// Get returns the named preset as a filter Context, or an error if unknown.
func (s *PresetStore) Get(name string) (Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.presets[name]
	if !ok {
		return Context{}, mcperrors.ValidationError("preset", fmt.Sprintf("unknown preset %q", name))
	}
	return doc.ToContext(), nil
}

// Subscribe returns a channel signaled whenever the named preset changes.
func (s *PresetStore) Subscribe(name string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[name] = append(s.subs[name], ch)
	s.subsMu.Unlock()
	return ch
}

func (s *PresetStore) notify(name string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs[name] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Run watches the presets file's containing directory until ctx is
// cancelled, reloading (debounced 500ms) on change — mirrors
// internal/catalog.Watcher.Run.
func (s *PresetStore) Run(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(dir); err != nil {
		return err
	}

	var debounce *time.Timer
	doReload := func() {
		if err := s.reload(); err != nil {
			log.Warnf("presets: reload %s failed, keeping last good set: %v", s.path, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, doReload)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("presets: watch error: %v", err)
		}
	}
}
