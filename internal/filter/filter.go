// Package filter implements the filter layer (C6): parsing the inbound
// request's tag selector into a filter context, intersecting it with OAuth
// granted tags, and evaluating it against a catalog entry's tag set.
package filter

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/1mcp/gateway/internal/tagexpr"
	"github.com/1mcp/gateway/pkg/mcperrors"
)

var tagTokenRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

// Mode is the filter context's variant discriminator (spec §3).
type Mode int

const (
	ModeNone Mode = iota
	ModeSimple
	ModeExpression
)

// Context is the per-session/per-request tag predicate used to select the
// outbound subset.
type Context struct {
	Mode Mode
	Tags []string      // ModeSimple: OR semantics
	Expr tagexpr.Expr  // ModeExpression
}

// Admits reports whether an outbound entry with the given tags passes this
// filter context.
func (c Context) Admits(entryTags []string) bool {
	switch c.Mode {
	case ModeNone:
		return true
	case ModeSimple:
		set := make(map[string]struct{}, len(entryTags))
		for _, t := range entryTags {
			set[t] = struct{}{}
		}
		for _, want := range c.Tags {
			if _, ok := set[want]; ok {
				return true
			}
		}
		return false
	case ModeExpression:
		return tagexpr.Eval(c.Expr, entryTags)
	default:
		return false
	}
}

// ParseQuery builds a Context from the inbound request's query parameters
// (spec §4.6, §6): "tags=a,b,c" (OR) and "tag-filter=<expr>" are mutually
// exclusive.
func ParseQuery(q url.Values) (Context, error) {
	tagsParam := q.Get("tags")
	exprParam := q.Get("tag-filter")

	if tagsParam != "" && exprParam != "" {
		return Context{}, mcperrors.ValidationError("tags", "tags and tag-filter are mutually exclusive")
	}

	if exprParam != "" {
		e, err := tagexpr.Parse(exprParam)
		if err != nil {
			return Context{}, err
		}
		return Context{Mode: ModeExpression, Expr: e}, nil
	}

	if tagsParam != "" {
		tags := strings.Split(tagsParam, ",")
		if err := ValidateTags(tags); err != nil {
			return Context{}, err
		}
		return Context{Mode: ModeSimple, Tags: tags}, nil
	}

	return Context{Mode: ModeNone}, nil
}

// ValidateTags checks tag tokens against the spec's grammar and rejects
// duplicates.
func ValidateTags(tags []string) error {
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if !tagTokenRE.MatchString(t) {
			return mcperrors.ValidationError("tags", fmt.Sprintf("tag %q must match [A-Za-z0-9_-]{1,20}", t))
		}
		if _, dup := seen[t]; dup {
			return mcperrors.ValidationError("tags", fmt.Sprintf("duplicate tag %q", t))
		}
		seen[t] = struct{}{}
	}
	return nil
}

// IntersectGrant narrows c by the OAuth granted-tag set (spec §4.6): the
// effective filter becomes the intersection of the request's filter and the
// grant. A ModeNone request context becomes ModeSimple over the grant
// itself; a ModeSimple context keeps only those of its tags that are
// granted; an expression context is wrapped so its expression is evaluated
// over the entry's tags restricted to the grant set.
func (c Context) IntersectGrant(granted []string) Context {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		grantedSet[g] = struct{}{}
	}
	sortedGrant := make([]string, 0, len(granted))
	for g := range grantedSet {
		sortedGrant = append(sortedGrant, g)
	}
	sort.Strings(sortedGrant)

	switch c.Mode {
	case ModeNone:
		return Context{Mode: ModeSimple, Tags: sortedGrant}
	case ModeSimple:
		out := make([]string, 0, len(c.Tags))
		for _, t := range c.Tags {
			if _, ok := grantedSet[t]; ok {
				out = append(out, t)
			}
		}
		return Context{Mode: ModeSimple, Tags: out}
	default:
		return Context{Mode: ModeExpression, Expr: grantIntersection{inner: c.Expr, grant: grantedSet}}
	}
}

// RequestedTagsWithinGrant reports whether every tag explicitly named by c
// (simple-mode tags, or the atoms of an expression) is covered by granted —
// used to answer 403 insufficient_scope (spec §4.6) rather than silently
// narrowing.
func (c Context) RequestedTagsWithinGrant(granted []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		grantedSet[g] = struct{}{}
	}
	for _, t := range c.NamedTags() {
		if _, ok := grantedSet[t]; !ok {
			return false
		}
	}
	return true
}

// NamedTags returns every tag atom named by the filter context.
func (c Context) NamedTags() []string {
	switch c.Mode {
	case ModeSimple:
		return append([]string(nil), c.Tags...)
	case ModeExpression:
		return collectAtoms(c.Expr)
	default:
		return nil
	}
}

func collectAtoms(e tagexpr.Expr) []string {
	switch n := e.(type) {
	case tagexpr.TagNode:
		return []string{n.Name}
	case tagexpr.AndNode:
		return append(collectAtoms(n.Left), collectAtoms(n.Right)...)
	case tagexpr.OrNode:
		return append(collectAtoms(n.Left), collectAtoms(n.Right)...)
	case tagexpr.NotNode:
		return collectAtoms(n.Inner)
	default:
		return nil
	}
}

// grantIntersection wraps an inner expression so it only ever admits tags
// within grant, without rewriting the inner AST.
type grantIntersection struct {
	inner tagexpr.Expr
	grant map[string]struct{}
}

func (g grantIntersection) Eval(tags map[string]struct{}) bool {
	restricted := make(map[string]struct{}, len(tags))
	for t := range tags {
		if _, ok := g.grant[t]; ok {
			restricted[t] = struct{}{}
		}
	}
	return g.inner.Eval(restricted)
}

func (g grantIntersection) String() string { return g.inner.String() }
