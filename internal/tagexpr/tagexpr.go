// Package tagexpr implements the tag-query boolean expression grammar used
// by the filter layer (C6): atoms are tag names, "+" binds as AND, "," as OR
// (looser than AND), "!" as NOT, and parentheses group. "a+b,c" therefore
// parses as "(a AND b) OR c". The keyword spellings "AND"/"OR"
// (case-insensitive, whitespace-delimited) are accepted as synonyms for
// "+"/"," (spec.md §9 Design Notes, Open Question #2: "accept both +/AND
// and ,/OR spellings to match the source's dual forms").
package tagexpr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/1mcp/gateway/pkg/mcperrors"
)

var atomRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Expr is the recursive tag-expression AST.
type Expr interface {
	Eval(tags map[string]struct{}) bool
	String() string
}

// TagNode matches a single tag name.
type TagNode struct{ Name string }

func (t TagNode) Eval(tags map[string]struct{}) bool { _, ok := tags[t.Name]; return ok }
func (t TagNode) String() string                     { return t.Name }

// AndNode is true iff both operands are true.
type AndNode struct{ Left, Right Expr }

func (a AndNode) Eval(tags map[string]struct{}) bool { return a.Left.Eval(tags) && a.Right.Eval(tags) }
func (a AndNode) String() string                     { return fmt.Sprintf("(%s+%s)", a.Left, a.Right) }

// OrNode is true iff either operand is true.
type OrNode struct{ Left, Right Expr }

func (o OrNode) Eval(tags map[string]struct{}) bool { return o.Left.Eval(tags) || o.Right.Eval(tags) }
func (o OrNode) String() string                     { return fmt.Sprintf("(%s,%s)", o.Left, o.Right) }

// NotNode negates its operand.
type NotNode struct{ Inner Expr }

func (n NotNode) Eval(tags map[string]struct{}) bool { return !n.Inner.Eval(tags) }
func (n NotNode) String() string                     { return fmt.Sprintf("!%s", n.Inner) }

// Eval evaluates e against a tag set.
func Eval(e Expr, tagSet []string) bool {
	m := make(map[string]struct{}, len(tagSet))
	for _, t := range tagSet {
		m[t] = struct{}{}
	}
	return e.Eval(m)
}

// parser is a small recursive-descent parser over the grammar:
//
//	expr   := term ("," term)*        -- OR, loosest
//	term   := factor ("+" factor)*    -- AND
//	factor := "!" factor | "(" expr ")" | atom
type parser struct {
	input string
	pos   int
}

// Parse parses a tag-filter expression string into an Expr.
func Parse(input string) (Expr, error) {
	p := &parser{input: input}
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, mcperrors.ValidationError("tag-filter", "empty expression")
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, mcperrors.ValidationError("tag-filter", fmt.Sprintf("unexpected trailing input at offset %d", p.pos))
	}
	return e, nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos < len(p.input) && p.input[p.pos] == ',' {
			p.pos++
		} else if !p.tryKeyword("OR") {
			break
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = OrNode{Left: left, Right: right}
	}
	return left, nil
}

// tryKeyword consumes a case-insensitive, whitespace/paren-delimited
// occurrence of kw at the current position, returning true if it matched.
// It never partially consumes: a near-miss (e.g. "ORDER" when looking for
// "OR") leaves pos untouched.
func (p *parser) tryKeyword(kw string) bool {
	end := p.pos + len(kw)
	if end > len(p.input) || !strings.EqualFold(p.input[p.pos:end], kw) {
		return false
	}
	if end < len(p.input) && strings.ContainsRune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-", rune(p.input[end])) {
		return false
	}
	p.pos = end
	return true
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos < len(p.input) && p.input[p.pos] == '+' {
			p.pos++
		} else if !p.tryKeyword("AND") {
			break
		}
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = AndNode{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (Expr, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, mcperrors.ValidationError("tag-filter", "unexpected end of expression")
	}
	switch p.input[p.pos] {
	case '!':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return NotNode{Inner: inner}, nil
	case '(':
		p.pos++
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return nil, mcperrors.ValidationError("tag-filter", "missing closing parenthesis")
		}
		p.pos++
		return e, nil
	default:
		start := p.pos
		for p.pos < len(p.input) && strings.ContainsRune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-", rune(p.input[p.pos])) {
			p.pos++
		}
		if start == p.pos {
			return nil, mcperrors.ValidationError("tag-filter", fmt.Sprintf("unexpected character %q at offset %d", p.input[p.pos], p.pos))
		}
		atom := p.input[start:p.pos]
		if !atomRE.MatchString(atom) {
			return nil, mcperrors.ValidationError("tag-filter", fmt.Sprintf("invalid tag atom %q", atom))
		}
		return TagNode{Name: atom}, nil
	}
}
