// Package cursor implements the two wire-level codecs shared by the
// dispatcher: the cross-server pagination cursor and the composite
// resource/tool/prompt id.
package cursor

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// Sep is the fixed separator reserved for composite ids (spec §6). It must
// never appear inside an outbound server name or an inner id.
const Sep = "_1mcp_"

// MaxNameLen is the tighter, everywhere-applied bound recommended by
// SPEC_FULL.md's Open Question #3 resolution (DESIGN.md): the cursor
// grammar's 100-char allowance and the catalog's 50-char bound are
// collapsed to 50 to avoid the ambiguity the spec called out.
const MaxNameLen = 50

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,` + "50" + `}$`)

// maxDecodedLen bounds the decoded cursor payload (spec §4.5).
const maxDecodedLen = 1000

// EncodeCursor produces the cross-server cursor base64("name:inner").
func EncodeCursor(name, inner string) string {
	return base64.StdEncoding.EncodeToString([]byte(name + ":" + inner))
}

// DecodeCursor parses a cross-server cursor. ok is false for any malformed
// input (invalid base64, bad name, oversize payload) per spec §4.5 — callers
// treat a false ok as "start over from the first server".
func DecodeCursor(cursor string) (name, inner string, ok bool) {
	if cursor == "" {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", false
	}
	if len(raw) > maxDecodedLen {
		return "", "", false
	}
	s := string(raw)
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		name = s
	} else {
		name = s[:idx]
		inner = s[idx+1:]
	}
	if !nameRE.MatchString(name) {
		return "", "", false
	}
	return name, inner, true
}

// ComposeURI builds the composite id "<name><Sep><inner>".
func ComposeURI(name, inner string) string {
	return name + Sep + inner
}

// ParseURI splits a composite id back into (name, inner). ok is false unless
// Sep appears exactly once in id (spec invariant 5).
func ParseURI(id string) (name, inner string, ok bool) {
	if strings.Count(id, Sep) != 1 {
		return "", "", false
	}
	idx := strings.Index(id, Sep)
	return id[:idx], id[idx+len(Sep):], true
}
