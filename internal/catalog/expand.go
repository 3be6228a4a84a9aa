package catalog

import (
	"regexp"
	"strings"

	"github.com/google/shlex"
)

var varRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envLookup builds a KEY -> VALUE map from an os.Environ-shaped slice.
func envLookup(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// expandString replaces every "${VAR}" occurrence with the process
// environment value, or the empty string when VAR is unset (spec §4.1).
func expandString(s string, lookup map[string]string) string {
	return varRE.ReplaceAllStringFunc(s, func(m string) string {
		name := varRE.FindStringSubmatch(m)[1]
		return lookup[name]
	})
}

// expandEntry applies ${VAR} substitution to every string leaf of e, and
// splits a single shell-style command string into command+args when args
// was omitted (SPEC_FULL.md §4 data-model addition).
func expandEntry(e *Entry, lookup map[string]string) {
	e.Command = expandString(e.Command, lookup)
	e.Cwd = expandString(e.Cwd, lookup)
	e.URL = expandString(e.URL, lookup)
	for i, a := range e.Args {
		e.Args[i] = expandString(a, lookup)
	}
	for k, v := range e.Env {
		e.Env[k] = expandString(v, lookup)
	}
	for k, v := range e.Headers {
		e.Headers[k] = expandString(v, lookup)
	}

	if len(e.Args) == 0 && strings.ContainsAny(e.Command, " \t") {
		if fields, err := shlex.Split(e.Command); err == nil && len(fields) > 0 {
			e.Command = fields[0]
			e.Args = fields[1:]
		}
	}
}
