// Package log is the gateway's ambient logger: a package-level io.Writer
// target with Log/Logf plus a level split gated by ONE_MCP_LOG_LEVEL, and
// header redaction for request-metadata log lines (spec §7).
package log

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Level is one of the four levels gated by ONE_MCP_LOG_LEVEL.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

var (
	logWriter io.Writer = os.Stderr
	minLevel            = LevelInfo
)

// SetLogWriter sets the log output destination.
func SetLogWriter(w io.Writer) {
	if w != nil {
		logWriter = w
	}
}

// SetLevel sets the minimum level that will be emitted. Unrecognized names
// leave the current level unchanged.
func SetLevel(name string) {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		minLevel = lvl
	}
}

// InitFromEnv applies ONE_MCP_LOG_LEVEL (default "info") — called once from
// main, per SPEC_FULL.md's no-package-singleton configuration rule; the
// level itself remains a small package var since every caller in this
// process should observe the same log level by construction.
func InitFromEnv(value string) {
	if value == "" {
		value = "info"
	}
	SetLevel(value)
}

// Log prints a message to the log output, unconditionally (legacy call
// style retained from the teacher for top-level lifecycle messages).
func Log(a ...any) {
	_, _ = fmt.Fprintln(logWriter, a...)
}

// Logf prints a formatted message at info level.
func Logf(format string, a ...any) {
	printf(LevelInfo, format, a...)
}

// Debugf prints a formatted message at debug level.
func Debugf(format string, a ...any) {
	printf(LevelDebug, format, a...)
}

// Warnf prints a formatted message at warn level.
func Warnf(format string, a ...any) {
	printf(LevelWarn, format, a...)
}

// Errorf prints a formatted message at error level.
func Errorf(format string, a ...any) {
	printf(LevelError, format, a...)
}

func printf(lvl Level, format string, a ...any) {
	if lvl < minLevel {
		return
	}
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	_, _ = fmt.Fprintf(logWriter, format, a...)
}

var redactHeaderRE = regexp.MustCompile(`(?i)^(authorization|token|secret|password|api[-_]?key)$`)

// RedactHeaders returns a copy of headers with any sensitive-looking key's
// value replaced by "[REDACTED]" (spec §7), for safe inclusion in log lines
// that carry request metadata.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if redactHeaderRE.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}
