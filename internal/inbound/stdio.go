package inbound

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/1mcp/gateway/internal/filter"
	"github.com/1mcp/gateway/pkg/log"
)

// RunStdio serves a single inbound session over a process's stdin/stdout
// (spec §4.7 "stdio: a single inbound session over process stdio. No auth;
// tag filter configured out-of-band"). Each line on r is one JSON-RPC
// message; each non-empty response is written to w followed by a newline,
// matching the MCP stdio framing convention.
//
// fctx is the out-of-band filter context (there is no query string to parse
// for a stdio session); it is typically ModeNone or a filter configured via
// a flag/environment variable at process launch.
func RunStdio(ctx context.Context, mgr *Manager, handler MessageHandler, fctx filter.Context, r io.Reader, w io.Writer) error {
	var writeMu sync.Mutex
	sess, sessCtx := mgr.Create(ctx, TransportStdio, fctx, AuthContext{}, func(_ context.Context, notification any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return writeLine(w, notification)
	})
	defer mgr.Remove(sess.ID)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if sessCtx.Err() != nil {
			return sessCtx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := append([]byte(nil), line...) // scanner reuses its buffer
		resp, err := handler(sessCtx, sess, msg)
		if err != nil {
			log.Warnf("inbound stdio: handling message: %v", err)
			continue
		}
		if len(resp) == 0 {
			continue
		}
		writeMu.Lock()
		_, werr := w.Write(append(resp, '\n'))
		writeMu.Unlock()
		if werr != nil {
			return werr
		}
	}
	return scanner.Err()
}

// writeLine marshals and writes a raw notification payload the caller has
// already framed as JSON-RPC bytes, or marshals it if it is some other
// value. The dispatcher/protocol layer always hands us raw []byte for
// notifications it forwards; this fallback keeps RunStdio usable against
// hand-built test doubles that deliver plain values.
func writeLine(w io.Writer, notification any) error {
	if b, ok := notification.([]byte); ok {
		_, err := w.Write(append(append([]byte(nil), b...), '\n'))
		return err
	}
	b, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}
