// Package protocol implements the inbound JSON-RPC message router: it
// parses one raw MCP message, resolves the per-request filtered dispatcher,
// and translates the dispatcher's result back to wire JSON-RPC. go-sdk's
// mcp.Server assumes a static, locally-registered tool/resource/prompt set;
// this proxy's composite-id addressing and cross-server cursor pagination
// have no counterpart there, so the wire-level translation is hand-rolled
// here instead (see DESIGN.md).
package protocol

import "encoding/json"

const jsonrpcVersion = "2.0"

// request is the wire shape of one inbound JSON-RPC 2.0 message. id is kept
// as raw JSON so it round-trips untouched (number, string, or absent for a
// notification) regardless of how the client encoded it.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r request) isNotification() bool { return len(r.ID) == 0 }

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func successResponse(id json.RawMessage, result any) []byte {
	b, err := json.Marshal(response{JSONRPC: jsonrpcVersion, ID: id, Result: result})
	if err != nil {
		return errorResponse(id, -32603, "internal error marshaling response", nil)
	}
	return b
}

func errorResponse(id json.RawMessage, code int, message string, data any) []byte {
	b, _ := json.Marshal(response{JSONRPC: jsonrpcVersion, ID: id, Error: &rpcError{Code: code, Message: message, Data: data}})
	return b
}
