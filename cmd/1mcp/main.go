// Command 1mcp runs the federation gateway: one inbound-facing MCP façade
// over many outbound MCP servers (spec.md OVERVIEW).
package main

import (
	"fmt"
	"os"

	"github.com/1mcp/gateway/cmd/1mcp/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
