package commands

import (
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X ...commands.version=...";
// "dev" otherwise, matching the teacher's unversioned local-build default.
var version = "dev"

// NewRootCommand builds the 1mcp CLI, grounded on the teacher's
// per-subcommand constructor layout (cmd/docker-mcp/commands).
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "1mcp",
		Short:         "Federate many MCP servers behind one inbound-facing gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(serveCommand())
	cmd.AddCommand(catalogCommand())

	return cmd
}
