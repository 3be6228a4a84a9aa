package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/1mcp/gateway/internal/catalog"
)

// catalogCommand implements SPEC_FULL.md's EXPANSION: `1mcp catalog
// validate <path>` and `1mcp catalog list <path>`, grounded on the
// teacher's cmd/docker-mcp/catalog subcommand layout.
func catalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect a server-catalog file",
	}
	cmd.AddCommand(catalogValidateCommand())
	cmd.AddCommand(catalogListCommand())
	return cmd
}

func catalogValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a server-catalog file, reporting every error found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			errs := catalog.Validate(args[0], os.Environ())
			if len(errs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "catalog is valid")
				return nil
			}
			for _, e := range errs {
				fmt.Fprintln(cmd.ErrOrStderr(), e)
			}
			return fmt.Errorf("%d validation error(s)", len(errs))
		},
	}
}

func catalogListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <path>",
		Short: "List a server-catalog file's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := catalog.Load(args[0], os.Environ())
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Options(tablewriter.WithHeader([]string{"Name", "Transport", "Tags", "Disabled"}))
			for _, name := range snap.Names {
				e := snap.Entries[name]
				disabled := "no"
				if e.Disabled {
					disabled = "yes"
				}
				if err := table.Append([]string{name, string(e.Type), strings.Join(e.Tags, ","), disabled}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}
