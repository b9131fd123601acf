package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skobkin/gfxpower/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gfxpowerctl %s\n", version.Current())
		},
	}
}
