package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newProfileCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "profile [battery|balanced|performance]",
		Short:     "Show or set the power profile",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"battery", "balanced", "performance"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd, func(ctx context.Context, c Controller) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					name, err := c.Profile(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, name)
					return nil
				}

				res, err := c.SetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Profile %s: %d applied, %d skipped, %d failed\n",
					args[0], len(res.Applied), len(res.Skipped), len(res.Failed))
				for _, knob := range res.Failed {
					fmt.Fprintf(out, "  failed: %s\n", knob)
				}
				return nil
			})
		},
	}
}
