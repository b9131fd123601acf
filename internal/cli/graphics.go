package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newGraphicsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "graphics [integrated|hybrid|nvidia|compute]",
		Short:     "Show or set the graphics mode",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"integrated", "hybrid", "nvidia", "compute"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd, func(ctx context.Context, c Controller) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					mode, err := c.Graphics(ctx)
					if err != nil {
						return err
					}
					pending, err := c.PendingGraphics(ctx)
					if err != nil {
						return err
					}
					if pending != "" {
						fmt.Fprintf(out, "%s (reboot pending)\n", mode)
					} else {
						fmt.Fprintln(out, mode)
					}
					return nil
				}

				outcome, err := c.SetGraphics(ctx, args[0])
				if err != nil {
					return err
				}
				switch outcome {
				case "no-op":
					fmt.Fprintf(out, "Graphics mode is already %s\n", args[0])
				default:
					fmt.Fprintf(out, "Graphics mode set to %s. Reboot to apply.\n", args[0])
				}
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:       "power [on|off|auto]",
			Short:     "Show or set the discrete GPU power state",
			Args:      cobra.MaximumNArgs(1),
			ValidArgs: []string{"on", "off", "auto"},
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withController(cmd, func(ctx context.Context, c Controller) error {
					if len(args) == 1 {
						if err := c.SetGraphicsPower(ctx, args[0]); err != nil {
							return err
						}
					}
					power, err := c.GraphicsPower(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), power)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "switchable",
			Short: "Report whether this host supports graphics switching",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withController(cmd, func(ctx context.Context, c Controller) error {
					switchable, err := c.Switchable(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), switchable)
					return nil
				})
			},
		},
	)
	return cmd
}
