package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skobkin/gfxpower/internal/gpu"
	"github.com/skobkin/gfxpower/internal/hcs"
)

func newProbeCommand() *cobra.Command {
	var sysfsRoot, hostRoot string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Enumerate GPUs locally without the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			surface := hcs.NewFS(hcs.Options{
				SysfsRoot:    sysfsRoot,
				HostRoot:     hostRoot,
				DisableTools: true,
			})
			inv, err := gpu.Discover(surface, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(inv.Devices) == 0 {
				fmt.Fprintln(out, "No display controllers found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SLOT\tVENDOR\tPCI ID\tDRIVER\tNAME")
			for _, dev := range inv.Devices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", dev.Slot, dev.Vendor, dev.PCIID, orDash(dev.Driver), dev.Name)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nswitchable: %t\n", inv.Switchable())
			if discrete := inv.Discrete(); len(discrete) > 0 {
				supported, err := gpu.RuntimePM(surface, discrete[0])
				if err != nil {
					fmt.Fprintf(out, "runtime pm: unknown (%v)\n", err)
				} else {
					fmt.Fprintf(out, "runtime pm: %t\n", supported)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sysfsRoot, "sysfs-root", "/sys", "sysfs mount to read")
	cmd.Flags().StringVar(&hostRoot, "host-root", "/", "filesystem root holding the driver manifests")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
