// Package cli implements the gfxpowerctl command-line client using Cobra.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/gfxpower/internal/dbusapi"
)

// Controller is the daemon API the commands drive.
type Controller interface {
	Profile(ctx context.Context) (string, error)
	SetProfile(ctx context.Context, name string) (dbusapi.ProfileResult, error)
	Graphics(ctx context.Context) (string, error)
	SetGraphics(ctx context.Context, mode string) (string, error)
	Switchable(ctx context.Context) (bool, error)
	GraphicsPower(ctx context.Context) (string, error)
	SetGraphicsPower(ctx context.Context, power string) error
	PendingGraphics(ctx context.Context) (string, error)
	Close() error
}

// Dialer connects to the daemon on the named bus.
type Dialer func(bus string) (Controller, error)

// DialBus is the Dialer for a running daemon.
func DialBus(bus string) (Controller, error) {
	c, err := dbusapi.Dial(bus)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type globalOptions struct {
	bus     string
	timeout time.Duration
	dial    Dialer
}

// withController dials the daemon and runs fn under the request timeout.
func (o *globalOptions) withController(cmd *cobra.Command, fn func(ctx context.Context, c Controller) error) error {
	c, err := o.dial(o.bus)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	return fn(ctx, c)
}

// NewRootCommand builds the command tree.
func NewRootCommand(dial Dialer) *cobra.Command {
	opts := &globalOptions{dial: dial}

	root := &cobra.Command{
		Use:   "gfxpowerctl",
		Short: "Control power profiles and graphics modes",
		Long: `gfxpowerctl talks to gfxpowerd over D-Bus.

Without arguments "profile" and "graphics" print the current setting;
with an argument they request a change, which the daemon authorizes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.bus, "bus", "system", `bus the daemon listens on ("system" or "session")`)
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 3*time.Minute, "how long to wait for the daemon")

	root.AddCommand(
		newProfileCommand(opts),
		newGraphicsCommand(opts),
		newProbeCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command against the system daemon. Called from main.
func Execute(version string) {
	root := NewRootCommand(DialBus)
	root.Version = version

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(1)
	}
}

func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("daemon did not answer in time (%v)", err)
	}
	return err.Error()
}
