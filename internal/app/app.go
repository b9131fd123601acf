// Package app wires up and runs the daemon services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/skobkin/gfxpower/internal/auth"
	"github.com/skobkin/gfxpower/internal/config"
	"github.com/skobkin/gfxpower/internal/daemon"
	"github.com/skobkin/gfxpower/internal/dbusapi"
	"github.com/skobkin/gfxpower/internal/events"
	"github.com/skobkin/gfxpower/internal/gpu"
	"github.com/skobkin/gfxpower/internal/graphics"
	"github.com/skobkin/gfxpower/internal/hcs"
	"github.com/skobkin/gfxpower/internal/hotplug"
	"github.com/skobkin/gfxpower/internal/httpserver"
	"github.com/skobkin/gfxpower/internal/journal"
	"github.com/skobkin/gfxpower/internal/profile"
	"github.com/skobkin/gfxpower/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the daemon and blocks until ctx is cancelled or a service
// fails.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	lock, err := acquireInstanceLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			appLogger.Warn("instance lock release", "err", releaseErr)
		}
	}()

	surface := hcs.NewFS(hcs.Options{
		SysfsRoot: cfg.SysfsRoot,
		ProcRoot:  cfg.ProcRoot,
		HostRoot:  cfg.ConfigRoot,
		Logger:    baseLogger.With("component", "hcs"),
	})

	inv, err := gpu.Discover(surface, baseLogger.With("component", "gpu_discovery"))
	if err != nil {
		return fmt.Errorf("discover gpus: %w", err)
	}
	appLogger.Info("discovered GPUs", "count", len(inv.Devices), "desktop", inv.Desktop)

	settings, err := profile.LoadSettings(cfg.ProfilesFile)
	if err != nil {
		return fmt.Errorf("load profile settings: %w", err)
	}
	profiles := profile.NewEngine(surface, profile.Options{
		Settings:     settings,
		PCIRuntimePM: cfg.PCIRuntimePM,
	}, baseLogger.With("component", "profile"))

	gfx := graphics.NewEngine(surface, store.New(cfg.StateDir), inv, graphics.Options{
		ProcRoot:    cfg.ProcRoot,
		SettleDelay: cfg.SettleDelay,
	}, baseLogger.With("component", "graphics"))
	if _, err := gfx.Reconcile(ctx); err != nil {
		appLogger.Warn("graphics reconciliation failed", "err", err)
	}

	var jr *journal.Journal
	if cfg.Journal.Enable {
		jr, err = journal.Open(cfg.StateDir)
		if err != nil {
			// Mutations keep working without the journal.
			appLogger.Warn("journal unavailable", "err", err)
			jr = nil
		} else {
			defer func() {
				if closeErr := jr.Close(); closeErr != nil {
					appLogger.Warn("journal close", "err", closeErr)
				}
			}()
		}
	}

	broker := events.NewBroker()
	defer broker.Close()

	conn, err := dbusapi.Connect(cfg.DBus.Bus)
	if err != nil {
		return fmt.Errorf("connect to %s bus: %w", cfg.DBus.Bus, err)
	}
	defer conn.Close()

	gate := auth.NewGate(authBackend(cfg.Auth.Backend, conn), cfg.Auth.Timeout, baseLogger.With("component", "auth"))

	registry := prometheus.NewRegistry()
	metrics, err := daemon.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := daemon.Options{
		Profiles: profiles,
		Graphics: gfx,
		Gate:     gate,
		Events:   broker,
		Metrics:  metrics,
		Logger:   baseLogger.With("component", "dispatcher"),
	}
	if jr != nil {
		opts.Journal = jr
	}
	dispatcher, err := daemon.New(opts)
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	if cfg.DefaultProfile != "" {
		p, err := profile.Parse(cfg.DefaultProfile)
		if err != nil {
			return fmt.Errorf("default profile: %w", err)
		}
		rep := dispatcher.ApplyDefault(p)
		appLogger.Info("default profile applied",
			"profile", p,
			"applied", len(rep.Applied),
			"skipped", len(rep.Skipped),
			"failed", len(rep.Failed),
		)
	}

	bus, err := dbusapi.NewServer(conn, dispatcher, broker, dbusapi.Options{
		RequestTimeout: cfg.DBus.RequestTimeout,
	}, baseLogger.With("component", "dbus"))
	if err != nil {
		return fmt.Errorf("init dbus service: %w", err)
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			appLogger.Warn("dbus release", "err", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Run(gctx)
	})

	if cfg.Hotplug.Enable {
		monitor := hotplug.New(surface, hotplug.Options{
			Interval: cfg.Hotplug.PollInterval,
			Debounce: cfg.Hotplug.Debounce,
		}, baseLogger.With("component", "hotplug"))
		g.Go(func() error {
			return monitor.Run(gctx)
		})
		g.Go(func() error {
			return dispatcher.ForwardHotplug(gctx, monitor.Events())
		})
	}

	if cfg.ListenAddr != "" {
		deps := httpserver.Deps{
			State:      dispatcher,
			Inventory:  inv,
			Capability: gfx.Capability(),
			Events:     broker,
			Registry:   registry,
		}
		if jr != nil {
			deps.Journal = jr
		}
		srv := httpserver.New(cfg, baseLogger.With("component", "http"), deps)

		appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		})
	}

	appLogger.Info("daemon ready", "bus", cfg.DBus.Bus, "name", dbusapi.BusName)

	<-gctx.Done()
	if ctx.Err() != nil {
		appLogger.Info("shutdown initiated", "reason", ctx.Err())
	}
	waitErr := g.Wait()

	appLogger.Info("waiting for in-flight requests")
	dispatcher.Close()

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	appLogger.Info("shutdown complete")
	return nil
}

func authBackend(name string, conn *dbus.Conn) auth.Backend {
	if name == config.AuthRoot {
		return auth.Root{}
	}
	return auth.NewPolkit(conn)
}
