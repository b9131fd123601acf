package graphics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/gpu"
	"github.com/skobkin/gfxpower/internal/hcs"
	"github.com/skobkin/gfxpower/internal/store"
)

// Capability is the switching support detected at startup.
type Capability struct {
	Switchable bool         `json:"switchable"`
	RuntimePM  bool         `json:"runtime_pm"`
	Discrete   []gpu.Device `json:"discrete,omitempty"`
}

// Options configures an Engine.
type Options struct {
	// ProcRoot is scanned for processes holding the discrete GPU open.
	ProcRoot string
	// SettleDelay is waited after a PCI rescan before the power policy is
	// written, giving the driver time to bind.
	SettleDelay time.Duration
}

// Engine owns the persisted graphics mode and the discrete GPU power state.
// Callers serialize mutations.
type Engine struct {
	surface  hcs.Surface
	store    *store.Store
	caps     Capability
	booted   Mode
	procRoot string
	settle   time.Duration
	logger   *slog.Logger
}

// NewEngine probes switching capability and the mode the running system was
// booted with.
func NewEngine(surface hcs.Surface, st *store.Store, inv gpu.Inventory, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		surface:  surface,
		store:    st,
		procRoot: opts.ProcRoot,
		settle:   opts.SettleDelay,
		logger:   logger,
	}

	e.caps.Switchable = inv.Switchable()
	e.caps.Discrete = inv.Discrete()
	if e.caps.Switchable {
		supported, err := gpu.RuntimePM(surface, e.caps.Discrete[0])
		if err != nil {
			logger.Info("runtime power management support unknown", "err", err)
		}
		e.caps.RuntimePM = supported
	}
	e.booted = e.detectBooted()

	logger.Info("graphics capability detected",
		"switchable", e.caps.Switchable,
		"runtime_pm", e.caps.RuntimePM,
		"booted", e.booted,
	)
	return e
}

// Capability returns the detected switching support.
func (e *Engine) Capability() Capability {
	return e.caps
}

// Switchable reports whether the host can switch graphics modes.
func (e *Engine) Switchable() bool {
	return e.caps.Switchable
}

// Booted returns the mode the running kernel was booted with.
func (e *Engine) Booted() Mode {
	return e.booted
}

func (e *Engine) moduleLive(name string) bool {
	state, err := e.surface.Read(hcs.Sys("module", name, "initstate"))
	return err == nil && state == "live"
}

func (e *Engine) detectBooted() Mode {
	if !e.moduleLive("nvidia") {
		return Integrated
	}
	if !e.moduleLive("nvidia_drm") {
		return Compute
	}
	prime, _ := e.surface.Read(primeDiscreteFile)
	if prime == "on" {
		return Nvidia
	}
	return Hybrid
}

// Mode returns the persisted mode. When no record exists yet, Integrated is
// committed and returned.
func (e *Engine) Mode() (Mode, error) {
	m, found, err := e.persisted()
	if err != nil || found {
		return m, err
	}
	e.logger.Info("no graphics record, committing default", "mode", Integrated, "path", e.store.Path())
	if err := e.store.Save(store.Record{GraphicsMode: string(Integrated)}); err != nil {
		return "", err
	}
	return Integrated, nil
}

// persisted reads the record without writing. A missing record reads as
// Integrated with found false.
func (e *Engine) persisted() (Mode, bool, error) {
	rec, err := e.store.Load()
	if errors.Is(err, store.ErrNotFound) {
		return Integrated, false, nil
	}
	if err != nil {
		return "", false, err
	}
	m, err := ParseMode(rec.GraphicsMode)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w: %w", e.store.Path(), errs.ErrIO, err)
	}
	return m, true, nil
}

// Pending returns the persisted mode and whether it differs from the booted one.
func (e *Engine) Pending() (Mode, bool, error) {
	m, err := e.Mode()
	if err != nil {
		return "", false, err
	}
	return m, m != e.booted, nil
}

// SetMode commits target as the next-boot mode and regenerates boot artifacts.
// Selecting the already persisted mode is a no-op with zero host writes. The
// record replace is the commit point: once it succeeds the switch stands and
// artifact failures are reported as warnings.
func (e *Engine) SetMode(ctx context.Context, target Mode) (Result, error) {
	current, _, err := e.persisted()
	if err != nil {
		return Result{}, err
	}
	if target == current {
		return Result{Outcome: OutcomeNoOp, Mode: current}, nil
	}
	if !e.caps.Switchable {
		return Result{}, fmt.Errorf("graphics switching: %w", errs.ErrUnsupported)
	}
	if target == Hybrid && !e.caps.RuntimePM {
		return Result{}, fmt.Errorf("hybrid mode needs runtime power management: %w", errs.ErrUnsupported)
	}

	if err := e.store.Save(store.Record{GraphicsMode: string(target)}); err != nil {
		return Result{}, err
	}
	e.logger.Info("graphics mode committed", "from", current, "to", target)

	return Result{
		Outcome:  OutcomeRebootRequired,
		Mode:     target,
		Warnings: e.render(ctx, target),
	}, nil
}

// Reconcile checks that the boot artifacts match the persisted mode and
// regenerates them when they drifted. It returns true when it rewrote them.
// A host without a record has never been switched and is left alone.
func (e *Engine) Reconcile(ctx context.Context) (bool, error) {
	if !e.caps.Switchable {
		return false, nil
	}
	if _, err := e.store.Load(); errors.Is(err, store.ErrNotFound) {
		_, err := e.Mode()
		return false, err
	}
	m, err := e.Mode()
	if err != nil {
		return false, err
	}
	if m != e.booted {
		e.logger.Info("graphics switch pending reboot", "booted", e.booted, "next", m)
	}
	if e.artifactsMatch(m) {
		return false, nil
	}
	e.logger.Warn("boot artifacts do not match persisted mode, regenerating", "mode", m)
	if warnings := e.render(ctx, m); len(warnings) > 0 {
		e.logger.Warn("boot artifacts regenerated with errors", "mode", m, "warnings", len(warnings))
	}
	return true, nil
}
