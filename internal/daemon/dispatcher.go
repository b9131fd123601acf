// Package daemon routes privileged requests to the engines. Every mutation
// takes its domain lock, passes the authorization gate and then runs to
// completion even when the caller stops waiting.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/gfxpower/internal/auth"
	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/events"
	"github.com/skobkin/gfxpower/internal/graphics"
	"github.com/skobkin/gfxpower/internal/hotplug"
	"github.com/skobkin/gfxpower/internal/journal"
	"github.com/skobkin/gfxpower/internal/profile"
)

// ProfileEngine applies power profiles.
type ProfileEngine interface {
	Apply(p profile.Profile) profile.Report
	Current() profile.Profile
}

// GraphicsEngine switches graphics modes and controls the discrete GPU.
type GraphicsEngine interface {
	Mode() (graphics.Mode, error)
	SetMode(ctx context.Context, target graphics.Mode) (graphics.Result, error)
	Power() (graphics.Power, error)
	SetPower(p graphics.Power) error
	Capability() graphics.Capability
	Booted() graphics.Mode
}

// Authorizer decides whether a caller may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, caller auth.Caller, action auth.Action) auth.Decision
}

// Journal records audited requests.
type Journal interface {
	Append(ctx context.Context, e journal.Entry) (journal.Entry, error)
}

// Publisher receives daemon events.
type Publisher interface {
	Publish(ev events.Event)
}

// Method names used in logs, metrics and the journal.
const (
	MethodSetProfile       = "SetProfile"
	MethodSetGraphics      = "SetGraphics"
	MethodSetGraphicsPower = "SetGraphicsPower"
)

// Options wires a Dispatcher. Journal, Events and Metrics are optional.
type Options struct {
	Profiles ProfileEngine
	Graphics GraphicsEngine
	Gate     Authorizer
	Journal  Journal
	Events   Publisher
	Metrics  *Metrics
	Logger   *slog.Logger
}

// Dispatcher serializes mutations per domain and answers reads from State.
type Dispatcher struct {
	profiles ProfileEngine
	graphics GraphicsEngine
	gate     Authorizer
	journal  Journal
	events   Publisher
	metrics  *Metrics
	logger   *slog.Logger

	state        *State
	profileLock  domainLock
	graphicsLock domainLock

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// ErrClosed is returned for mutations requested after Close.
var ErrClosed = errors.New("daemon is shutting down")

// New builds a dispatcher and seeds its state from the engines.
func New(opts Options) (*Dispatcher, error) {
	if opts.Profiles == nil || opts.Graphics == nil {
		return nil, errors.New("dispatcher needs both engines")
	}
	if opts.Gate == nil {
		return nil, errors.New("dispatcher needs an authorization gate")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := &Dispatcher{
		profiles:     opts.Profiles,
		graphics:     opts.Graphics,
		gate:         opts.Gate,
		journal:      opts.Journal,
		events:       opts.Events,
		metrics:      opts.Metrics,
		logger:       logger,
		state:        &State{},
		profileLock:  newDomainLock(),
		graphicsLock: newDomainLock(),
	}

	caps := opts.Graphics.Capability()
	booted := opts.Graphics.Booted()
	mode, err := opts.Graphics.Mode()
	if err != nil {
		logger.Warn("graphics record unreadable, reporting booted mode", "err", err)
		mode = booted
	}

	d.state.profile = opts.Profiles.Current()
	d.state.graphics = mode
	d.state.booted = booted
	d.state.switchable = caps.Switchable
	d.state.runtimePM = caps.RuntimePM
	d.state.updatedAt = time.Now()
	return d, nil
}

// State exposes the cached daemon state.
func (d *Dispatcher) State() *State {
	return d.state
}

// Snapshot returns a copy of the cached state.
func (d *Dispatcher) Snapshot() Snapshot {
	return d.state.Snapshot()
}

// Profile returns the last applied or inferred profile.
func (d *Dispatcher) Profile() profile.Profile {
	return d.state.Profile()
}

// Graphics returns the persisted next-boot graphics mode.
func (d *Dispatcher) Graphics() graphics.Mode {
	return d.state.Graphics()
}

// Switchable reports the graphics switching capability.
func (d *Dispatcher) Switchable() bool {
	return d.state.Snapshot().Switchable
}

// PendingGraphics returns the mode that takes effect on the next boot, or ""
// when it matches the running one.
func (d *Dispatcher) PendingGraphics() string {
	return d.state.Snapshot().Pending
}

// GraphicsPower reads the live discrete GPU power state.
func (d *Dispatcher) GraphicsPower() (graphics.Power, error) {
	return d.graphics.Power()
}

// SetProfile applies the named profile for caller.
func (d *Dispatcher) SetProfile(ctx context.Context, caller auth.Caller, name string) (profile.Report, error) {
	p, err := profile.Parse(name)
	if err != nil {
		return profile.Report{}, fmt.Errorf("%w: %w", errs.ErrInvalidArgument, err)
	}

	var rep profile.Report
	err = d.mutate(ctx, d.profileLock, MethodSetProfile, caller, auth.ActionSetProfile, p.String(),
		func(context.Context) (string, error) {
			rep = d.applyProfile(p)
			if rep.Partial() {
				return "partial", nil
			}
			return "applied", nil
		})
	return rep, err
}

// ApplyDefault applies p on behalf of the daemon itself, without
// authorization. It is used once at startup.
func (d *Dispatcher) ApplyDefault(p profile.Profile) profile.Report {
	_ = d.profileLock.acquire(context.Background())
	defer d.profileLock.release()
	d.logger.Info("applying default profile", "profile", p.String())
	return d.applyProfile(p)
}

func (d *Dispatcher) applyProfile(p profile.Profile) profile.Report {
	rep := d.profiles.Apply(p)
	d.state.setProfile(rep)
	d.metrics.observeReport(rep)
	d.publish(events.KindProfileSwitch, p.String())
	return rep
}

// SetGraphics commits the named mode for the next boot.
func (d *Dispatcher) SetGraphics(ctx context.Context, caller auth.Caller, name string) (graphics.Result, error) {
	m, err := graphics.ParseMode(name)
	if err != nil {
		return graphics.Result{}, fmt.Errorf("%w: %w", errs.ErrInvalidArgument, err)
	}

	var res graphics.Result
	err = d.mutate(ctx, d.graphicsLock, MethodSetGraphics, caller, auth.ActionSetGraphics, string(m),
		func(mctx context.Context) (string, error) {
			var err error
			res, err = d.graphics.SetMode(mctx, m)
			if err != nil {
				return "", err
			}
			if res.Outcome == graphics.OutcomeRebootRequired {
				d.state.setGraphics(res.Mode)
				d.publish(events.KindGraphicsMode, res)
			}
			return string(res.Outcome), nil
		})
	return res, err
}

// SetGraphicsPower changes the discrete GPU's live power state.
func (d *Dispatcher) SetGraphicsPower(ctx context.Context, caller auth.Caller, name string) error {
	p, err := graphics.ParsePower(name)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidArgument, err)
	}

	return d.mutate(ctx, d.graphicsLock, MethodSetGraphicsPower, caller, auth.ActionSetGraphicsPower, string(p),
		func(context.Context) (string, error) {
			if err := d.graphics.SetPower(p); err != nil {
				return "", err
			}
			d.publish(events.KindGraphicsPower, string(p))
			return "applied", nil
		})
}

// Close stops accepting mutations and blocks until the ones already running
// have finished and been journaled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.inflight.Wait()
}

// begin registers a mutation unless the dispatcher is closed.
func (d *Dispatcher) begin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.inflight.Add(1)
	return true
}

type mutation func(ctx context.Context) (outcome string, err error)

// mutate takes lock, authorizes caller and runs fn detached from ctx. Only the
// lock wait honors ctx; once the lock is held the mutation completes even if
// the caller gives up waiting for the answer.
func (d *Dispatcher) mutate(ctx context.Context, lock domainLock, method string, caller auth.Caller, action auth.Action, target string, fn mutation) error {
	start := time.Now()
	logger := d.logger.With("method", method, "caller", caller.String(), "target", target)

	if err := lock.acquire(ctx); err != nil {
		logger.Info("request abandoned while waiting for lock", "err", err)
		d.metrics.observeRequest(method, start, err)
		return fmt.Errorf("%s: %w", method, err)
	}
	if !d.begin() {
		lock.release()
		err := fmt.Errorf("%s: %w: %w", method, errs.ErrInvalidState, ErrClosed)
		d.metrics.observeRequest(method, start, err)
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer d.inflight.Done()
		defer lock.release()
		mctx := context.WithoutCancel(ctx)

		if err := d.gate.Authorize(mctx, caller, action).Err(); err != nil {
			d.audit(mctx, method, caller, target, "denied", err)
			done <- err
			return
		}

		outcome, err := fn(mctx)
		if err != nil {
			outcome = "failed"
		}
		d.audit(mctx, method, caller, target, outcome, err)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("%s: %w", method, ctx.Err())
		logger.Info("caller stopped waiting, mutation continues")
	}
	d.metrics.observeRequest(method, start, err)
	d.logResult(logger, err, time.Since(start))
	return err
}

func (d *Dispatcher) logResult(logger *slog.Logger, err error, elapsed time.Duration) {
	switch {
	case err == nil:
		logger.Info("request completed", "elapsed", elapsed)
	case errors.Is(err, errs.ErrUnsupported), errors.Is(err, errs.ErrDenied), errors.Is(err, errs.ErrInvalidState):
		logger.Info("request refused", "err", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return
	default:
		logger.Error("request failed", "err", err)
	}
}

func (d *Dispatcher) audit(ctx context.Context, method string, caller auth.Caller, target, outcome string, err error) {
	if d.journal == nil {
		return
	}
	entry := journal.Entry{
		Action:  method,
		Caller:  caller.String(),
		Target:  target,
		Outcome: outcome,
	}
	if err != nil {
		entry.Detail = err.Error()
	}
	if _, jerr := d.journal.Append(ctx, entry); jerr != nil {
		d.logger.Warn("failed to journal request", "method", method, "err", jerr)
	}
}

func (d *Dispatcher) publish(kind string, data any) {
	if d.events == nil {
		return
	}
	d.events.Publish(events.Event{Kind: kind, Data: data})
}

// ForwardHotplug publishes monitor events until the channel closes or ctx is
// cancelled.
func (d *Dispatcher) ForwardHotplug(ctx context.Context, in <-chan hotplug.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			d.metrics.observeHotplug()
			if d.events != nil {
				d.events.Publish(events.Event{Kind: events.KindHotplug, Time: ev.Time, Data: ev})
			}
		}
	}
}
