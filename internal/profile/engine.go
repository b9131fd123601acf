package profile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/hcs"
)

// Failure is one knob that could not be written.
type Failure struct {
	Knob  string `json:"knob"`
	Error string `json:"error"`
}

// Report classifies every knob a profile application touched.
type Report struct {
	Profile Profile   `json:"-"`
	Name    string    `json:"profile"`
	Applied []string  `json:"applied"`
	Skipped []string  `json:"skipped"`
	Failed  []Failure `json:"failed"`
}

// Partial reports whether at least one knob failed.
func (r Report) Partial() bool {
	return len(r.Failed) > 0
}

// FailedKnobs returns the names of the failed knobs.
func (r Report) FailedKnobs() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.Knob)
	}
	return out
}

func (r *Report) record(knob string, err error) {
	switch {
	case err == nil:
		r.Applied = append(r.Applied, knob)
	case errors.Is(err, errs.ErrUnsupported):
		r.Skipped = append(r.Skipped, knob)
	default:
		r.Failed = append(r.Failed, Failure{Knob: knob, Error: err.Error()})
	}
}

// Options configures an Engine.
type Options struct {
	// Settings overrides the built-in per-profile settings.
	Settings map[Profile]Settings
	// PCIRuntimePM adds PCI runtime power management to every profile. Some
	// hosts misbehave with it, so it is opt-in.
	PCIRuntimePM bool
}

// Engine applies profiles through a control surface. It keeps no state of its
// own; callers serialize Apply.
type Engine struct {
	surface  hcs.Surface
	settings map[Profile]Settings
	tunables []tunable
	logger   *slog.Logger
}

// NewEngine builds a profile engine.
func NewEngine(surface hcs.Surface, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	settings := DefaultSettings()
	for p, s := range opts.Settings {
		settings[p] = s
	}
	return &Engine{
		surface:  surface,
		settings: settings,
		tunables: buildTunables(opts.PCIRuntimePM),
		logger:   logger,
	}
}

// Knobs returns the ordered tunable identifiers applied for p.
func (e *Engine) Knobs(p Profile) []string {
	var ids []string
	for _, t := range e.tunables {
		if p.includes(t.tier) {
			ids = append(ids, t.id)
		}
	}
	return ids
}

// Apply writes every knob of p in order. Failures never stop the batch and
// nothing is rolled back; re-applying converges the host.
func (e *Engine) Apply(p Profile) Report {
	rep := Report{Profile: p, Name: p.String()}
	cfg := e.settings[p]

	for _, t := range e.tunables {
		if !p.includes(t.tier) {
			continue
		}
		writes, err := t.plan(e.surface, p, cfg)
		if err != nil {
			e.logKnob(t.id, err)
			rep.record(t.id, err)
			continue
		}
		for _, w := range writes {
			err := w.err
			if err == nil {
				err = e.surface.Write(w.knob, w.value)
			}
			e.logKnob(w.knob.String(), err)
			rep.record(w.knob.String(), err)
		}
	}

	level := slog.LevelInfo
	if rep.Partial() {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "profile applied",
		"profile", p.String(),
		"applied", len(rep.Applied),
		"skipped", len(rep.Skipped),
		"failed", len(rep.Failed),
	)
	return rep
}

func (e *Engine) logKnob(knob string, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, errs.ErrUnsupported):
		e.logger.Debug("knob not supported", "knob", knob)
	default:
		e.logger.Warn("knob write failed", "knob", knob, "err", err)
	}
}

// Current infers the applied profile from representative knobs: the ACPI
// platform profile when present, otherwise the cpufreq governor and the
// intel_pstate ceiling. Ambiguous hosts report Balanced.
func (e *Engine) Current() Profile {
	if value, err := e.surface.Read(hcs.Sys("firmware", "acpi", "platform_profile")); err == nil {
		switch value {
		case "low-power", "quiet", "cool":
			return Battery
		case "performance":
			return Performance
		case "balanced", "balanced-performance":
			return Balanced
		}
	}

	governor, err := e.surface.Read(cpuRoot.Join("cpu0", "cpufreq", "scaling_governor"))
	if err != nil {
		return Balanced
	}
	switch governor {
	case "performance":
		return Performance
	case "conservative":
		return Battery
	case "powersave":
		raw, err := e.surface.Read(intelPStateDir.Join("max_perf_pct"))
		if err != nil {
			return Balanced
		}
		pct, err := strconv.Atoi(raw)
		if err == nil && pct <= e.settings[Battery].PStateMax && pct < e.settings[Balanced].PStateMax {
			return Battery
		}
	}
	return Balanced
}
