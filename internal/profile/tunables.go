package profile

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/hcs"
)

// write is one concrete knob assignment. A non-nil err records a failure found
// while planning the write; the knob is then reported without being written.
type write struct {
	knob  hcs.Knob
	value string
	err   error
}

// tunable expands to the concrete writes one profile needs. A plan error
// wrapping errs.ErrUnsupported means the host lacks the tunable entirely.
type tunable struct {
	id   string
	tier Profile
	plan func(s hcs.Surface, p Profile, cfg Settings) ([]write, error)
}

// values is indexed by Profile. Entries below a tunable's tier are unused.
type values [3]string

var (
	cpuDirPattern  = regexp.MustCompile(`^cpu[0-9]+$`)
	drmCardPattern = regexp.MustCompile(`^card[0-9]+$`)
)

var (
	cpuRoot        = hcs.Sys("devices", "system", "cpu")
	intelPStateDir = cpuRoot.Join("intel_pstate")
)

// buildTunables returns the ordered knob list. Tunables are grouped by tier so
// that each profile's list is a prefix of the next one's. A knob above the
// Balanced tier is never written by a lower profile, so its value stays in
// place after switching back; those values are left empty here. Only knobs
// that trade a little power for latency belong above Balanced.
func buildTunables(pciRuntimePM bool) []tunable {
	list := []tunable{
		fixed("acpi/platform_profile", Balanced, hcs.Sys("firmware", "acpi", "platform_profile"),
			values{"balanced-performance", "performance", "low-power"}),
		{id: "vm/dirty_writeback_centisecs", tier: Balanced, plan: dirty("dirty_writeback_centisecs")},
		{id: "vm/dirty_expire_centisecs", tier: Balanced, plan: dirty("dirty_expire_centisecs")},
		fixed("vm/laptop_mode", Balanced, hcs.Proc("sys", "vm", "laptop_mode"), values{"2", "0", "2"}),
		{id: "drm/radeon", tier: Balanced, plan: planRadeon},
		perDevice("scsi_host/link_power_management_policy", Balanced, hcs.Sys("class", "scsi_host"), nil,
			"link_power_management_policy", values{"med_power_with_dipm", "max_performance", "min_power"}),
		{id: "backlight/screen", tier: Balanced, plan: planBacklight(hcs.Sys("class", "backlight"), nil, screenFraction)},
		{id: "backlight/keyboard", tier: Balanced, plan: planBacklight(hcs.Sys("class", "leds"), isKeyboardLED, keyboardFraction)},
	}
	if pciRuntimePM {
		list = append(list, perDevice("pci/runtime_pm", Balanced, hcs.Sys("bus", "pci", "devices"), nil,
			"power/control", values{"auto", "on", "auto"}))
	}
	list = append(list,
		tunable{id: "cpufreq/scaling_governor", tier: Balanced, plan: planGovernor},
		tunable{id: "cpufreq/scaling_max_freq", tier: Balanced, plan: planMaxFreq},
		tunable{id: "intel_pstate/min_perf_pct", tier: Balanced, plan: planPState("min_perf_pct")},
		tunable{id: "intel_pstate/max_perf_pct", tier: Balanced, plan: planPState("max_perf_pct")},
		tunable{id: "intel_pstate/no_turbo", tier: Balanced, plan: planPState("no_turbo")},

		fixed("pcie_aspm/policy", Performance, hcs.Sys("module", "pcie_aspm", "parameters", "policy"),
			values{"", "performance", "powersupersave"}),
		perCPU("cpufreq/energy_performance_preference", Performance, "energy_performance_preference",
			values{"", "performance", "power"}),

		fixed("snd_hda_intel/power_save", Battery, hcs.Sys("module", "snd_hda_intel", "parameters", "power_save"),
			values{"", "", "1"}),
		fixed("kernel/nmi_watchdog", Battery, hcs.Proc("sys", "kernel", "nmi_watchdog"), values{"", "", "0"}),
	)
	return list
}

func fixed(id string, tier Profile, k hcs.Knob, v values) tunable {
	return tunable{
		id:   id,
		tier: tier,
		plan: func(_ hcs.Surface, p Profile, _ Settings) ([]write, error) {
			return []write{{knob: k, value: v[p]}}, nil
		},
	}
}

func perDevice(id string, tier Profile, class hcs.Knob, filter func(string) bool, attr string, v values) tunable {
	return tunable{
		id:   id,
		tier: tier,
		plan: func(s hcs.Surface, p Profile, _ Settings) ([]write, error) {
			devices, err := listDevices(s, class, filter)
			if err != nil {
				return nil, err
			}
			writes := make([]write, 0, len(devices))
			for _, dev := range devices {
				writes = append(writes, write{knob: class.Join(dev, attr), value: v[p]})
			}
			return writes, nil
		},
	}
}

func perCPU(id string, tier Profile, attr string, v values) tunable {
	return tunable{
		id:   id,
		tier: tier,
		plan: func(s hcs.Surface, p Profile, _ Settings) ([]write, error) {
			cpus, err := listDevices(s, cpuRoot, cpuDirPattern.MatchString)
			if err != nil {
				return nil, err
			}
			writes := make([]write, 0, len(cpus))
			for _, cpu := range cpus {
				writes = append(writes, write{knob: cpuRoot.Join(cpu, "cpufreq", attr), value: v[p]})
			}
			return writes, nil
		},
	}
}

func listDevices(s hcs.Surface, class hcs.Knob, filter func(string) bool) ([]string, error) {
	names, err := s.List(class)
	if err != nil {
		return nil, err
	}
	out := names[:0:0]
	for _, name := range names {
		if filter == nil || filter(name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no devices under %s: %w", class, errs.ErrUnsupported)
	}
	return out, nil
}

func dirty(name string) func(hcs.Surface, Profile, Settings) ([]write, error) {
	return func(_ hcs.Surface, _ Profile, cfg Settings) ([]write, error) {
		centisecs := cfg.DirtySeconds * 100
		return []write{{knob: hcs.Proc("sys", "vm", name), value: strconv.Itoa(centisecs)}}, nil
	}
}

func planRadeon(s hcs.Surface, p Profile, _ Settings) ([]write, error) {
	cards, err := listDevices(s, hcs.Sys("class", "drm"), drmCardPattern.MatchString)
	if err != nil {
		return nil, err
	}
	var (
		powerProfile = values{"auto", "high", "low"}
		dpmState     = values{"performance", "performance", "battery"}
		forceLevel   = values{"auto", "auto", "low"}
		writes       []write
	)
	for _, card := range cards {
		dev := hcs.Sys("class", "drm", card, "device")
		if _, err := s.Read(dev.Join("power_dpm_state")); err != nil {
			continue
		}
		writes = append(writes,
			write{knob: dev.Join("power_profile"), value: powerProfile[p]},
			write{knob: dev.Join("power_dpm_state"), value: dpmState[p]},
			write{knob: dev.Join("power_dpm_force_performance_level"), value: forceLevel[p]},
		)
	}
	if len(writes) == 0 {
		return nil, fmt.Errorf("no radeon devices: %w", errs.ErrUnsupported)
	}
	return writes, nil
}

func isKeyboardLED(name string) bool {
	return strings.Contains(name, "kbd_backlight")
}

func screenFraction(cfg Settings) float64   { return cfg.ScreenBrightness }
func keyboardFraction(cfg Settings) float64 { return cfg.KeyboardBrightness }

func planBacklight(class hcs.Knob, filter func(string) bool, fraction func(Settings) float64) func(hcs.Surface, Profile, Settings) ([]write, error) {
	return func(s hcs.Surface, _ Profile, cfg Settings) ([]write, error) {
		devices, err := listDevices(s, class, filter)
		if err != nil {
			return nil, err
		}
		writes := make([]write, 0, len(devices))
		for _, dev := range devices {
			knob := class.Join(dev, "brightness")
			value, err := lowerBrightness(s, class.Join(dev), fraction(cfg))
			writes = append(writes, write{knob: knob, value: value, err: err})
		}
		return writes, nil
	}
}

// lowerBrightness returns floor(max*fraction), or the current level when that is
// already lower.
func lowerBrightness(s hcs.Surface, dev hcs.Knob, fraction float64) (string, error) {
	maxLevel, err := readUint(s, dev.Join("max_brightness"))
	if err != nil {
		return "", err
	}
	current, err := readUint(s, dev.Join("brightness"))
	if err != nil {
		return "", err
	}
	target := BrightnessLevel(maxLevel, fraction)
	if current < target {
		target = current
	}
	return strconv.FormatUint(target, 10), nil
}

// BrightnessLevel converts a fraction of max into a hardware step, rounding down.
func BrightnessLevel(maxLevel uint64, fraction float64) uint64 {
	fraction = math.Max(0, math.Min(1, fraction))
	return uint64(math.Floor(float64(maxLevel) * fraction))
}

func planGovernor(s hcs.Surface, p Profile, _ Settings) ([]write, error) {
	driver, err := s.Read(cpuRoot.Join("cpu0", "cpufreq", "scaling_driver"))
	if err != nil {
		return nil, err
	}
	governors := values{"schedutil", "performance", "conservative"}
	if driver == "intel_pstate" {
		governors = values{"powersave", "performance", "powersave"}
	}
	return perCPU("", Balanced, "scaling_governor", governors).plan(s, p, Settings{})
}

func planMaxFreq(s hcs.Surface, _ Profile, cfg Settings) ([]write, error) {
	maxFreq, err := readUint(s, cpuRoot.Join("cpu0", "cpufreq", "cpuinfo_max_freq"))
	if err != nil {
		return nil, err
	}
	percent := min(max(cfg.MaxFreqPercent, 0), 100)
	limit := strconv.FormatUint(maxFreq*uint64(percent)/100, 10)

	cpus, err := listDevices(s, cpuRoot, cpuDirPattern.MatchString)
	if err != nil {
		return nil, err
	}
	writes := make([]write, 0, len(cpus))
	for _, cpu := range cpus {
		writes = append(writes, write{knob: cpuRoot.Join(cpu, "cpufreq", "scaling_max_freq"), value: limit})
	}
	return writes, nil
}

func planPState(attr string) func(hcs.Surface, Profile, Settings) ([]write, error) {
	return func(_ hcs.Surface, _ Profile, cfg Settings) ([]write, error) {
		var value string
		switch attr {
		case "min_perf_pct":
			value = strconv.Itoa(cfg.PStateMin)
		case "max_perf_pct":
			value = strconv.Itoa(cfg.PStateMax)
		case "no_turbo":
			value = "0"
			if !cfg.Turbo {
				value = "1"
			}
		}
		return []write{{knob: intelPStateDir.Join(attr), value: value}}, nil
	}
}

func readUint(s hcs.Surface, k hcs.Knob) (uint64, error) {
	raw, err := s.Read(k)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w: %w", k, errs.ErrIO, err)
	}
	return v, nil
}
