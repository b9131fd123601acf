// Package profile applies and infers power profiles: ordered sets of kernel and
// firmware tunables trading performance for battery life.
package profile

import (
	"fmt"
	"strings"
)

// Profile names a tuning set. Profiles form a prefix-extension chain in
// declaration order: Performance applies every Balanced knob plus its own,
// Battery applies every Performance knob plus its own.
type Profile int

const (
	Balanced Profile = iota
	Performance
	Battery
)

// All returns every profile in chain order.
func All() []Profile {
	return []Profile{Balanced, Performance, Battery}
}

func (p Profile) String() string {
	switch p {
	case Balanced:
		return "balanced"
	case Performance:
		return "performance"
	case Battery:
		return "battery"
	default:
		return fmt.Sprintf("profile(%d)", int(p))
	}
}

// Parse accepts a profile name, case-insensitively.
func Parse(value string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "balanced":
		return Balanced, nil
	case "performance":
		return Performance, nil
	case "battery":
		return Battery, nil
	default:
		return 0, fmt.Errorf("unknown profile %q", value)
	}
}

// includes reports whether a knob introduced at tier is part of p's list.
func (p Profile) includes(tier Profile) bool {
	return tier <= p
}

// Settings are the numeric, user-tunable parts of a profile.
type Settings struct {
	// ScreenBrightness and KeyboardBrightness are fractions of the device
	// maximum. Brightness is only ever lowered to this level, never raised.
	ScreenBrightness   float64
	KeyboardBrightness float64
	// DirtySeconds is how much unsynced disk work may be lost on power failure.
	DirtySeconds int
	// MaxFreqPercent caps cpufreq scaling_max_freq as a share of cpuinfo_max_freq.
	MaxFreqPercent int
	PStateMin      int
	PStateMax      int
	Turbo          bool
}

// DefaultSettings returns the built-in settings for every profile.
func DefaultSettings() map[Profile]Settings {
	return map[Profile]Settings{
		Balanced: {
			ScreenBrightness:   0.40,
			KeyboardBrightness: 0.50,
			DirtySeconds:       15,
			MaxFreqPercent:     100,
			PStateMin:          0,
			PStateMax:          100,
			Turbo:              true,
		},
		Performance: {
			ScreenBrightness:   1,
			KeyboardBrightness: 1,
			DirtySeconds:       15,
			MaxFreqPercent:     100,
			PStateMin:          0,
			PStateMax:          100,
			Turbo:              true,
		},
		Battery: {
			ScreenBrightness:   0.10,
			KeyboardBrightness: 0,
			DirtySeconds:       15,
			MaxFreqPercent:     50,
			PStateMin:          0,
			PStateMax:          50,
			Turbo:              false,
		},
	}
}
