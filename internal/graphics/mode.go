// Package graphics is the graphics-mode switch engine: it validates switching
// capability, commits the next-boot mode atomically, regenerates boot
// artifacts and controls the discrete GPU's live power state.
package graphics

import (
	"fmt"
	"strings"
)

// Mode is the renderer configuration selected for the next boot.
type Mode string

const (
	Integrated Mode = "integrated"
	Nvidia     Mode = "nvidia"
	Hybrid     Mode = "hybrid"
	Compute    Mode = "compute"
)

// Modes returns every mode.
func Modes() []Mode {
	return []Mode{Integrated, Nvidia, Hybrid, Compute}
}

// ParseMode accepts a mode name, case-insensitively. "discrete" is accepted as
// an alias for nvidia.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "integrated", "intel", "amd":
		return Integrated, nil
	case "nvidia", "discrete":
		return Nvidia, nil
	case "hybrid":
		return Hybrid, nil
	case "compute":
		return Compute, nil
	default:
		return "", fmt.Errorf("unknown graphics mode %q", value)
	}
}

// Power is the live runtime power posture of the discrete GPU.
type Power string

const (
	PowerOn   Power = "on"
	PowerOff  Power = "off"
	PowerAuto Power = "auto"
)

// ParsePower accepts a power state name, case-insensitively.
func ParsePower(value string) (Power, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on":
		return PowerOn, nil
	case "off":
		return PowerOff, nil
	case "auto":
		return PowerAuto, nil
	default:
		return "", fmt.Errorf("unknown graphics power state %q", value)
	}
}

// Outcome is the result kind of a mode switch request.
type Outcome string

const (
	OutcomeNoOp           Outcome = "no-op"
	OutcomeRebootRequired Outcome = "reboot-required"
)

// Result describes a completed SetMode call. Warnings list boot artifacts that
// could not be regenerated; the committed mode stands regardless.
type Result struct {
	Outcome  Outcome  `json:"outcome"`
	Mode     Mode     `json:"mode"`
	Warnings []string `json:"warnings,omitempty"`
}
