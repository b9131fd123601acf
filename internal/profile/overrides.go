package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
)

type overridesFile struct {
	Profiles map[string]profileOverride `toml:"profiles"`
}

type profileOverride struct {
	Backlight    *backlightOverride `toml:"backlight"`
	PState       *pstateOverride    `toml:"pstate"`
	DirtySeconds *int               `toml:"dirty_seconds"`
	MaxFreqPct   *int               `toml:"max_freq_percent"`
}

type backlightOverride struct {
	Screen   *int `toml:"screen"`
	Keyboard *int `toml:"keyboard"`
}

type pstateOverride struct {
	Min   *int  `toml:"min"`
	Max   *int  `toml:"max"`
	Turbo *bool `toml:"turbo"`
}

// LoadSettings reads per-profile overrides from a TOML file and merges them
// over the defaults. A missing file yields the defaults.
//
//	[profiles.battery]
//	backlight = { screen = 10, keyboard = 0 }
//	pstate = { min = 0, max = 50, turbo = false }
//	dirty_seconds = 15
func LoadSettings(path string) (map[Profile]Settings, error) {
	settings := DefaultSettings()
	if strings.TrimSpace(path) == "" {
		return settings, nil
	}

	var file overridesFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settings, nil
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode %s: unknown key %s", path, undecoded[0])
	}

	for name, override := range file.Profiles {
		p, err := Parse(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		merged, err := override.apply(settings[p])
		if err != nil {
			return nil, fmt.Errorf("%s: profiles.%s: %w", path, name, err)
		}
		settings[p] = merged
	}
	return settings, nil
}

func (o profileOverride) apply(s Settings) (Settings, error) {
	if o.Backlight != nil {
		if o.Backlight.Screen != nil {
			v, err := percent("backlight.screen", *o.Backlight.Screen)
			if err != nil {
				return s, err
			}
			s.ScreenBrightness = float64(v) / 100
		}
		if o.Backlight.Keyboard != nil {
			v, err := percent("backlight.keyboard", *o.Backlight.Keyboard)
			if err != nil {
				return s, err
			}
			s.KeyboardBrightness = float64(v) / 100
		}
	}
	if o.PState != nil {
		if o.PState.Min != nil {
			v, err := percent("pstate.min", *o.PState.Min)
			if err != nil {
				return s, err
			}
			s.PStateMin = v
		}
		if o.PState.Max != nil {
			v, err := percent("pstate.max", *o.PState.Max)
			if err != nil {
				return s, err
			}
			s.PStateMax = v
		}
		if o.PState.Turbo != nil {
			s.Turbo = *o.PState.Turbo
		}
		if s.PStateMin > s.PStateMax {
			return s, fmt.Errorf("pstate.min %d exceeds pstate.max %d", s.PStateMin, s.PStateMax)
		}
	}
	if o.DirtySeconds != nil {
		if *o.DirtySeconds <= 0 {
			return s, fmt.Errorf("dirty_seconds must be > 0")
		}
		s.DirtySeconds = *o.DirtySeconds
	}
	if o.MaxFreqPct != nil {
		v, err := percent("max_freq_percent", *o.MaxFreqPct)
		if err != nil {
			return s, err
		}
		s.MaxFreqPercent = v
	}
	return s, nil
}

func percent(name string, v int) (int, error) {
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("%s must be within 0..100, got %d", name, v)
	}
	return v, nil
}
