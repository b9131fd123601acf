package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	LogLevel     slog.Level
	SysfsRoot    string
	ProcRoot     string
	ConfigRoot   string
	StateDir     string
	ProfilesFile string
	// DefaultProfile is applied at startup. Empty disables it.
	DefaultProfile string
	PCIRuntimePM   bool
	SettleDelay    time.Duration
	// ListenAddr of the admin HTTP surface. Empty disables it.
	ListenAddr       string
	EnablePrometheus bool
	EnablePprof      bool
	Auth             AuthConfig
	DBus             DBusConfig
	Hotplug          HotplugConfig
	Journal          JournalConfig
	WS               WebsocketConfig
}

// AuthConfig selects how mutating callers are authorized.
type AuthConfig struct {
	Backend string
	Timeout time.Duration
}

// DBusConfig captures the bus the daemon serves on.
type DBusConfig struct {
	Bus            string
	RequestTimeout time.Duration
}

// HotplugConfig contains settings for the display connector monitor.
type HotplugConfig struct {
	Enable       bool
	PollInterval time.Duration
	Debounce     time.Duration
}

// JournalConfig toggles the audit journal.
type JournalConfig struct {
	Enable bool
}

// WebsocketConfig captures tunables for the event stream.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
}

const (
	AuthPolkit = "polkit"
	AuthRoot   = "root"
)

var profileNames = []string{"balanced", "performance", "battery"}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:         slog.LevelInfo,
		SysfsRoot:        "/sys",
		ProcRoot:         "/proc",
		ConfigRoot:       "/",
		StateDir:         "/var/lib/gfxpower",
		ProfilesFile:     "/etc/gfxpower/profiles.toml",
		DefaultProfile:   "balanced",
		SettleDelay:      time.Second,
		ListenAddr:       "127.0.0.1:8086",
		EnablePrometheus: true,
		Auth: AuthConfig{
			Backend: AuthPolkit,
			Timeout: 25 * time.Second,
		},
		DBus: DBusConfig{
			Bus:            "system",
			RequestTimeout: 2 * time.Minute,
		},
		Hotplug: HotplugConfig{
			Enable:       true,
			PollInterval: time.Second,
			Debounce:     500 * time.Millisecond,
		},
		Journal: JournalConfig{Enable: true},
		WS: WebsocketConfig{
			MaxClients:   64,
			WriteTimeout: 3 * time.Second,
		},
	}

	if value := lookup("GFXPOWER_LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse GFXPOWER_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	for name, dst := range map[string]*string{
		"GFXPOWER_SYSFS_ROOT":    &cfg.SysfsRoot,
		"GFXPOWER_PROC_ROOT":     &cfg.ProcRoot,
		"GFXPOWER_CONFIG_ROOT":   &cfg.ConfigRoot,
		"GFXPOWER_STATE_DIR":     &cfg.StateDir,
		"GFXPOWER_PROFILES_FILE": &cfg.ProfilesFile,
	} {
		if value := lookup(name); value != "" {
			*dst = value
		}
	}

	if value := lookup("GFXPOWER_DEFAULT_PROFILE"); value != "" {
		value = strings.ToLower(value)
		switch {
		case value == "none":
			cfg.DefaultProfile = ""
		case slices.Contains(profileNames, value):
			cfg.DefaultProfile = value
		default:
			return Config{}, fmt.Errorf("GFXPOWER_DEFAULT_PROFILE must be one of %s or none", strings.Join(profileNames, ", "))
		}
	}

	if value := lookup("GFXPOWER_LISTEN_ADDR"); value != "" {
		if strings.EqualFold(value, "off") {
			cfg.ListenAddr = ""
		} else {
			cfg.ListenAddr = value
		}
	}

	if value := lookup("GFXPOWER_AUTH_BACKEND"); value != "" {
		value = strings.ToLower(value)
		if value != AuthPolkit && value != AuthRoot {
			return Config{}, fmt.Errorf("GFXPOWER_AUTH_BACKEND must be %q or %q", AuthPolkit, AuthRoot)
		}
		cfg.Auth.Backend = value
	}

	if value := lookup("GFXPOWER_DBUS_BUS"); value != "" {
		value = strings.ToLower(value)
		if value != "system" && value != "session" {
			return Config{}, fmt.Errorf("GFXPOWER_DBUS_BUS must be \"system\" or \"session\"")
		}
		cfg.DBus.Bus = value
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"GFXPOWER_PCI_RUNTIME_PM", &cfg.PCIRuntimePM},
		{"GFXPOWER_ENABLE_PROMETHEUS", &cfg.EnablePrometheus},
		{"GFXPOWER_ENABLE_PPROF", &cfg.EnablePprof},
		{"GFXPOWER_HOTPLUG_ENABLE", &cfg.Hotplug.Enable},
		{"GFXPOWER_JOURNAL_ENABLE", &cfg.Journal.Enable},
	}
	for _, b := range bools {
		if value := lookup(b.name); value != "" {
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", b.name, err)
			}
			*b.dst = enabled
		}
	}

	durations := []struct {
		name      string
		dst       *time.Duration
		allowZero bool
	}{
		{"GFXPOWER_AUTH_TIMEOUT", &cfg.Auth.Timeout, false},
		{"GFXPOWER_REQUEST_TIMEOUT", &cfg.DBus.RequestTimeout, false},
		{"GFXPOWER_HOTPLUG_POLL_INTERVAL", &cfg.Hotplug.PollInterval, false},
		{"GFXPOWER_HOTPLUG_DEBOUNCE", &cfg.Hotplug.Debounce, true},
		{"GFXPOWER_SETTLE_DELAY", &cfg.SettleDelay, true},
		{"GFXPOWER_WS_WRITE_TIMEOUT", &cfg.WS.WriteTimeout, false},
	}
	for _, d := range durations {
		value := lookup(d.name)
		if value == "" {
			continue
		}
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		if duration < 0 || (duration == 0 && !d.allowZero) {
			if d.allowZero {
				return Config{}, fmt.Errorf("%s must be >= 0", d.name)
			}
			return Config{}, fmt.Errorf("%s must be > 0", d.name)
		}
		*d.dst = duration
	}

	if value := lookup("GFXPOWER_WS_MAX_CLIENTS"); value != "" {
		maxClients, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse GFXPOWER_WS_MAX_CLIENTS: %w", err)
		}
		if maxClients <= 0 {
			return Config{}, fmt.Errorf("GFXPOWER_WS_MAX_CLIENTS must be > 0")
		}
		cfg.WS.MaxClients = maxClients
	}

	return cfg, nil
}

func lookup(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
