package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:8086" {
		t.Fatalf("unexpected ListenAddr %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected LogLevel %v", cfg.LogLevel)
	}
	if cfg.SysfsRoot != "/sys" || cfg.ProcRoot != "/proc" || cfg.ConfigRoot != "/" {
		t.Fatalf("unexpected roots %q %q %q", cfg.SysfsRoot, cfg.ProcRoot, cfg.ConfigRoot)
	}
	if cfg.StateDir != "/var/lib/gfxpower" {
		t.Fatalf("unexpected StateDir %q", cfg.StateDir)
	}
	if cfg.DefaultProfile != "balanced" {
		t.Fatalf("unexpected DefaultProfile %q", cfg.DefaultProfile)
	}
	if cfg.Auth.Backend != AuthPolkit || cfg.Auth.Timeout != 25*time.Second {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
	if cfg.DBus.Bus != "system" || cfg.DBus.RequestTimeout != 2*time.Minute {
		t.Fatalf("unexpected dbus config %+v", cfg.DBus)
	}
	if !cfg.Hotplug.Enable || cfg.Hotplug.Debounce != 500*time.Millisecond {
		t.Fatalf("unexpected hotplug config %+v", cfg.Hotplug)
	}
	if !cfg.Journal.Enable {
		t.Fatal("expected journal enabled by default")
	}
	if cfg.PCIRuntimePM {
		t.Fatal("expected PCI runtime PM disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GFXPOWER_LOG_LEVEL", "debug")
	t.Setenv("GFXPOWER_SYSFS_ROOT", "/tmp/sys")
	t.Setenv("GFXPOWER_PROC_ROOT", "/tmp/proc")
	t.Setenv("GFXPOWER_CONFIG_ROOT", "/tmp/root")
	t.Setenv("GFXPOWER_STATE_DIR", "/tmp/state")
	t.Setenv("GFXPOWER_PROFILES_FILE", "/tmp/profiles.toml")
	t.Setenv("GFXPOWER_DEFAULT_PROFILE", "None")
	t.Setenv("GFXPOWER_PCI_RUNTIME_PM", "true")
	t.Setenv("GFXPOWER_SETTLE_DELAY", "0")
	t.Setenv("GFXPOWER_LISTEN_ADDR", "off")
	t.Setenv("GFXPOWER_ENABLE_PROMETHEUS", "false")
	t.Setenv("GFXPOWER_ENABLE_PPROF", "true")
	t.Setenv("GFXPOWER_AUTH_BACKEND", "root")
	t.Setenv("GFXPOWER_AUTH_TIMEOUT", "5s")
	t.Setenv("GFXPOWER_REQUEST_TIMEOUT", "30s")
	t.Setenv("GFXPOWER_DBUS_BUS", "session")
	t.Setenv("GFXPOWER_HOTPLUG_ENABLE", "false")
	t.Setenv("GFXPOWER_HOTPLUG_POLL_INTERVAL", "250ms")
	t.Setenv("GFXPOWER_HOTPLUG_DEBOUNCE", "0s")
	t.Setenv("GFXPOWER_JOURNAL_ENABLE", "false")
	t.Setenv("GFXPOWER_WS_MAX_CLIENTS", "8")
	t.Setenv("GFXPOWER_WS_WRITE_TIMEOUT", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	expected := Config{
		LogLevel:         slog.LevelDebug,
		SysfsRoot:        "/tmp/sys",
		ProcRoot:         "/tmp/proc",
		ConfigRoot:       "/tmp/root",
		StateDir:         "/tmp/state",
		ProfilesFile:     "/tmp/profiles.toml",
		DefaultProfile:   "",
		PCIRuntimePM:     true,
		SettleDelay:      0,
		ListenAddr:       "",
		EnablePrometheus: false,
		EnablePprof:      true,
		Auth:             AuthConfig{Backend: AuthRoot, Timeout: 5 * time.Second},
		DBus:             DBusConfig{Bus: "session", RequestTimeout: 30 * time.Second},
		Hotplug:          HotplugConfig{Enable: false, PollInterval: 250 * time.Millisecond, Debounce: 0},
		Journal:          JournalConfig{Enable: false},
		WS:               WebsocketConfig{MaxClients: 8, WriteTimeout: 10 * time.Second},
	}
	if cfg != expected {
		t.Fatalf("unexpected config:\n got %+v\nwant %+v", cfg, expected)
	}
}

func TestLoadDefaultProfileCaseInsensitive(t *testing.T) {
	t.Setenv("GFXPOWER_DEFAULT_PROFILE", "Battery")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DefaultProfile != "battery" {
		t.Fatalf("unexpected DefaultProfile %q", cfg.DefaultProfile)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{"InvalidLogLevel", "GFXPOWER_LOG_LEVEL", "loud"},
		{"UnknownDefaultProfile", "GFXPOWER_DEFAULT_PROFILE", "turbo"},
		{"UnknownAuthBackend", "GFXPOWER_AUTH_BACKEND", "pam"},
		{"UnknownBus", "GFXPOWER_DBUS_BUS", "user"},
		{"InvalidRuntimePMBool", "GFXPOWER_PCI_RUNTIME_PM", "maybe"},
		{"InvalidPrometheusBool", "GFXPOWER_ENABLE_PROMETHEUS", "maybe"},
		{"InvalidAuthTimeout", "GFXPOWER_AUTH_TIMEOUT", "soon"},
		{"ZeroAuthTimeout", "GFXPOWER_AUTH_TIMEOUT", "0"},
		{"NegativeRequestTimeout", "GFXPOWER_REQUEST_TIMEOUT", "-1s"},
		{"ZeroPollInterval", "GFXPOWER_HOTPLUG_POLL_INTERVAL", "0s"},
		{"NegativeDebounce", "GFXPOWER_HOTPLUG_DEBOUNCE", "-5ms"},
		{"NegativeSettleDelay", "GFXPOWER_SETTLE_DELAY", "-1s"},
		{"InvalidWSMaxClients", "GFXPOWER_WS_MAX_CLIENTS", "zero"},
		{"NonPositiveWSMaxClients", "GFXPOWER_WS_MAX_CLIENTS", "0"},
		{"InvalidWSWriteTimeout", "GFXPOWER_WS_WRITE_TIMEOUT", "nope"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}
