package hcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/skobkin/gfxpower/internal/errs"
)

func TestFSReadWrite(t *testing.T) {
	t.Parallel()

	sys := t.TempDir()
	writeFile(t, filepath.Join(sys, "firmware", "acpi", "platform_profile"), "balanced\n")

	surface := NewFS(Options{SysfsRoot: sys, ProcRoot: t.TempDir(), HostRoot: t.TempDir()})
	knob := Sys("firmware", "acpi", "platform_profile")

	got, err := surface.Read(knob)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if got != "balanced" {
		t.Fatalf("unexpected value %q", got)
	}

	if err := surface.Write(knob, "low-power"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	got, err = surface.Read(knob)
	if err != nil {
		t.Fatalf("Read after write returned error: %v", err)
	}
	if got != "low-power" {
		t.Fatalf("expected truncated write, got %q", got)
	}
}

func TestFSMissingKnobIsUnsupported(t *testing.T) {
	t.Parallel()

	surface := NewFS(Options{SysfsRoot: t.TempDir(), ProcRoot: t.TempDir(), HostRoot: t.TempDir()})
	knob := Sys("module", "pcie_aspm", "parameters", "policy")

	if _, err := surface.Read(knob); !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("Read: expected ErrUnsupported, got %v", err)
	}
	err := surface.Write(knob, "default")
	if !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("Write: expected ErrUnsupported, got %v", err)
	}
	if errors.Is(err, errs.ErrIO) {
		t.Fatalf("missing knob must not be reported as i/o failure")
	}

	var knobErr *KnobError
	if !errors.As(err, &knobErr) || knobErr.Knob != knob {
		t.Fatalf("expected KnobError for %v, got %v", knob, err)
	}
}

func TestFSWriteToDirectoryIsIOFailure(t *testing.T) {
	t.Parallel()

	sys := t.TempDir()
	if err := os.MkdirAll(filepath.Join(sys, "power", "state"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	surface := NewFS(Options{SysfsRoot: sys})
	err := surface.Write(Sys("power", "state"), "mem")
	if !errors.Is(err, errs.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestFSHostWriteCreatesParents(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	surface := NewFS(Options{HostRoot: host})

	knob := Host("etc", "modprobe.d", "gfxpower.conf")
	if err := surface.Write(knob, "blacklist nouveau\n"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(host, "etc", "modprobe.d", "gfxpower.conf"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "blacklist nouveau\n" {
		t.Fatalf("unexpected content %q", data)
	}

	if _, err := os.Stat(filepath.Join(host, "etc", "modprobe.d", "gfxpower.conf.gfxpower-tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	if err := surface.Remove(knob); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if err := surface.Remove(knob); err != nil {
		t.Fatalf("second Remove returned error: %v", err)
	}
}

func TestFSHostFollowsAbsoluteSymlinks(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	target := filepath.Join(t.TempDir(), "modprobe.d")
	writeFile(t, filepath.Join(target, "nvidia.conf"), "options nvidia NVreg_DynamicPowerManagement=0x02\n")
	if err := os.MkdirAll(filepath.Join(host, "etc"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(target, filepath.Join(host, "etc", "modprobe.d")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	surface := NewFS(Options{HostRoot: host})

	got, err := surface.Read(Host("etc", "modprobe.d", "nvidia.conf"))
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if got != "options nvidia NVreg_DynamicPowerManagement=0x02" {
		t.Fatalf("unexpected value %q", got)
	}

	if err := surface.Write(Host("etc", "modprobe.d", "gfxpower.conf"), "blacklist nouveau\n"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "gfxpower.conf")); err != nil {
		t.Fatalf("write did not land in the symlink target: %v", err)
	}

	names, err := surface.List(Host("etc", "modprobe.d"))
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if want := []string{"gfxpower.conf", "nvidia.conf"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("List = %v, want %v", names, want)
	}

	if err := surface.Remove(Host("etc", "modprobe.d", "gfxpower.conf")); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "gfxpower.conf")); !os.IsNotExist(err) {
		t.Fatalf("file still present after Remove: %v", err)
	}
}

func TestFSList(t *testing.T) {
	t.Parallel()

	sys := t.TempDir()
	writeFile(t, filepath.Join(sys, "class", "backlight", "intel_backlight", "brightness"), "100")
	writeFile(t, filepath.Join(sys, "class", "backlight", "acpi_video0", "brightness"), "7")

	surface := NewFS(Options{SysfsRoot: sys})
	names, err := surface.List(Sys("class", "backlight"))
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	want := []string{"acpi_video0", "intel_backlight"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("List = %v, want %v", names, want)
	}

	if _, err := surface.List(Sys("class", "leds")); !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for missing class, got %v", err)
	}
}

func TestFSRescan(t *testing.T) {
	t.Parallel()

	sys := t.TempDir()
	writeFile(t, filepath.Join(sys, "bus", "pci", "rescan"), "")

	surface := NewFS(Options{SysfsRoot: sys})
	if err := surface.Rescan("pci"); err != nil {
		t.Fatalf("Rescan returned error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(sys, "bus", "pci", "rescan"))
	if err != nil {
		t.Fatalf("read rescan: %v", err)
	}
	if string(data) != "1" {
		t.Fatalf("unexpected rescan content %q", data)
	}

	if err := surface.Rescan("usb"); !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for missing bus, got %v", err)
	}
}

func TestFSInvoke(t *testing.T) {
	t.Parallel()

	surface := NewFS(Options{})
	ctx := context.Background()

	if err := surface.Invoke(ctx, "gfxpower-no-such-tool"); !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for missing tool, got %v", err)
	}

	if _, err := os.Stat("/bin/false"); err == nil {
		if err := surface.Invoke(ctx, "false"); !errors.Is(err, errs.ErrIO) {
			t.Fatalf("expected ErrIO for failing tool, got %v", err)
		}
	}

	disabled := NewFS(Options{DisableTools: true})
	if err := disabled.Invoke(ctx, "true"); !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported when tools disabled, got %v", err)
	}
}

func TestKnobString(t *testing.T) {
	t.Parallel()

	cases := map[Knob]string{
		Sys("class", "drm"):                   "/sys/class/drm",
		Proc("sys", "vm", "laptop_mode"):      "/proc/sys/vm/laptop_mode",
		Host("etc", "prime-discrete"):         "/etc/prime-discrete",
		Sys("bus", "pci").Join("devices", "x"): "/sys/bus/pci/devices/x",
	}
	for knob, want := range cases {
		if got := knob.String(); got != want {
			t.Errorf("%#v.String() = %q, want %q", knob, got, want)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
