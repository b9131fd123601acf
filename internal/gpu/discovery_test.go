package gpu

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/hcs"
	"github.com/skobkin/gfxpower/internal/hcs/hcstest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscoverHybridLaptop(t *testing.T) {
	t.Parallel()

	inv, err := Discover(hcstest.HybridLaptop(), testLogger())
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}

	if len(inv.Devices) != 2 {
		t.Fatalf("expected 2 display controllers, got %d: %+v", len(inv.Devices), inv.Devices)
	}
	if inv.Desktop {
		t.Fatalf("laptop chassis reported as desktop")
	}

	nvidia := inv.Discrete()
	if len(nvidia) != 1 {
		t.Fatalf("expected one discrete GPU, got %d", len(nvidia))
	}
	dgpu := nvidia[0]
	if dgpu.Slot != "0000:01:00.0" {
		t.Errorf("unexpected slot %q", dgpu.Slot)
	}
	if dgpu.PCIID != "10de:1f95" {
		t.Errorf("unexpected PCI id %q", dgpu.PCIID)
	}
	if dgpu.DeviceID() != "1f95" {
		t.Errorf("unexpected device id %q", dgpu.DeviceID())
	}
	wantFuncs := []string{"0000:01:00.0", "0000:01:00.1"}
	if !reflect.DeepEqual(dgpu.Functions, wantFuncs) {
		t.Errorf("functions = %v, want %v", dgpu.Functions, wantFuncs)
	}
	wantNodes := []string{"/dev/dri/card1", "/dev/dri/renderD129"}
	if !reflect.DeepEqual(dgpu.Nodes, wantNodes) {
		t.Errorf("nodes = %v, want %v", dgpu.Nodes, wantNodes)
	}
	if dgpu.Name == "" {
		t.Errorf("expected a name fallback")
	}

	if !inv.Switchable() {
		t.Fatalf("expected hybrid laptop to be switchable")
	}
}

func TestSwitchable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		seed func() *hcstest.Recorder
		want bool
	}{
		{
			name: "desktop chassis",
			seed: func() *hcstest.Recorder {
				return hcstest.HybridLaptop().Set(hcs.Sys("class", "dmi", "id", "chassis_type"), "3")
			},
			want: false,
		},
		{
			name: "integrated only",
			seed: func() *hcstest.Recorder {
				return hcstest.New().PCI("0000:00:02.0", "0x030000", "0x8086", "0x9bc4")
			},
			want: false,
		},
		{
			name: "nvidia only",
			seed: func() *hcstest.Recorder {
				return hcstest.New().PCI("0000:01:00.0", "0x030200", "0x10de", "0x20b0")
			},
			want: false,
		},
		{
			name: "amd plus nvidia",
			seed: func() *hcstest.Recorder {
				return hcstest.New().
					PCI("0000:05:00.0", "0x030000", "0x1002", "0x1638").
					PCI("0000:01:00.0", "0x030000", "0x10de", "0x2520")
			},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			inv, err := Discover(tc.seed(), testLogger())
			if err != nil {
				t.Fatalf("Discover returned error: %v", err)
			}
			if got := inv.Switchable(); got != tc.want {
				t.Fatalf("Switchable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDiscoverWithoutPCIBus(t *testing.T) {
	t.Parallel()

	inv, err := Discover(hcstest.New(), testLogger())
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(inv.Devices) != 0 || inv.Switchable() {
		t.Fatalf("expected empty inventory, got %+v", inv)
	}
}

func TestRuntimePM(t *testing.T) {
	t.Parallel()

	dev := Device{Slot: "0000:01:00.0", Vendor: VendorNvidia, PCIID: "10de:1f95"}

	supported, err := RuntimePM(hcstest.HybridLaptop().RuntimePMManifest("0x1F95"), dev)
	if err != nil {
		t.Fatalf("RuntimePM returned error: %v", err)
	}
	if !supported {
		t.Fatalf("expected runtime pm support")
	}

	supported, err = RuntimePM(hcstest.HybridLaptop().RuntimePMManifest("0x1C8D"), dev)
	if err != nil {
		t.Fatalf("RuntimePM returned error: %v", err)
	}
	if supported {
		t.Fatalf("expected no runtime pm for unlisted device")
	}

	_, err = RuntimePM(hcstest.HybridLaptop().Set(hcs.Host("usr", "share", "doc", "bash", "README"), ""), dev)
	if !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported without a driver manifest, got %v", err)
	}
}

func TestHolders(t *testing.T) {
	t.Parallel()

	proc := t.TempDir()
	mkProc := func(pid, comm string, targets ...string) {
		fdDir := filepath.Join(proc, pid, "fd")
		if err := os.MkdirAll(fdDir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(proc, pid, "comm"), []byte(comm+"\n"), 0o644); err != nil {
			t.Fatalf("write comm: %v", err)
		}
		for i, target := range targets {
			if err := os.Symlink(target, filepath.Join(fdDir, string(rune('3'+i)))); err != nil {
				t.Fatalf("symlink: %v", err)
			}
		}
	}

	mkProc("101", "Xorg", "/dev/null", "/dev/dri/card1")
	mkProc("202", "firefox", "/dev/dri/renderD128")
	mkProc("303", "blender", "/dev/dri/renderD129 (deleted)")
	if err := os.WriteFile(filepath.Join(proc, "uptime"), []byte("1 1\n"), 0o644); err != nil {
		t.Fatalf("write uptime: %v", err)
	}

	holders, err := Holders(proc, []string{"/dev/dri/card1", "/dev/dri/renderD129"})
	if err != nil {
		t.Fatalf("Holders returned error: %v", err)
	}

	want := []Holder{
		{PID: 101, Comm: "Xorg", Node: "/dev/dri/card1"},
		{PID: 303, Comm: "blender", Node: "/dev/dri/renderD129"},
	}
	if !reflect.DeepEqual(holders, want) {
		t.Fatalf("Holders = %+v, want %+v", holders, want)
	}
}
