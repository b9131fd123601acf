package dbusapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/skobkin/gfxpower/internal/auth"
	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/events"
	"github.com/skobkin/gfxpower/internal/graphics"
	"github.com/skobkin/gfxpower/internal/hotplug"
	"github.com/skobkin/gfxpower/internal/profile"
)

type stubBackend struct {
	mu         sync.Mutex
	lastCaller auth.Caller
	setErr     error
	report     profile.Report
}

func (b *stubBackend) Profile() profile.Profile { return profile.Battery }

func (b *stubBackend) SetProfile(_ context.Context, caller auth.Caller, _ string) (profile.Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCaller = caller
	return b.report, b.setErr
}

func (b *stubBackend) Graphics() graphics.Mode { return graphics.Hybrid }

func (b *stubBackend) SetGraphics(_ context.Context, caller auth.Caller, _ string) (graphics.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCaller = caller
	if b.setErr != nil {
		return graphics.Result{}, b.setErr
	}
	return graphics.Result{Outcome: graphics.OutcomeRebootRequired, Mode: graphics.Nvidia}, nil
}

func (b *stubBackend) Switchable() bool { return true }

func (b *stubBackend) GraphicsPower() (graphics.Power, error) { return graphics.PowerAuto, nil }

func (b *stubBackend) SetGraphicsPower(_ context.Context, caller auth.Caller, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCaller = caller
	return b.setErr
}

func (b *stubBackend) PendingGraphics() string { return "nvidia" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedResolver(uid uint32) resolver {
	return func(_ context.Context, sender string) (auth.Caller, error) {
		return auth.Caller{BusName: sender, UID: uid}, nil
	}
}

func TestObjectMethods(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{report: profile.Report{
		Applied: []string{"/sys/firmware/acpi/platform_profile"},
		Failed:  []profile.Failure{{Knob: "/proc/sys/vm/laptop_mode", Error: "boom"}},
	}}
	obj := newObject(backend, fixedResolver(1000), time.Second, discardLogger())

	applied, skipped, failed, derr := obj.SetProfile(":1.9", "battery")
	if derr != nil {
		t.Fatalf("SetProfile returned error: %v", derr)
	}
	if !reflect.DeepEqual(applied, []string{"/sys/firmware/acpi/platform_profile"}) {
		t.Fatalf("applied = %v", applied)
	}
	if skipped == nil || len(skipped) != 0 {
		t.Fatalf("skipped must be an empty array, got %#v", skipped)
	}
	if !reflect.DeepEqual(failed, []string{"/proc/sys/vm/laptop_mode"}) {
		t.Fatalf("failed = %v", failed)
	}
	if backend.lastCaller.BusName != ":1.9" || backend.lastCaller.UID != 1000 {
		t.Fatalf("caller = %+v", backend.lastCaller)
	}

	if outcome, derr := obj.SetGraphics(":1.9", "nvidia"); derr != nil || outcome != "reboot-required" {
		t.Fatalf("SetGraphics = %q, %v", outcome, derr)
	}
	if p, _ := obj.GetProfile(); p != "battery" {
		t.Fatalf("GetProfile = %q", p)
	}
	if m, _ := obj.GetGraphics(); m != "hybrid" {
		t.Fatalf("GetGraphics = %q", m)
	}
	if m, _ := obj.GetPendingGraphics(); m != "nvidia" {
		t.Fatalf("GetPendingGraphics = %q", m)
	}
	if p, _ := obj.GetGraphicsPower(); p != "auto" {
		t.Fatalf("GetGraphicsPower = %q", p)
	}
	if s, _ := obj.GetSwitchable(); !s {
		t.Fatal("GetSwitchable = false")
	}
}

func TestObjectRejectsUnresolvableCaller(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{}
	obj := newObject(backend, func(context.Context, string) (auth.Caller, error) {
		return auth.Caller{}, errors.New("no such name")
	}, time.Second, discardLogger())

	derr := obj.SetGraphicsPower(":1.77", "off")
	if derr == nil || derr.Name != ErrNameAccessDenied {
		t.Fatalf("expected AccessDenied, got %v", derr)
	}
	if backend.lastCaller != (auth.Caller{}) {
		t.Fatal("backend reached without a caller identity")
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		kind error
	}{
		{errs.Denied("polkit: not authorized"), ErrNameAccessDenied, errs.ErrDenied},
		{fmt.Errorf("switch: %w", errs.ErrUnsupported), ErrNameNotSupported, errs.ErrUnsupported},
		{fmt.Errorf("power: %w", errs.ErrInvalidState), ErrNameInvalidState, errs.ErrInvalidState},
		{fmt.Errorf("profile: %w", errs.ErrInvalidArgument), ErrNameInvalidArgs, errs.ErrInvalidArgument},
		{fmt.Errorf("record: %w", errs.ErrIO), ErrNameIOError, errs.ErrIO},
		{fmt.Errorf("SetProfile: %w", context.DeadlineExceeded), ErrNameTimeout, context.DeadlineExceeded},
		{errors.New("boom"), ErrNameFailed, nil},
	}

	for _, tt := range tests {
		derr := toDBusError(tt.err)
		if derr.Name != tt.name {
			t.Errorf("toDBusError(%v).Name = %s, want %s", tt.err, derr.Name, tt.name)
			continue
		}
		if tt.kind == nil {
			continue
		}
		back := fromDBusError(derr)
		if !errors.Is(back, tt.kind) {
			t.Errorf("fromDBusError(%s) = %v, want %v", derr.Name, back, tt.kind)
		}
	}

	if toDBusError(nil) != nil {
		t.Fatal("nil error must map to nil")
	}

	var denied *errs.DeniedError
	if !errors.As(fromDBusError(toDBusError(errs.Denied("polkit: dismissed"))), &denied) || denied.Reason != "polkit: dismissed" {
		t.Fatalf("denial reason not carried verbatim: %+v", denied)
	}
}

type recordedSignal struct {
	name   string
	values []interface{}
}

type fakeEmitter struct {
	mu      sync.Mutex
	signals []recordedSignal
}

func (e *fakeEmitter) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	if path != ObjectPath {
		return fmt.Errorf("unexpected path %s", path)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = append(e.signals, recordedSignal{name: name, values: values})
	return nil
}

func (e *fakeEmitter) Signals() []recordedSignal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recordedSignal(nil), e.signals...)
}

func TestRunEmitsSignals(t *testing.T) {
	t.Parallel()

	broker := events.NewBroker()
	emitter := &fakeEmitter{}
	s := &Server{emitter: emitter, events: broker, logger: discardLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for broker.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Run never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	broker.Publish(events.Event{Kind: events.KindHotplug, Data: hotplug.Event{Port: 3, Connector: "card1-DP-1"}})
	broker.Publish(events.Event{Kind: events.KindGraphicsPower, Data: "on"})
	broker.Publish(events.Event{Kind: events.KindProfileSwitch, Data: "performance"})

	deadline = time.Now().Add(time.Second)
	for len(emitter.Signals()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("signals not emitted: %+v", emitter.Signals())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	got := emitter.Signals()
	want := []recordedSignal{
		{name: signalHotPlugDetect, values: []interface{}{uint64(3)}},
		{name: signalPowerProfileSwitch, values: []interface{}{"performance"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("signals = %+v, want %+v", got, want)
	}
}

func TestIntrospectionDescribesInterface(t *testing.T) {
	t.Parallel()

	for _, want := range []string{
		`<interface name="org.skobkin.GfxPower">`,
		`<method name="SetGraphicsPower">`,
		`<signal name="HotPlugDetect">`,
		`org.freedesktop.DBus.Introspectable`,
	} {
		if !strings.Contains(introspectXML, want) {
			t.Fatalf("introspection data missing %q", want)
		}
	}
}
