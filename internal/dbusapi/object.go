package dbusapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/skobkin/gfxpower/internal/auth"
)

const defaultRequestTimeout = 2 * time.Minute

// object is exported at ObjectPath. Its method set is the bus interface.
type object struct {
	backend Backend
	resolve resolver
	timeout time.Duration
	logger  *slog.Logger
}

func newObject(backend Backend, resolve resolver, timeout time.Duration, logger *slog.Logger) *object {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &object{backend: backend, resolve: resolve, timeout: timeout, logger: logger}
}

func (o *object) caller(ctx context.Context, sender dbus.Sender) (auth.Caller, *dbus.Error) {
	caller, err := o.resolve(ctx, string(sender))
	if err != nil {
		// Unknown identity never reaches the gate.
		o.logger.Warn("caller identity unavailable", "sender", sender, "err", err)
		return caller, dbus.NewError(ErrNameAccessDenied, []interface{}{"caller identity unavailable"})
	}
	return caller, nil
}

func (o *object) GetProfile() (string, *dbus.Error) {
	return o.backend.Profile().String(), nil
}

func (o *object) SetProfile(sender dbus.Sender, name string) ([]string, []string, []string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	caller, derr := o.caller(ctx, sender)
	if derr != nil {
		return nil, nil, nil, derr
	}
	rep, err := o.backend.SetProfile(ctx, caller, name)
	if err != nil {
		return nil, nil, nil, toDBusError(err)
	}
	return nonNil(rep.Applied), nonNil(rep.Skipped), nonNil(rep.FailedKnobs()), nil
}

func (o *object) GetGraphics() (string, *dbus.Error) {
	return string(o.backend.Graphics()), nil
}

func (o *object) SetGraphics(sender dbus.Sender, name string) (string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	caller, derr := o.caller(ctx, sender)
	if derr != nil {
		return "", derr
	}
	res, err := o.backend.SetGraphics(ctx, caller, name)
	if err != nil {
		return "", toDBusError(err)
	}
	return string(res.Outcome), nil
}

func (o *object) GetSwitchable() (bool, *dbus.Error) {
	return o.backend.Switchable(), nil
}

func (o *object) GetGraphicsPower() (string, *dbus.Error) {
	p, err := o.backend.GraphicsPower()
	if err != nil {
		return "", toDBusError(err)
	}
	return string(p), nil
}

func (o *object) SetGraphicsPower(sender dbus.Sender, name string) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	caller, derr := o.caller(ctx, sender)
	if derr != nil {
		return derr
	}
	return toDBusError(o.backend.SetGraphicsPower(ctx, caller, name))
}

func (o *object) GetPendingGraphics() (string, *dbus.Error) {
	return o.backend.PendingGraphics(), nil
}

// D-Bus has no nil arrays.
func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
