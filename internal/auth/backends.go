package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Root allows only uid 0.
type Root struct{}

// Check implements Backend.
func (Root) Check(_ context.Context, caller Caller, _ Action) (bool, error) {
	return caller.UID == 0, nil
}

const (
	polkitDest      = "org.freedesktop.PolicyKit1"
	polkitPath      = dbus.ObjectPath("/org/freedesktop/PolicyKit1/Authority")
	polkitCheckAuth = "org.freedesktop.PolicyKit1.Authority.CheckAuthorization"

	polkitAllowUserInteraction uint32 = 1
)

type polkitSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

type polkitResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// Polkit asks the polkit authority on the system bus, identifying the caller
// by its unique bus name.
type Polkit struct {
	conn *dbus.Conn
}

// NewPolkit returns a polkit backend on conn.
func NewPolkit(conn *dbus.Conn) *Polkit {
	return &Polkit{conn: conn}
}

// Check implements Backend.
func (p *Polkit) Check(ctx context.Context, caller Caller, action Action) (bool, error) {
	if p.conn == nil {
		return false, errors.New("polkit: no bus connection")
	}
	if caller.BusName == "" {
		return false, errors.New("polkit: caller has no bus name")
	}

	subject := polkitSubject{
		Kind:    "system-bus-name",
		Details: map[string]dbus.Variant{"name": dbus.MakeVariant(caller.BusName)},
	}
	var result polkitResult
	call := p.conn.Object(polkitDest, polkitPath).CallWithContext(ctx, polkitCheckAuth, 0,
		subject, string(action), map[string]string{}, polkitAllowUserInteraction, "")
	if call.Err != nil {
		return false, fmt.Errorf("polkit: %w", call.Err)
	}
	if err := call.Store(&result); err != nil {
		return false, fmt.Errorf("polkit: decode result: %w", err)
	}
	return result.IsAuthorized, nil
}
