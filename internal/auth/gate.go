// Package auth decides whether a caller may perform a privileged action.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skobkin/gfxpower/internal/errs"
)

// Action identifies a privileged operation.
type Action string

const (
	ActionSetProfile       Action = "org.skobkin.gfxpower.set-profile"
	ActionSetGraphics      Action = "org.skobkin.gfxpower.set-graphics"
	ActionSetGraphicsPower Action = "org.skobkin.gfxpower.set-graphics-power"
)

// DefaultTimeout bounds a single authorization round trip. Interactive polkit
// agents may prompt the user, so it is generous.
const DefaultTimeout = 25 * time.Second

// Caller is the identity of a request's originator.
type Caller struct {
	BusName string `json:"bus_name,omitempty"`
	UID     uint32 `json:"uid"`
	PID     uint32 `json:"pid,omitempty"`
}

func (c Caller) String() string {
	if c.BusName == "" {
		return fmt.Sprintf("uid=%d", c.UID)
	}
	return fmt.Sprintf("%s(uid=%d)", c.BusName, c.UID)
}

// Backend asks an authority about one caller and action.
type Backend interface {
	Check(ctx context.Context, caller Caller, action Action) (bool, error)
}

// Decision is the gate's verdict.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a negative decision into an errs.ErrDenied error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errs.Denied(d.Reason)
}

// Gate wraps a Backend and fails closed: any backend error, timeout or panic
// yields a denial.
type Gate struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// NewGate builds a gate. A zero timeout selects DefaultTimeout.
func NewGate(backend Backend, timeout time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{backend: backend, timeout: timeout, logger: logger}
}

// Authorize asks the backend about caller and action.
func (g *Gate) Authorize(ctx context.Context, caller Caller, action Action) Decision {
	if g.backend == nil {
		return g.deny(caller, action, "no authorization backend configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	allowed, err := g.check(ctx, caller, action)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return g.deny(caller, action, "authorization timed out", err)
	case err != nil:
		return g.deny(caller, action, "authorization authority unavailable", err)
	case !allowed:
		return g.deny(caller, action, "not authorized", nil)
	}
	g.logger.Debug("authorized", "caller", caller.String(), "action", action)
	return Decision{Allowed: true}
}

func (g *Gate) check(ctx context.Context, caller Caller, action Action) (allowed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			allowed, err = false, fmt.Errorf("authorization backend panic: %v", r)
		}
	}()
	return g.backend.Check(ctx, caller, action)
}

func (g *Gate) deny(caller Caller, action Action, reason string, err error) Decision {
	attrs := []any{"caller", caller.String(), "action", action, "reason", reason}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	g.logger.Info("authorization denied", attrs...)
	return Decision{Reason: reason}
}
