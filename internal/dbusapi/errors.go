package dbusapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/skobkin/gfxpower/internal/errs"
)

// Error names returned to bus clients.
const (
	ErrNameAccessDenied = "org.freedesktop.DBus.Error.AccessDenied"
	ErrNameNotSupported = "org.freedesktop.DBus.Error.NotSupported"
	ErrNameIOError      = "org.freedesktop.DBus.Error.IOError"
	ErrNameTimeout      = "org.freedesktop.DBus.Error.Timeout"
	ErrNameInvalidArgs  = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrNameFailed       = "org.freedesktop.DBus.Error.Failed"
	ErrNameInvalidState = Interface + ".Error.InvalidState"
)

func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name := ErrNameFailed
	msg := err.Error()

	var denied *errs.DeniedError
	switch {
	case errors.As(err, &denied):
		name = ErrNameAccessDenied
		if denied.Reason != "" {
			msg = denied.Reason
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		name = ErrNameTimeout
	case errors.Is(err, errs.ErrUnsupported):
		name = ErrNameNotSupported
	case errors.Is(err, errs.ErrInvalidState):
		name = ErrNameInvalidState
	case errors.Is(err, errs.ErrInvalidArgument):
		name = ErrNameInvalidArgs
	case errors.Is(err, errs.ErrIO):
		name = ErrNameIOError
	}
	return dbus.NewError(name, []interface{}{msg})
}

// fromDBusError maps a bus error back onto the errs kinds.
func fromDBusError(err error) error {
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	switch {
	case errors.As(err, &dbusErrPtr):
		dbusErr = *dbusErrPtr
	case errors.As(err, &dbusErr):
	default:
		return err
	}

	msg := dbusErr.Error()
	switch dbusErr.Name {
	case ErrNameAccessDenied:
		return errs.Denied(msg)
	case ErrNameNotSupported:
		return fmt.Errorf("%w: %s", errs.ErrUnsupported, msg)
	case ErrNameInvalidState:
		return fmt.Errorf("%w: %s", errs.ErrInvalidState, msg)
	case ErrNameInvalidArgs:
		return fmt.Errorf("%w: %s", errs.ErrInvalidArgument, msg)
	case ErrNameIOError:
		return fmt.Errorf("%w: %s", errs.ErrIO, msg)
	case ErrNameTimeout, "org.freedesktop.DBus.Error.NoReply":
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, msg)
	default:
		return err
	}
}
