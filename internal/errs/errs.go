// Package errs defines the failure kinds shared by the engines, the dispatcher
// and the external adapters.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported means the host does not expose the requested capability.
	// It is an answer, not a failure, and must not be logged as an error.
	ErrUnsupported = errors.New("not supported")
	// ErrDenied means authorization failed or could not be obtained.
	ErrDenied = errors.New("access denied")
	// ErrIO means a control surface that should have worked did not.
	ErrIO = errors.New("i/o failure")
	// ErrInvalidState means the request does not make sense for the current host state.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidArgument means a request named an unknown profile, mode or power state.
	ErrInvalidArgument = errors.New("invalid argument")
)

// DeniedError carries the policy backend's reason to the caller verbatim.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return ErrDenied.Error()
	}
	return fmt.Sprintf("%s: %s", ErrDenied, e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// Denied builds a DeniedError for the given reason.
func Denied(reason string) error {
	return &DeniedError{Reason: reason}
}

// Kind returns the sentinel that classifies err, or nil when err matches none.
func Kind(err error) error {
	for _, kind := range []error{ErrDenied, ErrUnsupported, ErrInvalidState, ErrInvalidArgument, ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
