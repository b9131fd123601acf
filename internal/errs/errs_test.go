package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestDeniedWrapsSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("set profile: %w", Denied("polkit: not authorized"))
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}

	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError in chain")
	}
	if denied.Reason != "polkit: not authorized" {
		t.Fatalf("unexpected reason %q", denied.Reason)
	}
}

func TestKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want error
	}{
		{fmt.Errorf("write knob: %w", ErrIO), ErrIO},
		{fmt.Errorf("read knob: %w", ErrUnsupported), ErrUnsupported},
		{Denied(""), ErrDenied},
		{fmt.Errorf("power: %w", ErrInvalidState), ErrInvalidState},
		{fmt.Errorf("profile %q: %w", "turbo", ErrInvalidArgument), ErrInvalidArgument},
		{errors.New("boom"), nil},
		{nil, nil},
	}

	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
