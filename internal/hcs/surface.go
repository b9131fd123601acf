// Package hcs is the hardware control surface: a policy-free gateway to sysfs and
// procfs attributes, host configuration files, bus rescans and external tools.
package hcs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/skobkin/gfxpower/internal/errs"
)

// Domain selects the filesystem tree a knob lives in.
type Domain int

const (
	// DomainSys is the sysfs tree (/sys).
	DomainSys Domain = iota
	// DomainProc is the procfs tree (/proc).
	DomainProc
	// DomainHost is the host root, used for generated configuration files.
	DomainHost
)

// Knob identifies one individually addressable control.
type Knob struct {
	Domain Domain
	Path   string
}

// Sys returns a knob relative to the sysfs root.
func Sys(parts ...string) Knob { return Knob{Domain: DomainSys, Path: path.Join(parts...)} }

// Proc returns a knob relative to the procfs root.
func Proc(parts ...string) Knob { return Knob{Domain: DomainProc, Path: path.Join(parts...)} }

// Host returns a knob relative to the host root.
func Host(parts ...string) Knob { return Knob{Domain: DomainHost, Path: path.Join(parts...)} }

// Join returns a child knob in the same domain.
func (k Knob) Join(parts ...string) Knob {
	return Knob{Domain: k.Domain, Path: path.Join(append([]string{k.Path}, parts...)...)}
}

// String renders the knob as the absolute path it has on a real host.
func (k Knob) String() string {
	p := strings.TrimPrefix(k.Path, "/")
	switch k.Domain {
	case DomainSys:
		return "/sys/" + p
	case DomainProc:
		return "/proc/" + p
	default:
		return "/" + p
	}
}

// Surface is the capability interface the engines drive. Every call is
// synchronous and performs no retries.
type Surface interface {
	// Read returns the trimmed content of a knob.
	Read(k Knob) (string, error)
	// Write replaces the content of a knob. Sysfs and procfs knobs must already
	// exist; host files are created and synced.
	Write(k Knob, value string) error
	// Remove deletes a host file. Removing an absent file is not an error.
	Remove(k Knob) error
	// List returns the sorted entry names of a directory knob.
	List(k Knob) ([]string, error)
	// Rescan asks the kernel to rescan the named bus.
	Rescan(bus string) error
	// Invoke runs an external tool to completion.
	Invoke(ctx context.Context, tool string, args ...string) error
}

// KnobError describes a failed operation on a knob. It matches either
// errs.ErrUnsupported or errs.ErrIO via errors.Is.
type KnobError struct {
	Op   string
	Knob Knob
	Kind error
	Err  error
}

func (e *KnobError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Knob, e.Err)
}

func (e *KnobError) Unwrap() []error { return []error{e.Kind, e.Err} }

// ToolError describes a failed external tool invocation.
type ToolError struct {
	Tool   string
	Args   []string
	Kind   error
	Err    error
	Output string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ToolError) Unwrap() []error { return []error{e.Kind, e.Err} }

func knobError(op string, k Knob, err error) error {
	if err == nil {
		return nil
	}
	return &KnobError{Op: op, Knob: k, Kind: classify(err), Err: err}
}

// classify maps an OS error to a failure kind. A missing file or a device that
// refuses the operation means the host lacks the knob.
func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.ENXIO),
		errors.Is(err, unix.EOPNOTSUPP):
		return errs.ErrUnsupported
	default:
		return errs.ErrIO
	}
}
