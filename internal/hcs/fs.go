package hcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/skobkin/gfxpower/internal/errs"
)

const maxToolOutput = 512

// Options configures an FS surface.
type Options struct {
	SysfsRoot string
	ProcRoot  string
	HostRoot  string
	// DisableTools makes every Invoke report errs.ErrUnsupported. Used when the
	// roots point at a fake tree and host tools must not run.
	DisableTools bool
	Logger       *slog.Logger
}

// FS is the Surface backed by the real (or a rooted fake) filesystem.
type FS struct {
	roots        map[Domain]string
	disableTools bool
	logger       *slog.Logger
}

var _ Surface = (*FS)(nil)

// NewFS builds an FS surface. Empty roots default to the host paths.
func NewFS(opts Options) *FS {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FS{
		roots: map[Domain]string{
			DomainSys:  defaultString(opts.SysfsRoot, "/sys"),
			DomainProc: defaultString(opts.ProcRoot, "/proc"),
			DomainHost: defaultString(opts.HostRoot, "/"),
		},
		disableTools: opts.DisableTools,
		logger:       logger,
	}
}

// Root returns the filesystem directory backing a domain.
func (s *FS) Root(d Domain) string {
	return s.roots[d]
}

// open confines sysfs and procfs access to their roots. Host paths use plain
// os calls so absolute symlinks under /etc resolve.
func (s *FS) open(d Domain) (*os.Root, error) {
	return os.OpenRoot(s.roots[d])
}

func (s *FS) hostPath(k Knob) string {
	return filepath.Join(s.roots[DomainHost], filepath.FromSlash(relPath(k)))
}

// Read implements Surface.
func (s *FS) Read(k Knob) (string, error) {
	if k.Domain == DomainHost {
		data, err := os.ReadFile(s.hostPath(k))
		if err != nil {
			return "", knobError("read", k, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	root, err := s.open(k.Domain)
	if err != nil {
		return "", knobError("read", k, err)
	}
	defer root.Close()

	data, err := root.ReadFile(relPath(k))
	if err != nil {
		return "", knobError("read", k, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Write implements Surface.
func (s *FS) Write(k Knob, value string) error {
	if k.Domain == DomainHost {
		if err := writeHostFile(s.hostPath(k), value); err != nil {
			return knobError("write", k, err)
		}
		s.logger.Debug("host file written", "path", k.String(), "bytes", len(value))
		return nil
	}

	root, err := s.open(k.Domain)
	if err != nil {
		return knobError("write", k, err)
	}
	defer root.Close()

	f, err := root.OpenFile(relPath(k), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return knobError("write", k, err)
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return knobError("write", k, err)
	}
	s.logger.Debug("knob written", "knob", k.String(), "value", value)
	return nil
}

// writeHostFile replaces name atomically. A symlinked name is replaced by a
// regular file; symlinked parent directories are followed.
func writeHostFile(name, value string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	tmp := name + ".gfxpower-tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	serr := f.Sync()
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, name); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Remove implements Surface.
func (s *FS) Remove(k Knob) error {
	if k.Domain == DomainHost {
		if err := os.Remove(s.hostPath(k)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return knobError("remove", k, err)
		}
		return nil
	}

	root, err := s.open(k.Domain)
	if err != nil {
		return knobError("remove", k, err)
	}
	defer root.Close()

	if err := root.Remove(relPath(k)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return knobError("remove", k, err)
	}
	return nil
}

// List implements Surface.
func (s *FS) List(k Knob) ([]string, error) {
	var entries []fs.DirEntry
	if k.Domain == DomainHost {
		var err error
		if entries, err = os.ReadDir(s.hostPath(k)); err != nil {
			return nil, knobError("list", k, err)
		}
	} else {
		root, err := s.open(k.Domain)
		if err != nil {
			return nil, knobError("list", k, err)
		}
		defer root.Close()

		if entries, err = fs.ReadDir(root.FS(), relPath(k)); err != nil {
			return nil, knobError("list", k, err)
		}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Rescan implements Surface.
func (s *FS) Rescan(bus string) error {
	return s.Write(Sys("bus", bus, "rescan"), "1")
}

// Invoke implements Surface.
func (s *FS) Invoke(ctx context.Context, tool string, args ...string) error {
	if s.disableTools {
		return &ToolError{Tool: tool, Args: args, Kind: errs.ErrUnsupported, Err: errors.New("tool invocation disabled")}
	}

	bin, err := exec.LookPath(tool)
	if err != nil {
		return &ToolError{Tool: tool, Args: args, Kind: errs.ErrUnsupported, Err: err}
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		output := strings.TrimSpace(string(out))
		if len(output) > maxToolOutput {
			output = output[:maxToolOutput]
		}
		return &ToolError{Tool: tool, Args: args, Kind: errs.ErrIO, Err: err, Output: output}
	}
	s.logger.Debug("tool invoked", "tool", tool, "args", args)
	return nil
}

func relPath(k Knob) string {
	p := strings.TrimPrefix(path.Clean("/"+k.Path), "/")
	if p == "" {
		return "."
	}
	return p
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// String implements fmt.Stringer for log output.
func (s *FS) String() string {
	return fmt.Sprintf("hcs.FS{sys=%s proc=%s host=%s}", s.roots[DomainSys], s.roots[DomainProc], s.roots[DomainHost])
}
