// Package hcstest provides an in-memory, recording hcs.Surface for tests.
package hcstest

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/hcs"
)

// Call is one recorded surface operation.
type Call struct {
	Op    string
	Knob  hcs.Knob
	Value string
	Tool  string
	Args  []string
}

// Recorder is a fake surface backed by a map of knob contents. Directories
// exist implicitly when any knob lives beneath them.
type Recorder struct {
	mu     sync.Mutex
	files  map[hcs.Knob]string
	calls  []Call
	fail   map[hcs.Knob]error
	tools  map[string]error
	onCall func(Call)
}

var _ hcs.Surface = (*Recorder)(nil)

// New returns an empty recorder.
func New() *Recorder {
	return &Recorder{
		files: make(map[hcs.Knob]string),
		fail:  make(map[hcs.Knob]error),
		tools: make(map[string]error),
	}
}

// Set seeds a knob without recording a call.
func (r *Recorder) Set(k hcs.Knob, value string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[k] = value
	return r
}

// Get returns the current content of a knob.
func (r *Recorder) Get(k hcs.Knob) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.files[k]
	return v, ok
}

// FailWrites makes writes to k fail with an i/o error.
func (r *Recorder) FailWrites(k hcs.Knob) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[k] = &hcs.KnobError{Op: "write", Knob: k, Kind: errs.ErrIO, Err: fmt.Errorf("injected failure")}
	return r
}

// SetTool registers the result of invoking a tool. Unregistered tools are
// treated as missing from the host.
func (r *Recorder) SetTool(tool string, result error) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool] = result
	return r
}

// OnCall registers a hook that runs before every recorded call, outside the lock.
func (r *Recorder) OnCall(fn func(Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCall = fn
}

// Calls returns a copy of all recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Mutations counts calls that change host state.
func (r *Recorder) Mutations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op != "read" && c.Op != "list" {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls but keeps knob contents.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	hook := r.onCall
	r.mu.Unlock()
	if hook != nil {
		hook(c)
	}
}

func missing(op string, k hcs.Knob) error {
	return &hcs.KnobError{Op: op, Knob: k, Kind: errs.ErrUnsupported, Err: fs.ErrNotExist}
}

// Read implements hcs.Surface.
func (r *Recorder) Read(k hcs.Knob) (string, error) {
	r.record(Call{Op: "read", Knob: k})
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.files[k]
	if !ok {
		return "", missing("read", k)
	}
	return strings.TrimSpace(v), nil
}

// Write implements hcs.Surface.
func (r *Recorder) Write(k hcs.Knob, value string) error {
	r.record(Call{Op: "write", Knob: k, Value: value})
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[k]; ok {
		return err
	}
	if _, ok := r.files[k]; !ok && k.Domain != hcs.DomainHost {
		return missing("write", k)
	}
	r.files[k] = value
	return nil
}

// Remove implements hcs.Surface.
func (r *Recorder) Remove(k hcs.Knob) error {
	r.record(Call{Op: "remove", Knob: k})
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, k)
	return nil
}

// List implements hcs.Surface.
func (r *Recorder) List(k hcs.Knob) ([]string, error) {
	r.record(Call{Op: "list", Knob: k})
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := strings.TrimSuffix(k.Path, "/") + "/"
	seen := make(map[string]struct{})
	for knob := range r.files {
		if knob.Domain != k.Domain || !strings.HasPrefix(knob.Path, prefix) {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(knob.Path, prefix), "/")
		seen[name] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, missing("list", k)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Rescan implements hcs.Surface.
func (r *Recorder) Rescan(bus string) error {
	return r.Write(hcs.Sys("bus", bus, "rescan"), "1")
}

// Invoke implements hcs.Surface.
func (r *Recorder) Invoke(_ context.Context, tool string, args ...string) error {
	r.record(Call{Op: "invoke", Tool: tool, Args: slices.Clone(args)})
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.tools[tool]
	if !ok {
		return &hcs.ToolError{Tool: tool, Args: args, Kind: errs.ErrUnsupported, Err: fmt.Errorf("executable not found")}
	}
	return result
}

// Invocations returns the recorded tool calls as "tool arg..." strings.
func (r *Recorder) Invocations() []string {
	var out []string
	for _, c := range r.Calls() {
		if c.Op == "invoke" {
			out = append(out, strings.TrimSpace(c.Tool+" "+strings.Join(c.Args, " ")))
		}
	}
	return out
}
