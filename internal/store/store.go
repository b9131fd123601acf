// Package store persists the daemon's durable configuration record.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/skobkin/gfxpower/internal/errs"
)

// FileName is the record's name inside the state directory.
const FileName = "graphics.toml"

// ErrNotFound is returned by Load when no record has been committed yet.
var ErrNotFound = errors.New("record not found")

// Record is the persisted configuration.
type Record struct {
	GraphicsMode string `toml:"graphics_mode"`
}

// Store reads and atomically replaces the record file.
type Store struct {
	path string

	// rename is swapped in tests to simulate a crash during replace.
	rename func(oldpath, newpath string) error
}

// New returns a Store for the record inside dir.
func New(dir string) *Store {
	return &Store{
		path:   filepath.Join(dir, FileName),
		rename: os.Rename,
	}
}

// Path returns the record location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the committed record.
func (s *Store) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read %s: %w: %w", s.path, errs.ErrIO, err)
	}

	var rec Record
	if _, err := toml.Decode(string(data), &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w: %w", s.path, errs.ErrIO, err)
	}
	return rec, nil
}

// Save replaces the record. The new content is written to a temporary file in
// the same directory, synced, renamed over the old record and the directory is
// synced. On any failure the previous record is left untouched.
func (s *Store) Save(rec Record) error {
	var buf bytes.Buffer
	buf.WriteString("# Managed by gfxpowerd. Do not edit while the daemon is running.\n")
	if err := toml.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w: %w", errs.ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, "."+FileName+".*")
	if err != nil {
		return fmt.Errorf("create temp record: %w: %w", errs.ErrIO, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	_, werr := tmp.Write(buf.Bytes())
	serr := tmp.Sync()
	cerr := tmp.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		return fmt.Errorf("write temp record: %w: %w", errs.ErrIO, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp record: %w: %w", errs.ErrIO, err)
	}

	if err := s.rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace record: %w: %w", errs.ErrIO, err)
	}
	committed = true

	// The rename is the commit point; a failed directory sync cannot be undone.
	_ = syncDir(dir)
	return nil
}
