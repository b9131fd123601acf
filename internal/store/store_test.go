package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/skobkin/gfxpower/internal/errs"
)

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	if _, err := s.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state")
	s := New(dir)

	if err := s.Save(Record{GraphicsMode: "hybrid"}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	rec, err := s.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if rec.GraphicsMode != "hybrid" {
		t.Fatalf("unexpected mode %q", rec.GraphicsMode)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if !bytes.Contains(data, []byte(`graphics_mode = "hybrid"`)) {
		t.Fatalf("unexpected record content:\n%s", data)
	}

	assertNoTempFiles(t, dir)
}

func TestSaveFailedReplaceKeepsOldRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := New(dir)
	if err := s.Save(Record{GraphicsMode: "integrated"}); err != nil {
		t.Fatalf("initial Save returned error: %v", err)
	}
	before, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read record: %v", err)
	}

	s.rename = func(string, string) error {
		return errors.New("simulated crash")
	}

	err = s.Save(Record{GraphicsMode: "nvidia"})
	if !errors.Is(err, errs.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}

	after, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read record after failed save: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("record changed after failed replace:\nbefore: %q\nafter:  %q", before, after)
	}
	assertNoTempFiles(t, dir)
}

func TestConcurrentReadersNeverSeeTornRecord(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	if err := s.Save(Record{GraphicsMode: "integrated"}); err != nil {
		t.Fatalf("initial Save returned error: %v", err)
	}

	modes := []string{"integrated", "hybrid"}
	var wg sync.WaitGroup
	stop := make(chan struct{})
	errCh := make(chan error, 8)

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rec, err := s.Load()
				if err != nil {
					errCh <- err
					return
				}
				if rec.GraphicsMode != modes[0] && rec.GraphicsMode != modes[1] {
					errCh <- errors.New("torn record: " + rec.GraphicsMode)
					return
				}
			}
		}()
	}

	for i := range 200 {
		if err := s.Save(Record{GraphicsMode: modes[i%2]}); err != nil {
			t.Errorf("Save returned error: %v", err)
			break
		}
	}
	close(stop)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("reader failed: %v", err)
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() != FileName {
			t.Fatalf("unexpected file left in state dir: %s", entry.Name())
		}
	}
}
