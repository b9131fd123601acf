package app

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestInstanceLockIsExclusive(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state")

	first, err := acquireInstanceLock(dir)
	if err != nil {
		t.Fatalf("acquireInstanceLock returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock file holds %q, want our pid", data)
	}

	if _, err := acquireInstanceLock(dir); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second lock: expected ErrAlreadyRunning, got %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	again, err := acquireInstanceLock(dir)
	if err != nil {
		t.Fatalf("lock after release returned error: %v", err)
	}
	if err := again.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
}
