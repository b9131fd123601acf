package gpu

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Holder is a process with an open descriptor on one of a GPU's device nodes.
type Holder struct {
	PID  int    `json:"pid"`
	Comm string `json:"comm"`
	Node string `json:"node"`
}

// Holders scans procRoot for processes holding any of the given device nodes.
// Processes that vanish or cannot be inspected mid-scan are skipped.
func Holders(procRoot string, nodes []string) ([]Holder, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		wanted[filepath.Clean(node)] = struct{}{}
	}

	root, err := os.OpenRoot(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open proc root: %w", err)
	}
	defer root.Close()

	entries, err := fs.ReadDir(root.FS(), ".")
	if err != nil {
		return nil, fmt.Errorf("read proc root: %w", err)
	}

	var holders []Holder
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 || !entry.IsDir() {
			continue
		}
		procDir, err := root.OpenRoot(entry.Name())
		if err != nil {
			continue
		}
		if holder, ok := scanFDs(procDir, pid, wanted); ok {
			holders = append(holders, holder)
		}
		_ = procDir.Close()
	}
	return holders, nil
}

func scanFDs(procDir *os.Root, pid int, wanted map[string]struct{}) (Holder, bool) {
	fds, err := fs.ReadDir(procDir.FS(), "fd")
	if err != nil {
		return Holder{}, false
	}
	for _, fd := range fds {
		target, err := procDir.Readlink(filepath.Join("fd", fd.Name()))
		if err != nil {
			continue
		}
		target = filepath.Clean(strings.TrimSuffix(target, " (deleted)"))
		if _, ok := wanted[target]; !ok {
			continue
		}
		comm := ""
		if data, err := procDir.ReadFile("comm"); err == nil {
			comm = strings.TrimSpace(string(data))
		}
		return Holder{PID: pid, Comm: comm, Node: target}, true
	}
	return Holder{}, false
}
