// Package version holds the build metadata injected through -ldflags.
package version

import (
	"strings"
	"sync"
)

// Info describes a build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// String renders "version (commit) built time", omitting empty parts.
func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Version)
	if i.Commit != "" {
		b.WriteString(" (" + i.Commit + ")")
	}
	if i.BuildTime != "" {
		b.WriteString(" built " + i.BuildTime)
	}
	return b.String()
}

var (
	mu      sync.RWMutex
	current = Info{Version: "dev"}
)

// Set replaces the build metadata. An empty version reads as "dev".
func Set(v Info) {
	if v.Version == "" {
		v.Version = "dev"
	}
	mu.Lock()
	current = v
	mu.Unlock()
}

// Current returns the build metadata.
func Current() Info {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
