package daemon

import (
	"sync"
	"time"

	"github.com/skobkin/gfxpower/internal/graphics"
	"github.com/skobkin/gfxpower/internal/profile"
)

// Snapshot is a consistent copy of the daemon state.
type Snapshot struct {
	Profile    string          `json:"profile"`
	Graphics   string          `json:"graphics"`
	Booted     string          `json:"booted"`
	Pending    string          `json:"pending,omitempty"`
	Switchable bool            `json:"switchable"`
	RuntimePM  bool            `json:"runtime_pm"`
	LastReport *profile.Report `json:"last_report,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// State caches what the engines last reported so reads never wait for a
// mutation in progress.
type State struct {
	mu         sync.RWMutex
	profile    profile.Profile
	graphics   graphics.Mode
	booted     graphics.Mode
	switchable bool
	runtimePM  bool
	lastReport *profile.Report
	updatedAt  time.Time
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Profile:    s.profile.String(),
		Graphics:   string(s.graphics),
		Booted:     string(s.booted),
		Switchable: s.switchable,
		RuntimePM:  s.runtimePM,
		UpdatedAt:  s.updatedAt,
	}
	if s.graphics != s.booted {
		snap.Pending = string(s.graphics)
	}
	if s.lastReport != nil {
		rep := *s.lastReport
		snap.LastReport = &rep
	}
	return snap
}

// Profile returns the cached profile without touching the host.
func (s *State) Profile() profile.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Graphics returns the cached next-boot mode. It changes only after a switch
// has been committed.
func (s *State) Graphics() graphics.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graphics
}

func (s *State) setProfile(rep profile.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = rep.Profile
	s.lastReport = &rep
	s.updatedAt = time.Now()
}

func (s *State) setGraphics(m graphics.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphics = m
	s.updatedAt = time.Now()
}
