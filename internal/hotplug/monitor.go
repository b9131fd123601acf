// Package hotplug watches DRM connectors and reports display attach events.
package hotplug

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/skobkin/gfxpower/internal/hcs"
)

const (
	defaultInterval = time.Second
	defaultDebounce = 500 * time.Millisecond
	eventBuffer     = 16
)

var drmClass = hcs.Sys("class", "drm")

// Internal panels never trigger hotplug handling.
var internalPrefixes = []string{"eDP", "LVDS", "DSI"}

// Event is a debounced display attach on an external connector.
type Event struct {
	Port      uint64    `json:"port"`
	Connector string    `json:"connector"`
	Time      time.Time `json:"time"`
}

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	Debounce time.Duration
}

type candidate struct {
	status string
	since  time.Time
}

// Monitor polls connector status files. A status change is committed once it
// has been observed unchanged for the debounce window; only transitions to
// "connected" produce events.
type Monitor struct {
	surface  hcs.Surface
	interval time.Duration
	debounce time.Duration
	logger   *slog.Logger

	ports      map[string]uint64
	stable     map[string]string
	pending    map[string]candidate
	unreadable map[string]struct{}
	unprimed   map[string]struct{}
	listFailed bool
	primed     bool

	events chan Event
}

// New creates a monitor.
func New(surface hcs.Surface, opts Options, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Debounce < 0 {
		opts.Debounce = defaultDebounce
	}
	return &Monitor{
		surface:    surface,
		interval:   opts.Interval,
		debounce:   opts.Debounce,
		logger:     logger,
		ports:      make(map[string]uint64),
		stable:     make(map[string]string),
		pending:    make(map[string]candidate),
		unreadable: make(map[string]struct{}),
		unprimed:   make(map[string]struct{}),
		events:     make(chan Event, eventBuffer),
	}
}

// Events delivers attach events. The channel is closed when Run returns.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.events)

	m.poll(time.Now())
	m.logger.Info("hotplug monitor started", "connectors", len(m.stable), "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.poll(now)
		}
	}
}

func (m *Monitor) connectors() ([]string, error) {
	entries, err := m.surface.List(drmClass)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range entries {
		_, port, ok := strings.Cut(name, "-")
		if !ok || !strings.HasPrefix(name, "card") {
			continue
		}
		internal := false
		for _, prefix := range internalPrefixes {
			if strings.HasPrefix(port, prefix) {
				internal = true
				break
			}
		}
		if !internal {
			out = append(out, name)
		}
	}
	return out, nil
}

func (m *Monitor) port(name string) uint64 {
	if p, ok := m.ports[name]; ok {
		return p
	}
	p := uint64(len(m.ports))
	m.ports[name] = p
	return p
}

// poll reads every external connector once. A connector whose status cannot
// be read keeps its last stable state; it is forgotten only when it
// disappears from the listing.
func (m *Monitor) poll(now time.Time) {
	names, err := m.connectors()
	if err != nil {
		if !m.listFailed {
			m.logger.Warn("drm connectors unreadable", "err", err)
			m.listFailed = true
		}
		return
	}
	m.listFailed = false

	listed := make(map[string]struct{}, len(names))
	for _, name := range names {
		listed[name] = struct{}{}
		m.port(name)

		status, err := m.surface.Read(drmClass.Join(name, "status"))
		if err != nil {
			if !m.primed {
				m.unprimed[name] = struct{}{}
			}
			if _, logged := m.unreadable[name]; !logged {
				m.logger.Warn("connector status unreadable", "connector", name, "err", err)
				m.unreadable[name] = struct{}{}
			}
			continue
		}
		delete(m.unreadable, name)

		prev, known := m.stable[name]
		if !known && (!m.primed || m.baseline(name)) {
			m.stable[name] = status
			continue
		}
		if known && status == prev {
			delete(m.pending, name)
			continue
		}

		c, ok := m.pending[name]
		if !ok || c.status != status {
			c = candidate{status: status, since: now}
			m.pending[name] = c
		}
		if now.Sub(c.since) < m.debounce {
			continue
		}

		delete(m.pending, name)
		m.stable[name] = status
		m.logger.Debug("connector status changed", "connector", name, "from", prev, "to", status)
		if status == "connected" {
			m.emit(Event{Port: m.ports[name], Connector: name, Time: now})
		}
	}

	for _, known := range []map[string]struct{}{keys(m.stable), keys(m.pending), m.unreadable, m.unprimed} {
		for name := range known {
			if _, ok := listed[name]; !ok {
				m.forget(name)
			}
		}
	}
	m.primed = true
}

func (m *Monitor) forget(name string) {
	delete(m.stable, name)
	delete(m.pending, name)
	delete(m.unreadable, name)
	delete(m.unprimed, name)
}

func keys[V any](in map[string]V) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// baseline reports whether the first successful read of name only sets its
// starting state: the connector was present at startup but unreadable then.
func (m *Monitor) baseline(name string) bool {
	if _, ok := m.unprimed[name]; ok {
		delete(m.unprimed, name)
		return true
	}
	return false
}

// emit never blocks the poll loop; when the buffer is full the oldest event
// is dropped.
func (m *Monitor) emit(ev Event) {
	select {
	case m.events <- ev:
		m.logger.Info("display attached", "connector", ev.Connector, "port", ev.Port)
		return
	default:
	}
	select {
	case <-m.events:
	default:
	}
	select {
	case m.events <- ev:
	default:
	}
	m.logger.Warn("hotplug event buffer full, dropped oldest event")
}
