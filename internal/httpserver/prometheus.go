package httpserver

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/gfxpower/internal/graphics"
	"github.com/skobkin/gfxpower/internal/profile"
)

// stateCollector exports the daemon state as info-style gauges on every
// scrape.
type stateCollector struct {
	state StateSource

	profile    *prometheus.Desc
	mode       *prometheus.Desc
	booted     *prometheus.Desc
	pending    *prometheus.Desc
	switchable *prometheus.Desc
	runtimePM  *prometheus.Desc
}

func newStateCollector(state StateSource) prometheus.Collector {
	if state == nil {
		return nil
	}
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("gfxpower", subsystem, name), help, labels, nil)
	}
	return &stateCollector{
		state:      state,
		profile:    desc("profile", "active", "Whether the labelled profile is the active one.", "profile"),
		mode:       desc("graphics", "mode", "Whether the labelled graphics mode is the persisted one.", "mode"),
		booted:     desc("graphics", "booted_mode", "Whether the running system was booted in the labelled mode.", "mode"),
		pending:    desc("graphics", "switch_pending", "1 when a graphics mode switch waits for a reboot."),
		switchable: desc("graphics", "switchable", "1 when the host supports graphics mode switching."),
		runtimePM:  desc("graphics", "runtime_pm", "1 when the discrete GPU supports runtime power management."),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.profile
	ch <- c.mode
	ch <- c.booted
	ch <- c.pending
	ch <- c.switchable
	ch <- c.runtimePM
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.state.Snapshot()

	for _, p := range profile.All() {
		ch <- prometheus.MustNewConstMetric(c.profile, prometheus.GaugeValue, boolValue(p.String() == snap.Profile), p.String())
	}
	for _, m := range graphics.Modes() {
		ch <- prometheus.MustNewConstMetric(c.mode, prometheus.GaugeValue, boolValue(string(m) == snap.Graphics), string(m))
		ch <- prometheus.MustNewConstMetric(c.booted, prometheus.GaugeValue, boolValue(string(m) == snap.Booted), string(m))
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, boolValue(snap.Pending != ""))
	ch <- prometheus.MustNewConstMetric(c.switchable, prometheus.GaugeValue, boolValue(snap.Switchable))
	ch <- prometheus.MustNewConstMetric(c.runtimePM, prometheus.GaugeValue, boolValue(snap.RuntimePM))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (s *Server) registerPrometheus(r chi.Router) {
	registry := s.deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "gfxpower",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gfxpower",
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gfxpower",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gfxpower",
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
	}

	if s.deps.Events != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gfxpower",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total events dropped for slow subscribers.",
		}, func() float64 {
			return float64(s.deps.Events.Dropped())
		}))
	}
	if c := newStateCollector(s.deps.State); c != nil {
		collectors = append(collectors, c)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
