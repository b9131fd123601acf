package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/profile"
)

// Metrics counts dispatcher activity. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	knobs    *prometheus.CounterVec
	hotplugs prometheus.Counter
}

// NewMetrics creates the dispatcher metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gfxpower",
			Subsystem: "dispatcher",
			Name:      "requests_total",
			Help:      "Privileged requests handled, by method and result.",
		}, []string{"method", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gfxpower",
			Subsystem: "dispatcher",
			Name:      "request_duration_seconds",
			Help:      "Time from request arrival to answer, including lock wait and authorization.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method"}),
		knobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gfxpower",
			Subsystem: "profile",
			Name:      "knob_results_total",
			Help:      "Profile knob outcomes across all applications.",
		}, []string{"result"}),
		hotplugs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfxpower",
			Subsystem: "hotplug",
			Name:      "events_total",
			Help:      "Debounced display attach events.",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration, m.knobs, m.hotplugs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRequest(method string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, resultLabel(err)).Inc()
	m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeReport(rep profile.Report) {
	if m == nil {
		return
	}
	m.knobs.WithLabelValues("applied").Add(float64(len(rep.Applied)))
	m.knobs.WithLabelValues("skipped").Add(float64(len(rep.Skipped)))
	m.knobs.WithLabelValues("failed").Add(float64(len(rep.Failed)))
}

func (m *Metrics) observeHotplug() {
	if m == nil {
		return
	}
	m.hotplugs.Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	switch errs.Kind(err) {
	case errs.ErrDenied:
		return "denied"
	case errs.ErrUnsupported:
		return "unsupported"
	case errs.ErrInvalidState:
		return "invalid_state"
	case errs.ErrInvalidArgument:
		return "invalid_argument"
	case errs.ErrIO:
		return "io"
	default:
		return "error"
	}
}
