// Package metrics holds the Prometheus collectors for the poller, alert store and sinks.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics is nil-safe: every recording method is a no-op on a nil receiver, so
// components can run without a registry in tests and one-shot commands.
type Metrics struct {
	PollCycles      *prometheus.CounterVec // by outcome: ok, failed, stale
	PollSkipped     prometheus.Counter     // ticks dropped by single-flight
	PollDuration    prometheus.Histogram
	SnapshotSize    prometheus.Gauge
	AlertsRaised    prometheus.Counter
	AlertsDismissed prometheus.Counter
	AlertsActive    prometheus.Gauge
	SinkFailures    *prometheus.CounterVec // by sink
	EventsDropped   prometheus.Counter     // subscriber buffers full

	registry *prometheus.Registry
}

func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{registry: registry}
	m.PollCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vishwatch_poll_cycles_total",
		Help: "Completed poll cycles by outcome",
	}, []string{"outcome"})
	m.PollSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vishwatch_poll_ticks_skipped_total",
		Help: "Ticks skipped because a fetch was still in flight",
	})
	m.PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vishwatch_poll_duration_seconds",
		Help:    "Duration of poll cycles including the feed fetch",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	})
	m.SnapshotSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vishwatch_snapshot_calls",
		Help: "Number of calls in the most recent poll snapshot",
	})
	m.AlertsRaised = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vishwatch_alerts_raised_total",
		Help: "Alerts raised for newly detected scam calls",
	})
	m.AlertsDismissed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vishwatch_alerts_dismissed_total",
		Help: "Alerts dismissed by operators",
	})
	m.AlertsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vishwatch_alerts_active",
		Help: "Alerts currently active",
	})
	m.SinkFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vishwatch_event_sink_failures_total",
		Help: "Event deliveries that failed, by sink",
	}, []string{"sink"})
	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vishwatch_events_dropped_total",
		Help: "Events dropped because a subscriber was not keeping up",
	})

	for _, c := range []prometheus.Collector{
		m.PollCycles, m.PollSkipped, m.PollDuration, m.SnapshotSize,
		m.AlertsRaised, m.AlertsDismissed, m.AlertsActive,
		m.SinkFailures, m.EventsDropped,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// NewWithRuntime also registers the Go runtime and process collectors.
func NewWithRuntime() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return New(reg)
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveCycle(outcome string, d time.Duration, calls int) {
	if m == nil {
		return
	}
	m.PollCycles.WithLabelValues(outcome).Inc()
	m.PollDuration.Observe(d.Seconds())
	if outcome == "ok" {
		m.SnapshotSize.Set(float64(calls))
	}
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.PollSkipped.Inc()
}

func (m *Metrics) AlertRaised(active int) {
	if m == nil {
		return
	}
	m.AlertsRaised.Inc()
	m.AlertsActive.Set(float64(active))
}

func (m *Metrics) AlertDismissed(active int) {
	if m == nil {
		return
	}
	m.AlertsDismissed.Inc()
	m.AlertsActive.Set(float64(active))
}

func (m *Metrics) SetActive(active int) {
	if m == nil {
		return
	}
	m.AlertsActive.Set(float64(active))
}

func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
