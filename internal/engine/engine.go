package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vishwatch/internal/alerts"
	"vishwatch/internal/config"
	"vishwatch/internal/metrics"
	"vishwatch/internal/model"
)

type Publisher interface {
	Publish(ev model.Event)
}

// Monitor is the single writer for the watermark and the alert store. Observe
// is called only from the poller's completion path; Dismiss and Activate come
// from operators and touch the alert list only.
type Monitor struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	alerts   *alerts.Store
	events   Publisher
	detector *Detector
	now      func() time.Time
}

func NewMonitor(cfg *config.Config, logger *slog.Logger, metricsSet *metrics.Metrics, alertsStore *alerts.Store, events Publisher) *Monitor {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if alertsStore == nil {
		alertsStore = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	if logger != nil {
		logger = logger.With("component", "monitor")
	}
	return &Monitor{
		logger:   logger,
		metrics:  metricsSet,
		alerts:   alertsStore,
		events:   events,
		detector: NewDetector(cfg.Poller.AlertOnColdStart),
		now:      time.Now,
	}
}

func (m *Monitor) UpdateConfig(cfg *config.Config) {
	m.detector.SetAlertOnColdStart(cfg.Poller.AlertOnColdStart)
}

// Observe runs detection over a snapshot and records a new alert if one was raised.
func (m *Monitor) Observe(snapshot []model.Call) Detection {
	det := m.detector.Detect(snapshot, m.now())
	if det.Baseline && m.logger != nil {
		m.logger.Info("watermark baseline established", "watermark", det.Watermark, "calls", len(snapshot))
	}
	if !det.Raised {
		return det
	}
	if !m.alerts.Add(det.Alert) {
		det.Raised = false
		return det
	}
	m.metrics.AlertRaised(m.alerts.Len())
	if m.logger != nil {
		m.logger.Warn("scam call detected",
			"call_id", det.Alert.ID,
			"filename", det.Alert.Filename,
			"timestamp", det.Alert.Timestamp,
		)
	}
	m.publish(model.EventAlertRaised, det.Alert)
	return det
}

func (m *Monitor) Dismiss(id string) (model.Alert, bool) {
	a, ok := m.alerts.Dismiss(id)
	if !ok {
		return a, false
	}
	m.metrics.AlertDismissed(m.alerts.Len())
	if m.logger != nil {
		m.logger.Info("alert dismissed", "call_id", id)
	}
	m.publish(model.EventAlertDismissed, a)
	return a, true
}

// Activate signals that an operator opened the alert; it stays active.
func (m *Monitor) Activate(id string) (model.Alert, bool) {
	a, ok := m.alerts.Get(id)
	if !ok {
		return a, false
	}
	m.publish(model.EventAlertActivated, a)
	return a, true
}

func (m *Monitor) Alerts() *alerts.Store {
	return m.alerts
}

func (m *Monitor) Watermark() (string, bool) {
	return m.detector.Watermark()
}

// Reset clears the active alerts. The watermark is owned by the poll path and
// is left alone, so a scam that becomes newest afterwards still alerts.
func (m *Monitor) Reset() {
	m.alerts.Clear()
	m.metrics.SetActive(0)
	if m.logger != nil {
		m.logger.Info("monitor reset")
	}
}

func (m *Monitor) publish(t model.EventType, a model.Alert) {
	if m.events == nil {
		return
	}
	m.events.Publish(model.Event{
		ID:       uuid.NewString(),
		Type:     t,
		AlertID:  a.ID,
		Filename: a.Filename,
		Status:   a.Status,
		At:       m.now().UTC(),
	})
}
