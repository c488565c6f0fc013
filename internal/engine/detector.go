package engine

import (
	"sync"
	"time"

	"vishwatch/internal/model"
)

// Detection is the outcome of inspecting one snapshot.
type Detection struct {
	Alert     model.Alert
	Raised    bool
	Advanced  bool
	Baseline  bool
	Watermark string
}

// Detector compares the newest call of each snapshot against a watermark. Only
// the last element is inspected: calls inserted in bulk between polls that are
// not the newest are never alerted.
type Detector struct {
	mu               sync.RWMutex
	watermark        string
	primed           bool
	alertOnColdStart bool
}

func NewDetector(alertOnColdStart bool) *Detector {
	return &Detector{alertOnColdStart: alertOnColdStart}
}

func (d *Detector) SetAlertOnColdStart(v bool) {
	d.mu.Lock()
	d.alertOnColdStart = v
	d.mu.Unlock()
}

// Detect inspects snapshot (oldest first). The watermark moves to the newest id
// whenever it differs, whatever its status. The first snapshot after start
// only sets the baseline unless alertOnColdStart is set.
func (d *Detector) Detect(snapshot []model.Call, now time.Time) Detection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(snapshot) == 0 {
		return Detection{Watermark: d.watermark}
	}
	latest := snapshot[len(snapshot)-1]
	if d.primed && latest.ID == d.watermark {
		return Detection{Watermark: d.watermark}
	}
	baseline := !d.primed
	d.watermark = latest.ID
	d.primed = true
	out := Detection{Advanced: true, Baseline: baseline, Watermark: latest.ID}
	if latest.IsScam() && (!baseline || d.alertOnColdStart) {
		out.Alert = model.AlertFromCall(latest, now)
		out.Raised = true
	}
	return out
}

// Watermark returns the last processed id and whether one has been set.
func (d *Detector) Watermark() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.watermark, d.primed
}
