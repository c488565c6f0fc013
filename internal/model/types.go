package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusSafe       Status = "Safe"
	StatusSuspicious Status = "Suspicious"
	StatusHighRisk   Status = "High Risk"
	StatusScam       Status = "Scam"
	StatusResolved   Status = "Resolved"
)

// KnownStatuses lists the tags the dashboard recognizes. The backend may send others.
var KnownStatuses = []Status{StatusSafe, StatusSuspicious, StatusHighRisk, StatusScam, StatusResolved}

func (s Status) Recognized() bool {
	for _, k := range KnownStatuses {
		if s == k {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

type Call struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename,omitempty"`
	Caller     string    `json:"caller,omitempty"`
	Timestamp  string    `json:"timestamp,omitempty"`
	Time       time.Time `json:"-"`
	Risk       int       `json:"risk"`
	Status     Status    `json:"status"`
	Transcript string    `json:"transcript,omitempty"`
	Keywords   []string  `json:"keywords,omitempty"`
	Highlights []string  `json:"highlights,omitempty"`
	Summary    string    `json:"summary,omitempty"`
}

func (c Call) IsScam() bool {
	return c.Status == StatusScam
}

type Alert struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Status    Status    `json:"status"`
	Timestamp string    `json:"timestamp,omitempty"`
	RaisedAt  time.Time `json:"raised_at"`
}

func AlertFromCall(c Call, now time.Time) Alert {
	return Alert{
		ID:        c.ID,
		Filename:  c.Filename,
		Status:    c.Status,
		Timestamp: c.Timestamp,
		RaisedAt:  now.UTC(),
	}
}

type FilterSpec struct {
	Status    string    `json:"status,omitempty"`
	StartDate time.Time `json:"start_date,omitempty"`
	EndDate   time.Time `json:"end_date,omitempty"`
}

func (f FilterSpec) IsZero() bool {
	return strings.TrimSpace(f.Status) == "" && f.StartDate.IsZero() && f.EndDate.IsZero()
}

type RiskPoint struct {
	Label string `json:"label"`
	Risk  int    `json:"risk"`
}

type Summary struct {
	Total        int            `json:"total"`
	ScamCount    int            `json:"scam_count"`
	SafeCount    int            `json:"safe_count"`
	ByStatus     map[Status]int `json:"by_status"`
	Unrecognized int            `json:"unrecognized"`
	Recent       []Call         `json:"recent"`
	RiskSeries   []RiskPoint    `json:"risk_series"`
}

type EventType string

const (
	EventAlertRaised    EventType = "alert.raised"
	EventAlertDismissed EventType = "alert.dismissed"
	EventAlertActivated EventType = "alert.activated"
)

type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	AlertID  string    `json:"alert_id"`
	Filename string    `json:"filename"`
	Status   Status    `json:"status,omitempty"`
	At       time.Time `json:"at"`
}

type CycleOutcome string

const (
	CycleOK     CycleOutcome = "ok"
	CycleFailed CycleOutcome = "failed"
	CycleStale  CycleOutcome = "stale"
)

type PollCycle struct {
	Seq        uint64       `json:"seq"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Outcome    CycleOutcome `json:"outcome"`
	Calls      int          `json:"calls"`
	Watermark  string       `json:"watermark,omitempty"`
	AlertID    string       `json:"alert_id,omitempty"`
	Error      string       `json:"error,omitempty"`
}
