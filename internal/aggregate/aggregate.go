// Package aggregate derives dashboard statistics from a call collection.
package aggregate

import (
	"strconv"

	"vishwatch/internal/model"
)

const (
	RecentLimit = 5
	SeriesLimit = 10
)

// Summarize computes a fresh Summary. Safe is counted from the status itself:
// Suspicious, High Risk, Resolved and unknown statuses are not safe.
func Summarize(calls []model.Call) model.Summary {
	s := model.Summary{
		Total:      len(calls),
		ByStatus:   make(map[model.Status]int),
		Recent:     recent(calls, RecentLimit),
		RiskSeries: riskSeries(calls, SeriesLimit),
	}
	for _, c := range calls {
		switch c.Status {
		case model.StatusScam:
			s.ScamCount++
		case model.StatusSafe:
			s.SafeCount++
		}
		if c.Status.Recognized() {
			s.ByStatus[c.Status]++
		} else {
			s.Unrecognized++
		}
	}
	return s
}

func tail(calls []model.Call, n int) []model.Call {
	if len(calls) <= n {
		return calls
	}
	return calls[len(calls)-n:]
}

func recent(calls []model.Call, n int) []model.Call {
	last := tail(calls, n)
	out := make([]model.Call, 0, len(last))
	for i := len(last) - 1; i >= 0; i-- {
		out = append(out, last[i])
	}
	return out
}

func riskSeries(calls []model.Call, n int) []model.RiskPoint {
	last := tail(calls, n)
	out := make([]model.RiskPoint, 0, len(last))
	for i, c := range last {
		out = append(out, model.RiskPoint{Label: strconv.Itoa(i + 1), Risk: c.Risk})
	}
	return out
}
