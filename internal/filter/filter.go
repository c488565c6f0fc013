// Package filter narrows a call collection for the list view.
package filter

import (
	"strings"

	"vishwatch/internal/model"
)

// Apply returns the calls matching spec, in input order. The input slice is not
// modified. Status matches exactly; date bounds are inclusive and calls without a
// parseable timestamp are excluded whenever a bound is set.
func Apply(calls []model.Call, spec model.FilterSpec) []model.Call {
	out := make([]model.Call, 0, len(calls))
	status := strings.TrimSpace(spec.Status)
	for _, c := range calls {
		if status != "" && string(c.Status) != status {
			continue
		}
		if !inRange(c, spec) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func inRange(c model.Call, spec model.FilterSpec) bool {
	if spec.StartDate.IsZero() && spec.EndDate.IsZero() {
		return true
	}
	if c.Time.IsZero() {
		return false
	}
	if !spec.StartDate.IsZero() && c.Time.Before(spec.StartDate) {
		return false
	}
	if !spec.EndDate.IsZero() && c.Time.After(spec.EndDate) {
		return false
	}
	return true
}
