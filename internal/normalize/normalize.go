package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"vishwatch/internal/model"
)

var ErrMissingID = errors.New("call has no id")

// Call converts one decoded feed entry into a model.Call. Timestamps without an
// explicit zone are read in loc.
func Call(obj map[string]any, loc *time.Location) (model.Call, error) {
	if loc == nil {
		loc = time.UTC
	}
	id := stringField(obj, "id", "_id", "call_id")
	if id == "" {
		return model.Call{}, ErrMissingID
	}
	call := model.Call{
		ID:         id,
		Filename:   stringField(obj, "filename", "file", "name"),
		Caller:     stringField(obj, "caller", "from", "number"),
		Timestamp:  stringField(obj, "timestamp", "datetime", "time", "created_at"),
		Risk:       ParseRisk(firstValue(obj, "risk", "risk_score", "confidence")),
		Status:     ParseStatus(stringField(obj, "status")),
		Transcript: stringField(obj, "transcript", "text"),
		Keywords:   stringList(obj["keywords"]),
		Highlights: stringList(obj["highlights"]),
		Summary:    stringField(obj, "summary"),
	}
	if call.Timestamp != "" {
		if ts, err := ParseTimestamp(call.Timestamp, loc); err == nil {
			call.Time = ts.UTC()
		}
	}
	return call, nil
}

// ParseStatus trims the value and canonicalizes the case of recognized tags.
// Unrecognized values are returned as sent.
func ParseStatus(value string) model.Status {
	value = strings.TrimSpace(value)
	for _, known := range model.KnownStatuses {
		if strings.EqualFold(value, string(known)) {
			return known
		}
	}
	return model.Status(value)
}

// ParseRisk accepts percentages (87) or fractional confidences (0.87) and clamps to [0,100].
func ParseRisk(value any) int {
	var f float64
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	if f > 0 && f < 1 {
		f *= 100
	}
	if f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return int(math.Round(f))
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

// ParseDateBound parses a YYYY-MM-DD (or full timestamp) filter bound. Date-only
// end bounds cover the whole day.
func ParseDateBound(value string, end bool, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if d, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		if end {
			return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
		}
		return d, nil
	}
	return ParseTimestamp(value, loc)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func firstValue(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(obj map[string]any, keys ...string) string {
	v := firstValue(obj, keys...)
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s := strings.TrimSpace(fmt.Sprint(item))
			if item == nil || s == "" {
				continue
			}
			out = append(out, s)
		}
		return out
	case []string:
		return append([]string(nil), list...)
	case string:
		if strings.TrimSpace(list) == "" {
			return nil
		}
		parts := strings.Split(list, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
