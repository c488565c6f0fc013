package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedBody = `[
	{"id":"a","filename":"a.wav","status":"Safe","risk":10,"timestamp":"2024-03-01T10:00:00Z"},
	{"id":"b","filename":"b.wav","status":"scam","risk":92,"timestamp":"2024-03-02T10:00:00Z"},
	{"id":"c","filename":"c.wav","status":"Suspicious","risk":55,"timestamp":"2024-03-03T10:00:00Z"}
]`

func newBackend(t *testing.T, body string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/calls" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	t.Setenv("VISHWATCH_FEED_BASE_URL", srv.URL+"/api")
}

func execute(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	envFile := filepath.Join(t.TempDir(), "missing.env")
	cmd.SetArgs(append(args, "--env-file", envFile))
	require.NoError(t, cmd.Execute(), out.String())
	return out.Bytes()
}

func TestSummaryCommand(t *testing.T) {
	newBackend(t, feedBody)
	var got struct {
		Total     int `json:"total"`
		ScamCount int `json:"scam_count"`
		SafeCount int `json:"safe_count"`
	}
	require.NoError(t, json.Unmarshal(execute(t, "summary"), &got))
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.ScamCount)
	assert.Equal(t, 1, got.SafeCount)
}

func TestSummaryCommandFiltersByStatus(t *testing.T) {
	newBackend(t, feedBody)
	var got struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(execute(t, "summary", "--status", "SCAM"), &got))
	assert.Equal(t, 1, got.Total)
}

func TestPollCommandColdStart(t *testing.T) {
	newBackend(t, feedBody)
	var got struct {
		Cycle struct {
			Outcome   string `json:"outcome"`
			Watermark string `json:"watermark"`
		} `json:"cycle"`
		Baseline bool              `json:"baseline"`
		Alerts   []json.RawMessage `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(execute(t, "poll"), &got))
	assert.Equal(t, "ok", got.Cycle.Outcome)
	assert.Equal(t, "c", got.Cycle.Watermark)
	assert.True(t, got.Baseline)
	assert.Empty(t, got.Alerts)
}

func TestPollCommandAlertOnColdStart(t *testing.T) {
	newBackend(t, `[{"id":"a","status":"Safe"},{"id":"z","filename":"z.wav","status":"Scam","risk":97}]`)
	t.Setenv("VISHWATCH_ALERT_ON_COLD_START", "true")
	var got struct {
		Alerts []struct {
			ID string `json:"id"`
		} `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(execute(t, "poll"), &got))
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, "z", got.Alerts[0].ID)
}
