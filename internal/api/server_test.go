package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vishwatch/internal/alerts"
	"vishwatch/internal/config"
	"vishwatch/internal/engine"
	"vishwatch/internal/events"
	"vishwatch/internal/feed"
	"vishwatch/internal/metrics"
	"vishwatch/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSource struct {
	calls   []model.Call
	err     error
	lastReq model.FilterSpec
}

func (f *fakeSource) Fetch(_ context.Context, spec model.FilterSpec) ([]model.Call, error) {
	f.lastReq = spec
	if f.err != nil && !feed.IsValidation(f.err) {
		return []model.Call{}, f.err
	}
	out := []model.Call{}
	for _, c := range f.calls {
		if spec.Status == "" || string(c.Status) == spec.Status {
			out = append(out, c)
		}
	}
	return out, f.err
}

func (f *fakeSource) Get(_ context.Context, id string) (model.Call, error) {
	for _, c := range f.calls {
		if c.ID == id {
			return c, nil
		}
	}
	return model.Call{}, &feed.ProtocolError{Op: "GET", URL: "/calls/" + id, StatusCode: 404, Err: feed.ErrNotFound}
}

func (f *fakeSource) Resolve(ctx context.Context, id string) (model.Call, error) {
	c, err := f.Get(ctx, id)
	c.Status = model.StatusResolved
	return c, err
}

func (f *fakeSource) Summarize(_ context.Context, id string) (string, error) {
	return "summary of " + id, nil
}

func (f *fakeSource) Location() *time.Location { return time.UTC }

type fakeJournal struct{}

func (fakeJournal) RecentCycles(_ context.Context, _ int) ([]model.PollCycle, error) {
	return []model.PollCycle{{Seq: 2, Outcome: model.CycleOK}, {Seq: 1, Outcome: model.CycleFailed}}, nil
}

type harness struct {
	srv     *Server
	router  *gin.Engine
	source  *fakeSource
	monitor *engine.Monitor
	bus     *events.Bus
}

func sixCalls() []model.Call {
	statuses := []model.Status{model.StatusSafe, model.StatusScam, model.StatusSafe, model.StatusSuspicious, model.StatusScam, model.StatusSafe}
	out := make([]model.Call, 0, len(statuses))
	for i, st := range statuses {
		id := string(rune('a' + i))
		out = append(out, model.Call{ID: id, Filename: id + ".wav", Status: st, Risk: 10 * (i + 1)})
	}
	return out
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m, err := metrics.New(nil)
	require.NoError(t, err)
	bus := events.NewBus(nil, m, 8)
	t.Cleanup(func() { _ = bus.Close() })
	mon := engine.NewMonitor(config.DefaultConfig(), nil, m, alerts.NewStore(0), bus)
	src := &fakeSource{calls: sixCalls()}
	srv := NewServer(Deps{Calls: src, Monitor: mon, Events: bus, Metrics: m, Version: "test"})
	return &harness{srv: srv, router: srv.Router(), source: src, monitor: mon, bus: bus}
}

func (h *harness) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	body := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

// raise primes the monitor on [a] and then raises an alert for b.
func (h *harness) raise(t *testing.T) {
	t.Helper()
	h.monitor.Observe([]model.Call{{ID: "a", Status: model.StatusSafe}})
	det := h.monitor.Observe([]model.Call{{ID: "a", Status: model.StatusSafe}, {ID: "b", Filename: "b.wav", Status: model.StatusScam}})
	require.True(t, det.Raised)
}

func TestHealthAndRequestID(t *testing.T) {
	h := newHarness(t)
	rec, body := h.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatusReportsWatermark(t *testing.T) {
	h := newHarness(t)
	h.raise(t)
	rec, body := h.do(t, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	wm := body["watermark"].(map[string]any)
	assert.Equal(t, "b", wm["id"])
	assert.Equal(t, float64(1), body["active_alerts"])
}

func TestListCallsFiltersByStatus(t *testing.T) {
	h := newHarness(t)
	rec, body := h.do(t, http.MethodGet, "/api/calls?status=scam")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Scam", h.source.lastReq.Status)
	assert.Equal(t, float64(2), body["count"])
	calls := body["calls"].([]any)
	assert.Equal(t, "b", calls[0].(map[string]any)["id"])
	assert.Equal(t, "e", calls[1].(map[string]any)["id"])
}

func TestListCallsDateBounds(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodGet, "/api/calls?start_date=2025-10-01&end_date=2025-10-18")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.source.lastReq.StartDate.Equal(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, h.source.lastReq.EndDate.Equal(time.Date(2025, 10, 18, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)))

	rec, body := h.do(t, http.MethodGet, "/api/calls?start_date=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "start_date")

	rec, _ = h.do(t, http.MethodGet, "/api/calls?start_date=2025-10-18&end_date=2025-10-01")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCallsDegradesOnProtocolError(t *testing.T) {
	h := newHarness(t)
	h.source.err = &feed.ProtocolError{Op: "GET", URL: "/calls", Err: errors.New("unexpected shape")}
	rec, body := h.do(t, http.MethodGet, "/api/calls")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["calls"])
	assert.NotEmpty(t, body["notice"])
}

func TestListCallsNetworkErrorIs502(t *testing.T) {
	h := newHarness(t)
	h.source.err = &feed.NetworkError{Op: "GET", URL: "/calls", Err: context.DeadlineExceeded}
	rec, body := h.do(t, http.MethodGet, "/api/calls")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, noticeUnreachable, body["notice"])
}

func TestListCallsValidationNotice(t *testing.T) {
	h := newHarness(t)
	h.source.err = &feed.ValidationError{Rejected: []feed.Rejection{{Index: 6, Err: errors.New("missing id")}}}
	rec, body := h.do(t, http.MethodGet, "/api/calls")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(6), body["count"])
	assert.Equal(t, "1 malformed call(s) skipped", body["notice"])
}

func TestDashboardSummary(t *testing.T) {
	h := newHarness(t)
	rec, body := h.do(t, http.MethodGet, "/api/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, float64(6), summary["total"])
	assert.Equal(t, float64(2), summary["scam_count"])
	assert.Equal(t, float64(3), summary["safe_count"])
	recent := summary["recent"].([]any)
	require.Len(t, recent, 5)
	assert.Equal(t, "f", recent[0].(map[string]any)["id"])
}

func TestCallDetailRoutes(t *testing.T) {
	h := newHarness(t)
	rec, body := h.do(t, http.MethodGet, "/api/calls/b")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b", body["call"].(map[string]any)["id"])

	rec, _ = h.do(t, http.MethodGet, "/api/calls/zzz")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/api/calls/b/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "summary of b", body["summary"])

	rec, body = h.do(t, http.MethodPut, "/api/calls/b/resolve")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Resolved", body["call"].(map[string]any)["status"])
}

func TestAlertLifecycle(t *testing.T) {
	h := newHarness(t)
	h.raise(t)

	rec, body := h.do(t, http.MethodGet, "/api/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = h.do(t, http.MethodPost, "/api/alerts/b/activate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/calls/b", body["navigate"])

	rec, _ = h.do(t, http.MethodDelete, "/api/alerts/b")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = h.do(t, http.MethodDelete, "/api/alerts/b")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, body = h.do(t, http.MethodGet, "/api/alerts")
	assert.Equal(t, float64(0), body["count"])

	rec, _ = h.do(t, http.MethodGet, "/api/alerts?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminReset(t *testing.T) {
	h := newHarness(t)
	h.raise(t)
	rec, _ := h.do(t, http.MethodPost, "/admin/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, h.monitor.Alerts().Len())
	wm, primed := h.monitor.Watermark()
	assert.True(t, primed, "reset must not roll the watermark back")
	assert.Equal(t, "b", wm)
}

func TestPollsRoute(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodGet, "/api/polls")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.srv.Journal = fakeJournal{}
	h.router = h.srv.Router()
	rec, body := h.do(t, http.MethodGet, "/api/polls?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.raise(t)
	rec, _ := h.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vishwatch_alerts_raised_total 1")
}

func TestAlertStream(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var snap snapshotFrame
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap.Type)
	assert.Empty(t, snap.Alerts)

	h.raise(t)
	var ev model.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, model.EventAlertRaised, ev.Type)
	assert.Equal(t, "b", ev.AlertID)
	assert.NotEmpty(t, ev.ID)

	h.monitor.Dismiss("b")
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, model.EventAlertDismissed, ev.Type)
}
