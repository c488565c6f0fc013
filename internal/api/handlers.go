package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vishwatch/internal/aggregate"
	"vishwatch/internal/feed"
	"vishwatch/internal/model"
	"vishwatch/internal/normalize"
)

const (
	noticeUnreachable = "could not reach the call backend"
	noticeUnexpected  = "the call backend returned an unexpected response"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339Nano),
		"version": s.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	if s.Config != nil {
		cfg := s.Config.Get()
		resp["config_path"] = s.Config.Path()
		resp["feed"] = gin.H{"base_url": cfg.Feed.BaseURL, "timeout": cfg.Feed.Timeout.String()}
		resp["storage"] = cfg.Storage.Enabled
		resp["sinks"] = gin.H{
			"kafka":  cfg.Events.Kafka.Enabled,
			"nats":   cfg.Events.NATS.Enabled,
			"notify": cfg.Events.Notify.Enabled,
		}
	}
	if s.Poller != nil {
		st := s.Poller.Status()
		resp["poller"] = gin.H{
			"state":    st.State,
			"interval": st.Interval.String(),
			"seq":      st.Seq,
			"stats":    st.Stats,
		}
	}
	if s.Monitor != nil {
		wm, primed := s.Monitor.Watermark()
		resp["watermark"] = gin.H{"id": wm, "established": primed}
		resp["active_alerts"] = s.Monitor.Alerts().Len()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListCalls(c *gin.Context) {
	spec, err := parseFilter(c, s.Calls.Location())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	calls, err := s.Calls.Fetch(c.Request.Context(), spec)
	resp := gin.H{}
	switch {
	case err == nil:
	case feed.IsValidation(err):
		resp["notice"] = validationNotice(err)
	case feed.IsProtocol(err):
		calls = nil
		resp["notice"] = noticeUnexpected
	default:
		s.fetchFailed(c, err)
		return
	}
	if calls == nil {
		calls = []model.Call{}
	}
	resp["calls"] = calls
	resp["count"] = len(calls)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDashboard(c *gin.Context) {
	calls, err := s.Calls.Fetch(c.Request.Context(), model.FilterSpec{})
	resp := gin.H{}
	switch {
	case err == nil:
	case feed.IsValidation(err):
		resp["notice"] = validationNotice(err)
	case feed.IsProtocol(err):
		calls = nil
		resp["notice"] = noticeUnexpected
	default:
		s.fetchFailed(c, err)
		return
	}
	resp["summary"] = aggregate.Summarize(calls)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetCall(c *gin.Context) {
	call, err := s.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fetchFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (s *Server) handleSummarize(c *gin.Context) {
	id := c.Param("id")
	summary, err := s.Calls.Summarize(c.Request.Context(), id)
	if err != nil {
		s.fetchFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "summary": summary})
}

func (s *Server) handleResolve(c *gin.Context) {
	call, err := s.Calls.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fetchFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (s *Server) handleListAlerts(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	list := s.Monitor.Alerts().List(limit)
	c.JSON(http.StatusOK, gin.H{"alerts": list, "count": len(list)})
}

func (s *Server) handleDismissAlert(c *gin.Context) {
	a, ok := s.Monitor.Dismiss(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed", "alert": a})
}

func (s *Server) handleActivateAlert(c *gin.Context) {
	a, ok := s.Monitor.Activate(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": a, "navigate": "/calls/" + a.ID})
}

func (s *Server) handleListPolls(c *gin.Context) {
	if s.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "poll journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	cycles, err := s.Journal.RecentCycles(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"polls": cycles, "count": len(cycles)})
}

func (s *Server) handleReset(c *gin.Context) {
	s.Monitor.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fetchFailed maps a backend failure onto a response for this view only.
func (s *Server) fetchFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, feed.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case feed.IsNetwork(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "notice": noticeUnreachable})
	case feed.IsProtocol(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "notice": noticeUnexpected})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
	if s.Logger != nil {
		s.Logger.Warn("backend request failed", "path", c.Request.URL.Path, "error", err)
	}
}

func parseFilter(c *gin.Context, loc *time.Location) (model.FilterSpec, error) {
	var spec model.FilterSpec
	if v := c.Query("status"); v != "" {
		spec.Status = string(normalize.ParseStatus(v))
	}
	start, err := normalize.ParseDateBound(c.Query("start_date"), false, loc)
	if err != nil {
		return spec, fmt.Errorf("start_date: %w", err)
	}
	end, err := normalize.ParseDateBound(c.Query("end_date"), true, loc)
	if err != nil {
		return spec, fmt.Errorf("end_date: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return spec, errors.New("end_date is before start_date")
	}
	spec.StartDate, spec.EndDate = start, end
	return spec, nil
}

func validationNotice(err error) string {
	var ve *feed.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("%d malformed call(s) skipped", len(ve.Rejected))
	}
	return err.Error()
}
