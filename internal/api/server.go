package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vishwatch/internal/config"
	"vishwatch/internal/engine"
	"vishwatch/internal/events"
	"vishwatch/internal/metrics"
	"vishwatch/internal/model"
	"vishwatch/internal/poller"
)

// CallSource is the backend feed as seen by the views.
type CallSource interface {
	Fetch(ctx context.Context, spec model.FilterSpec) ([]model.Call, error)
	Get(ctx context.Context, id string) (model.Call, error)
	Resolve(ctx context.Context, id string) (model.Call, error)
	Summarize(ctx context.Context, id string) (string, error)
	Location() *time.Location
}

type PollerStatus interface {
	Status() poller.Status
}

type Journal interface {
	RecentCycles(ctx context.Context, limit int) ([]model.PollCycle, error)
}

type Deps struct {
	Config  *config.Manager
	Calls   CallSource
	Monitor *engine.Monitor
	Poller  PollerStatus
	Journal Journal
	Events  *events.Bus
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Version string
}

type Server struct {
	Deps
	started time.Time
}

func NewServer(deps Deps) *Server {
	if deps.Logger != nil {
		deps.Logger = deps.Logger.With("component", "api")
	}
	return &Server{Deps: deps, started: time.Now().UTC()}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogging(s.Logger))

	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	if reg := s.Metrics.Registry(); reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	r.GET("/ws/alerts", s.handleAlertStream)

	api := r.Group("/api")
	{
		api.GET("/calls", s.handleListCalls)
		api.GET("/calls/:id", s.handleGetCall)
		api.POST("/calls/:id/summary", s.handleSummarize)
		api.PUT("/calls/:id/resolve", s.handleResolve)
		api.GET("/dashboard", s.handleDashboard)
		api.GET("/alerts", s.handleListAlerts)
		api.DELETE("/alerts/:id", s.handleDismissAlert)
		api.POST("/alerts/:id/activate", s.handleActivateAlert)
		api.GET("/polls", s.handleListPolls)
	}
	r.POST("/admin/reset", s.handleReset)
	return r
}

const shutdownTimeout = 5 * time.Second

// Serve runs the API on addr until ctx is cancelled. It returns once the
// server has shut down and in-flight requests have drained, or the shutdown
// timeout has passed.
func Serve(ctx context.Context, addr string, s *Server) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", addr, err)
	}
	if s.Logger != nil {
		s.Logger.Info("api enabled", "addr", ln.Addr().String())
	}
	return serve(ctx, ln, s.Router())
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	served := make(chan error, 1)
	go func() { served <- httpServer.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	if serveErr := <-served; err == nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = serveErr
	}
	return err
}
