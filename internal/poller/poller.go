// Package poller drives the periodic fetch of the call feed into the monitor.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vishwatch/internal/engine"
	"vishwatch/internal/feed"
	"vishwatch/internal/metrics"
	"vishwatch/internal/model"
)

type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

var (
	ErrStopped        = errors.New("poller stopped")
	ErrAlreadyStarted = errors.New("poller already started")
)

type Fetcher interface {
	Fetch(ctx context.Context, spec model.FilterSpec) ([]model.Call, error)
}

type Observer interface {
	Observe(snapshot []model.Call) engine.Detection
}

type Journal interface {
	SaveCycle(ctx context.Context, cycle model.PollCycle) error
}

type Reporter interface {
	CaptureError(err error, tags map[string]string)
}

type Options struct {
	Interval    time.Duration
	Timeout     time.Duration
	PollOnStart bool
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Journal     Journal
	Reporter    Reporter
}

type Stats struct {
	Completed   uint64    `json:"completed"`
	Failed      uint64    `json:"failed"`
	Skipped     uint64    `json:"skipped"`
	Stale       uint64    `json:"stale"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

type Status struct {
	State    State         `json:"state"`
	Interval time.Duration `json:"interval"`
	Seq      uint64        `json:"seq"`
	Stats    Stats         `json:"stats"`
}

// Poller runs at most one fetch at a time. A tick that fires while a fetch is
// in flight is skipped. Each cycle carries the sequence number it was
// dispatched with and may only apply its result while that number is still
// current; Stop bumps the sequence, so nothing a cycle does lands after Stop.
type Poller struct {
	fetcher  Fetcher
	observer Observer
	journal  Journal
	reporter Reporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeout  time.Duration
	onStart  bool
	now      func() time.Time

	sem        *semaphore.Weighted
	inflight   sync.WaitGroup
	trigger    chan struct{}
	intervalCh chan time.Duration

	mu       sync.Mutex
	seq      uint64
	state    State
	interval time.Duration
	stats    Stats
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func New(fetcher Fetcher, observer Observer, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = feed.DefaultTimeout
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "poller")
	}
	return &Poller{
		fetcher:    fetcher,
		observer:   observer,
		journal:    opts.Journal,
		reporter:   opts.Reporter,
		metrics:    opts.Metrics,
		logger:     logger,
		timeout:    timeout,
		onStart:    opts.PollOnStart,
		now:        time.Now,
		sem:        semaphore.NewWeighted(1),
		trigger:    make(chan struct{}, 1),
		intervalCh: make(chan time.Duration, 1),
		state:      StateIdle,
		interval:   interval,
	}
}

// Start launches the scheduling loop. It polls once immediately when
// PollOnStart is set.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.started = true
	p.cancel = cancel
	p.loopDone = make(chan struct{})
	go p.loop(loopCtx, p.interval)
	if p.logger != nil {
		p.logger.Info("poller started", "interval", p.interval.String(), "poll_on_start", p.onStart)
	}
	return nil
}

func (p *Poller) loop(ctx context.Context, interval time.Duration) {
	defer close(p.loopDone)
	if p.onStart {
		p.dispatch(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.dispatch(ctx)
		case <-p.trigger:
			p.dispatch(ctx)
		case d := <-p.intervalCh:
			ticker.Reset(d)
		}
	}
}

// Trigger requests an immediate cycle. It is subject to single-flight like a
// tick and coalesces with other pending triggers.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// SetInterval changes the polling period of a running or future loop.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	changed := d != p.interval
	p.interval = d
	p.mu.Unlock()
	if !changed {
		return
	}
	select {
	case <-p.intervalCh:
	default:
	}
	select {
	case p.intervalCh <- d:
	default:
	}
	if p.logger != nil {
		p.logger.Info("poll interval changed", "interval", d.String())
	}
}

// dispatch starts a cycle in the background unless one is already in flight.
func (p *Poller) dispatch(ctx context.Context) bool {
	if !p.sem.TryAcquire(1) {
		p.mu.Lock()
		p.stats.Skipped++
		p.mu.Unlock()
		p.metrics.TickSkipped()
		if p.logger != nil {
			p.logger.Debug("tick skipped, fetch in flight")
		}
		return false
	}
	seq, ok := p.begin()
	if !ok {
		p.sem.Release(1)
		return false
	}
	go func() {
		defer p.inflight.Done()
		defer p.sem.Release(1)
		_, _ = p.cycle(ctx, seq)
	}()
	return true
}

// RunOnce performs one cycle synchronously, waiting for any in-flight cycle
// to finish first.
func (p *Poller) RunOnce(ctx context.Context) (model.PollCycle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return model.PollCycle{}, err
	}
	defer p.sem.Release(1)
	seq, ok := p.begin()
	if !ok {
		return model.PollCycle{}, ErrStopped
	}
	defer p.inflight.Done()
	return p.cycle(ctx, seq)
}

func (p *Poller) begin() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return 0, false
	}
	p.seq++
	p.state = StateFetching
	p.inflight.Add(1)
	return p.seq, true
}

// cycle fetches and applies one snapshot. The returned error is non-nil only
// for a failed fetch or a stale completion.
func (p *Poller) cycle(ctx context.Context, seq uint64) (model.PollCycle, error) {
	started := p.now()
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	calls, err := p.fetcher.Fetch(fetchCtx, model.FilterSpec{})
	cancel()

	rec := model.PollCycle{Seq: seq, StartedAt: started.UTC(), Calls: len(calls)}

	p.mu.Lock()
	if seq != p.seq {
		p.stats.Stale++
		p.mu.Unlock()
		rec.FinishedAt = p.now().UTC()
		rec.Outcome = model.CycleStale
		p.metrics.ObserveCycle(string(rec.Outcome), rec.FinishedAt.Sub(started), len(calls))
		if p.logger != nil {
			p.logger.Debug("discarding stale poll result", "seq", seq)
		}
		return rec, ErrStopped
	}

	failed := err != nil && !feed.IsValidation(err)
	if failed {
		p.state = StateFailed
		p.stats.Failed++
		p.stats.LastFailure = p.now()
		p.stats.LastError = err.Error()
		rec.Outcome = model.CycleFailed
		rec.Error = err.Error()
	} else {
		det := p.observer.Observe(calls)
		p.state = StateIdle
		p.stats.Completed++
		p.stats.LastSuccess = p.now()
		rec.Outcome = model.CycleOK
		rec.Watermark = det.Watermark
		if det.Raised {
			rec.AlertID = det.Alert.ID
		}
		if err != nil {
			rec.Error = err.Error()
		}
	}
	if rec.Watermark == "" {
		if wm, ok := p.watermark(); ok {
			rec.Watermark = wm
		}
	}
	p.mu.Unlock()

	rec.FinishedAt = p.now().UTC()
	p.metrics.ObserveCycle(string(rec.Outcome), rec.FinishedAt.Sub(started), len(calls))
	p.report(rec, err)
	p.record(rec)
	if failed {
		return rec, err
	}
	return rec, nil
}

func (p *Poller) watermark() (string, bool) {
	if w, ok := p.observer.(interface{ Watermark() (string, bool) }); ok {
		return w.Watermark()
	}
	return "", false
}

func (p *Poller) report(rec model.PollCycle, err error) {
	if err == nil {
		if p.logger != nil {
			p.logger.Debug("poll cycle complete", "seq", rec.Seq, "calls", rec.Calls, "watermark", rec.Watermark)
		}
		return
	}
	if rec.Outcome == model.CycleOK {
		if p.logger != nil {
			p.logger.Warn("feed returned invalid calls, continuing with valid ones", "seq", rec.Seq, "calls", rec.Calls, "error", err)
		}
		return
	}
	kind := "unknown"
	switch {
	case feed.IsNetwork(err):
		kind = "network"
	case feed.IsProtocol(err):
		kind = "protocol"
	}
	if p.logger != nil {
		p.logger.Error("poll failed", "seq", rec.Seq, "kind", kind, "error", err)
	}
	if p.reporter != nil {
		p.reporter.CaptureError(err, map[string]string{"component": "poller", "kind": kind})
	}
}

func (p *Poller) record(rec model.PollCycle) {
	if p.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.journal.SaveCycle(ctx, rec); err != nil && p.logger != nil {
		p.logger.Error("journal poll cycle failed", "seq", rec.Seq, "error", err)
	}
}

// Stop halts the timer and invalidates any in-flight cycle, then returns once
// the loop goroutine has exited. It is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.seq++
	p.state = StateStopped
	cancel := p.cancel
	done := p.loopDone
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if p.logger != nil {
		p.logger.Info("poller stopped")
	}
}

// Wait blocks until in-flight cycles have drained. Call it after Stop.
func (p *Poller) Wait() {
	p.inflight.Wait()
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{State: p.state, Interval: p.interval, Seq: p.seq, Stats: p.stats}
}
