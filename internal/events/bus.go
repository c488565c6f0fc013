// Package events fans alert lifecycle events out to in-process subscribers
// and external sinks.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vishwatch/internal/metrics"
	"vishwatch/internal/model"
)

// Sink delivers events outside the process. Deliver is called from its own
// goroutine per event.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev model.Event) error
	Close() error
}

const defaultDeliverTimeout = 10 * time.Second

type Bus struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	buffer  int
	timeout time.Duration

	mu     sync.RWMutex
	subs   map[int]chan model.Event
	nextID int
	sinks  []Sink
	closed bool
	wg     sync.WaitGroup
}

func NewBus(logger *slog.Logger, metricsSet *metrics.Metrics, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	if logger != nil {
		logger = logger.With("component", "events")
	}
	return &Bus{
		logger:  logger,
		metrics: metricsSet,
		buffer:  buffer,
		timeout: defaultDeliverTimeout,
		subs:    make(map[int]chan model.Event),
	}
}

// Subscribe returns a buffered channel of events and a function that removes
// the subscription and closes the channel. Events are dropped for a
// subscriber whose buffer is full.
func (b *Bus) Subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Bus) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

func (b *Bus) Publish(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.metrics.EventDropped()
			if b.logger != nil {
				b.logger.Warn("subscriber buffer full, event dropped", "event", ev.Type, "alert_id", ev.AlertID)
			}
		}
	}
	for _, s := range b.sinks {
		b.wg.Add(1)
		go b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s Sink, ev model.Event) {
	defer b.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := s.Deliver(ctx, ev); err != nil {
		b.metrics.SinkFailed(s.Name())
		if b.logger != nil {
			b.logger.Error("event delivery failed", "sink", s.Name(), "event", ev.Type, "alert_id", ev.AlertID, "error", err)
		}
	}
}

// Close waits for pending deliveries, closes the sinks and every subscriber
// channel. Publish after Close is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sinks := b.sinks
	b.mu.Unlock()

	b.wg.Wait()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.mu.Lock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
	return firstErr
}
