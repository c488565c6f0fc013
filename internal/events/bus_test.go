package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vishwatch/internal/metrics"
	"vishwatch/internal/model"
)

type memorySink struct {
	mu     sync.Mutex
	name   string
	err    error
	got    []model.Event
	closed bool
}

func (m *memorySink) Name() string { return m.name }

func (m *memorySink) Deliver(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, ev)
	return m.err
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) events() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Event(nil), m.got...)
}

func raised(id string) model.Event {
	return model.Event{ID: "ev-" + id, Type: model.EventAlertRaised, AlertID: id, Filename: id + ".wav", At: time.Now().UTC()}
}

func TestBusFansOutToSubscribers(t *testing.T) {
	bus := NewBus(nil, nil, 4)
	a, unsubA := bus.Subscribe()
	b, unsubB := bus.Subscribe()
	defer unsubA()
	defer unsubB()

	bus.Publish(raised("x"))
	assert.Equal(t, "x", (<-a).AlertID)
	assert.Equal(t, "x", (<-b).AlertID)
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)
	bus := NewBus(nil, m, 1)
	ch, unsub := bus.Subscribe()
	defer unsub()

	bus.Publish(raised("1"))
	bus.Publish(raised("2"))
	assert.Equal(t, "1", (<-ch).AlertID)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsDropped))
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil, nil, 1)
	ch, unsub := bus.Subscribe()
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(raised("after"))
}

func TestBusDeliversToSinksAndCountsFailures(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)
	bus := NewBus(nil, m, 1)
	good := &memorySink{name: "good"}
	bad := &memorySink{name: "bad", err: errors.New("broker down")}
	bus.AddSink(good)
	bus.AddSink(bad)

	bus.Publish(raised("x"))
	bus.Publish(raised("y"))
	require.NoError(t, bus.Close())

	assert.Len(t, good.events(), 2)
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SinkFailures.WithLabelValues("bad")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SinkFailures.WithLabelValues("good")))
}

func TestBusCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus(nil, nil, 1)
	ch, unsub := bus.Subscribe()
	require.NoError(t, bus.Close())
	_, ok := <-ch
	assert.False(t, ok)
	unsub()
	bus.Publish(raised("ignored"))

	late, _ := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestThrottleCountsHeldEvents(t *testing.T) {
	th := NewThrottle(time.Minute)
	now := time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	ok, held := th.Pass("k")
	assert.True(t, ok)
	assert.Zero(t, held)
	ok, _ = th.Pass("k")
	assert.False(t, ok)
	ok, _ = th.Pass("k")
	assert.False(t, ok)
	ok, _ = th.Pass("other")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, held = th.Pass("k")
	assert.True(t, ok)
	assert.Equal(t, 2, held)
}

func TestThrottleWithoutPeriodPassesEverything(t *testing.T) {
	th := NewThrottle(0)
	for i := 0; i < 3; i++ {
		ok, held := th.Pass("k")
		assert.True(t, ok)
		assert.Zero(t, held)
	}
}
