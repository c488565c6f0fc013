package events

import (
	"sync"
	"time"
)

// Throttle lets one event per key through each cooldown period and counts
// what it holds back, so the next event to pass can mention them.
type Throttle struct {
	period time.Duration
	now    func() time.Time

	mu     sync.Mutex
	passed map[string]time.Time
	held   map[string]int
}

func NewThrottle(period time.Duration) *Throttle {
	return &Throttle{
		period: period,
		now:    time.Now,
		passed: make(map[string]time.Time),
		held:   make(map[string]int),
	}
}

// Pass reports whether an event for key may go out now. When it may, held is
// the number of events for key suppressed since the previous one passed.
func (t *Throttle) Pass(key string) (ok bool, held int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, seen := t.passed[key]; seen && t.period > 0 && now.Sub(last) < t.period {
		t.held[key]++
		return false, 0
	}
	t.passed[key] = now
	held = t.held[key]
	delete(t.held, key)
	return true, held
}
