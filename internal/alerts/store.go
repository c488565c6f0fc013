package alerts

import (
	"sync"

	"vishwatch/internal/model"
)

// Store holds the active alerts, newest first. An id that has been dismissed or
// evicted is retired and will not be accepted again for the life of the process.
type Store struct {
	mu      sync.RWMutex
	buf     []model.Alert
	retired map[string]struct{}
	limit   int
}

// NewStore returns a store capped at limit active alerts; limit <= 0 means unbounded.
func NewStore(limit int) *Store {
	if limit < 0 {
		limit = 0
	}
	return &Store{retired: make(map[string]struct{}), limit: limit}
}

// Add prepends alert and reports whether it was accepted.
func (s *Store) Add(alert model.Alert) bool {
	if alert.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.retired[alert.ID]; ok {
		return false
	}
	if s.indexOf(alert.ID) >= 0 {
		return false
	}
	s.buf = append(s.buf, model.Alert{})
	copy(s.buf[1:], s.buf)
	s.buf[0] = alert
	if s.limit > 0 && len(s.buf) > s.limit {
		evicted := s.buf[len(s.buf)-1]
		s.retired[evicted.ID] = struct{}{}
		s.buf = s.buf[:len(s.buf)-1]
	}
	return true
}

// Dismiss removes the alert with id. It is a no-op when no such alert is active.
func (s *Store) Dismiss(id string) (model.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.Alert{}, false
	}
	alert := s.buf[i]
	s.buf = append(s.buf[:i], s.buf[i+1:]...)
	s.retired[id] = struct{}{}
	return alert, true
}

func (s *Store) Get(id string) (model.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.buf[i], true
	}
	return model.Alert{}, false
}

// List returns up to limit active alerts, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, limit)
	copy(out, s.buf[:limit])
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

// Clear drops every active alert. Retired ids stay retired.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.buf {
		s.retired[a.ID] = struct{}{}
	}
	s.buf = nil
}

func (s *Store) indexOf(id string) int {
	for i, a := range s.buf {
		if a.ID == id {
			return i
		}
	}
	return -1
}
