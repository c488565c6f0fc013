package alerts

import (
	"sync"
	"testing"
	"time"

	"vishwatch/internal/model"
)

func alert(id string) model.Alert {
	return model.Alert{ID: id, Filename: id + ".wav", Status: model.StatusScam, RaisedAt: time.Now().UTC()}
}

func listIDs(s *Store) []string {
	out := []string{}
	for _, a := range s.List(0) {
		out = append(out, a.ID)
	}
	return out
}

func TestAddPrependsNewestFirst(t *testing.T) {
	s := NewStore(0)
	s.Add(alert("a"))
	s.Add(alert("b"))
	s.Add(alert("c"))
	got := listIDs(s)
	if len(got) != 3 || got[0] != "c" || got[2] != "a" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestAddDeduplicatesByID(t *testing.T) {
	s := NewStore(0)
	if !s.Add(alert("a")) {
		t.Fatalf("first add rejected")
	}
	if s.Add(alert("a")) {
		t.Fatalf("duplicate add accepted")
	}
	if s.Len() != 1 {
		t.Fatalf("len: %d", s.Len())
	}
}

func TestAddRejectsEmptyID(t *testing.T) {
	s := NewStore(0)
	if s.Add(model.Alert{}) {
		t.Fatalf("empty id accepted")
	}
}

func TestDismissIsFinal(t *testing.T) {
	s := NewStore(0)
	s.Add(alert("b"))
	got, ok := s.Dismiss("b")
	if !ok || got.ID != "b" {
		t.Fatalf("dismiss failed: %v %v", got, ok)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
	if s.Add(alert("b")) {
		t.Fatalf("dismissed id was re-added")
	}
	if len(listIDs(s)) != 0 {
		t.Fatalf("dismissed id visible again")
	}
}

func TestDismissUnknownIsNoop(t *testing.T) {
	s := NewStore(0)
	s.Add(alert("a"))
	if _, ok := s.Dismiss("zzz"); ok {
		t.Fatalf("dismiss of unknown id reported success")
	}
	if s.Len() != 1 {
		t.Fatalf("unexpected removal")
	}
}

func TestLimitEvictsOldest(t *testing.T) {
	s := NewStore(2)
	s.Add(alert("a"))
	s.Add(alert("b"))
	s.Add(alert("c"))
	got := listIDs(s)
	if len(got) != 2 || got[0] != "c" || got[1] != "b" {
		t.Fatalf("unexpected contents: %v", got)
	}
	if s.Add(alert("a")) {
		t.Fatalf("evicted id was re-added")
	}
}

func TestListLimitAndCopy(t *testing.T) {
	s := NewStore(0)
	s.Add(alert("a"))
	s.Add(alert("b"))
	list := s.List(1)
	if len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("unexpected list: %v", list)
	}
	list[0].ID = "mutated"
	if a, _ := s.Get("b"); a.ID != "b" {
		t.Fatalf("list leaked internal state")
	}
}

func TestClearRetires(t *testing.T) {
	s := NewStore(0)
	s.Add(alert("a"))
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("clear left alerts")
	}
	if s.Add(alert("a")) {
		t.Fatalf("cleared id was re-added")
	}
}

func TestConcurrentAddDismiss(t *testing.T) {
	s := NewStore(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := string(rune('A' + i%26))
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Add(alert(id))
		}()
		go func() {
			defer wg.Done()
			s.Dismiss(id)
			_ = s.List(0)
		}()
	}
	wg.Wait()
	seen := map[string]bool{}
	for _, id := range listIDs(s) {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
