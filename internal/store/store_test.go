package store

import (
	"sync"
	"testing"

	"github.com/cuesync/cuesyncd/internal/model"
)

func TestReplaceAndGet(t *testing.T) {
	s := New()
	s.Replace([]model.Board{
		model.NewBoard("a", "10.0.0.2"),
		model.NewGroup("g1", []string{"a"}),
	})

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}

	b, ok := s.Get("a")
	if !ok || b.IP != "10.0.0.2" {
		t.Errorf("Get(a) = %+v/%v", b, ok)
	}
	g, ok := s.Get("g1")
	if !ok || !g.IsGroup {
		t.Errorf("Get(g1) = %+v/%v", g, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get of unknown id should report false")
	}
}

func TestApply_SwapsWholeTable(t *testing.T) {
	s := New()
	s.Replace([]model.Board{model.NewBoard("a", "")})

	s.Apply(func(table []model.Board) []model.Board {
		next := make([]model.Board, len(table))
		copy(next, table)
		next[0].Brightness = 7
		return append(next, model.NewBoard("b", ""))
	})

	a, _ := s.Get("a")
	if a.Brightness != 7 {
		t.Errorf("Brightness = %d, want 7", a.Brightness)
	}
	if _, ok := s.Get("b"); !ok {
		t.Error("appended record not indexed")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Replace([]model.Board{model.NewBoard("a", "")})

	snap := s.Snapshot()
	snap[0].Brightness = 99

	a, _ := s.Get("a")
	if a.Brightness == 99 {
		t.Error("mutating a snapshot must not touch the store")
	}
}

func TestAuxFlags(t *testing.T) {
	s := New()

	if s.Loaded() || s.LastError() != "" || s.Playing() != "" {
		t.Error("fresh store should have zero flags")
	}

	s.SetLoaded(true)
	s.SetLastError("gateway down")
	s.SetPlaying("p1")

	if !s.Loaded() || s.LastError() != "gateway down" || s.Playing() != "p1" {
		t.Errorf("flags = %v/%q/%q", s.Loaded(), s.LastError(), s.Playing())
	}

	s.SetPlaying("")
	if s.Playing() != "" {
		t.Error("Playing should clear")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	s.Replace([]model.Board{model.NewBoard("a", "")})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Apply(func(table []model.Board) []model.Board {
					next := make([]model.Board, len(table))
					copy(next, table)
					next[0].Brightness++
					return next
				})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Get("a")
				s.Snapshot()
				s.Len()
			}
		}()
	}
	wg.Wait()
}
