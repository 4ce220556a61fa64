// Package store holds the canonical in-memory device table plus the small
// auxiliary flags around it. It is the single source of truth: the state
// synchronizer and the command client both write here, and every write is
// a whole-table swap computed outside the readers' view.
package store

import (
	"sync"

	"github.com/cuesync/cuesyncd/internal/model"
)

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	table   []model.Board
	index   map[string]int
	loaded  bool
	lastErr string
	playing string // currently playing program id, "" when stopped
}

func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Replace swaps in a new table atomically.
func (s *Store) Replace(table []model.Board) {
	idx := make(map[string]int, len(table))
	for i, b := range table {
		idx[b.ID] = i
	}

	s.mu.Lock()
	s.table = table
	s.index = idx
	s.mu.Unlock()
}

// Apply computes a new table from the current one under the write lock and
// swaps it in. fn must treat its argument as read-only and return a fresh
// slice; readers never observe a half-applied mutation.
func (s *Store) Apply(fn func(table []model.Board) []model.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.table)
	idx := make(map[string]int, len(next))
	for i, b := range next {
		idx[b.ID] = i
	}
	s.table = next
	s.index = idx
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (model.Board, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return model.Board{}, false
	}
	return s.table[i], true
}

// Snapshot returns a copy of the whole table.
func (s *Store) Snapshot() []model.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Board, len(s.table))
	copy(out, s.table)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}

func (s *Store) SetLoaded(v bool) {
	s.mu.Lock()
	s.loaded = v
	s.mu.Unlock()
}

func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *Store) SetLastError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// SetPlaying records the currently playing program id ("" = stopped).
func (s *Store) SetPlaying(programID string) {
	s.mu.Lock()
	s.playing = programID
	s.mu.Unlock()
}

func (s *Store) Playing() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}
