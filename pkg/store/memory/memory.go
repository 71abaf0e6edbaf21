// Package memory is an in-process author store used for dry runs and tests.
// Its sessions follow the same transaction rules as the SQL backends and can
// inject failures at a chosen batch.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wilhg/bookstore/pkg/store"
)

// ErrInjected is returned by operations failed on purpose via FailFlushAt or FailCommitAt.
var ErrInjected = errors.New("memory: injected failure")

// Store keeps committed authors by ID.
type Store struct {
	mu   sync.RWMutex
	rows map[string]store.Author
}

// New creates an empty store.
func New() *Store {
	return &Store{rows: make(map[string]store.Author)}
}

// Close is a no-op; it exists so the store satisfies the same lifecycle as the SQL stores.
func (s *Store) Close() error { return nil }

// CountAuthors returns the number of committed authors.
func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

// ListAuthors returns committed authors ordered by ID. limit <= 0 returns all.
func (s *Store) ListAuthors(ctx context.Context, limit int) ([]store.Author, error) {
	s.mu.RLock()
	out := make([]store.Author, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// commit applies writes atomically, rejecting the whole set on any conflict.
func (s *Store) commit(writes []store.Author) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range writes {
		if _, ok := s.rows[a.ID]; ok {
			return fmt.Errorf("memory: duplicate key %q", a.ID)
		}
	}
	for _, a := range writes {
		s.rows[a.ID] = a
	}
	return nil
}

func (s *Store) exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[id]
	return ok
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// FailFlushAt makes Flush fail inside the k-th transaction (1-based).
func FailFlushAt(k int) SessionOption { return func(s *Session) { s.failFlushAt = k } }

// FailCommitAt makes Commit fail inside the k-th transaction (1-based).
func FailCommitAt(k int) SessionOption { return func(s *Session) { s.failCommitAt = k } }

// Stats counts the operations a session performed.
type Stats struct {
	Transactions int
	Flushes      int
	Commits      int
	Rollbacks    int
	// HighWater is the largest persistence context observed.
	HighWater int
	// BatchSizes lists the number of records in each committed transaction.
	BatchSizes []int
}

// Session is a persistence context over a Store.
type Session struct {
	st *Store

	open    bool
	pending []store.Author
	tx      []store.Author
	tracked map[string]struct{}

	failFlushAt  int
	failCommitAt int
	stats        Stats
}

// NewSession opens a session on the store.
func (s *Store) NewSession(opts ...SessionOption) *Session {
	sess := &Session{st: s, tracked: make(map[string]struct{})}
	for _, o := range opts {
		o(sess)
	}
	return sess
}

// Stage tracks a and opens a transaction if none is open.
func (s *Session) Stage(ctx context.Context, a store.Author) error {
	if a.ID == "" {
		return store.ErrMissingID
	}
	if _, ok := s.tracked[a.ID]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateID, a.ID)
	}
	if !s.open {
		s.open = true
		s.stats.Transactions++
	}
	s.pending = append(s.pending, a)
	s.tracked[a.ID] = struct{}{}
	if n := len(s.tracked); n > s.stats.HighWater {
		s.stats.HighWater = n
	}
	return nil
}

// Flush moves staged authors into the open transaction.
func (s *Session) Flush(ctx context.Context) error {
	if !s.open {
		return store.ErrNoTransaction
	}
	if s.stats.Transactions == s.failFlushAt {
		return fmt.Errorf("flush: %w", ErrInjected)
	}
	for _, a := range s.pending {
		if s.st.exists(a.ID) {
			return fmt.Errorf("memory: duplicate key %q", a.ID)
		}
	}
	s.tx = append(s.tx, s.pending...)
	s.pending = nil
	s.stats.Flushes++
	return nil
}

// Clear drops every tracked author, flushed or not.
func (s *Session) Clear() {
	s.pending = nil
	clear(s.tracked)
}

// Commit makes the flushed authors durable.
func (s *Session) Commit(ctx context.Context) error {
	if !s.open {
		return store.ErrNoTransaction
	}
	if s.stats.Transactions == s.failCommitAt {
		return fmt.Errorf("commit: %w", ErrInjected)
	}
	if err := s.st.commit(s.tx); err != nil {
		return err
	}
	s.stats.Commits++
	s.stats.BatchSizes = append(s.stats.BatchSizes, len(s.tx))
	s.tx = nil
	s.open = false
	return nil
}

// Rollback discards the open transaction.
func (s *Session) Rollback(ctx context.Context) error {
	if !s.open {
		return nil
	}
	s.tx = nil
	s.pending = nil
	clear(s.tracked)
	s.open = false
	s.stats.Rollbacks++
	return nil
}

// Tracked reports the size of the persistence context.
func (s *Session) Tracked() int { return len(s.tracked) }

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	st := s.stats
	st.BatchSizes = append([]int(nil), s.stats.BatchSizes...)
	return st
}
