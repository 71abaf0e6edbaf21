package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/wilhg/bookstore/pkg/store"
)

// DefaultStatementRows is the number of rows packed into one INSERT statement.
const DefaultStatementRows = 100

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithStatementRows sets how many rows a single INSERT carries. Values <= 0 keep the default.
func WithStatementRows(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.rows = n
		}
	}
}

// SessionStats counts the work a session sent to the database.
type SessionStats struct {
	Transactions int
	Statements   int
	Commits      int
	Rollbacks    int
}

// Session is a persistence context writing authors through one transaction
// per batch. It is not safe for concurrent use.
type Session struct {
	drv     *entsql.Driver
	dialect string
	rows    int

	tx      dialect.Tx
	pending []store.Author
	tracked map[string]struct{}
	stats   SessionStats
}

// NewSession opens a session on the store. No transaction is started until
// the first author is staged.
func (s *Store) NewSession(opts ...SessionOption) *Session {
	sess := &Session{
		drv:     s.drv,
		dialect: s.dialect,
		rows:    DefaultStatementRows,
		tracked: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(sess)
	}
	return sess
}

// Stage tracks a for insertion, beginning a transaction if none is open.
func (s *Session) Stage(ctx context.Context, a store.Author) error {
	if a.ID == "" {
		return store.ErrMissingID
	}
	if _, ok := s.tracked[a.ID]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateID, a.ID)
	}
	if s.tx == nil {
		tx, err := s.drv.Tx(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		s.tx = tx
		s.stats.Transactions++
	}
	s.pending = append(s.pending, a)
	s.tracked[a.ID] = struct{}{}
	return nil
}

// Flush sends the staged authors as multi-row INSERT statements inside the
// open transaction.
func (s *Session) Flush(ctx context.Context) error {
	if s.tx == nil {
		return store.ErrNoTransaction
	}
	for chunk := range slices.Chunk(s.pending, s.rows) {
		ins := entsql.Dialect(s.dialect).
			Insert(store.TableName).
			Columns(store.Columns()...)
		for _, a := range chunk {
			ins.Values(a.Values()...)
		}
		query, args := ins.Query()
		if err := s.tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("insert authors: %w", err)
		}
		s.stats.Statements++
	}
	s.pending = s.pending[:0]
	return nil
}

// Clear releases every tracked author. Authors staged but not flushed are dropped.
func (s *Session) Clear() {
	s.pending = nil
	clear(s.tracked)
}

// Commit commits the open transaction.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return store.ErrNoTransaction
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.tx = nil
	s.stats.Commits++
	return nil
}

// Rollback rolls back the open transaction, if any.
func (s *Session) Rollback(ctx context.Context) error {
	s.Clear()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	s.stats.Rollbacks++
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Tracked reports the size of the persistence context.
func (s *Session) Tracked() int { return len(s.tracked) }

// Stats returns the session counters.
func (s *Session) Stats() SessionStats { return s.stats }
