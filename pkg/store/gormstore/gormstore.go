// Package gormstore is a PostgreSQL author store built on GORM. Each batch
// runs in an explicit transaction; GORM's implicit per-write transaction is
// disabled so the session controls every commit.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wilhg/bookstore/pkg/store"
)

// DefaultStatementRows is the number of rows packed into one INSERT statement.
const DefaultStatementRows = 100

// Option allows configuring DB connection.
type Option func(*config)

type config struct {
	Logger        logger.Interface
	StatementRows int
}

// WithLogger sets a custom GORM logger.
func WithLogger(l logger.Interface) Option { return func(c *config) { c.Logger = l } }

// WithStatementRows sets how many rows a single INSERT carries.
func WithStatementRows(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.StatementRows = n
		}
	}
}

// AuthorModel represents the GORM model for authors.
type AuthorModel struct {
	ID    string `gorm:"primaryKey;type:varchar(64)"`
	Name  string `gorm:"type:text;not null"`
	Genre string `gorm:"type:text;not null"`
	Age   int    `gorm:"not null"`
}

func (AuthorModel) TableName() string { return store.TableName }

func toModel(a store.Author) AuthorModel {
	return AuthorModel{ID: a.ID, Name: a.Name, Genre: a.Genre, Age: a.Age}
}

// Store is the GORM author store.
type Store struct {
	db   *gorm.DB
	rows int
}

// Open opens a Postgres-backed GORM DB connection using the provided DSN and
// migrates the authors table.
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg := &config{StatementRows: DefaultStatementRows}
	for _, o := range opts {
		o(cfg)
	}
	gormCfg := &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        cfg.StatementRows,
	}
	if cfg.Logger != nil {
		gormCfg.Logger = cfg.Logger
	}
	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&AuthorModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db, rows: cfg.StatementRows}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CountAuthors returns the number of committed authors.
func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&AuthorModel{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListAuthors returns committed authors ordered by ID. limit <= 0 returns all.
func (s *Store) ListAuthors(ctx context.Context, limit int) ([]store.Author, error) {
	q := s.db.WithContext(ctx).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []AuthorModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.Author, 0, len(models))
	for _, m := range models {
		out = append(out, store.Author{ID: m.ID, Name: m.Name, Genre: m.Genre, Age: m.Age})
	}
	return out, nil
}

// Session is a persistence context over one GORM transaction per batch.
type Session struct {
	db   *gorm.DB
	rows int

	tx      *gorm.DB
	pending []AuthorModel
	tracked map[string]struct{}
}

// NewSession opens a session; the transaction begins with the first Stage.
func (s *Store) NewSession() *Session {
	return &Session{db: s.db, rows: s.rows, tracked: make(map[string]struct{})}
}

// Stage tracks a for insertion.
func (s *Session) Stage(ctx context.Context, a store.Author) error {
	if a.ID == "" {
		return store.ErrMissingID
	}
	if _, ok := s.tracked[a.ID]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateID, a.ID)
	}
	if s.tx == nil {
		tx := s.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("begin tx: %w", tx.Error)
		}
		s.tx = tx
	}
	s.pending = append(s.pending, toModel(a))
	s.tracked[a.ID] = struct{}{}
	return nil
}

// Flush inserts the staged authors in chunks of the configured statement size.
func (s *Session) Flush(ctx context.Context) error {
	if s.tx == nil {
		return store.ErrNoTransaction
	}
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.tx.WithContext(ctx).CreateInBatches(&s.pending, s.rows).Error; err != nil {
		return fmt.Errorf("insert authors: %w", err)
	}
	s.pending = s.pending[:0]
	return nil
}

// Clear releases every tracked author.
func (s *Session) Clear() {
	s.pending = nil
	clear(s.tracked)
}

// Commit commits the open transaction.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return store.ErrNoTransaction
	}
	if err := s.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.tx = nil
	return nil
}

// Rollback rolls back the open transaction, if any.
func (s *Session) Rollback(ctx context.Context) error {
	s.Clear()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback().Error
	s.tx = nil
	if err != nil && !errors.Is(err, gorm.ErrInvalidTransaction) && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Tracked reports the size of the persistence context.
func (s *Session) Tracked() int { return len(s.tracked) }
