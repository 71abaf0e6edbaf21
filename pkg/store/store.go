// Package store defines the persisted author record shared by every backend.
// Backends must honour the same staging rules so a run behaves identically
// against PostgreSQL, SQLite, gorm or the in-memory store.
package store

import "errors"

// Author is the persisted representation of an author. The ID is assigned by
// the caller before staging; no backend generates identities.
type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Genre string `json:"genre"`
	Age   int    `json:"age"`
}

// TableName is the table every SQL backend writes authors to.
const TableName = "authors"

var (
	// ErrMissingID is returned when staging an author without an identity.
	ErrMissingID = errors.New("store: author id is empty")
	// ErrDuplicateID is returned when an identity is already tracked by the session.
	ErrDuplicateID = errors.New("store: author id already tracked")
	// ErrNoTransaction is returned by Flush or Commit when nothing was staged.
	ErrNoTransaction = errors.New("store: no open transaction")
)

// Columns returns the insert column order used by the SQL backends.
func Columns() []string { return []string{"id", "name", "genre", "age"} }

// Values returns the author's values in Columns order.
func (a Author) Values() []any { return []any{a.ID, a.Name, a.Genre, a.Age} }
