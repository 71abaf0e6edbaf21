package batch

import "context"

// Session is the persistence context a run writes through. It tracks staged
// records, sends them to the backing store on Flush and makes them durable on
// Commit. A session belongs to a single run and is not safe for concurrent use.
type Session[T any] interface {
	// Stage registers an insert intent. The first Stage after a Commit or
	// Rollback opens a new transaction.
	Stage(ctx context.Context, rec T) error
	// Flush sends every staged write to the store inside the open transaction
	// without committing it.
	Flush(ctx context.Context) error
	// Clear releases every tracked record.
	Clear()
	// Commit makes the flushed writes durable and closes the transaction.
	Commit(ctx context.Context) error
	// Rollback discards the open transaction only. It is a no-op when none is open.
	Rollback(ctx context.Context) error
	// Tracked reports how many records the persistence context holds.
	Tracked() int
}
