package rop

import "context"

// Connection is the database access contract the engine runs on. Backends in
// the insqlite and inpg packages implement it over database/sql; tests use the
// journaling mock in common/mocks.
//
// A Connection is bound to one session: transaction and savepoint state live
// on the connection, and the engine issues all statements of one entity
// manager through the same Connection. Implementations classify their
// failures with the shared error codes: statement and query errors carry
// ConnectionFailure, transaction control misuse carries TransactionState, and
// savepoint problems carry SavepointFailure.
type Connection interface {
	// Execute runs a statement that returns no rows, e.g. UPDATE or DELETE,
	// and reports the number of affected rows.
	Execute(ctx context.Context, statement string, params ...any) (int64, error)
	// Insert runs an INSERT statement. When idColumn is not empty the
	// store generated key for that column is returned; otherwise the returned
	// id is zero and only the error is meaningful.
	Insert(ctx context.Context, statement string, idColumn string, params ...any) (int64, error)
	// QueryRow runs a query expected to match at most one row. It returns the
	// column values in select order and found=false when no row matched.
	QueryRow(ctx context.Context, statement string, params ...any) ([]any, bool, error)

	// BeginTransaction opens the physical transaction. Beginning while one is
	// already active fails with TransactionState.
	BeginTransaction(ctx context.Context) error
	// Commit commits the physical transaction.
	Commit(ctx context.Context) error
	// Rollback rolls back the physical transaction.
	Rollback(ctx context.Context) error
	// InTransaction reports whether a physical transaction is active.
	InTransaction() bool

	// CreateSavepoint establishes a named savepoint inside the active
	// transaction.
	CreateSavepoint(ctx context.Context, name string) error
	// RollbackToSavepoint undoes every write made after the named savepoint
	// was established. The savepoint itself survives.
	RollbackToSavepoint(ctx context.Context, name string) error
	// ReleaseSavepoint discards the named savepoint, keeping its writes.
	ReleaseSavepoint(ctx context.Context, name string) error

	// Close releases the underlying database resources.
	Close() error
}
