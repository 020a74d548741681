// Package insqlite implements the rop.Connection contract on an embedded
// SQLite database via database/sql and the modernc.org driver. It is the
// zero-setup backend: point it at a file or :memory: and go.
package insqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"github.com/sharedcode/rop"
)

// Connection is a single database session. Transactions and savepoints are
// session state, so the pool is pinned to one physical connection; use one
// Connection per goroutine.
type Connection struct {
	db *sql.DB
	tx *sql.Tx
	// savepoints tracks the names established on the active transaction so
	// misuse is answered with SavepointFailure instead of a driver error.
	savepoints []string
}

var _ rop.Connection = (*Connection)(nil)

// NewConnection opens the SQLite database the options point at and verifies
// connectivity. With RetryOnOpen the verification retries transient failures
// with backoff.
func NewConnection(ctx context.Context, options rop.DatabaseOptions) (*Connection, error) {
	dsn := options.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// SQLite gets exactly one session regardless of pool settings, keeping
	// transaction and savepoint state coherent and :memory: databases stable.
	db.SetMaxOpenConns(1)
	ping := func(ctx context.Context) error {
		err := db.PingContext(ctx)
		if err != nil && options.RetryOnOpen && rop.ShouldRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	}
	if err := rop.Retry(ctx, ping, nil); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	return &Connection{db: db}, nil
}

// Execute runs a statement that returns no rows and reports affected rows.
func (c *Connection) Execute(ctx context.Context, statement string, params ...any) (int64, error) {
	res, err := c.exec(ctx, statement, params...)
	if err != nil {
		return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	return n, nil
}

// Insert runs an INSERT. When idColumn is set the store generated key is read
// back via the driver's last insert id.
func (c *Connection) Insert(ctx context.Context, statement string, idColumn string, params ...any) (int64, error) {
	res, err := c.exec(ctx, statement, params...)
	if err != nil {
		return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	if idColumn == "" {
		return 0, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	return id, nil
}

// QueryRow runs a query expected to match at most one row. Values come back
// as the driver scans them: TEXT as string, INTEGER as int64, BLOB as []byte.
func (c *Connection) QueryRow(ctx context.Context, statement string, params ...any) ([]any, bool, error) {
	rows, err := c.query(ctx, statement, params...)
	if err != nil {
		return nil, false, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
		}
		return nil, false, nil
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, false, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, false, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	return values, true, nil
}

// BeginTransaction opens the physical transaction.
func (c *Connection) BeginTransaction(ctx context.Context) error {
	if c.tx != nil {
		return rop.Error{Code: rop.TransactionState, Err: fmt.Errorf("transaction already active")}
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return rop.Error{Code: rop.ConnectionFailure, Err: err}
	}
	c.tx = tx
	return nil
}

// Commit commits the physical transaction.
func (c *Connection) Commit(ctx context.Context) error {
	if c.tx == nil {
		return rop.Error{Code: rop.TransactionState, Err: fmt.Errorf("no active transaction")}
	}
	err := c.tx.Commit()
	c.tx = nil
	c.savepoints = nil
	if err != nil {
		return rop.Error{Code: rop.ConnectionFailure, Err: err}
	}
	return nil
}

// Rollback rolls back the physical transaction.
func (c *Connection) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return rop.Error{Code: rop.TransactionState, Err: fmt.Errorf("no active transaction")}
	}
	err := c.tx.Rollback()
	c.tx = nil
	c.savepoints = nil
	if err != nil {
		return rop.Error{Code: rop.ConnectionFailure, Err: err}
	}
	return nil
}

// InTransaction reports whether a physical transaction is active.
func (c *Connection) InTransaction() bool {
	return c.tx != nil
}

// CreateSavepoint establishes a named savepoint on the active transaction.
func (c *Connection) CreateSavepoint(ctx context.Context, name string) error {
	if err := c.requireSavepointable(name); err != nil {
		return err
	}
	if _, err := c.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return rop.Error{Code: rop.SavepointFailure, Err: err, UserData: name}
	}
	c.savepoints = append(c.savepoints, name)
	return nil
}

// RollbackToSavepoint undoes every write made after the named savepoint.
func (c *Connection) RollbackToSavepoint(ctx context.Context, name string) error {
	if err := c.requireKnownSavepoint(name); err != nil {
		return err
	}
	if _, err := c.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return rop.Error{Code: rop.SavepointFailure, Err: err, UserData: name}
	}
	c.truncateSavepoints(name, true)
	return nil
}

// ReleaseSavepoint discards the named savepoint, keeping its writes.
func (c *Connection) ReleaseSavepoint(ctx context.Context, name string) error {
	if err := c.requireKnownSavepoint(name); err != nil {
		return err
	}
	if _, err := c.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return rop.Error{Code: rop.SavepointFailure, Err: err, UserData: name}
	}
	c.truncateSavepoints(name, false)
	return nil
}

// Close releases the database handle.
func (c *Connection) Close() error {
	return c.db.Close()
}

func (c *Connection) exec(ctx context.Context, statement string, params ...any) (sql.Result, error) {
	if c.tx != nil {
		return c.tx.ExecContext(ctx, statement, params...)
	}
	return c.db.ExecContext(ctx, statement, params...)
}

func (c *Connection) query(ctx context.Context, statement string, params ...any) (*sql.Rows, error) {
	if c.tx != nil {
		return c.tx.QueryContext(ctx, statement, params...)
	}
	return c.db.QueryContext(ctx, statement, params...)
}

func (c *Connection) requireSavepointable(name string) error {
	if c.tx == nil {
		return rop.Error{Code: rop.SavepointFailure, Err: fmt.Errorf("savepoint %s requested without an active transaction", name), UserData: name}
	}
	if !validSavepointName(name) {
		return rop.Error{Code: rop.SavepointFailure, Err: fmt.Errorf("invalid savepoint name %q", name), UserData: name}
	}
	return nil
}

func (c *Connection) requireKnownSavepoint(name string) error {
	if c.tx == nil {
		return rop.Error{Code: rop.SavepointFailure, Err: fmt.Errorf("savepoint %s referenced without an active transaction", name), UserData: name}
	}
	for _, s := range c.savepoints {
		if s == name {
			return nil
		}
	}
	return rop.Error{Code: rop.SavepointFailure, Err: fmt.Errorf("unknown savepoint %s", name), UserData: name}
}

// truncateSavepoints drops bookkeeping for savepoints the database just
// destroyed: everything after name, and name itself unless it survives.
func (c *Connection) truncateSavepoints(name string, keepTarget bool) {
	for i, s := range c.savepoints {
		if s != name {
			continue
		}
		if keepTarget {
			c.savepoints = c.savepoints[:i+1]
		} else {
			c.savepoints = c.savepoints[:i]
		}
		return
	}
}

// validSavepointName accepts identifiers only, so savepoint names can be
// embedded in the statement text without quoting.
func validSavepointName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
