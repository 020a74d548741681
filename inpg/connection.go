// Package inpg implements the rop.Connection contract on PostgreSQL via
// database/sql and the pgx stdlib driver. Statements arrive with `?`
// placeholders and are rebound to PostgreSQL's $1..$n form; store generated
// keys are read back with INSERT .. RETURNING since the driver does not
// support last insert id.
package inpg

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/rop"
)

// Connection is a single database session. Use one Connection per goroutine;
// transactions and savepoints are session state.
type Connection struct {
	db         *sql.DB
	tx         *sql.Tx
	savepoints []string
}

var _ rop.Connection = (*Connection)(nil)

// NewConnection opens the PostgreSQL database the options point at and
// verifies connectivity. With RetryOnOpen the verification retries transient
// failures with backoff, which covers databases still starting up.
func NewConnection(ctx context.Context, options rop.DatabaseOptions) (*Connection, error) {
	if options.DSN == "" {
		return nil, fmt.Errorf("open postgres: DSN is required")
	}
	db, err := sql.Open("pgx", options.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if options.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(options.MaxOpenConnections)
	}
	ping := func(ctx context.Context) error {
		err := db.PingContext(ctx)
		if err != nil && options.RetryOnOpen && rop.ShouldRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	}
	if err := rop.Retry(ctx, ping, nil); err != nil {
		db.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Connection{db: db}, nil
}

// Execute runs a statement that returns no rows and reports affected rows.
func (c *Connection) Execute(ctx context.Context, statement string, params ...any) (int64, error) {
	res, err := c.exec(ctx, Rebind(statement), params...)
	if err != nil {
		return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	return n, nil
}

// Insert runs an INSERT. When idColumn is set the statement gains a RETURNING
// clause and the generated key is scanned back.
func (c *Connection) Insert(ctx context.Context, statement string, idColumn string, params ...any) (int64, error) {
	if idColumn == "" {
		_, err := c.exec(ctx, Rebind(statement), params...)
		if err != nil {
			return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
		}
		return 0, nil
	}
	returning := Rebind(statement) + " RETURNING " + idColumn
	var id int64
	if err := c.queryRow(ctx, returning, params...).Scan(&id); err != nil {
		return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	return id, nil
}

// QueryRow runs a query expected to match at most one row. Values come back
// as the driver scans them: text as string, integers as int64, bytea as []byte.
func (c *Connection) QueryRow(ctx context.Context, statement string, params ...any) ([]any, bool, error) {
	rows, err := c.query(ctx, Rebind(statement), params...)
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
	if c.tx == nil {
		return rop.Error{Code: rop.SavepointFailure, Err: fmt.Errorf("savepoint %s requested without an active transaction", name), UserData: name}
	}
	if !validSavepointName(name) {
		return rop.Error{Code: rop.SavepointFailure, Err: fmt.Errorf("invalid savepoint name %q", name), UserData: name}
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

func (c *Connection) queryRow(ctx context.Context, statement string, params ...any) *sql.Row {
	if c.tx != nil {
		return c.tx.QueryRowContext(ctx, statement, params...)
	}
	return c.db.QueryRowContext(ctx, statement, params...)
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

// Rebind converts `?` placeholders to PostgreSQL's positional $1..$n form.
// Question marks inside single quoted literals are left alone.
func Rebind(statement string) string {
	if !strings.ContainsRune(statement, '?') {
		return statement
	}
	var b strings.Builder
	b.Grow(len(statement) + 8)
	n := 0
	inLiteral := false
	for _, r := range statement {
		switch {
		case r == '\'':
			inLiteral = !inLiteral
			b.WriteRune(r)
		case r == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
