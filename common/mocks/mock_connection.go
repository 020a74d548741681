// Package mocks carries hand rolled test doubles for the engine's
// collaborators.
package mocks

import (
	"context"
	"fmt"

	"github.com/sharedcode/rop"
)

// Statement is one journaled operation: the SQL text, or a marker for
// transaction and savepoint control, plus the bound parameters.
type Statement struct {
	SQL    string
	Params []any
}

// MockConnection is an in-memory rop.Connection that journals every operation
// in execution order, so tests assert exactly what the engine issued and
// when. It enforces the same state rules and error codes as the real
// backends: transaction misuse fails with TransactionState, savepoint misuse
// with SavepointFailure.
type MockConnection struct {
	// Journal records statements and control operations in order.
	Journal []Statement
	// NextInsertID seeds the auto-increment counter served to Insert calls
	// that request a generated key.
	NextInsertID int64
	// RowsAffected is what Execute reports. Defaults to 1.
	RowsAffected int64
	// QueryRowFunc serves QueryRow when set; the default answers not found.
	QueryRowFunc func(statement string, params []any) ([]any, bool, error)
	// FailOn, when set, is consulted before running any statement; a non-nil
	// result is returned as the statement's failure.
	FailOn func(statement string) error

	inTransaction bool
	savepoints    []string
}

var _ rop.Connection = (*MockConnection)(nil)

// NewMockConnection returns a journaling connection outside a transaction.
func NewMockConnection() *MockConnection {
	return &MockConnection{
		NextInsertID: 0,
		RowsAffected: 1,
	}
}

// SQLJournal returns just the SQL texts of the journal, for order assertions.
func (c *MockConnection) SQLJournal() []string {
	out := make([]string, len(c.Journal))
	for i, s := range c.Journal {
		out[i] = s.SQL
	}
	return out
}

func (c *MockConnection) log(statement string, params []any) {
	c.Journal = append(c.Journal, Statement{SQL: statement, Params: params})
}

func (c *MockConnection) induced(statement string) error {
	if c.FailOn == nil {
		return nil
	}
	return c.FailOn(statement)
}

func (c *MockConnection) Execute(ctx context.Context, statement string, params ...any) (int64, error) {
	if err := c.induced(statement); err != nil {
		return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	c.log(statement, params)
	return c.RowsAffected, nil
}

func (c *MockConnection) Insert(ctx context.Context, statement string, idColumn string, params ...any) (int64, error) {
	if err := c.induced(statement); err != nil {
		return 0, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	c.log(statement, params)
	if idColumn == "" {
		return 0, nil
	}
	c.NextInsertID++
	return c.NextInsertID, nil
}

func (c *MockConnection) QueryRow(ctx context.Context, statement string, params ...any) ([]any, bool, error) {
	if err := c.induced(statement); err != nil {
		return nil, false, rop.Error{Code: rop.ConnectionFailure, Err: err, UserData: statement}
	}
	c.log(statement, params)
	if c.QueryRowFunc == nil {
		return nil, false, nil
	}
	return c.QueryRowFunc(statement, params)
}

func (c *MockConnection) BeginTransaction(ctx context.Context) error {
	if c.inTransaction {
		return rop.Error{Code: rop.TransactionState, Err: fmt.Errorf("transaction already active")}
	}
	c.inTransaction = true
	c.log("BEGIN", nil)
	return nil
}

func (c *MockConnection) Commit(ctx context.Context) error {
	if !c.inTransaction {
		return rop.Error{Code: rop.TransactionState, Err: fmt.Errorf("no active transaction")}
	}
	c.inTransaction = false
	c.savepoints = nil
	c.log("COMMIT", nil)
	return nil
}

func (c *MockConnection) Rollback(ctx context.Context) error {
	if !c.inTransaction {
		return rop.Error{Code: rop.TransactionState, Err: fmt.Errorf("no active transaction")}
	}
	c.inTransaction = false
	c.savepoints = nil
	c.log("ROLLBACK", nil)
	return nil
}

func (c *MockConnection) InTransaction() bool {
	return c.inTransaction
}

func (c *MockConnection) CreateSavepoint(ctx context.Context, name string) error {
	if !c.inTransaction {
		return rop.Error{Code: rop.SavepointFailure, Err: fmt.Errorf("savepoint %s requested without an active transaction", name), UserData: name}
	}
	c.savepoints = append(c.savepoints, name)
	c.log("SAVEPOINT "+name, nil)
	return nil
}

func (c *MockConnection) RollbackToSavepoint(ctx context.Context, name string) error {
	i, ok := c.findSavepoint(name)
	if !ok {
		return rop.Error{Code: rop.SavepointFailure, Err: fmt.Errorf("unknown savepoint %s", name), UserData: name}
	}
	// Savepoints established after the target are destroyed, the target survives.
	c.savepoints = c.savepoints[:i+1]
	c.log("ROLLBACK TO SAVEPOINT "+name, nil)
	return nil
}

func (c *MockConnection) ReleaseSavepoint(ctx context.Context, name string) error {
	i, ok := c.findSavepoint(name)
	if !ok {
		return rop.Error{Code: rop.SavepointFailure, Err: fmt.Errorf("unknown savepoint %s", name), UserData: name}
	}
	// Releasing a savepoint also releases everything established after it.
	c.savepoints = c.savepoints[:i]
	c.log("RELEASE SAVEPOINT "+name, nil)
	return nil
}

func (c *MockConnection) findSavepoint(name string) (int, bool) {
	for i, s := range c.savepoints {
		if s == name {
			return i, true
		}
	}
	return 0, false
}

func (c *MockConnection) Close() error {
	return nil
}
