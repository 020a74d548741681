// Package database is the convenience entry point: it opens the configured
// backend and hands back ready to use connections and entity managers,
// sparing applications the per-backend constructors.
package database

import (
	"context"
	"fmt"

	"github.com/sharedcode/rop"
	"github.com/sharedcode/rop/common"
	"github.com/sharedcode/rop/inpg"
	"github.com/sharedcode/rop/insqlite"
)

// Open connects to the database the options select. Supported drivers are
// sqlite and postgres; empty options default to an in-memory SQLite database.
func Open(ctx context.Context, options rop.DatabaseOptions) (rop.Connection, error) {
	if options.IsEmpty() {
		options = rop.DatabaseOptionsFromEnvironment()
	}
	switch options.Driver {
	case rop.DriverSQLite, "":
		return insqlite.NewConnection(ctx, options)
	case rop.DriverPostgres:
		return inpg.NewConnection(ctx, options)
	}
	return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
}

// NewEntityManager opens a connection per the options and wraps it in an
// entity manager over the given metadata. The caller closes the returned
// connection when done; the manager does not own it.
func NewEntityManager(ctx context.Context, options rop.DatabaseOptions, provider rop.MetadataProvider) (*common.EntityManager, rop.Connection, error) {
	conn, err := Open(ctx, options)
	if err != nil {
		return nil, nil, err
	}
	return common.NewEntityManager(conn, provider), conn, nil
}
