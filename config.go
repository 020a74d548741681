package rop

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Driver identifies a supported database backend.
type Driver string

const (
	// DriverSQLite runs on an embedded SQLite database. It is appropriate for
	// standalone or embedded applications running in a single process.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres runs on a PostgreSQL server.
	DriverPostgres Driver = "postgres"
)

// DatabaseOptions holds the configuration for opening a database connection.
type DatabaseOptions struct {
	// Driver selects the backend (sqlite or postgres).
	Driver Driver `json:"driver" yaml:"driver"`
	// DSN is the driver specific connection string. For SQLite it is the
	// database file path or :memory:.
	DSN string `json:"dsn" yaml:"dsn"`
	// MaxOpenConnections caps the connection pool. SQLite backends pin this
	// to one connection regardless, to keep savepoints on a single session.
	MaxOpenConnections int `json:"max_open_connections,omitempty" yaml:"max_open_connections,omitempty"`
	// RetryOnOpen retries the initial connectivity check with backoff before
	// giving up. Useful when the database starts alongside the application.
	RetryOnOpen bool `json:"retry_on_open,omitempty" yaml:"retry_on_open,omitempty"`
}

// IsEmpty returns true if the options carry no usable target.
func (o DatabaseOptions) IsEmpty() bool {
	return o.Driver == "" && o.DSN == ""
}

func (o *DatabaseOptions) applyDefaults() {
	if o.Driver == "" {
		o.Driver = DriverSQLite
	}
	if o.DSN == "" && o.Driver == DriverSQLite {
		o.DSN = ":memory:"
	}
}

// LoadDatabaseOptions reads options from a YAML file and applies defaults.
func LoadDatabaseOptions(path string) (DatabaseOptions, error) {
	var o DatabaseOptions
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parse config: %w", err)
	}
	o.applyDefaults()
	return o, nil
}

// DatabaseOptionsFromEnvironment builds options from the ROP_DB_DRIVER and
// ROP_DB_DSN environment variables, falling back to an in-memory SQLite
// database when neither is set.
func DatabaseOptionsFromEnvironment() DatabaseOptions {
	o := DatabaseOptions{
		Driver: Driver(os.Getenv("ROP_DB_DRIVER")),
		DSN:    os.Getenv("ROP_DB_DSN"),
	}
	o.applyDefaults()
	return o
}
