// Package engine defines the narrow table-engine contract the gateway
// consumes and provides SQL-backed implementations of it. The gateway never
// assumes more than the five row operations plus the DDL needed by the thin
// table handlers.
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrTableNotFound is returned when a named table does not exist.
var ErrTableNotFound = errors.New("table not found")

// ErrReadOnlyService is returned by every mutating operation on an engine
// whose service was declared read-only.
var ErrReadOnlyService = errors.New("service is read-only")

// Predicate is a conjunction of column = value equality tests. An empty
// predicate matches every row. Query-expression parsing is deliberately not
// part of this contract.
type Predicate map[string]interface{}

// Table describes a table known to the engine.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column describes one column of a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Primary  bool   `json:"primary,omitempty"`
}

// Engine is the external table-engine contract consumed by the gateway.
type Engine interface {
	// LookupTable resolves a table by name, failing with ErrTableNotFound.
	LookupTable(ctx context.Context, name string) (*Table, error)

	// InsertRows appends rows to a table and returns the inserted count.
	InsertRows(ctx context.Context, table string, rows []map[string]interface{}) (int64, error)

	// UpdateRows sets the given columns on rows matching the predicate.
	UpdateRows(ctx context.Context, table string, set map[string]interface{}, where Predicate) (int64, error)

	// DeleteRows removes rows matching the predicate.
	DeleteRows(ctx context.Context, table string, where Predicate) (int64, error)

	// SelectRows returns up to limit rows matching the predicate.
	SelectRows(ctx context.Context, table string, where Predicate, limit int) ([]map[string]interface{}, error)
}

// Admin extends Engine with the DDL surface used by the table handlers.
// Row-level governance only requires Engine; handlers that create or drop
// tables type-assert for Admin.
type Admin interface {
	Engine

	ListTables(ctx context.Context) ([]string, error)
	CreateTable(ctx context.Context, def Table) error
	DropTable(ctx context.Context, name string) error

	Ping(ctx context.Context) error
	Close() error
}

// ConnectionConfig holds the parameters for opening an engine connection.
// ReadOnly makes every write through the engine fail with
// ErrReadOnlyService, regardless of the caller's grants.
type ConnectionConfig struct {
	Driver          string
	DSN             string
	ReadOnly        bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
