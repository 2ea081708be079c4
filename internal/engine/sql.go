package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	// Database drivers registered for the supported dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
	_ "github.com/snowflakedb/gosnowflake"
	_ "modernc.org/sqlite"
)

// SQLEngine implements the table-engine contract over any of the supported
// SQL drivers through sqlx.
type SQLEngine struct {
	db       *sqlx.DB
	dialect  dialect
	driver   string
	readOnly bool
}

// Open connects an engine for the given driver and DSN.
func Open(cfg ConnectionConfig) (*SQLEngine, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q (available: %s)",
			cfg.Driver, strings.Join(SupportedDrivers(), ", "))
	}

	db, err := sqlx.Connect(d.driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.Driver == "sqlite" {
		// SQLite does not support concurrent writers.
		db.SetMaxOpenConns(1)
	}

	return &SQLEngine{db: db, dialect: d, driver: cfg.Driver, readOnly: cfg.ReadOnly}, nil
}

// Driver returns the engine's driver identifier.
func (e *SQLEngine) Driver() string { return e.driver }

// ReadOnly reports whether the service was declared read-only.
func (e *SQLEngine) ReadOnly() bool { return e.readOnly }

// DB exposes the underlying pool. Useful for tests and migrations.
func (e *SQLEngine) DB() *sqlx.DB { return e.db }

// Ping verifies the connection is alive.
func (e *SQLEngine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (e *SQLEngine) Close() error {
	return e.db.Close()
}

// LookupTable resolves a table and its columns, failing with
// ErrTableNotFound when the table does not exist.
func (e *SQLEngine) LookupTable(ctx context.Context, name string) (*Table, error) {
	// The cheapest portable existence-plus-shape probe: select zero rows
	// and read the result's column metadata.
	q := fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", e.dialect.quote(name))
	rows, err := e.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, ErrTableNotFound
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types for %s: %w", name, err)
	}

	t := &Table{Name: name}
	for _, ct := range types {
		nullable, _ := ct.Nullable()
		t.Columns = append(t.Columns, Column{
			Name:     ct.Name(),
			Type:     ct.DatabaseTypeName(),
			Nullable: nullable,
		})
	}
	return t, nil
}

// InsertRows appends rows, returning the number inserted. Column order is
// taken from the first row, sorted for determinism; every row must supply
// the same columns.
func (e *SQLEngine) InsertRows(ctx context.Context, table string, rows []map[string]interface{}) (int64, error) {
	if e.readOnly {
		return 0, ErrReadOnlyService
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if _, err := e.LookupTable(ctx, table); err != nil {
		return 0, err
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	var b strings.Builder
	var args []interface{}

	b.WriteString("INSERT INTO ")
	b.WriteString(e.dialect.quote(table))
	b.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.dialect.quote(col))
	}
	b.WriteString(") VALUES ")

	n := 1
	for rowIdx, row := range rows {
		if rowIdx > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for colIdx, col := range columns {
			if colIdx > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.dialect.placeholder(n))
			args = append(args, row[col])
			n++
		}
		b.WriteString(")")
	}

	res, err := e.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for multi-row inserts.
		return int64(len(rows)), nil
	}
	return affected, nil
}

// UpdateRows sets columns on rows matching the predicate.
func (e *SQLEngine) UpdateRows(ctx context.Context, table string, set map[string]interface{}, where Predicate) (int64, error) {
	if e.readOnly {
		return 0, ErrReadOnlyService
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("update %s: no columns to set", table)
	}
	if _, err := e.LookupTable(ctx, table); err != nil {
		return 0, err
	}

	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var b strings.Builder
	var args []interface{}

	b.WriteString("UPDATE ")
	b.WriteString(e.dialect.quote(table))
	b.WriteString(" SET ")
	n := 1
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.dialect.quote(col))
		b.WriteString(" = ")
		b.WriteString(e.dialect.placeholder(n))
		args = append(args, set[col])
		n++
	}

	whereSQL, whereArgs := e.buildWhere(where, &n)
	b.WriteString(whereSQL)
	args = append(args, whereArgs...)

	res, err := e.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return res.RowsAffected()
}

// DeleteRows removes rows matching the predicate.
func (e *SQLEngine) DeleteRows(ctx context.Context, table string, where Predicate) (int64, error) {
	if e.readOnly {
		return 0, ErrReadOnlyService
	}
	if _, err := e.LookupTable(ctx, table); err != nil {
		return 0, err
	}

	n := 1
	whereSQL, args := e.buildWhere(where, &n)
	q := "DELETE FROM " + e.dialect.quote(table) + whereSQL

	res, err := e.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// SelectRows returns up to limit rows matching the predicate. A limit of
// zero or less means no limit.
func (e *SQLEngine) SelectRows(ctx context.Context, table string, where Predicate, limit int) ([]map[string]interface{}, error) {
	if _, err := e.LookupTable(ctx, table); err != nil {
		return nil, err
	}

	n := 1
	whereSQL, args := e.buildWhere(where, &n)

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(e.dialect.quote(table))
	b.WriteString(whereSQL)
	if limit > 0 {
		b.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	}

	rows, err := e.db.QueryxContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan row from %s: %w", table, err)
		}
		normalizeRow(row)
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListTables returns the names of all user tables.
func (e *SQLEngine) ListTables(ctx context.Context) ([]string, error) {
	var q string
	switch e.driver {
	case "sqlite":
		q = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	case "mysql":
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	case "mssql":
		q = `SELECT table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE' ORDER BY table_name`
	default:
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema NOT IN ('pg_catalog', 'information_schema') ORDER BY table_name`
	}

	var names []string
	if err := e.db.SelectContext(ctx, &names, q); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// CreateTable creates a table from the definition. Column types are passed
// through to the target dialect as written.
func (e *SQLEngine) CreateTable(ctx context.Context, def Table) error {
	if e.readOnly {
		return ErrReadOnlyService
	}
	if def.Name == "" || len(def.Columns) == 0 {
		return fmt.Errorf("create table: name and at least one column required")
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(e.dialect.quote(def.Name))
	b.WriteString(" (")
	for i, col := range def.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.dialect.quote(col.Name))
		b.WriteString(" ")
		b.WriteString(col.Type)
		if col.Primary {
			b.WriteString(" PRIMARY KEY")
		} else if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")

	if _, err := e.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("create table %s: %w", def.Name, err)
	}
	return nil
}

// DropTable removes a table, failing with ErrTableNotFound when absent.
func (e *SQLEngine) DropTable(ctx context.Context, name string) error {
	if e.readOnly {
		return ErrReadOnlyService
	}
	if _, err := e.LookupTable(ctx, name); err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, "DROP TABLE "+e.dialect.quote(name)); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}

// buildWhere renders the predicate as an AND-joined WHERE clause. Keys are
// sorted so generated SQL is deterministic. n is the running placeholder
// index, advanced for each argument.
func (e *SQLEngine) buildWhere(where Predicate, n *int) (string, []interface{}) {
	if len(where) == 0 {
		return "", nil
	}

	cols := make([]string, 0, len(where))
	for col := range where {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var b strings.Builder
	var args []interface{}
	b.WriteString(" WHERE ")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(e.dialect.quote(col))
		b.WriteString(" = ")
		b.WriteString(e.dialect.placeholder(*n))
		args = append(args, where[col])
		*n++
	}
	return b.String(), args
}

// normalizeRow converts driver byte slices to strings so JSON encoding
// produces text rather than base64.
func normalizeRow(row map[string]interface{}) {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
}
