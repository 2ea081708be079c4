package engine

import (
	"context"
	"errors"
	"testing"
)

func newTestEngine(t *testing.T) *SQLEngine {
	t.Helper()

	eng, err := Open(ConnectionConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	err = eng.CreateTable(context.Background(), Table{
		Name: "products",
		Columns: []Column{
			{Name: "id", Type: "INTEGER", Primary: true},
			{Name: "name", Type: "TEXT"},
			{Name: "price", Type: "REAL"},
		},
	})
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return eng
}

func TestLookupTable(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	tbl, err := eng.LookupTable(ctx, "products")
	if err != nil {
		t.Fatalf("lookup products: %v", err)
	}
	if len(tbl.Columns) != 3 {
		t.Errorf("columns = %d, want 3", len(tbl.Columns))
	}

	if _, err := eng.LookupTable(ctx, "missing"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("lookup missing table: err = %v, want ErrTableNotFound", err)
	}
}

func TestInsertAndSelect(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	n, err := eng.InsertRows(ctx, "products", []map[string]interface{}{
		{"id": 1, "name": "widget", "price": 9.99},
		{"id": 2, "name": "gadget", "price": 19.99},
		{"id": 3, "name": "widget", "price": 4.99},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 3 {
		t.Errorf("inserted = %d, want 3", n)
	}

	rows, err := eng.SelectRows(ctx, "products", Predicate{"name": "widget"}, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	limited, err := eng.SelectRows(ctx, "products", nil, 1)
	if err != nil {
		t.Fatalf("select limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited rows = %d, want 1", len(limited))
	}
}

func TestInsertIntoMissingTable(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.InsertRows(context.Background(), "nope", []map[string]interface{}{{"a": 1}})
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("err = %v, want ErrTableNotFound", err)
	}
}

func TestUpdateRows(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.InsertRows(ctx, "products", []map[string]interface{}{
		{"id": 1, "name": "widget", "price": 9.99},
		{"id": 2, "name": "widget", "price": 19.99},
		{"id": 3, "name": "gadget", "price": 4.99},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := eng.UpdateRows(ctx, "products", map[string]interface{}{"price": 0.0}, Predicate{"name": "widget"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 2 {
		t.Errorf("updated = %d, want 2", n)
	}

	// No matching rows is not an error.
	n, err = eng.UpdateRows(ctx, "products", map[string]interface{}{"price": 1.0}, Predicate{"name": "absent"})
	if err != nil {
		t.Fatalf("update no match: %v", err)
	}
	if n != 0 {
		t.Errorf("updated = %d, want 0", n)
	}
}

func TestDeleteRows(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.InsertRows(ctx, "products", []map[string]interface{}{
		{"id": 1, "name": "widget", "price": 9.99},
		{"id": 2, "name": "gadget", "price": 19.99},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := eng.DeleteRows(ctx, "products", Predicate{"id": 1})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	rows, err := eng.SelectRows(ctx, "products", nil, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("remaining rows = %d, want 1", len(rows))
	}
}

func TestListAndDropTables(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	names, err := eng.ListTables(ctx)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(names) != 1 || names[0] != "products" {
		t.Errorf("tables = %v, want [products]", names)
	}

	if err := eng.DropTable(ctx, "products"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := eng.DropTable(ctx, "products"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("drop absent: err = %v, want ErrTableNotFound", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if err := r.Connect("default", ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.CloseAll()

	if _, err := r.Get("default"); err != nil {
		t.Errorf("get default: %v", err)
	}
	if _, err := r.Get("other"); err == nil {
		t.Error("get unknown service: expected error")
	}

	if err := r.Connect("default", ConnectionConfig{Driver: "bogus"}); err == nil {
		t.Error("connect bogus driver: expected error")
	}

	if err := r.Disconnect("default"); err != nil {
		t.Errorf("disconnect: %v", err)
	}
	if err := r.Disconnect("default"); err == nil {
		t.Error("double disconnect: expected error")
	}
}

func TestReadOnlyServiceRejectsWrites(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + t.TempDir() + "/ro.db"

	// Seed the database through a writable engine first.
	setup, err := Open(ConnectionConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open setup engine: %v", err)
	}
	err = setup.CreateTable(ctx, Table{
		Name: "catalog",
		Columns: []Column{
			{Name: "id", Type: "INTEGER", Primary: true},
			{Name: "name", Type: "TEXT"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := setup.InsertRows(ctx, "catalog", []map[string]interface{}{{"id": 1, "name": "widget"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	setup.Close()

	eng, err := Open(ConnectionConfig{Driver: "sqlite", DSN: dsn, ReadOnly: true})
	if err != nil {
		t.Fatalf("open read-only engine: %v", err)
	}
	defer eng.Close()
	if !eng.ReadOnly() {
		t.Fatal("engine does not report read-only")
	}

	rows, err := eng.SelectRows(ctx, "catalog", nil, 0)
	if err != nil {
		t.Fatalf("select on read-only service: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}

	if _, err := eng.InsertRows(ctx, "catalog", []map[string]interface{}{{"id": 2, "name": "gadget"}}); !errors.Is(err, ErrReadOnlyService) {
		t.Errorf("insert: err = %v, want ErrReadOnlyService", err)
	}
	if _, err := eng.UpdateRows(ctx, "catalog", map[string]interface{}{"name": "x"}, Predicate{"id": 1}); !errors.Is(err, ErrReadOnlyService) {
		t.Errorf("update: err = %v, want ErrReadOnlyService", err)
	}
	if _, err := eng.DeleteRows(ctx, "catalog", Predicate{"id": 1}); !errors.Is(err, ErrReadOnlyService) {
		t.Errorf("delete: err = %v, want ErrReadOnlyService", err)
	}
	if err := eng.CreateTable(ctx, Table{Name: "t2", Columns: []Column{{Name: "id", Type: "INTEGER"}}}); !errors.Is(err, ErrReadOnlyService) {
		t.Errorf("create: err = %v, want ErrReadOnlyService", err)
	}
	if err := eng.DropTable(ctx, "catalog"); !errors.Is(err, ErrReadOnlyService) {
		t.Errorf("drop: err = %v, want ErrReadOnlyService", err)
	}

	// Nothing slipped through.
	rows, err = eng.SelectRows(ctx, "catalog", nil, 0)
	if err != nil || len(rows) != 1 {
		t.Errorf("rows after rejected writes = %d (err %v), want 1", len(rows), err)
	}
}
