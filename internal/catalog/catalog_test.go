package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type mockClient struct {
	mu        sync.Mutex
	databases map[string][]string         // database -> tables
	schemas   map[string]*TableMetadata   // "db.table" -> metadata
	errs      map[string]error            // "db.table" or "db" -> error
	calls     []string
}

func (m *mockClient) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockClient) ListDatabases(context.Context) ([]string, error) {
	m.record("ListDatabases")
	var names []string
	for db := range m.databases {
		names = append(names, db)
	}
	return names, nil
}

func (m *mockClient) ListTables(_ context.Context, database string) ([]string, error) {
	m.record("ListTables:" + database)
	if err, ok := m.errs[database]; ok {
		return nil, err
	}
	tables, ok := m.databases[database]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, database)
	}
	return tables, nil
}

func (m *mockClient) GetSchema(_ context.Context, database, table string) (*TableMetadata, error) {
	key := database + "." + table
	m.record("GetSchema:" + key)
	if err, ok := m.errs[key]; ok {
		return nil, err
	}
	meta, ok := m.schemas[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return meta, nil
}

func newMockClient() *mockClient {
	return &mockClient{
		databases: map[string][]string{
			"sales": {"orders", "users"},
		},
		schemas: map[string]*TableMetadata{
			"sales.orders": {
				Database: "sales", Name: "orders",
				Columns: []ColumnMetadata{
					{Name: "id", Type: "bigint"},
					{Name: "day", Type: "date", IsPartitionKey: true},
				},
			},
			"sales.users": {
				Database: "sales", Name: "users",
				Columns: []ColumnMetadata{{Name: "id", Type: "bigint"}},
			},
			"ops.incidents": {
				Database: "ops", Name: "incidents",
				Columns: []ColumnMetadata{{Name: "id", Type: "bigint"}},
			},
		},
		errs: map[string]error{},
	}
}

func TestFetchAllExpandsDatabases(t *testing.T) {
	t.Parallel()

	e := NewExtractor(newMockClient(), nil)
	tables, failures := e.FetchAll(context.Background(), Selectors{Databases: []string{"sales"}}, 4)

	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(tables) != 2 {
		t.Fatalf("got %d tables, want 2", len(tables))
	}
	// Sorted by qualified name.
	if tables[0].Key() != "sales.orders" || tables[1].Key() != "sales.users" {
		t.Errorf("unexpected order: %s, %s", tables[0].Key(), tables[1].Key())
	}
}

func TestFetchAllExplicitTablesAndDedup(t *testing.T) {
	t.Parallel()

	m := newMockClient()
	e := NewExtractor(m, nil)
	sel := Selectors{
		Databases: []string{"sales"},
		Tables:    []string{"sales.orders", "ops.incidents"},
	}

	tables, failures := e.FetchAll(context.Background(), sel, 4)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(tables) != 3 {
		t.Fatalf("got %d tables, want 3 (deduplicated)", len(tables))
	}

	fetches := 0
	for _, call := range m.calls {
		if strings.HasPrefix(call, "GetSchema:") {
			fetches++
		}
	}
	if fetches != 3 {
		t.Errorf("GetSchema called %d times, want 3", fetches)
	}
}

func TestFetchAllPartialFailures(t *testing.T) {
	t.Parallel()

	m := newMockClient()
	m.errs["sales.orders"] = fmt.Errorf("%w: sales.orders", ErrAccessDenied)

	e := NewExtractor(m, nil)
	tables, failures := e.FetchAll(context.Background(), Selectors{Databases: []string{"sales"}}, 2)

	if len(tables) != 1 || tables[0].Key() != "sales.users" {
		t.Errorf("tables = %v, want only sales.users", tables)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	if !errors.Is(failures[0].Err, ErrAccessDenied) {
		t.Errorf("failure error = %v, want ErrAccessDenied", failures[0].Err)
	}
}

func TestFetchAllInvalidSelector(t *testing.T) {
	t.Parallel()

	e := NewExtractor(newMockClient(), nil)
	_, failures := e.FetchAll(context.Background(), Selectors{Tables: []string{"no_dot"}}, 1)
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	if !strings.Contains(failures[0].Err.Error(), "database.table") {
		t.Errorf("failure = %v, want selector-format hint", failures[0].Err)
	}
}

func TestFetchAllDatabaseListingFailure(t *testing.T) {
	t.Parallel()

	m := newMockClient()
	m.errs["missing_db"] = fmt.Errorf("%w: missing_db", ErrNotFound)
	e := NewExtractor(m, nil)

	tables, failures := e.FetchAll(context.Background(),
		Selectors{Databases: []string{"missing_db", "sales"}}, 2)

	if len(tables) != 2 {
		t.Errorf("got %d tables, want the healthy database fetched", len(tables))
	}
	if len(failures) != 1 || failures[0].Database != "missing_db" {
		t.Errorf("failures = %+v, want one for missing_db", failures)
	}
}

func TestFormatTableDoc(t *testing.T) {
	t.Parallel()

	meta := TableMetadata{
		Database:    "sales",
		Name:        "orders",
		Description: "All customer orders",
		Columns: []ColumnMetadata{
			{Name: "id", Type: "bigint", Comment: "order id"},
			{Name: "total", Type: "numeric"},
			{Name: "day", Type: "date", IsPartitionKey: true},
		},
		Location: "s3://warehouse/orders",
		Format:   "parquet",
	}

	doc := FormatTableDoc(meta)
	for _, want := range []string{
		"## Table: sales.orders",
		"Description: All customer orders",
		"- id (bigint) - order id",
		"- total (numeric)",
		"Partition Keys:",
		"- day (date)",
		"Location: s3://warehouse/orders",
		"Format: parquet",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("doc missing %q:\n%s", want, doc)
		}
	}
}

func TestFormatSchemaContextConcatenates(t *testing.T) {
	t.Parallel()

	ctx := FormatSchemaContext([]TableMetadata{
		{Database: "a", Name: "t1", Columns: []ColumnMetadata{{Name: "x", Type: "int"}}},
		{Database: "b", Name: "t2", Columns: []ColumnMetadata{{Name: "y", Type: "int"}}},
	})
	if !strings.Contains(ctx, "## Table: a.t1") || !strings.Contains(ctx, "## Table: b.t2") {
		t.Errorf("context missing tables:\n%s", ctx)
	}
}
