// Package catalog fetches table schema metadata from an external catalog
// and normalizes it into schema documents for indexing.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotFound marks a table or database absent from the catalog.
	ErrNotFound = errors.New("catalog entry not found")
	// ErrAccessDenied marks a table the current credential cannot read.
	ErrAccessDenied = errors.New("catalog access denied")
)

// ColumnMetadata describes one column.
type ColumnMetadata struct {
	Name           string
	Type           string
	Comment        string
	IsPartitionKey bool
}

// TableMetadata is the normalized schema for one table. A fresh fetch
// supersedes any prior copy of the same table.
type TableMetadata struct {
	Database    string
	Name        string
	Description string
	Columns     []ColumnMetadata
	Location    string
	Format      string
	Parameters  map[string]string
}

// Key returns the qualified database.table identifier.
func (t TableMetadata) Key() string {
	return t.Database + "." + t.Name
}

// PartitionKeys returns the partition-key columns in declaration order.
func (t TableMetadata) PartitionKeys() []ColumnMetadata {
	var keys []ColumnMetadata
	for _, c := range t.Columns {
		if c.IsPartitionKey {
			keys = append(keys, c)
		}
	}
	return keys
}

// Client is the catalog provider surface the extractor consumes.
// Cross-account or cross-role delegation is handled at client
// construction; the extractor never sees credentials.
type Client interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, database string) ([]string, error)
	GetSchema(ctx context.Context, database, table string) (*TableMetadata, error)
}

// Selectors names the catalog slice to fetch: whole databases, explicit
// database.table pairs, or both.
type Selectors struct {
	Databases []string
	// Tables holds qualified "database.table" entries.
	Tables []string
}

// Failure records one table that could not be fetched. A partial catalog
// is a valid build input, so failures are warnings, not errors.
type Failure struct {
	Database string
	Table    string
	Err      error
}

// Extractor expands selectors and fetches table metadata in parallel.
type Extractor struct {
	client Client
	logger *slog.Logger
}

// NewExtractor creates an Extractor over client.
func NewExtractor(client Client, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, logger: logger}
}

type tableRef struct {
	database string
	table    string
}

// FetchAll fetches metadata for every table the selectors name, using up
// to maxWorkers concurrent catalog calls. Missing and access-denied
// tables land in the failure list; results come back sorted by qualified
// name for determinism.
func (e *Extractor) FetchAll(ctx context.Context, sel Selectors, maxWorkers int) ([]TableMetadata, []Failure) {
	targets, failures := e.expandSelectors(ctx, sel)
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	results := make([]*TableMetadata, len(targets))
	errs := make([]error, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for i, ref := range targets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			meta, err := e.client.GetSchema(ctx, ref.database, ref.table)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = meta
			return nil
		})
	}
	_ = g.Wait()

	var fetched []TableMetadata
	for i, ref := range targets {
		if errs[i] != nil {
			level := slog.LevelError
			if errors.Is(errs[i], ErrNotFound) || errors.Is(errs[i], ErrAccessDenied) {
				level = slog.LevelWarn
			}
			e.logger.Log(ctx, level, "table metadata fetch failed",
				"database", ref.database, "table", ref.table, "error", errs[i])
			failures = append(failures, Failure{Database: ref.database, Table: ref.table, Err: errs[i]})
			continue
		}
		fetched = append(fetched, *results[i])
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].Key() < fetched[j].Key() })
	e.logger.Info("catalog metadata extracted",
		"tables", len(fetched), "failures", len(failures))
	return fetched, failures
}

// expandSelectors resolves databases to their table lists and merges
// explicit pairs, deduplicated and sorted.
func (e *Extractor) expandSelectors(ctx context.Context, sel Selectors) ([]tableRef, []Failure) {
	seen := map[tableRef]struct{}{}
	var failures []Failure

	for _, spec := range sel.Tables {
		db, table, ok := strings.Cut(spec, ".")
		if !ok || db == "" || table == "" {
			failures = append(failures, Failure{Table: spec,
				Err: fmt.Errorf("invalid table selector %q, want database.table", spec)})
			continue
		}
		seen[tableRef{database: db, table: table}] = struct{}{}
	}

	for _, db := range sel.Databases {
		tables, err := e.client.ListTables(ctx, db)
		if err != nil {
			failures = append(failures, Failure{Database: db, Err: err})
			continue
		}
		for _, table := range tables {
			seen[tableRef{database: db, table: table}] = struct{}{}
		}
	}

	targets := make([]tableRef, 0, len(seen))
	for ref := range seen {
		targets = append(targets, ref)
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].database != targets[j].database {
			return targets[i].database < targets[j].database
		}
		return targets[i].table < targets[j].table
	})
	return targets, failures
}

// FormatSchemaContext renders table metadata as markdown for a generation
// prompt.
func FormatSchemaContext(tables []TableMetadata) string {
	var b strings.Builder
	for _, t := range tables {
		b.WriteString(FormatTableDoc(t))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// FormatTableDoc renders one table as the text body of its schema
// document.
func FormatTableDoc(t TableMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Table: %s\n", t.Key())

	if t.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
	}

	b.WriteString("Columns:\n")
	for _, c := range t.Columns {
		if c.IsPartitionKey {
			continue
		}
		writeColumn(&b, c)
	}

	if keys := t.PartitionKeys(); len(keys) > 0 {
		b.WriteString("Partition Keys:\n")
		for _, c := range keys {
			writeColumn(&b, c)
		}
	}

	if t.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", t.Location)
	}
	if t.Format != "" {
		fmt.Fprintf(&b, "Format: %s\n", t.Format)
	}
	return b.String()
}

func writeColumn(b *strings.Builder, c ColumnMetadata) {
	fmt.Fprintf(b, "  - %s (%s)", c.Name, c.Type)
	if c.Comment != "" {
		fmt.Fprintf(b, " - %s", c.Comment)
	}
	b.WriteString("\n")
}
