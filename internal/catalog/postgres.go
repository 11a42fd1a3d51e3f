package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient implements Client over a PostgreSQL information_schema.
// Schemas play the role of catalog databases. When a delegated role is
// configured, every catalog query runs under SET ROLE on its connection,
// the Postgres analog of cross-account catalog access.
type PostgresClient struct {
	pool *pgxpool.Pool
	role string
}

// PostgresOption customizes a PostgresClient.
type PostgresOption func(*PostgresClient)

// WithAssumedRole makes catalog queries run under the given role.
func WithAssumedRole(role string) PostgresOption {
	return func(c *PostgresClient) { c.role = role }
}

// NewPostgresClient creates a catalog client over pool.
func NewPostgresClient(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresClient {
	c := &PostgresClient{pool: pool}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// withConn runs fn on one connection, assuming the configured role first
// and resetting it before the connection returns to the pool.
func (c *PostgresClient) withConn(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if c.role != "" {
		if _, err := conn.Exec(ctx, "SET ROLE "+pgx.Identifier{c.role}.Sanitize()); err != nil {
			return fmt.Errorf("assuming role %s: %w", c.role, err)
		}
		defer conn.Exec(ctx, "RESET ROLE") //nolint:errcheck
	}
	return fn(conn)
}

// ListDatabases returns the user-visible schemas.
func (c *PostgresClient) ListDatabases(ctx context.Context) ([]string, error) {
	const q = `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY schema_name`

	var names []string
	err := c.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", classifyPgError(err))
	}
	return names, nil
}

// ListTables returns the base tables of one schema.
func (c *PostgresClient) ListTables(ctx context.Context, database string) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	var names []string
	err := c.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, q, database)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s: %w", database, classifyPgError(err))
	}
	return names, nil
}

// GetSchema fetches one table's columns and comments.
func (c *PostgresClient) GetSchema(ctx context.Context, database, table string) (*TableMetadata, error) {
	const colQuery = `
		SELECT c.column_name, c.data_type, COALESCE(d.description, '')
		FROM information_schema.columns c
		JOIN pg_catalog.pg_class cl ON cl.relname = c.table_name
		JOIN pg_catalog.pg_namespace n ON n.oid = cl.relnamespace AND n.nspname = c.table_schema
		LEFT JOIN pg_catalog.pg_description d ON d.objoid = cl.oid AND d.objsubid = c.ordinal_position
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	const descQuery = `
		SELECT COALESCE(obj_description(cl.oid, 'pg_class'), '')
		FROM pg_catalog.pg_class cl
		JOIN pg_catalog.pg_namespace n ON n.oid = cl.relnamespace
		WHERE n.nspname = $1 AND cl.relname = $2`

	meta := &TableMetadata{
		Database:   database,
		Name:       table,
		Format:     "postgres",
		Parameters: map[string]string{},
	}

	err := c.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, colQuery, database, table)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var col ColumnMetadata
			if err := rows.Scan(&col.Name, &col.Type, &col.Comment); err != nil {
				return err
			}
			meta.Columns = append(meta.Columns, col)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(meta.Columns) == 0 {
			return fmt.Errorf("%w: %s.%s", ErrNotFound, database, table)
		}

		return conn.QueryRow(ctx, descQuery, database, table).Scan(&meta.Description)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching schema for %s.%s: %w", database, table, classifyPgError(err))
	}
	return meta, nil
}

// classifyPgError maps permission failures onto ErrAccessDenied so the
// extractor treats them as warnings.
func classifyPgError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission denied") || strings.Contains(msg, "insufficient privilege") {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return err
}
