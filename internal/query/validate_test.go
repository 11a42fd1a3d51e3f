package query

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func validateEngine(tables []string, allowMutations bool) *Engine {
	return NewEngine(&mockEmbedder{}, &mockRetriever{tables: tables}, &mockCompleter{},
		Config{AllowMutations: allowMutations}, slog.New(slog.DiscardHandler))
}

func TestValidateSQL(t *testing.T) {
	tables := []string{"orders", "users"}
	tests := []struct {
		name       string
		sql        string
		wantValid  bool
		wantReason string // substring
	}{
		{
			name:      "simple select",
			sql:       "SELECT id FROM orders",
			wantValid: true,
		},
		{
			name:      "cte statement",
			sql:       "WITH recent AS (SELECT * FROM orders) SELECT count(*) FROM recent",
			wantValid: true,
		},
		{
			name:       "drop statement rejected",
			sql:        "DROP TABLE foo",
			wantValid:  false,
			wantReason: "DROP",
		},
		{
			name:       "delete statement rejected",
			sql:        "DELETE FROM orders",
			wantValid:  false,
			wantReason: "DELETE",
		},
		{
			name:       "unknown table",
			sql:        "SELECT * FROM invoices",
			wantValid:  false,
			wantReason: `"invoices"`,
		},
		{
			name:      "qualified table matches bare schema name",
			sql:       "SELECT * FROM sales.orders",
			wantValid: true,
		},
		{
			name:       "unbalanced parentheses",
			sql:        "SELECT count(* FROM orders",
			wantValid:  false,
			wantReason: "parentheses",
		},
		{
			name:       "unterminated literal",
			sql:        "SELECT * FROM orders WHERE note = 'open",
			wantValid:  false,
			wantReason: "string literal",
		},
		{
			name:      "escaped quote inside literal",
			sql:       "SELECT * FROM orders WHERE note = 'it''s fine'",
			wantValid: true,
		},
		{
			name:      "parenthesis inside literal ignored",
			sql:       "SELECT * FROM orders WHERE note = '(open'",
			wantValid: true,
		},
		{
			name:       "empty statement",
			sql:        "   ",
			wantValid:  false,
			wantReason: "empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, reason, err := validateEngine(tables, false).ValidateSQL(context.Background(), tt.sql)
			if err != nil {
				t.Fatalf("ValidateSQL() error = %v", err)
			}
			if valid != tt.wantValid {
				t.Errorf("valid = %v (reason %q), want %v", valid, reason, tt.wantValid)
			}
			if tt.wantReason != "" && !strings.Contains(reason, tt.wantReason) {
				t.Errorf("reason = %q, want it to mention %q", reason, tt.wantReason)
			}
		})
	}
}

func TestValidateSQLAllowMutations(t *testing.T) {
	valid, reason, err := validateEngine([]string{"orders"}, true).
		ValidateSQL(context.Background(), "UPDATE orders SET status = 'closed'")
	if err != nil {
		t.Fatalf("ValidateSQL() error = %v", err)
	}
	if !valid {
		t.Errorf("mutation rejected with AllowMutations: %q", reason)
	}
}

func TestValidateSQLNoSchemaIndexed(t *testing.T) {
	// With no schema documents there is nothing to check table
	// references against.
	valid, _, err := validateEngine(nil, false).
		ValidateSQL(context.Background(), "SELECT * FROM anything")
	if err != nil {
		t.Fatalf("ValidateSQL() error = %v", err)
	}
	if !valid {
		t.Error("statement rejected despite empty schema index")
	}
}
