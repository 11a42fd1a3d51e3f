package query

import (
	"context"
	"fmt"
	"strings"
)

// Statement types permitted by default. Anything else requires
// AllowMutations.
var readOnlyStatements = map[string]bool{
	"SELECT": true,
	"WITH":   true,
}

// ValidateSQL statically checks a generated query: delimiters must be
// balanced, the statement type must be read-only unless mutations are
// allowed, and every referenced table must exist among the indexed
// schema documents. Violations are reported as (false, reason), never as
// an error; the error return covers store access only.
func (e *Engine) ValidateSQL(ctx context.Context, sql string) (bool, string, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return false, "empty SQL statement", nil
	}

	if reason := checkDelimiters(sql); reason != "" {
		return false, reason, nil
	}

	stmt := firstKeyword(sql)
	if stmt == "" {
		return false, "statement does not start with a SQL keyword", nil
	}
	if !e.cfg.AllowMutations && !readOnlyStatements[stmt] {
		return false, fmt.Sprintf("%s statements are not allowed; only SELECT is permitted", stmt), nil
	}

	known, err := e.store.SchemaTables(ctx)
	if err != nil {
		return false, "", fmt.Errorf("listing indexed schema tables: %w", err)
	}
	// Without schema documents there is nothing to check references
	// against; the statement-level checks above still apply.
	if len(known) == 0 {
		return true, "valid", nil
	}

	knownSet := make(map[string]bool, len(known))
	for _, t := range sortedLower(known) {
		knownSet[t] = true
	}

	pattern := e.analyzer.Analyze(sql, "")
	for _, table := range pattern.Tables {
		// Qualified names are matched on their final component since
		// schema documents are tagged with bare table names.
		if !knownSet[bareTable(table)] {
			return false, fmt.Sprintf("table %q does not exist in the indexed schema", table), nil
		}
	}
	return true, "valid", nil
}

// checkDelimiters verifies balanced parentheses outside string literals
// and terminated quotes. Doubled single quotes inside a literal are the
// standard SQL escape and do not close it.
func checkDelimiters(sql string) string {
	depth := 0
	inSingle, inDouble := false, false
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inSingle:
			if c == '\'' {
				if i+1 < len(runes) && runes[i+1] == '\'' {
					i++
					continue
				}
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return "unbalanced parentheses"
			}
		}
	}
	if depth != 0 {
		return "unbalanced parentheses"
	}
	if inSingle {
		return "unterminated string literal"
	}
	if inDouble {
		return "unterminated quoted identifier"
	}
	return ""
}

func firstKeyword(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	word := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	for _, r := range word {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return word
}
