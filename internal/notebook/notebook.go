// Package notebook discovers and parses analysis notebooks, extracting SQL
// statements together with their surrounding narrative context.
//
// Two formats are supported: Jupyter (.ipynb) and Zeppelin (.json with a
// paragraphs field). Format detection happens during discovery; parsing is
// delegated to a per-format cellReader so adding a format means adding one
// implementation, not another type switch.
package notebook

import (
	"fmt"
	"regexp"
)

// Format identifies a notebook file format.
type Format string

const (
	FormatJupyter  Format = "jupyter"
	FormatZeppelin Format = "zeppelin"
)

// CellType distinguishes code from narrative cells.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
)

// Ref is a discovered notebook reference: enough to parse it later without
// holding file contents.
type Ref struct {
	Path   string
	Format Format
}

// Cell is a single notebook cell. Cells are owned by their Notebook and
// immutable after parse.
type Cell struct {
	Type  CellType
	Text  string
	Index int // position in document order
}

// Notebook is a parsed notebook. Immutable after parse.
type Notebook struct {
	Path   string
	Format Format
	Cells  []Cell
}

// SQLCells returns the cells detected as SQL, in document order.
func (n *Notebook) SQLCells() []Cell {
	var out []Cell
	for _, c := range n.Cells {
		if c.Type == CellCode && ContainsSQL(c.Text) {
			out = append(out, c)
		}
	}
	return out
}

// SQLExtract is one SQL statement plus its markdown context window. It
// references the source notebook by path and cell index only.
type SQLExtract struct {
	SQL           string
	ContextBefore string
	ContextAfter  string
	NotebookPath  string
	Format        Format
	CellIndex     int
}

// ParseError reports a per-notebook parse failure. One bad file never
// aborts a batch; the error is collected and the batch continues.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing notebook %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Failure pairs a notebook reference with the error that sank it.
type Failure struct {
	Ref Ref
	Err error
}

// SQL detection is heuristic: a code cell qualifies if it carries a SQL
// magic marker or starts with a recognized DML/DDL keyword after comments
// are stripped. This is deliberately not a SQL grammar.
var (
	sqlKeywordRe = regexp.MustCompile(`(?im)^\s*(SELECT|WITH|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP)\s`)
	sqlMagicRe   = regexp.MustCompile(`(?i)%%?sql\b`)

	lineCommentRe  = regexp.MustCompile(`(?m)--.*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// ContainsSQL reports whether text looks like a SQL statement.
func ContainsSQL(text string) bool {
	if text == "" {
		return false
	}
	stripped := blockCommentRe.ReplaceAllString(lineCommentRe.ReplaceAllString(text, ""), "")
	return sqlMagicRe.MatchString(stripped) || sqlKeywordRe.MatchString(stripped)
}

// StripMagic removes notebook magic markers (%sql, %%sql) from a SQL cell.
func StripMagic(sql string) string {
	return magicPrefixRe.ReplaceAllString(sql, "")
}

var magicPrefixRe = regexp.MustCompile(`(?im)^\s*%%?sql[^\S\n]*`)
