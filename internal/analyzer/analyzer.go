// Package analyzer extracts structural patterns from SQL statements.
//
// This is deliberately a shallow, regex and token based extractor rather
// than a SQL grammar. It targets common ANSI constructs and degrades to a
// partial pattern on anything it cannot read. Analyze never fails.
package analyzer

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Join is one join edge in statement order.
type Join struct {
	Left  string
	Right string
	Type  string
}

// Pattern is the structural summary of a single SQL statement.
type Pattern struct {
	Tables        []string
	Columns       []string
	Joins         []Join
	Filters       []string
	Aggregations  []string
	DateFunctions []string
	CTEs          []string
	QueryType     string
}

// defaultAggregations follows the common warehouse function set.
var defaultAggregations = []string{
	"COUNT", "SUM", "AVG", "MIN", "MAX", "MEDIAN", "STDDEV",
	"FIRST_VALUE", "LAST_VALUE", "ROW_NUMBER", "RANK", "DENSE_RANK",
}

var defaultDateFunctions = []string{
	"DATE_TRUNC", "DATE_PART", "EXTRACT", "DATEADD", "DATEDIFF",
	"CURRENT_DATE", "CURRENT_TIMESTAMP", "NOW", "GETDATE",
}

// Analyzer holds the recognized function vocabulary. Safe for concurrent
// use after construction.
type Analyzer struct {
	aggregations map[string]struct{}
	dateFuncs    map[string]struct{}
	logger       *slog.Logger
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithAggregations extends the recognized aggregation function set.
func WithAggregations(names ...string) Option {
	return func(a *Analyzer) {
		for _, n := range names {
			a.aggregations[strings.ToUpper(n)] = struct{}{}
		}
	}
}

// WithLogger sets the logger used for corpus-level progress messages.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// New creates an Analyzer with the default function vocabulary.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		aggregations: make(map[string]struct{}, len(defaultAggregations)),
		dateFuncs:    make(map[string]struct{}, len(defaultDateFunctions)),
		logger:       slog.Default(),
	}
	for _, n := range defaultAggregations {
		a.aggregations[n] = struct{}{}
	}
	for _, n := range defaultDateFunctions {
		a.dateFuncs[n] = struct{}{}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var (
	magicRe        = regexp.MustCompile(`(?im)^\s*%%?sql[^\S\n]*`)
	lineCommentRe  = regexp.MustCompile(`(?m)--.*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRe   = regexp.MustCompile(`\s+`)

	cteRe = regexp.MustCompile(`(?i)(?:\bWITH\b|,)\s+([a-zA-Z_]\w*)\s+AS\s*\(`)

	stringLiteralRe = regexp.MustCompile(`'(?:[^']|'')*'`)
	numberLiteralRe = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)

	funcCallRe = regexp.MustCompile(`([a-zA-Z_]\w*)\s*\(`)
)

// The WHERE/HAVING clause extends to the next clause keyword or the end of
// the statement. Subquery parentheses are not tracked; this matches the
// shallow-extraction contract.
var (
	whereClauseRe  = regexp.MustCompile(`(?i)\bWHERE\b(.*?)(?:\bGROUP\s+BY\b|\bORDER\s+BY\b|\bHAVING\b|\bLIMIT\b|\bUNION\b|\bWINDOW\b|$)`)
	havingClauseRe = regexp.MustCompile(`(?i)\bHAVING\b(.*?)(?:\bORDER\s+BY\b|\bLIMIT\b|\bUNION\b|$)`)
	andOrSplitRe   = regexp.MustCompile(`(?i)\s+(?:AND|OR)\s+`)
)

var statementKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "INSERT": true, "UPDATE": true,
	"DELETE": true, "CREATE": true, "ALTER": true, "DROP": true,
	"MERGE": true, "TRUNCATE": true,
}

// Analyze extracts a Pattern from one SQL statement. The context argument
// is narrative text from the source notebook; it is accepted for parity
// with corpus building but does not influence extraction. Malformed SQL
// yields a partial Pattern with QueryType UNKNOWN at worst.
func (a *Analyzer) Analyze(sql, _ string) Pattern {
	cleaned := cleanSQL(sql)
	p := Pattern{QueryType: queryType(cleaned)}
	if cleaned == "" {
		p.QueryType = "UNKNOWN"
		return p
	}

	p.CTEs = cteNames(cleaned)
	cteSet := make(map[string]struct{}, len(p.CTEs))
	for _, c := range p.CTEs {
		cteSet[strings.ToLower(c)] = struct{}{}
	}

	tables, columns, joins := scanRelations(cleaned, cteSet)
	p.Tables = tables
	p.Columns = columns
	p.Joins = joins

	p.Filters = extractFilters(cleaned)
	p.Aggregations = matchFunctions(cleaned, a.aggregations)
	p.DateFunctions = matchFunctions(cleaned, a.dateFuncs)
	return p
}

// cleanSQL strips magics and comments and collapses whitespace.
func cleanSQL(sql string) string {
	sql = magicRe.ReplaceAllString(sql, "")
	sql = lineCommentRe.ReplaceAllString(sql, "")
	sql = blockCommentRe.ReplaceAllString(sql, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(sql, " "))
}

func queryType(cleaned string) string {
	first, _, _ := strings.Cut(cleaned, " ")
	first = strings.ToUpper(strings.Trim(first, "();"))
	if statementKeywords[first] {
		return first
	}
	return "UNKNOWN"
}

func cteNames(cleaned string) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, m := range cteRe.FindAllStringSubmatch(cleaned, -1) {
		name := m[1]
		if _, ok := seen[strings.ToLower(name)]; ok {
			continue
		}
		seen[strings.ToLower(name)] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var joinTypeKeywords = map[string]string{
	"INNER": "INNER", "LEFT": "LEFT", "RIGHT": "RIGHT",
	"FULL": "FULL", "CROSS": "CROSS",
}

var clauseKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true,
	"ORDER": true, "HAVING": true, "LIMIT": true, "ON": true,
	"AND": true, "OR": true, "AS": true, "BY": true, "JOIN": true,
	"INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "UNION": true, "WITH": true,
	"SET": true, "VALUES": true, "INTO": true, "USING": true,
	"WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"CASE": true, "NOT": true, "NULL": true, "IN": true,
	"BETWEEN": true, "LIKE": true, "IS": true, "DISTINCT": true,
	"ASC": true, "DESC": true, "EXISTS": true, "ALL": true,
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][\w.]*$`)

// scanRelations walks the token stream collecting tables after FROM/JOIN,
// join edges in statement order, and qualified column references. Join
// edges carry real table names, never aliases, because the chain tracks
// the last table read rather than the token preceding JOIN. CTE names are
// excluded from the table set.
func scanRelations(cleaned string, cteSet map[string]struct{}) (tables, columns []string, joins []Join) {
	tokens := strings.Fields(strings.NewReplacer("(", " ( ", ")", " ) ", ",", " , ").Replace(cleaned))

	tableSet := map[string]struct{}{}
	columnSet := map[string]struct{}{}

	addTable := func(name string) string {
		if _, isCTE := cteSet[strings.ToLower(name)]; !isCTE {
			tableSet[strings.ToLower(name)] = struct{}{}
		}
		return name
	}

	var lastTable string
	pendingJoinType := ""

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		upper := strings.ToUpper(tok)

		// Qualified references contribute columns only; the table side is
		// already covered by the FROM/JOIN scan.
		if strings.Contains(tok, ".") && identRe.MatchString(tok) {
			_, column, _ := strings.Cut(tok, ".")
			columnSet[strings.ToLower(column)] = struct{}{}
			continue
		}

		switch upper {
		case "FROM":
			if name, _, next := readTableRef(tokens, i+1); name != "" {
				lastTable = addTable(name)
				i = next - 1
			}
		case "INNER", "LEFT", "RIGHT", "FULL", "CROSS":
			pendingJoinType = joinTypeKeywords[upper]
		case "OUTER":
			// keeps the pending LEFT/RIGHT/FULL type
		case "JOIN":
			joinType := pendingJoinType
			if joinType == "" {
				joinType = "INNER"
			}
			pendingJoinType = ""
			if name, _, next := readTableRef(tokens, i+1); name != "" {
				right := addTable(name)
				if lastTable != "" {
					joins = append(joins, Join{Left: lastTable, Right: right, Type: joinType})
				}
				lastTable = right
				i = next - 1
			}
		default:
			pendingJoinType = ""
		}
	}

	tables = sortedKeys(tableSet)
	columns = sortedKeys(columnSet)
	return tables, columns, joins
}

// readTableRef reads a table name and optional alias starting at pos.
// Returns empty name when the position opens a subquery.
func readTableRef(tokens []string, pos int) (name, alias string, next int) {
	if pos >= len(tokens) || tokens[pos] == "(" {
		return "", "", pos
	}
	candidate := tokens[pos]
	if !identRe.MatchString(candidate) || clauseKeywords[strings.ToUpper(candidate)] {
		return "", "", pos
	}
	name = candidate
	next = pos + 1

	if next < len(tokens) && strings.EqualFold(tokens[next], "AS") {
		next++
	}
	if next < len(tokens) {
		tok := tokens[next]
		if identRe.MatchString(tok) && !clauseKeywords[strings.ToUpper(tok)] && !strings.Contains(tok, ".") {
			alias = tok
			next++
		}
	}
	return name, alias, next
}

// extractFilters returns WHERE and HAVING predicates split on AND/OR with
// literals redacted, so identical filters with different constants
// coalesce.
func extractFilters(cleaned string) []string {
	var filters []string
	for _, re := range []*regexp.Regexp{whereClauseRe, havingClauseRe} {
		m := re.FindStringSubmatch(cleaned)
		if m == nil {
			continue
		}
		for _, cond := range andOrSplitRe.Split(strings.TrimSpace(m[1]), -1) {
			cond = strings.TrimSpace(cond)
			if cond == "" {
				continue
			}
			filters = append(filters, redactLiterals(cond))
		}
	}
	return filters
}

func redactLiterals(cond string) string {
	cond = stringLiteralRe.ReplaceAllString(cond, "?")
	cond = numberLiteralRe.ReplaceAllString(cond, "?")
	return whitespaceRe.ReplaceAllString(cond, " ")
}

// matchFunctions returns recognized function names invoked in the
// statement, uppercased and sorted.
func matchFunctions(cleaned string, vocab map[string]struct{}) []string {
	found := map[string]struct{}{}
	for _, m := range funcCallRe.FindAllStringSubmatch(cleaned, -1) {
		name := strings.ToUpper(m[1])
		if _, ok := vocab[name]; ok {
			found[name] = struct{}{}
		}
	}
	// Some date markers are valid without parentheses.
	upper := strings.ToUpper(cleaned)
	for _, bare := range []string{"CURRENT_DATE", "CURRENT_TIMESTAMP"} {
		if _, ok := vocab[bare]; ok && strings.Contains(upper, bare) {
			found[bare] = struct{}{}
		}
	}
	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// pairKey builds the deterministic co-occurrence key for two tables.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s|%s", a, b)
}
