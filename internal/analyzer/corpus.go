package analyzer

import (
	"fmt"
	"sort"
	"strings"
)

// RankedJoin is a join edge with its corpus frequency.
type RankedJoin struct {
	Join  Join
	Count int
}

// BusinessPattern aggregates structural patterns across every statement in
// a build. It is rebuilt wholesale each time, never mutated incrementally.
type BusinessPattern struct {
	// TableRelationships maps each table to the tables it co-occurs with,
	// sorted lexically.
	TableRelationships map[string][]string
	// JoinPaths ranks join edges by frequency descending, ties broken by
	// the lexical order of the table-pair key.
	JoinPaths []RankedJoin
	// CommonFilters holds the top filter predicates per table, frequency
	// descending with lexical tie-break.
	CommonFilters map[string][]string
	// Aggregations holds the top aggregation functions per table.
	Aggregations map[string][]string
	// DatePatterns lists filter predicates that reference dates in
	// statements using date functions.
	DatePatterns []string
	// StatementCount is the number of patterns aggregated.
	StatementCount int
}

const topPerTable = 5

// AnalyzeCorpus aggregates patterns into corpus-wide business knowledge.
// Output ordering is deterministic for a given input multiset.
func (a *Analyzer) AnalyzeCorpus(patterns []Pattern) BusinessPattern {
	bp := BusinessPattern{
		TableRelationships: map[string][]string{},
		CommonFilters:      map[string][]string{},
		Aggregations:       map[string][]string{},
		StatementCount:     len(patterns),
	}

	coOccur := map[string]map[string]struct{}{}
	joinCounts := map[Join]int{}
	filterCounts := map[string]map[string]int{}
	aggCounts := map[string]map[string]int{}
	dateSeen := map[string]struct{}{}
	var datePatterns []string

	for _, p := range patterns {
		// Every pair of tables appearing in one statement is a
		// co-occurrence edge, join or not.
		for _, left := range p.Tables {
			for _, right := range p.Tables {
				if left == right {
					continue
				}
				if coOccur[left] == nil {
					coOccur[left] = map[string]struct{}{}
				}
				coOccur[left][right] = struct{}{}
			}
		}

		for _, j := range p.Joins {
			joinCounts[normalizeJoin(j)]++
		}

		for _, table := range p.Tables {
			for _, filter := range p.Filters {
				if !strings.Contains(strings.ToLower(filter), table) {
					continue
				}
				if filterCounts[table] == nil {
					filterCounts[table] = map[string]int{}
				}
				filterCounts[table][filter]++
			}
			for _, agg := range p.Aggregations {
				if aggCounts[table] == nil {
					aggCounts[table] = map[string]int{}
				}
				aggCounts[table][agg]++
			}
		}

		if len(p.DateFunctions) > 0 {
			for _, filter := range p.Filters {
				if !mentionsDate(filter) {
					continue
				}
				if _, ok := dateSeen[filter]; ok {
					continue
				}
				dateSeen[filter] = struct{}{}
				datePatterns = append(datePatterns, filter)
			}
		}
	}

	for table, related := range coOccur {
		bp.TableRelationships[table] = sortedKeys(related)
	}
	bp.JoinPaths = rankJoins(joinCounts)
	for table, counts := range filterCounts {
		bp.CommonFilters[table] = topRanked(counts, topPerTable)
	}
	for table, counts := range aggCounts {
		bp.Aggregations[table] = topRanked(counts, topPerTable)
	}
	sort.Strings(datePatterns)
	bp.DatePatterns = datePatterns

	a.logger.Info("aggregated business patterns",
		"statements", len(patterns),
		"tables", len(bp.TableRelationships),
		"join_paths", len(bp.JoinPaths))
	return bp
}

// normalizeJoin lowercases table names so edges from differently-cased
// statements coalesce.
func normalizeJoin(j Join) Join {
	return Join{
		Left:  strings.ToLower(j.Left),
		Right: strings.ToLower(j.Right),
		Type:  strings.ToUpper(j.Type),
	}
}

func rankJoins(counts map[Join]int) []RankedJoin {
	out := make([]RankedJoin, 0, len(counts))
	for j, n := range counts {
		out = append(out, RankedJoin{Join: j, Count: n})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Count != out[k].Count {
			return out[i].Count > out[k].Count
		}
		return joinPairKey(out[i].Join) < joinPairKey(out[k].Join)
	})
	return out
}

func joinPairKey(j Join) string {
	return pairKey(j.Left, j.Right) + "|" + j.Type
}

// topRanked returns up to limit keys by count descending, lexical
// tie-break.
func topRanked(counts map[string]int, limit int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

var dateWords = []string{"date", "time", "day", "month", "year", "week"}

func mentionsDate(filter string) bool {
	lower := strings.ToLower(filter)
	for _, w := range dateWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// FormatForContext renders a BusinessPattern as markdown suitable for
// inclusion in a generation prompt.
func FormatForContext(bp BusinessPattern) string {
	var b strings.Builder

	if len(bp.TableRelationships) > 0 {
		b.WriteString("## Common Table Relationships\n")
		for _, table := range sortedMapKeys(bp.TableRelationships) {
			fmt.Fprintf(&b, "- %s commonly used with: %s\n",
				table, strings.Join(bp.TableRelationships[table], ", "))
		}
	}

	if len(bp.JoinPaths) > 0 {
		b.WriteString("\n## Common Join Paths\n")
		for _, rj := range bp.JoinPaths {
			fmt.Fprintf(&b, "- %s %s JOIN %s (seen %d times)\n",
				rj.Join.Left, rj.Join.Type, rj.Join.Right, rj.Count)
		}
	}

	if len(bp.CommonFilters) > 0 {
		b.WriteString("\n## Common Filters by Table\n")
		for _, table := range sortedMapKeys(bp.CommonFilters) {
			if len(bp.CommonFilters[table]) == 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n",
				table, strings.Join(firstN(bp.CommonFilters[table], 3), ", "))
		}
	}

	if len(bp.Aggregations) > 0 {
		b.WriteString("\n## Common Aggregations by Table\n")
		for _, table := range sortedMapKeys(bp.Aggregations) {
			if len(bp.Aggregations[table]) == 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n",
				table, strings.Join(firstN(bp.Aggregations[table], 3), ", "))
		}
	}

	if len(bp.DatePatterns) > 0 {
		b.WriteString("\n## Common Date Filters\n")
		for _, p := range firstN(bp.DatePatterns, 5) {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	return strings.TrimSpace(b.String())
}

func sortedMapKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
