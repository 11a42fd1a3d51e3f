package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// Prompt sections are bounded so a large schema corpus cannot blow past
// the provider's context window.
const (
	maxSchemaContextLen   = 12000
	maxBusinessContextLen = 4000
	maxExamplesInPrompt   = 3
)

const promptInstructions = `You are an expert SQL developer with deep knowledge of data analytics. Convert the user's natural language question into an accurate, efficient SQL query.

Use only tables and columns that exist in the provided schema. Follow the conventions shown in the similar queries. If the question is ambiguous, make reasonable assumptions based on the context.

Response format:
- SQL Query: [your SQL query in a fenced code block]
- Confidence: [0.0-1.0 confidence score]
- Explanation: [brief explanation of the query logic and any assumptions]`

// buildPrompt composes the generation prompt from schema documents, the
// business-pattern summary, and the top retrieved examples.
func buildPrompt(question string, similar []knowledge.ScoredDocument, schemaContext, businessContext string) string {
	var b strings.Builder
	b.WriteString(promptInstructions)
	b.WriteString("\n\n")

	if schemaContext != "" {
		b.WriteString("## Available Tables and Schemas\n")
		b.WriteString(truncateSection(schemaContext, maxSchemaContextLen))
		b.WriteString("\n")
	}

	if businessContext != "" {
		b.WriteString("\n## Common Business Patterns\n")
		b.WriteString(truncateSection(businessContext, maxBusinessContextLen))
		b.WriteString("\n")
	}

	if len(similar) > 0 {
		b.WriteString("\n## Similar Queries from Past Analysis\n")
		for i, sd := range similar {
			if i >= maxExamplesInPrompt {
				break
			}
			fmt.Fprintf(&b, "\n### Example %d (similarity: %.3f)\n%s\n", i+1, sd.Score, sd.Document.Text)
		}
	}

	fmt.Fprintf(&b, "\nUser Question: %s\n\nGenerate a SQL query to answer this question.\n", question)
	return b.String()
}

func truncateSection(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}

// parsedResponse holds what could be recovered from the provider's
// free-text answer. Confidence is nil when the provider gave no signal.
type parsedResponse struct {
	SQL         string
	Confidence  *float64
	Explanation string
}

var (
	labeledSQLRe   = regexp.MustCompile(`(?is)SQL Query:\s*` + "```" + `(?:sql)?\s*(.*?)\s*` + "```")
	fencedSQLRe    = regexp.MustCompile(`(?is)` + "```" + `sql\s*(.*?)\s*` + "```")
	bareFenceSQLRe = regexp.MustCompile(`(?is)` + "```" + `\s*((?:SELECT|WITH)\b.*?)\s*` + "```")
	labeledLineRe  = regexp.MustCompile(`(?i)SQL Query:\s*(.+)`)
	confidenceRe   = regexp.MustCompile(`(?i)Confidence:\s*([0-9.]+)`)
	explanationRe  = regexp.MustCompile(`(?is)Explanation:\s*(.*?)(?:\n\n|\z)`)
)

// parseResponse extracts SQL, confidence, and explanation from the raw
// provider output. Each field degrades independently: a response with no
// fenced SQL still yields its confidence line, and a response with no
// explanation label falls back to the full text.
func parseResponse(raw string) parsedResponse {
	var p parsedResponse

	for _, re := range []*regexp.Regexp{labeledSQLRe, fencedSQLRe, bareFenceSQLRe} {
		if m := re.FindStringSubmatch(raw); m != nil {
			p.SQL = cleanGeneratedSQL(m[1])
			break
		}
	}
	if p.SQL == "" {
		if m := labeledLineRe.FindStringSubmatch(raw); m != nil {
			p.SQL = cleanGeneratedSQL(m[1])
		}
	}

	if m := confidenceRe.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.Confidence = &v
		}
	}

	if m := explanationRe.FindStringSubmatch(raw); m != nil {
		p.Explanation = strings.TrimSpace(m[1])
	} else {
		p.Explanation = strings.TrimSpace(raw)
	}
	return p
}

// cleanGeneratedSQL strips markdown leftovers, collapses whitespace, and
// normalizes the trailing semicolon.
func cleanGeneratedSQL(sql string) string {
	sql = strings.ReplaceAll(sql, "```sql", "")
	sql = strings.ReplaceAll(sql, "```", "")
	sql = strings.Join(strings.Fields(sql), " ")
	if sql == "" {
		return ""
	}
	return strings.TrimRight(sql, ";") + ";"
}
