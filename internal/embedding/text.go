package embedding

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/quarrydev/quarry/internal/notebook"
)

// maxEmbedTextLen bounds embedding input; provider limits are far higher
// but similarity degrades on very long inputs anyway.
const maxEmbedTextLen = 8000

var (
	embedWhitespaceRe  = regexp.MustCompile(`\s+`)
	embedLineComment   = regexp.MustCompile(`(?m)--.*$`)
	embedBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	longSingleQuoteRe  = regexp.MustCompile(`'[^']{100,}'`)
	longDoubleQuoteRe  = regexp.MustCompile(`"[^"]{100,}"`)
	searchSQLKeywords  = []string{"select", "from", "where", "group by", "order by", "join"}
)

// PrepareExtractText composes the embedding input for one SQL extract:
// narrative context, the cleaned query, trailing description, and a short
// source marker, pipe-separated.
func PrepareExtractText(extract notebook.SQLExtract) string {
	var parts []string

	if before := strings.TrimSpace(extract.ContextBefore); before != "" {
		parts = append(parts, "Context: "+before)
	}
	if sql := cleanSQLForEmbedding(extract.SQL); sql != "" {
		parts = append(parts, "Query: "+sql)
	}
	if after := strings.TrimSpace(extract.ContextAfter); after != "" {
		parts = append(parts, "Description: "+after)
	}
	if extract.NotebookPath != "" {
		dir, file := path.Split(path.Clean(strings.ReplaceAll(extract.NotebookPath, "\\", "/")))
		if parent := path.Base(strings.TrimSuffix(dir, "/")); parent != "." && parent != "/" && parent != "" {
			parts = append(parts, fmt.Sprintf("Source: %s/%s", parent, file))
		} else {
			parts = append(parts, "Source: "+file)
		}
	}

	return truncate(strings.Join(parts, " | "), maxEmbedTextLen)
}

// PrepareQueryText converts a natural-language question into the search
// text embedded at query time. SQL concept keywords found in the question
// are surfaced to improve lexical matching.
func PrepareQueryText(question string) string {
	question = strings.TrimSpace(question)
	parts := []string{"Question: " + question}

	lower := strings.ToLower(question)
	var found []string
	for _, kw := range searchSQLKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	if len(found) > 0 {
		parts = append(parts, "SQL concepts: "+strings.Join(found, ", "))
	}

	return truncate(strings.Join(parts, " | "), maxEmbedTextLen)
}

// cleanSQLForEmbedding normalizes a statement for similarity: comments
// dropped, whitespace collapsed, oversized literals replaced so they do
// not dominate the vector.
func cleanSQLForEmbedding(sql string) string {
	sql = notebook.StripMagic(sql)
	sql = embedLineComment.ReplaceAllString(sql, "")
	sql = embedBlockComment.ReplaceAllString(sql, "")
	sql = strings.TrimSpace(embedWhitespaceRe.ReplaceAllString(sql, " "))
	sql = longSingleQuoteRe.ReplaceAllString(sql, "'<LONG_STRING>'")
	sql = longDoubleQuoteRe.ReplaceAllString(sql, `"<LONG_STRING>"`)
	return sql
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
