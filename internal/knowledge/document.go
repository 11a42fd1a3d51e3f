// Package knowledge manages the hybrid search index: document schema,
// idempotent upsert, and lexical plus vector ranking over PostgreSQL with
// pgvector.
package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// DocType tags the kind of knowledge a document carries.
type DocType string

const (
	DocTypeSQLPattern      DocType = "sql_pattern"
	DocTypeSchemaDoc       DocType = "schema_doc"
	DocTypeBusinessPattern DocType = "business_pattern"
)

// Tags is the filterable metadata attached to a document.
type Tags struct {
	Database       string `json:"database,omitempty"`
	Table          string `json:"table,omitempty"`
	SourceNotebook string `json:"source_notebook,omitempty"`
}

// Document is the unit persisted to the store.
type Document struct {
	ID        string
	Type      DocType
	Text      string
	Embedding []float32
	Tags      Tags
	CreatedAt time.Time
}

// ScoredDocument pairs a document with its retrieval score in [0,1].
type ScoredDocument struct {
	Document Document
	Score    float64
}

var idWhitespaceRe = regexp.MustCompile(`\s+`)

// DocumentID derives the stable id for a document: the hex SHA-256 of the
// type and whitespace-normalized text. Re-indexing unchanged content is
// therefore a no-op, and changed content produces a new id.
func DocumentID(docType DocType, text string) string {
	normalized := strings.TrimSpace(idWhitespaceRe.ReplaceAllString(text, " "))
	h := sha256.New()
	h.Write([]byte(docType))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

// NewDocument builds a document with its content-hash id. The embedding is
// attached later by the build pipeline.
func NewDocument(docType DocType, text string, tags Tags) Document {
	return Document{
		ID:   DocumentID(docType, text),
		Type: docType,
		Text: text,
		Tags: tags,
	}
}
