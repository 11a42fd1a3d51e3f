package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/quarrydev/quarry/db"
)

// ErrNotFound marks a document id absent from the index.
var ErrNotFound = errors.New("document not found")

// documentCols is the standard SELECT column list for scanDocuments.
const documentCols = `id, doc_type, content, embedding, tags, created_at`

// Stats summarizes index state.
type Stats struct {
	DocumentCount int64
	IndexSize     int64
	Status        string
}

// Store manages the documents index backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines. Readers never
// mutate index state.
type Store struct {
	pool      *pgxpool.Pool
	dbURL     string
	indexName string
	logger    *slog.Logger
}

// NewStore creates a Store. dbURL is the postgres:// URL used for
// migrations; indexName labels the index in stats and logs.
func NewStore(pool *pgxpool.Pool, dbURL, indexName string, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, dbURL: dbURL, indexName: indexName, logger: logger}, nil
}

// EnsureIndex brings the schema up to date. With forceRecreate the table
// is truncated afterward so a rebuild starts from nothing.
func (s *Store) EnsureIndex(ctx context.Context, forceRecreate bool) error {
	if err := db.Migrate(s.dbURL); err != nil {
		return fmt.Errorf("ensuring index %s: %w", s.indexName, err)
	}
	if forceRecreate {
		if _, err := s.pool.Exec(ctx, `TRUNCATE documents`); err != nil {
			return fmt.Errorf("recreating index %s: %w", s.indexName, err)
		}
		s.logger.Info("index recreated", "index", s.indexName)
	}
	return nil
}

// Upsert inserts documents by content-hash id. Re-submitting an unchanged
// document is a no-op; the returned count is rows actually inserted.
func (s *Store) Upsert(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	const insertSQL = `INSERT INTO documents (id, doc_type, content, embedding, tags)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, doc := range docs {
		var vec any
		if doc.Embedding != nil {
			vec = pgvector.NewVector(doc.Embedding)
		}
		batch.Queue(insertSQL, doc.ID, string(doc.Type), doc.Text, vec, doc.Tags)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck

	inserted := 0
	for range docs {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("upserting documents: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ExistingIDs reports which of the given ids are already indexed. The
// builder uses this to skip unchanged content on incremental builds.
func (s *Store) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT id FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("probing existing ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("probing existing ids: %w", err)
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

// Get fetches one document by id.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentCols+` FROM documents WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	return doc, nil
}

// GetByType returns up to limit documents of one type, newest first.
func (s *Store) GetByType(ctx context.Context, docType DocType, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+`
		 FROM documents
		 WHERE doc_type = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		string(docType), limit)
	if err != nil {
		return nil, fmt.Errorf("getting documents by type %s: %w", docType, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// SearchVector returns the k nearest documents by cosine similarity,
// optionally restricted to one document type.
func (s *Store) SearchVector(ctx context.Context, vec []float32, k int, docType DocType) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+`, 1 - (embedding <=> $1) AS similarity
		 FROM documents
		 WHERE embedding IS NOT NULL
		   AND ($2 = '' OR doc_type = $2)
		 ORDER BY embedding <=> $1, id
		 LIMIT $3`,
		pgvector.NewVector(vec), string(docType), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	return scanScoredDocuments(rows)
}

// SearchText returns the k best lexical matches ranked by ts_rank_cd over
// the generated tsvector column.
func (s *Store) SearchText(ctx context.Context, query string, k int, docType DocType) ([]ScoredDocument, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+`,
		        ts_rank_cd(tsv, plainto_tsquery('english', $1), 1)::float8 AS score
		 FROM documents
		 WHERE tsv @@ plainto_tsquery('english', $1)
		   AND ($2 = '' OR doc_type = $2)
		 ORDER BY score DESC, id
		 LIMIT $3`,
		query, string(docType), k)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()

	return scanScoredDocuments(rows)
}

// SearchHybrid blends lexical and vector rankings. Each side contributes
// its own top candidates and the scores combine in memory, so a weight of
// 1 reproduces SearchText ordering and 0 reproduces SearchVector.
func (s *Store) SearchHybrid(ctx context.Context, query string, vec []float32, k int, textWeight float64, docType DocType) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}

	lexical, err := s.SearchText(ctx, query, k, docType)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	vector, err := s.SearchVector(ctx, vec, k, docType)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return combineHybrid(lexical, vector, k, textWeight), nil
}

// SchemaTables returns the distinct table tags of indexed schema
// documents, sorted. SQL validation checks referenced tables against this
// set.
func (s *Store) SchemaTables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT tags->>'table'
		 FROM documents
		 WHERE doc_type = $1 AND tags->>'table' IS NOT NULL
		 ORDER BY 1`,
		string(DocTypeSchemaDoc))
	if err != nil {
		return nil, fmt.Errorf("listing schema tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing schema tables: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Stats reports document count and on-disk size of the index.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), pg_total_relation_size('documents') FROM documents`).
		Scan(&st.DocumentCount, &st.IndexSize)
	if err != nil {
		return Stats{Status: "red"}, fmt.Errorf("reading index stats: %w", err)
	}
	st.Status = "green"
	return st, nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var (
		doc     Document
		docType string
		vec     *pgvector.Vector
		created time.Time
	)
	if err := row.Scan(&doc.ID, &docType, &doc.Text, &vec, &doc.Tags, &created); err != nil {
		return nil, err
	}
	doc.Type = DocType(docType)
	doc.CreatedAt = created
	if vec != nil {
		doc.Embedding = vec.Slice()
	}
	return &doc, nil
}

func scanDocuments(rows pgx.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func scanScoredDocuments(rows pgx.Rows) ([]ScoredDocument, error) {
	var out []ScoredDocument
	for rows.Next() {
		var (
			doc     Document
			docType string
			vec     *pgvector.Vector
			created time.Time
			score   float64
		)
		if err := rows.Scan(&doc.ID, &docType, &doc.Text, &vec, &doc.Tags, &created, &score); err != nil {
			return nil, fmt.Errorf("scanning scored document: %w", err)
		}
		doc.Type = DocType(docType)
		doc.CreatedAt = created
		if vec != nil {
			doc.Embedding = vec.Slice()
		}
		out = append(out, ScoredDocument{Document: doc, Score: clamp01(score)})
	}
	return out, rows.Err()
}
