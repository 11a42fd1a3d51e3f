// Package query turns natural-language questions into SQL. The engine
// embeds the question, retrieves similar historical queries and schema
// documents from the knowledge store, composes a bounded prompt, and
// parses the generative provider's response into a confidence-scored,
// cited result.
package query

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/quarrydev/quarry/internal/analyzer"
	"github.com/quarrydev/quarry/internal/embedding"
	"github.com/quarrydev/quarry/internal/knowledge"
)

// Citation is one retrieved historical query surfaced with the result.
type Citation struct {
	Snippet        string
	Similarity     float64
	SourceNotebook string
}

// SQLResult is the outcome of one generation call. A result with zero
// confidence and an explanatory note, not an error, is returned when
// retrieval finds no usable context.
type SQLResult struct {
	SQL           string
	Confidence    float64
	Explanation   string
	Citations     []Citation
	SchemaContext string
	Latency       time.Duration
}

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type retriever interface {
	SearchHybrid(ctx context.Context, query string, vec []float32, k int, textWeight float64, docType knowledge.DocType) ([]knowledge.ScoredDocument, error)
	SearchVector(ctx context.Context, vec []float32, k int, docType knowledge.DocType) ([]knowledge.ScoredDocument, error)
	GetByType(ctx context.Context, docType knowledge.DocType, limit int) ([]knowledge.Document, error)
	SchemaTables(ctx context.Context) ([]string, error)
}

type completer interface {
	Complete(ctx context.Context, prompt string, modelID string) (string, error)
}

// Config tunes retrieval and scoring.
type Config struct {
	GenerationModel     string
	TextWeight          float64 // hybrid lexical weight in [0,1]
	SimilarityThreshold float64 // minimum similarity for a citation
	AllowMutations      bool    // permit non-SELECT statements in ValidateSQL
}

// Engine is safe for concurrent use; it holds no mutable state beyond
// its read-only collaborators.
type Engine struct {
	embedder  embedder
	store     retriever
	completer completer
	analyzer  *analyzer.Analyzer
	cfg       Config
	logger    *slog.Logger
}

func NewEngine(emb embedder, store retriever, comp completer, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder:  emb,
		store:     store,
		completer: comp,
		analyzer:  analyzer.New(),
		cfg:       cfg,
		logger:    logger,
	}
}

// GenerateSQL answers a natural-language question with generated SQL.
// Provider and retrieval failures degrade to a zero-confidence result;
// the error return is reserved for context cancellation.
func (e *Engine) GenerateSQL(ctx context.Context, question string, maxSimilar int, hybrid bool) (*SQLResult, error) {
	started := time.Now()
	if maxSimilar < 1 {
		maxSimilar = 5
	}

	vec, err := e.embedder.Embed(ctx, embedding.PrepareQueryText(question))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Error("embedding question failed", "error", err)
		return e.emptyResult("failed to embed the question", started), nil
	}

	similar, err := e.retrieveSimilar(ctx, question, vec, maxSimilar, hybrid)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Error("retrieval failed", "error", err)
		return e.emptyResult("knowledge base search failed", started), nil
	}
	if len(similar) == 0 {
		e.logger.Warn("no similar queries found", "question", truncateForLog(question))
		return e.emptyResult("no similar queries found in the knowledge base", started), nil
	}

	schemaContext := e.schemaContext(ctx, similar)
	businessContext := e.businessContext(ctx)
	prompt := buildPrompt(question, similar, schemaContext, businessContext)

	raw, err := e.completer.Complete(ctx, prompt, e.cfg.GenerationModel)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Error("generation failed", "error", err)
		return e.emptyResult("the generative provider did not return a response", started), nil
	}

	parsed := parseResponse(raw)
	if parsed.SQL == "" {
		e.logger.Warn("provider response contained no SQL")
		return e.emptyResult("the provider response contained no SQL statement", started), nil
	}

	result := &SQLResult{
		SQL:           parsed.SQL,
		Confidence:    scoreConfidence(similar[0].Score, tableAgreement(similar), parsed.Confidence),
		Explanation:   parsed.Explanation,
		Citations:     e.citations(similar),
		SchemaContext: schemaContext,
		Latency:       time.Since(started),
	}
	e.logger.Info("generated SQL",
		"confidence", result.Confidence,
		"citations", len(result.Citations),
		"latency", result.Latency)
	return result, nil
}

func (e *Engine) retrieveSimilar(ctx context.Context, question string, vec []float32, k int, hybrid bool) ([]knowledge.ScoredDocument, error) {
	if hybrid {
		return e.store.SearchHybrid(ctx, question, vec, k, e.cfg.TextWeight, knowledge.DocTypeSQLPattern)
	}
	return e.store.SearchVector(ctx, vec, k, knowledge.DocTypeSQLPattern)
}

// schemaContext collects schema documents for every table the retrieved
// patterns reference. A pattern's tag carries only its dominant table,
// so the pattern text is re-analyzed to recover join partners. When no
// table can be identified every indexed schema document qualifies,
// bounded by the store's default page size.
func (e *Engine) schemaContext(ctx context.Context, similar []knowledge.ScoredDocument) string {
	docs, err := e.store.GetByType(ctx, knowledge.DocTypeSchemaDoc, 0)
	if err != nil {
		e.logger.Warn("loading schema documents failed", "error", err)
		return ""
	}

	wanted := make(map[string]bool)
	for _, sd := range similar {
		if t := bareTable(sd.Document.Tags.Table); t != "" {
			wanted[t] = true
		}
		for _, t := range e.analyzer.Analyze(sd.Document.Text, "").Tables {
			if t = bareTable(t); t != "" {
				wanted[t] = true
			}
		}
	}

	var parts []string
	for _, doc := range docs {
		if len(wanted) > 0 && !wanted[bareTable(doc.Tags.Table)] {
			continue
		}
		parts = append(parts, doc.Text)
	}
	return strings.Join(parts, "\n\n")
}

// bareTable lowercases a table reference and strips any database or
// schema qualifier, leaving the final name component.
func bareTable(name string) string {
	name = strings.ToLower(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func (e *Engine) businessContext(ctx context.Context) string {
	docs, err := e.store.GetByType(ctx, knowledge.DocTypeBusinessPattern, 1)
	if err != nil || len(docs) == 0 {
		return ""
	}
	return docs[0].Text
}

func (e *Engine) citations(similar []knowledge.ScoredDocument) []Citation {
	var cites []Citation
	for _, sd := range similar {
		if sd.Score < e.cfg.SimilarityThreshold {
			continue
		}
		cites = append(cites, Citation{
			Snippet:        truncateForLog(sd.Document.Text),
			Similarity:     sd.Score,
			SourceNotebook: sd.Document.Tags.SourceNotebook,
		})
	}
	return cites
}

func (e *Engine) emptyResult(note string, started time.Time) *SQLResult {
	return &SQLResult{Explanation: note, Latency: time.Since(started)}
}

// scoreConfidence blends the top retrieval similarity, the table
// agreement across retrieved patterns, and the provider's self-reported
// confidence. Without a provider signal the remaining weights are
// renormalized. The result is clamped to [0,1].
func scoreConfidence(topSimilarity, agreement float64, providerConfidence *float64) float64 {
	const (
		wSimilarity = 0.5
		wAgreement  = 0.2
		wProvider   = 0.3
	)
	var score float64
	if providerConfidence != nil {
		score = wSimilarity*topSimilarity + wAgreement*agreement + wProvider*clamp01(*providerConfidence)
	} else {
		score = (wSimilarity*topSimilarity + wAgreement*agreement) / (wSimilarity + wAgreement)
	}
	return clamp01(score)
}

// tableAgreement measures how strongly the retrieved patterns agree on a
// single table: the share of table-tagged patterns carrying the modal
// table name. No tags means no signal.
func tableAgreement(similar []knowledge.ScoredDocument) float64 {
	counts := make(map[string]int)
	total := 0
	for _, sd := range similar {
		t := strings.ToLower(sd.Document.Tags.Table)
		if t == "" {
			continue
		}
		counts[t]++
		total++
	}
	if total == 0 {
		return 0
	}
	modal := 0
	for _, n := range counts {
		if n > modal {
			modal = n
		}
	}
	return float64(modal) / float64(total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortedLower(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToLower(s)
	}
	sort.Strings(out)
	return out
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
