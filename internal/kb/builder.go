// Package kb orchestrates the knowledge-base build pipeline: catalog
// metadata, notebook SQL extraction, pattern analysis, embedding, and
// indexing, as a resumable and idempotent sequence of stages.
package kb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydev/quarry/internal/analyzer"
	"github.com/quarrydev/quarry/internal/catalog"
	"github.com/quarrydev/quarry/internal/embedding"
	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/notebook"
)

// Stage identifies one step of the build state machine.
type Stage string

const (
	StageNotStarted         Stage = "not_started"
	StageIndexEnsuring      Stage = "index_ensuring"
	StageMetadataExtracting Stage = "metadata_extracting"
	StageNotebookProcessing Stage = "notebook_processing"
	StageEmbedding          Stage = "embedding"
	StageIndexing           Stage = "indexing"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// StageRecord captures one completed stage for Stats.
type StageRecord struct {
	Stage    Stage
	Items    int
	Duration time.Duration
}

// Failure records one item that could not be processed. Per-item failures
// never abort the build.
type Failure struct {
	Kind string // "notebook", "table", "embedding"
	Item string
	Err  error
}

// Report is the structured result of one build run.
type Report struct {
	RunID               uuid.UUID
	Success             bool
	NotebooksDiscovered int
	NotebooksParsed     int
	SQLExtracts         int
	TablesFetched       int
	DocumentsNew        int
	DocumentsSkipped    int
	DocumentsIndexed    int
	Failures            []Failure
	Duration            time.Duration
}

// Consumer-side interfaces over the pipeline collaborators.

type ingester interface {
	Discover() ([]notebook.Ref, error)
	ParseMany(ctx context.Context, refs []notebook.Ref, maxWorkers int) ([]*notebook.Notebook, []notebook.Failure)
	ExtractSQL(notebooks []*notebook.Notebook) []notebook.SQLExtract
}

type metadataExtractor interface {
	FetchAll(ctx context.Context, sel catalog.Selectors, maxWorkers int) ([]catalog.TableMetadata, []catalog.Failure)
}

type patternAnalyzer interface {
	Analyze(sql, context string) analyzer.Pattern
	AnalyzeCorpus(patterns []analyzer.Pattern) analyzer.BusinessPattern
}

type embedderPipeline interface {
	EmbedBatch(ctx context.Context, texts []string, maxWorkers int) [][]float32
}

type indexStore interface {
	EnsureIndex(ctx context.Context, forceRecreate bool) error
	Upsert(ctx context.Context, docs []knowledge.Document) (int, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// Config tunes a build run.
type Config struct {
	Selectors  catalog.Selectors
	MaxWorkers int
}

// Builder drives the build state machine. Stages run sequentially; each
// stage is internally parallel up to MaxWorkers.
type Builder struct {
	ingester  ingester
	extractor metadataExtractor
	analyzer  patternAnalyzer
	pipeline  embedderPipeline
	store     indexStore
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	stage   Stage
	records []StageRecord
}

// NewBuilder wires the pipeline collaborators into a Builder.
func NewBuilder(ing ingester, ext metadataExtractor, an patternAnalyzer,
	pipe embedderPipeline, store indexStore, cfg Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	return &Builder{
		ingester:  ing,
		extractor: ext,
		analyzer:  an,
		pipeline:  pipe,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		stage:     StageNotStarted,
	}
}

// Stats returns the current stage and the records of completed stages.
func (b *Builder) Stats() (Stage, []StageRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	records := make([]StageRecord, len(b.records))
	copy(records, b.records)
	return b.stage, records
}

func (b *Builder) setStage(stage Stage) {
	b.mu.Lock()
	b.stage = stage
	b.mu.Unlock()
}

func (b *Builder) recordStage(stage Stage, items int, started time.Time) {
	b.mu.Lock()
	b.records = append(b.records, StageRecord{
		Stage:    stage,
		Items:    items,
		Duration: time.Since(started),
	})
	b.mu.Unlock()
}

// Build runs the full pipeline. Without forceRebuild, documents whose
// content-hash id is already indexed are skipped, making repeated builds
// incremental. Only index-ensuring failures are fatal; everything else is
// collected into the report.
func (b *Builder) Build(ctx context.Context, forceRebuild bool) (*Report, error) {
	report := &Report{RunID: uuid.New()}
	started := time.Now()
	logger := b.logger.With("run_id", report.RunID)
	logger.Info("starting knowledge base build", "force_rebuild", forceRebuild)

	// Index ensuring is the one fatal stage: without a usable index
	// nothing downstream can land.
	stageStart := time.Now()
	b.setStage(StageIndexEnsuring)
	if err := b.store.EnsureIndex(ctx, forceRebuild); err != nil {
		b.setStage(StageFailed)
		report.Duration = time.Since(started)
		return report, fmt.Errorf("ensuring index: %w", err)
	}
	b.recordStage(StageIndexEnsuring, 1, stageStart)

	// Catalog metadata. A partial catalog is a valid build input.
	stageStart = time.Now()
	b.setStage(StageMetadataExtracting)
	tables, catFailures := b.extractor.FetchAll(ctx, b.cfg.Selectors, b.cfg.MaxWorkers)
	for _, f := range catFailures {
		report.Failures = append(report.Failures, Failure{
			Kind: "table", Item: f.Database + "." + f.Table, Err: f.Err,
		})
	}
	report.TablesFetched = len(tables)
	b.recordStage(StageMetadataExtracting, len(tables), stageStart)

	// Notebooks: discover, parse, extract, analyze.
	stageStart = time.Now()
	b.setStage(StageNotebookProcessing)
	extracts, patterns, err := b.processNotebooks(ctx, report)
	if err != nil {
		// Discovery failure leaves the notebook corpus empty but the
		// catalog side can still populate the index.
		report.Failures = append(report.Failures, Failure{Kind: "notebook", Item: "discovery", Err: err})
	}
	businessPattern := b.analyzer.AnalyzeCorpus(patterns)
	b.recordStage(StageNotebookProcessing, len(extracts), stageStart)

	// Assemble candidate documents and drop those already indexed.
	docs := b.assembleDocuments(extracts, patterns, tables, businessPattern)
	newDocs, skipped, err := b.filterExisting(ctx, docs, forceRebuild)
	if err != nil {
		report.Failures = append(report.Failures, Failure{Kind: "index", Item: "existing-id probe", Err: err})
		newDocs, skipped = docs, 0
	}
	report.DocumentsNew = len(newDocs)
	report.DocumentsSkipped = skipped

	// Embedding. A nil vector means that document permanently failed.
	stageStart = time.Now()
	b.setStage(StageEmbedding)
	texts := make([]string, len(newDocs))
	for i, doc := range newDocs {
		texts[i] = doc.Text
	}
	vectors := b.pipeline.EmbedBatch(ctx, texts, b.cfg.MaxWorkers)
	var embedded []knowledge.Document
	for i, vec := range vectors {
		if vec == nil {
			report.Failures = append(report.Failures, Failure{
				Kind: "embedding", Item: newDocs[i].ID,
				Err: fmt.Errorf("embedding failed for %s document", newDocs[i].Type),
			})
			continue
		}
		newDocs[i].Embedding = vec
		embedded = append(embedded, newDocs[i])
	}
	b.recordStage(StageEmbedding, len(embedded), stageStart)

	// Indexing.
	stageStart = time.Now()
	b.setStage(StageIndexing)
	indexed, err := b.store.Upsert(ctx, embedded)
	if err != nil {
		report.Failures = append(report.Failures, Failure{Kind: "index", Item: "upsert", Err: err})
	}
	report.DocumentsIndexed = indexed
	b.recordStage(StageIndexing, indexed, stageStart)

	report.Duration = time.Since(started)
	report.Success = indexed+skipped > 0
	if report.Success {
		b.setStage(StageCompleted)
	} else {
		b.setStage(StageFailed)
	}

	logger.Info("knowledge base build finished",
		"success", report.Success,
		"indexed", report.DocumentsIndexed,
		"skipped", report.DocumentsSkipped,
		"failures", len(report.Failures),
		"duration", report.Duration)
	return report, nil
}

// processNotebooks runs discovery through pattern analysis, recording
// per-notebook failures on the report.
func (b *Builder) processNotebooks(ctx context.Context, report *Report) ([]notebook.SQLExtract, []analyzer.Pattern, error) {
	refs, err := b.ingester.Discover()
	if err != nil {
		return nil, nil, err
	}
	report.NotebooksDiscovered = len(refs)

	parsed, parseFailures := b.ingester.ParseMany(ctx, refs, b.cfg.MaxWorkers)
	for _, f := range parseFailures {
		report.Failures = append(report.Failures, Failure{Kind: "notebook", Item: f.Ref.Path, Err: f.Err})
	}
	report.NotebooksParsed = len(parsed)

	extracts := b.ingester.ExtractSQL(parsed)
	report.SQLExtracts = len(extracts)

	patterns := make([]analyzer.Pattern, len(extracts))
	for i, ex := range extracts {
		patterns[i] = b.analyzer.Analyze(ex.SQL, ex.ContextBefore)
	}
	return extracts, patterns, nil
}

// assembleDocuments builds the candidate document set: one sql_pattern per
// extract, one schema_doc per table, and one business_pattern summary for
// the whole corpus.
func (b *Builder) assembleDocuments(extracts []notebook.SQLExtract, patterns []analyzer.Pattern,
	tables []catalog.TableMetadata, bp analyzer.BusinessPattern) []knowledge.Document {
	docs := make([]knowledge.Document, 0, len(extracts)+len(tables)+1)

	for i, ex := range extracts {
		tags := knowledge.Tags{SourceNotebook: ex.NotebookPath}
		if len(patterns[i].Tables) > 0 {
			tags.Table = patterns[i].Tables[0]
		}
		docs = append(docs, knowledge.NewDocument(
			knowledge.DocTypeSQLPattern, embedding.PrepareExtractText(ex), tags))
	}

	for _, t := range tables {
		docs = append(docs, knowledge.NewDocument(
			knowledge.DocTypeSchemaDoc, catalog.FormatTableDoc(t),
			knowledge.Tags{Database: t.Database, Table: t.Name}))
	}

	if text := analyzer.FormatForContext(bp); text != "" {
		docs = append(docs, knowledge.NewDocument(knowledge.DocTypeBusinessPattern, text, knowledge.Tags{}))
	}
	return docs
}

// filterExisting drops documents whose id is already indexed unless a
// force rebuild is running.
func (b *Builder) filterExisting(ctx context.Context, docs []knowledge.Document, forceRebuild bool) ([]knowledge.Document, int, error) {
	if forceRebuild || len(docs) == 0 {
		return docs, 0, nil
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	existing, err := b.store.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	var fresh []knowledge.Document
	for _, doc := range docs {
		if _, ok := existing[doc.ID]; ok {
			continue
		}
		fresh = append(fresh, doc)
	}
	return fresh, len(docs) - len(fresh), nil
}
