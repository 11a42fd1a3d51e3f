package notebook

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Ingester discovers and parses notebooks under a source directory.
//
// Safe for concurrent use: Ingester holds no mutable state after
// construction.
type Ingester struct {
	source        string
	contextWindow int
	logger        *slog.Logger
}

// NewIngester creates an Ingester rooted at source. contextWindow is the
// number of markdown cells captured on each side of a SQL cell.
func NewIngester(source string, contextWindow int, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	if contextWindow < 0 {
		contextWindow = 0
	}
	return &Ingester{
		source:        source,
		contextWindow: contextWindow,
		logger:        logger,
	}
}

// Discover walks the source directory and returns references to every
// notebook found: .ipynb files as Jupyter, .json files whose payload has a
// paragraphs field as Zeppelin. Each call re-walks the tree, so the
// sequence is restartable.
func (ing *Ingester) Discover() ([]Ref, error) {
	info, err := os.Stat(ing.source)
	if err != nil {
		return nil, fmt.Errorf("notebook source %s: %w", ing.source, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("notebook source %s is not a directory", ing.source)
	}

	var refs []Ref
	err = filepath.WalkDir(ing.source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".ipynb":
			refs = append(refs, Ref{Path: path, Format: FormatJupyter})
		case ".json":
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				ing.logger.Warn("skipping unreadable file", "path", path, "error", readErr)
				return nil
			}
			if isZeppelinPayload(data) {
				refs = append(refs, Ref{Path: path, Format: FormatZeppelin})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", ing.source, err)
	}

	ing.logger.Info("discovered notebooks", "source", ing.source, "count", len(refs))
	return refs, nil
}

// Parse reads and parses a single notebook. Failures are reported as
// *ParseError.
func (ing *Ingester) Parse(ref Ref) (*Notebook, error) {
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, &ParseError{Path: ref.Path, Err: err}
	}

	reader, err := readerFor(ref.Format)
	if err != nil {
		return nil, &ParseError{Path: ref.Path, Err: err}
	}

	cells, err := reader.readCells(data)
	if err != nil {
		return nil, &ParseError{Path: ref.Path, Err: err}
	}

	return &Notebook{Path: ref.Path, Format: ref.Format, Cells: cells}, nil
}

// ParseMany parses refs with up to maxWorkers goroutines. Parsed notebooks
// come back in input order; notebooks without any SQL cell are dropped.
// Per-notebook failures are isolated and collected, never fatal.
func (ing *Ingester) ParseMany(ctx context.Context, refs []Ref, maxWorkers int) ([]*Notebook, []Failure) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	// Positional result slots: worker i writes results[i] only, so no
	// locking is needed beyond the errgroup join.
	results := make([]*Notebook, len(refs))
	errs := make([]error, len(refs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i, ref := range refs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			nb, err := ing.Parse(ref)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = nb
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in errs

	var parsed []*Notebook
	var failures []Failure
	for i, ref := range refs {
		if errs[i] != nil {
			failures = append(failures, Failure{Ref: ref, Err: errs[i]})
			continue
		}
		nb := results[i]
		if len(nb.SQLCells()) == 0 {
			continue
		}
		parsed = append(parsed, nb)
	}

	ing.logger.Info("parsed notebooks",
		"total", len(refs),
		"with_sql", len(parsed),
		"failed", len(failures))
	return parsed, failures
}

// ExtractSQL produces one SQLExtract per SQL cell across the given
// notebooks, capturing up to contextWindow markdown cells on each side.
func (ing *Ingester) ExtractSQL(notebooks []*Notebook) []SQLExtract {
	var extracts []SQLExtract

	for _, nb := range notebooks {
		for _, sqlCell := range nb.SQLCells() {
			extracts = append(extracts, SQLExtract{
				SQL:           StripMagic(sqlCell.Text),
				ContextBefore: ing.markdownBefore(nb, sqlCell.Index),
				ContextAfter:  ing.markdownAfter(nb, sqlCell.Index),
				NotebookPath:  nb.Path,
				Format:        nb.Format,
				CellIndex:     sqlCell.Index,
			})
		}
	}

	ing.logger.Info("extracted SQL statements", "count", len(extracts))
	return extracts
}

// markdownBefore collects up to contextWindow markdown cells preceding
// index, concatenated in document order.
func (ing *Ingester) markdownBefore(nb *Notebook, index int) string {
	var parts []string
	for i := index - 1; i >= 0 && len(parts) < ing.contextWindow; i-- {
		if nb.Cells[i].Type == CellMarkdown {
			parts = append(parts, nb.Cells[i].Text)
		}
	}
	// Collected walking backward; restore document order.
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return strings.Join(parts, " ")
}

// markdownAfter collects up to contextWindow markdown cells following index.
func (ing *Ingester) markdownAfter(nb *Notebook, index int) string {
	var parts []string
	for i := index + 1; i < len(nb.Cells) && len(parts) < ing.contextWindow; i++ {
		if nb.Cells[i].Type == CellMarkdown {
			parts = append(parts, nb.Cells[i].Text)
		}
	}
	return strings.Join(parts, " ")
}
