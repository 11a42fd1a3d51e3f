package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quarrydev/quarry/internal/notebook"
	"github.com/quarrydev/quarry/internal/provider"
)

type mockEmbedder struct {
	mu        sync.Mutex
	calls     int
	failTexts map[string]error
	failFirst int // fail this many leading calls with a transient error
}

func (m *mockEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.failFirst > 0 {
		m.failFirst--
		return nil, &provider.Error{Kind: provider.KindTransient, Op: "embed", Err: errors.New("throttled")}
	}
	for _, text := range texts {
		if err, ok := m.failTexts[text]; ok {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func testConfig() Config {
	return Config{
		BatchSize:         2,
		RequestsPerSecond: 1000,
		CallTimeout:       time.Second,
		MaxAttempts:       3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
	}
}

func TestEmbedBatchPreservesLengthAndOrder(t *testing.T) {
	t.Parallel()

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	p := NewPipeline(&mockEmbedder{}, testConfig(), nil)

	got := p.EmbedBatch(context.Background(), texts, 3)
	if len(got) != len(texts) {
		t.Fatalf("got %d results, want %d", len(got), len(texts))
	}
	for i, vec := range got {
		if vec == nil {
			t.Fatalf("position %d is nil, want vector", i)
		}
		if vec[0] != float32(len(texts[i])) {
			t.Errorf("position %d = %v, want first component %d", i, vec, len(texts[i]))
		}
	}
}

func TestEmbedBatchNilAtPermanentlyFailedPositions(t *testing.T) {
	t.Parallel()

	permanent := &provider.Error{Kind: provider.KindPermanent, Op: "embed", Err: errors.New("invalid input")}
	m := &mockEmbedder{failTexts: map[string]error{"bad": permanent}}

	cfg := testConfig()
	cfg.BatchSize = 1
	p := NewPipeline(m, cfg, nil)

	got := p.EmbedBatch(context.Background(), []string{"ok1", "bad", "ok2"}, 2)
	if got[0] == nil || got[2] == nil {
		t.Errorf("healthy positions affected by failure: %v", got)
	}
	if got[1] != nil {
		t.Errorf("failed position = %v, want nil", got[1])
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	t.Parallel()

	p := NewPipeline(&mockEmbedder{}, testConfig(), nil)
	if got := p.EmbedBatch(context.Background(), nil, 4); len(got) != 0 {
		t.Errorf("got %d results for empty input", len(got))
	}
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	m := &mockEmbedder{failFirst: 2}
	p := NewPipeline(m, testConfig(), nil)

	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v, want recovery after transient failures", err)
	}
	if vec == nil {
		t.Fatal("Embed() returned nil vector")
	}
	if m.calls != 3 {
		t.Errorf("provider called %d times, want 3", m.calls)
	}
}

func TestEmbedPermanentFailureNotRetried(t *testing.T) {
	t.Parallel()

	permanent := &provider.Error{Kind: provider.KindPermanent, Op: "embed", Err: errors.New("bad request")}
	m := &mockEmbedder{failTexts: map[string]error{"x": permanent}}
	p := NewPipeline(m, testConfig(), nil)

	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for permanent failure")
	}
	if m.calls != 1 {
		t.Errorf("provider called %d times, want 1 (no retry)", m.calls)
	}
}

func TestEmbedBatchChunksBySize(t *testing.T) {
	t.Parallel()

	m := &mockEmbedder{}
	cfg := testConfig()
	cfg.BatchSize = 2
	p := NewPipeline(m, cfg, nil)

	p.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"}, 1)
	if m.calls != 3 {
		t.Errorf("provider called %d times, want 3 chunks of size <=2", m.calls)
	}
}

func TestPrepareExtractText(t *testing.T) {
	t.Parallel()

	extract := notebook.SQLExtract{
		SQL:           "%%sql\nSELECT * FROM orders -- latest",
		ContextBefore: "Monthly orders report.",
		ContextAfter:  "Feeds the dashboard.",
		NotebookPath:  "analytics/finance/orders.ipynb",
	}

	got := PrepareExtractText(extract)
	for _, want := range []string{
		"Context: Monthly orders report.",
		"Query: SELECT * FROM orders",
		"Description: Feeds the dashboard.",
		"Source: finance/orders.ipynb",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	if strings.Contains(got, "%%sql") || strings.Contains(got, "-- latest") {
		t.Errorf("magic or comment leaked into %q", got)
	}
}

func TestPrepareExtractTextRedactsLongLiterals(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 200)
	extract := notebook.SQLExtract{SQL: fmt.Sprintf("SELECT * FROM t WHERE blob = '%s'", long)}

	got := PrepareExtractText(extract)
	if strings.Contains(got, long) {
		t.Error("long literal not redacted")
	}
	if !strings.Contains(got, "<LONG_STRING>") {
		t.Errorf("placeholder missing in %q", got)
	}
}

func TestPrepareQueryText(t *testing.T) {
	t.Parallel()

	got := PrepareQueryText("  What are the top orders grouped by region? Use a join.  ")
	if !strings.HasPrefix(got, "Question: What are the top orders") {
		t.Errorf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "SQL concepts:") || !strings.Contains(got, "join") {
		t.Errorf("keyword hints missing: %q", got)
	}

	plain := PrepareQueryText("How many users signed up?")
	if strings.Contains(plain, "SQL concepts:") {
		t.Errorf("unexpected keyword hints for plain question: %q", plain)
	}
}

func TestPrepareQueryTextTruncates(t *testing.T) {
	t.Parallel()

	got := PrepareQueryText(strings.Repeat("q", 20000))
	if len(got) > maxEmbedTextLen {
		t.Errorf("len = %d, want <= %d", len(got), maxEmbedTextLen)
	}
}
