package knowledge

import (
	"math"
	"testing"
)

func scored(id string, score float64) ScoredDocument {
	return ScoredDocument{Document: Document{ID: id}, Score: score}
}

func ids(docs []ScoredDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Document.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCombineHybridPureLexical(t *testing.T) {
	t.Parallel()

	lexical := []ScoredDocument{scored("a", 0.9), scored("b", 0.5), scored("c", 0.1)}
	vector := []ScoredDocument{scored("c", 0.99), scored("b", 0.8), scored("a", 0.1)}

	got := combineHybrid(lexical, vector, 3, 1.0)
	if !equalIDs(ids(got), []string{"a", "b", "c"}) {
		t.Errorf("textWeight=1 order = %v, want lexical order [a b c]", ids(got))
	}
}

func TestCombineHybridPureVector(t *testing.T) {
	t.Parallel()

	lexical := []ScoredDocument{scored("a", 0.9), scored("b", 0.5)}
	vector := []ScoredDocument{scored("c", 0.99), scored("b", 0.8), scored("a", 0.1)}

	got := combineHybrid(lexical, vector, 3, 0.0)
	if !equalIDs(ids(got), []string{"c", "b", "a"}) {
		t.Errorf("textWeight=0 order = %v, want vector order [c b a]", ids(got))
	}
}

func TestCombineHybridBlendsScores(t *testing.T) {
	t.Parallel()

	lexical := []ScoredDocument{scored("a", 2.0), scored("b", 1.0)}
	vector := []ScoredDocument{scored("b", 0.9)}

	got := combineHybrid(lexical, vector, 2, 0.5)
	// a: 0.5*1.0 + 0.5*0 = 0.5; b: 0.5*0.5 + 0.5*0.9 = 0.7
	if !equalIDs(ids(got), []string{"b", "a"}) {
		t.Fatalf("order = %v, want [b a]", ids(got))
	}
	if !almostEqual(got[0].Score, 0.7) || !almostEqual(got[1].Score, 0.5) {
		t.Errorf("scores = %v/%v, want 0.7/0.5", got[0].Score, got[1].Score)
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCombineHybridNormalizesLexical(t *testing.T) {
	t.Parallel()

	// Raw ts_rank scores are unbounded; the max must map to 1.
	lexical := []ScoredDocument{scored("a", 12.5), scored("b", 6.25)}
	got := combineHybrid(lexical, nil, 2, 1.0)
	if got[0].Score != 1.0 {
		t.Errorf("top normalized score = %v, want 1.0", got[0].Score)
	}
	if got[1].Score != 0.5 {
		t.Errorf("second normalized score = %v, want 0.5", got[1].Score)
	}
}

func TestCombineHybridTruncatesAndTieBreaks(t *testing.T) {
	t.Parallel()

	vector := []ScoredDocument{scored("z", 0.5), scored("a", 0.5), scored("m", 0.5)}
	got := combineHybrid(nil, vector, 2, 0.0)
	if !equalIDs(ids(got), []string{"a", "m"}) {
		t.Errorf("order = %v, want tie broken by id and truncated to k", ids(got))
	}
}

func TestCombineHybridClampsWeight(t *testing.T) {
	t.Parallel()

	vector := []ScoredDocument{scored("a", 0.9)}
	got := combineHybrid(nil, vector, 1, 1.5)
	if len(got) != 1 || got[0].Score != 0 {
		t.Errorf("weight clamped to 1 should zero out vector-only doc, got %v", got)
	}
}

func TestCombineHybridEmptyInputs(t *testing.T) {
	t.Parallel()

	if got := combineHybrid(nil, nil, 5, 0.3); len(got) != 0 {
		t.Errorf("got %d results for empty input", len(got))
	}
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want float64 }{
		{-0.01, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {1.01, 1},
	}
	for _, tt := range tests {
		if got := clamp01(tt.in); got != tt.want {
			t.Errorf("clamp01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
