package knowledge

import "sort"

// combineHybrid merges lexical and vector candidate lists into one ranking:
// score = textWeight*normalizedLexical + (1-textWeight)*cosineSimilarity.
// Lexical scores are normalized by the list maximum so both components live
// in [0,1]; a document missing from one list contributes zero for that
// component. textWeight 1 reproduces the lexical ranking, 0 the vector
// ranking. Results are truncated to k with ties broken by document id.
func combineHybrid(lexical, vector []ScoredDocument, k int, textWeight float64) []ScoredDocument {
	if textWeight < 0 {
		textWeight = 0
	}
	if textWeight > 1 {
		textWeight = 1
	}

	var maxLex float64
	for _, d := range lexical {
		if d.Score > maxLex {
			maxLex = d.Score
		}
	}

	type parts struct {
		doc      Document
		lex, vec float64
	}
	byID := map[string]*parts{}
	for _, d := range lexical {
		score := d.Score
		if maxLex > 0 {
			score /= maxLex
		}
		byID[d.Document.ID] = &parts{doc: d.Document, lex: score}
	}
	for _, d := range vector {
		if p, ok := byID[d.Document.ID]; ok {
			p.vec = d.Score
			continue
		}
		byID[d.Document.ID] = &parts{doc: d.Document, vec: d.Score}
	}

	combined := make([]ScoredDocument, 0, len(byID))
	for _, p := range byID {
		combined = append(combined, ScoredDocument{
			Document: p.doc,
			Score:    textWeight*p.lex + (1-textWeight)*p.vec,
		})
	}

	sort.Slice(combined, func(i, j int) bool {
		if combined[i].Score != combined[j].Score {
			return combined[i].Score > combined[j].Score
		}
		return combined[i].Document.ID < combined[j].Document.ID
	})
	if len(combined) > k {
		combined = combined[:k]
	}
	return combined
}

// clamp01 bounds a similarity score to [0,1]; pgvector cosine distance can
// drift slightly outside due to float rounding.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
