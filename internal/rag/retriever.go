package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Retriever composes an Index and an Embedder into the three search modes
// the RAG layer exposes: pure vector, pure keyword, and an alpha-weighted
// blend of both (spec §4.6).
type Retriever struct {
	index    Index
	embedder Embedder
}

func NewRetriever(index Index, embedder Embedder) *Retriever {
	return &Retriever{index: index, embedder: embedder}
}

// SimilaritySearch embeds the query text and delegates to the index's KNN
// search, which over-fetches 2k internally when a filter is supplied.
func (r *Retriever) SimilaritySearch(ctx context.Context, query string, k int, filter func(SearchResult) bool) ([]SearchResult, error) {
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	results, err := r.index.SimilaritySearch(ctx, vecs[0], k, filter)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].VectorScore = results[i].Similarity
	}
	return results, nil
}

// KeywordSearch lowercases the query into tokens and sums occurrence counts
// across the configured fields of every record's text (and, if requested,
// metadata values), returning the top k by count. Zero-match records are
// excluded.
func (r *Retriever) KeywordSearch(ctx context.Context, query string, k int, fields []string) ([]SearchResult, error) {
	records, err := r.index.AllRecords(ctx)
	if err != nil {
		return nil, err
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	var scored []SearchResult
	for _, rec := range records {
		count := 0
		haystacks := fieldValues(rec, fields)
		for _, h := range haystacks {
			lower := strings.ToLower(h)
			for _, tok := range tokens {
				count += strings.Count(lower, tok)
			}
		}
		if count == 0 {
			continue
		}
		scored = append(scored, SearchResult{
			ID:         rec.ID,
			Text:       rec.Text,
			Metadata:   rec.Metadata,
			MatchScore: count,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].MatchScore > scored[j].MatchScore })
	if len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].KeywordScore = float64(scored[i].MatchScore)
	}
	return scored, nil
}

// HybridSearch runs both searches over a 2k candidate pool, normalizes the
// keyword score by the max score in the keyword result set, and combines
// alpha*similarity + (1-alpha)*normalized_keyword. alpha=0 is pure keyword,
// alpha=1 is pure vector.
func (r *Retriever) HybridSearch(ctx context.Context, query string, k int, alpha float64, fields []string, filter func(SearchResult) bool) ([]SearchResult, error) {
	fetch := k * 2
	vecResults, err := r.SimilaritySearch(ctx, query, fetch, nil)
	if err != nil {
		return nil, err
	}
	kwResults, err := r.KeywordSearch(ctx, query, fetch, fields)
	if err != nil {
		return nil, err
	}

	maxKeyword := 0.0
	kwByID := make(map[string]SearchResult, len(kwResults))
	for _, kw := range kwResults {
		kwByID[kw.ID] = kw
		if kw.KeywordScore > maxKeyword {
			maxKeyword = kw.KeywordScore
		}
	}

	combined := make(map[string]SearchResult)
	for _, v := range vecResults {
		combined[v.ID] = v
	}
	for _, kw := range kwResults {
		if existing, ok := combined[kw.ID]; ok {
			existing.KeywordScore = kw.KeywordScore
			combined[kw.ID] = existing
		} else {
			combined[kw.ID] = kw
		}
	}

	var out []SearchResult
	for id, res := range combined {
		normalizedKeyword := 0.0
		if maxKeyword > 0 {
			if kw, ok := kwByID[id]; ok {
				normalizedKeyword = kw.KeywordScore / maxKeyword
			}
		}
		res.CombinedScore = alpha*res.VectorScore + (1-alpha)*normalizedKeyword
		if filter != nil && !filter(res) {
			continue
		}
		out = append(out, res)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CombinedScore > out[j].CombinedScore })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func fieldValues(rec Record, fields []string) []string {
	if len(fields) == 0 {
		return []string{rec.Text}
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "text" {
			out = append(out, rec.Text)
			continue
		}
		if v, ok := rec.Metadata[f]; ok {
			if s, ok := v.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(v))
			}
		}
	}
	return out
}
