package rag

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIndex is an in-memory Index double that does brute-force L2 search
// over whatever records were Added, so Retriever's formulas can be tested
// without a real sqlite-vec or Qdrant backend. Add is called concurrently
// by Indexer.IndexDocuments, so access is mutex-guarded.
type fakeIndex struct {
	mu      sync.Mutex
	dims    int
	kind    string
	records []Record
}

func newFakeIndex(dims int) *fakeIndex { return &fakeIndex{dims: dims, kind: "exact"} }

func (f *fakeIndex) Dimensions() int   { return f.dims }
func (f *fakeIndex) IndexKind() string { return f.kind }
func (f *fakeIndex) Close() error      { return nil }

func (f *fakeIndex) Add(ctx context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeIndex) SimilaritySearch(ctx context.Context, queryVec []float32, k int, filter func(SearchResult) bool) ([]SearchResult, error) {
	type scored struct {
		r SearchResult
		d float64
	}
	var all []scored
	for _, rec := range f.records {
		d := l2Distance(queryVec, rec.Embedding)
		all = append(all, scored{r: SearchResult{
			ID: rec.ID, Text: rec.Text, Metadata: rec.Metadata,
			Distance: d, Similarity: 1.0 / (1.0 + d),
		}, d: d})
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].d < all[i].d {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	var out []SearchResult
	for _, s := range all {
		if filter != nil && !filter(s.r) {
			continue
		}
		out = append(out, s.r)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (f *fakeIndex) AllRecords(ctx context.Context) ([]Record, error) { return f.records, nil }

func (f *fakeIndex) Stats(ctx context.Context) (Stats, error) {
	return Stats{IndexKind: f.kind, Dimensions: f.dims, DocumentCount: len(f.records)}, nil
}

func (f *fakeIndex) Save(ctx context.Context) error { return nil }
func (f *fakeIndex) Load(ctx context.Context) error { return nil }

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

// fakeEmbedder returns a fixed vector per known text, keyed by exact match,
// so similarity ordering in tests is deterministic and easy to reason about.
type fakeEmbedder struct {
	dims   int
	vecFor map[string][]float32
}

func newFakeEmbedder(dims int) *fakeEmbedder {
	return &fakeEmbedder{dims: dims, vecFor: make(map[string][]float32)}
}

func (e *fakeEmbedder) Dimensions() int { return e.dims }

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vecFor[t]; ok {
			out[i] = v
			continue
		}
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}

func TestRetriever_SimilaritySearch_OrdersByAscendingDistance(t *testing.T) {
	idx := newFakeIndex(2)
	require.NoError(t, idx.Add(context.Background(), []Record{
		{ID: "near", Text: "near", Embedding: []float32{1, 1}},
		{ID: "far", Text: "far", Embedding: []float32{10, 10}},
	}))
	emb := newFakeEmbedder(2)
	emb.vecFor["query"] = []float32{1, 1}
	r := NewRetriever(idx, emb)

	results, err := r.SimilaritySearch(context.Background(), "query", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
	assert.Equal(t, "far", results[1].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 0.0001)
}

func TestRetriever_KeywordSearch_CountsOccurrencesAndExcludesZeroMatches(t *testing.T) {
	idx := newFakeIndex(1)
	require.NoError(t, idx.Add(context.Background(), []Record{
		{ID: "a", Text: "commission commission plan", Embedding: []float32{0}},
		{ID: "b", Text: "bonus structure", Embedding: []float32{0}},
		{ID: "c", Text: "commission rate", Embedding: []float32{0}},
	}))
	r := NewRetriever(idx, newFakeEmbedder(1))

	results, err := r.KeywordSearch(context.Background(), "commission", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, 2, results[0].MatchScore)
	assert.Equal(t, "c", results[1].ID)
	assert.Equal(t, 1, results[1].MatchScore)
}

func TestRetriever_HybridSearch_AlphaOneIsPureVector(t *testing.T) {
	idx := newFakeIndex(2)
	require.NoError(t, idx.Add(context.Background(), []Record{
		{ID: "vector-near", Text: "irrelevant text", Embedding: []float32{1, 1}},
		{ID: "keyword-match", Text: "commission commission commission", Embedding: []float32{50, 50}},
	}))
	emb := newFakeEmbedder(2)
	emb.vecFor["commission"] = []float32{1, 1}
	r := NewRetriever(idx, emb)

	results, err := r.HybridSearch(context.Background(), "commission", 2, 1.0, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "vector-near", results[0].ID)
}

func TestRetriever_HybridSearch_AlphaZeroIsPureKeyword(t *testing.T) {
	idx := newFakeIndex(2)
	require.NoError(t, idx.Add(context.Background(), []Record{
		{ID: "vector-near", Text: "irrelevant text", Embedding: []float32{1, 1}},
		{ID: "keyword-match", Text: "commission commission commission", Embedding: []float32{50, 50}},
	}))
	emb := newFakeEmbedder(2)
	emb.vecFor["commission"] = []float32{1, 1}
	r := NewRetriever(idx, emb)

	results, err := r.HybridSearch(context.Background(), "commission", 2, 0.0, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "keyword-match", results[0].ID)
}
