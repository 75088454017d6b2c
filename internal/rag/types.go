// Package rag implements the INDEX pipeline stage: chunking, embedding,
// vector-store persistence, and hybrid retrieval (spec §4.6).
package rag

import "context"

// Record is one embedded chunk ready for storage.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchResult is a retrieval hit. Only the score fields relevant to the
// search mode that produced it are populated.
type SearchResult struct {
	ID            string
	Text          string
	Metadata      map[string]any
	Distance      float64
	Similarity    float64
	MatchScore    int
	VectorScore   float64
	KeywordScore  float64
	CombinedScore float64
}

// Stats summarizes an index's current state, and doubles as the sidecar
// schema persisted next to the index for load-time sanity-checking
// (spec §4.6 "Persistence").
type Stats struct {
	IndexKind     string `json:"index_kind"`
	Dimensions    int    `json:"dimensions"`
	DocumentCount int    `json:"document_count"`
}

// Index is a vector store backend: add embedded chunks, run
// nearest-neighbor search, and persist/restore state.
type Index interface {
	Dimensions() int
	IndexKind() string
	Add(ctx context.Context, records []Record) error
	SimilaritySearch(ctx context.Context, queryVec []float32, k int, filter func(SearchResult) bool) ([]SearchResult, error)
	AllRecords(ctx context.Context) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
	Save(ctx context.Context) error
	Load(ctx context.Context) error
	Close() error
}

// Embedder turns text into dense vectors for indexing and querying.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
