package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spmedge/pipeline/internal/chunk"
	"github.com/spmedge/pipeline/internal/config"
	"github.com/spmedge/pipeline/internal/estimator"
	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/rag"
	"github.com/spmedge/pipeline/internal/ragapi"
)

var (
	ragFrameworkDir  string
	ragFrameworkType string
	ragQuery         string
	ragQueryK        int
	ragQueryMode     string
	ragQueryAlpha    float64
	ragServeAddr     string
)

var ragCmd = &cobra.Command{
	Use:   "rag",
	Short: "RAG indexing, analysis, and retrieval operations",
}

var ragIndexFrameworkCmd = &cobra.Command{
	Use:   "index-framework",
	Short: "Index knowledge-base files (*_knowledge.json, *_framework_v*.xlsx) outside the document pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		idx, embedder, err := buildRAGIndex(ctx, a.cfg)
		if err != nil {
			return configError(err)
		}
		defer idx.Close()
		ix := newRAGIndexer(a.pctx, idx, embedder)

		dir := ragFrameworkDir
		if dir == "" {
			dir = a.cfg.RAG.FrameworkDir
		}
		count, err := ix.IndexFrameworkDocuments(ctx, dir, ragFrameworkType)
		if err != nil {
			return operationalError(err)
		}
		if err := idx.Save(ctx); err != nil {
			return operationalError(err)
		}
		fmt.Printf("indexed %d framework file(s)\n", count)
		return nil
	},
}

var ragIndexPipelineCmd = &cobra.Command{
	Use:   "index-pipeline",
	Short: "Run the INDEX stage: chunk and embed PROCESS-stage results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		idx, embedder, err := buildRAGIndex(ctx, a.cfg)
		if err != nil {
			return configError(err)
		}
		defer idx.Close()
		ix := newRAGIndexer(a.pctx, idx, embedder)

		summary, err := ix.IndexDocuments(ctx, resolveLimit())
		if err != nil {
			return operationalError(err)
		}
		fmt.Printf("index: succeeded=%d failed=%d total=%d\n", summary.Succeeded, summary.Failed, summary.Total)
		if summary.Total > 0 && summary.Succeeded == 0 {
			return operationalError(fmt.Errorf("all %d documents failed to index", summary.Total))
		}
		return nil
	},
}

var ragQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a similarity, keyword, or hybrid search against the vector index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		if ragQuery == "" {
			return configError(fmt.Errorf("--query is required"))
		}

		idx, embedder, err := buildRAGIndex(ctx, a.cfg)
		if err != nil {
			return configError(err)
		}
		defer idx.Close()
		if err := idx.Load(ctx); err != nil {
			return operationalError(fmt.Errorf("load index: %w", err))
		}

		retriever := rag.NewRetriever(idx, embedder)

		var results []rag.SearchResult
		switch ragQueryMode {
		case "similarity", "":
			results, err = retriever.SimilaritySearch(ctx, ragQuery, ragQueryK, nil)
		case "keyword":
			results, err = retriever.KeywordSearch(ctx, ragQuery, ragQueryK, nil)
		case "hybrid":
			results, err = retriever.HybridSearch(ctx, ragQuery, ragQueryK, ragQueryAlpha, nil, nil)
		default:
			return configError(fmt.Errorf("unknown --mode %q (want similarity, keyword, or hybrid)", ragQueryMode))
		}
		if err != nil {
			return operationalError(err)
		}

		for i, r := range results {
			fmt.Printf("%d. [%s] score=%.4f %s\n", i+1, r.ID, bestScore(r), truncate(r.Text, 120))
		}
		return nil
	},
}

var ragServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query endpoint over HTTP (GET /api/query, GET /api/healthz)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		idx, embedder, err := buildRAGIndex(ctx, a.cfg)
		if err != nil {
			return configError(err)
		}
		defer idx.Close()
		if err := idx.Load(ctx); err != nil {
			return operationalError(fmt.Errorf("load index: %w", err))
		}

		srv := ragapi.NewServer(rag.NewRetriever(idx, embedder))
		fmt.Printf("serving query endpoint on %s\n", ragServeAddr)
		if err := ragapi.Run(ctx, ragServeAddr, srv.Handler()); err != nil {
			return operationalError(err)
		}
		return nil
	},
}

var ragAnalyzeCmd = &cobra.Command{
	Use:   "analyze <batch_id>",
	Short: "Estimate story points and hours for a batch's PROCESS-stage components",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		components, err := collectComponentsByCategory(ctx, a, args[0])
		if err != nil {
			return operationalError(err)
		}

		est := estimator.New()
		est.AnalyzeComponents(components)

		for category, total := range est.TotalEstimates() {
			fmt.Printf("%-20s components=%-4d count=%-4d hours=%.1f story_points=%.1f\n",
				category, total.ComponentCount, total.TotalCount, total.Hours, total.StoryPoints)
		}
		return nil
	},
}

func init() {
	ragIndexFrameworkCmd.Flags().StringVar(&ragFrameworkDir, "dir", "", "directory of knowledge-base files (default: rag.framework_dir)")
	ragIndexFrameworkCmd.Flags().StringVar(&ragFrameworkType, "type", "", "substring filter over matched filenames")

	ragQueryCmd.Flags().StringVar(&ragQuery, "query", "", "query text (required)")
	ragQueryCmd.Flags().IntVar(&ragQueryK, "k", 5, "number of results to return")
	ragQueryCmd.Flags().StringVar(&ragQueryMode, "mode", "similarity", "similarity, keyword, or hybrid")
	ragQueryCmd.Flags().Float64Var(&ragQueryAlpha, "alpha", 0.5, "hybrid search vector/keyword weight (1.0 = pure vector, 0.0 = pure keyword)")

	ragServeCmd.Flags().StringVar(&ragServeAddr, "addr", ":8081", "address to listen on")

	ragCmd.AddCommand(ragIndexFrameworkCmd, ragIndexPipelineCmd, ragQueryCmd, ragServeCmd, ragAnalyzeCmd)
}

// buildRAGIndex constructs the configured vector-store backend and the
// embedder used both for indexing and for query-time vectorization.
func buildRAGIndex(ctx context.Context, cfg *config.Config) (rag.Index, rag.Embedder, error) {
	embedder := rag.NewGenaiEmbedder(cfg.RAG.EmbeddingModel, cfg.RAG.EmbeddingAPIKey, cfg.RAG.Dimensions)

	switch cfg.RAG.Backend {
	case "sqlitevec", "":
		idx, err := rag.NewSQLiteVecIndex(cfg.RAG.Path, cfg.RAG.Dimensions, cfg.RAG.IndexKind)
		if err != nil {
			return nil, nil, err
		}
		return idx, embedder, nil
	case "qdrant":
		idx, err := rag.NewQdrantIndex(ctx, cfg.RAG.QdrantAddr, cfg.RAG.Collection, cfg.RAG.Dimensions, cfg.RAG.IndexKind, cfg.RAG.Path)
		if err != nil {
			return nil, nil, err
		}
		return idx, embedder, nil
	default:
		return nil, nil, fmt.Errorf("rag.backend %q: unknown backend (want sqlitevec or qdrant)", cfg.RAG.Backend)
	}
}

func newRAGIndexer(pctx *pipeline.Context, idx rag.Index, embedder rag.Embedder) *rag.Indexer {
	return rag.NewIndexer(pctx, idx, embedder, chunk.DefaultOptions())
}

func bestScore(r rag.SearchResult) float64 {
	switch {
	case r.CombinedScore != 0:
		return r.CombinedScore
	case r.Similarity != 0:
		return r.Similarity
	default:
		return float64(r.MatchScore)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// collectComponentsByCategory extracts a category -> component-name map
// from every document in batchID, reading the "spm_components" metadata
// patch the cleaner attaches (spec §4.4's extract_spm_components output)
// when present: each list-valued category contributes the "name" field of
// its entries. Uses DocumentsForBatch rather than DocumentsForStage so a
// batch that has already advanced past PROCESS (e.g. completed INDEX)
// still reports its components — DocumentsForStage would exclude it.
func collectComponentsByCategory(ctx context.Context, a *app, batchID string) (map[string][]string, error) {
	docs, err := a.st.DocumentsForBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch documents: %w", err)
	}

	out := make(map[string][]string)
	for _, doc := range docs {
		full, err := a.st.GetDocument(ctx, doc.ID)
		if err != nil {
			continue
		}
		raw, ok := full.Metadata["spm_components"]
		if !ok {
			continue
		}
		b, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var byCategory map[string]json.RawMessage
		if err := json.Unmarshal(b, &byCategory); err != nil {
			continue
		}
		for category, value := range byCategory {
			var items []map[string]any
			if json.Unmarshal(value, &items) != nil {
				continue
			}
			for _, item := range items {
				if name, ok := item["name"].(string); ok && name != "" {
					out[category] = append(out[category], name)
				}
			}
		}
	}
	return out, nil
}
