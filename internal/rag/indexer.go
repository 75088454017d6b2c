package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/spmedge/pipeline/internal/chunk"
	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/store"
)

// maxConcurrentIndexing bounds how many documents are chunked and embedded
// at once; embedding calls have no cross-document rate-limit requirement
// (unlike PROCESS), so a bounded fan-out shortens a large batch's wall time.
const maxConcurrentIndexing = 4

// Indexer implements the INDEX pipeline stage: it chunks each PROCESS-stage
// structured result, embeds the chunks, and adds them to the configured
// vector Index (spec §4.6).
type Indexer struct {
	pctx     *pipeline.Context
	index    Index
	embedder Embedder
	opts     chunk.Options
}

func NewIndexer(pctx *pipeline.Context, index Index, embedder Embedder, opts chunk.Options) *Indexer {
	return &Indexer{pctx: pctx, index: index, embedder: embedder, opts: opts}
}

func (ix *Indexer) Stage() store.Stage { return store.StageIndex }

func (ix *Indexer) Run(ctx context.Context, docType string, limit int) (*pipeline.StageSummary, error) {
	return ix.IndexDocuments(ctx, limit)
}

// IndexDocuments chunks and embeds every document completed through
// PROCESS, adding their chunks to the vector index.
func (ix *Indexer) IndexDocuments(ctx context.Context, limit int) (*pipeline.StageSummary, error) {
	if limit <= 0 {
		if v, ok, _ := ix.pctx.Store.GetSetting(ctx, "batch.size"); ok {
			fmt.Sscanf(v, "%d", &limit)
		}
		if limit <= 0 {
			limit = 10
		}
	}

	docs, err := ix.pctx.Store.DocumentsForStage(ctx, store.StageProcess, store.StatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents for index: %w", err)
	}

	outcomes := make([]error, len(docs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentIndexing)
	for i, doc := range docs {
		g.Go(func() error {
			outcomes[i] = ix.indexOne(gCtx, doc)
			return nil
		})
	}
	_ = g.Wait() // per-document failures are embedded in outcomes, not returned

	summary := &pipeline.StageSummary{Stage: store.StageIndex, Total: len(docs)}
	for i, err := range outcomes {
		if err != nil {
			slog.Warn("rag: document failed to index", "document", docs[i].ID, "err", err)
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	if err := ix.index.Save(ctx); err != nil {
		slog.Warn("rag: failed to save index", "err", err)
	}
	return summary, nil
}

func (ix *Indexer) indexOne(ctx context.Context, doc *store.Document) error {
	content, err := ix.locateContent(doc)
	if err != nil || strings.TrimSpace(content) == "" {
		return ix.fail(ctx, doc, "No content found")
	}

	chunks := chunk.Split(doc.ID, content, ix.opts)
	if len(chunks) == 0 {
		return ix.fail(ctx, doc, "No chunks produced")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return ix.fail(ctx, doc, err.Error())
	}
	if len(embeddings) != len(chunks) {
		return ix.fail(ctx, doc, "embedding count does not match chunk count")
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:        c.ID,
			Text:      c.Text,
			Embedding: embeddings[i],
			Metadata: map[string]any{
				"document_id": doc.ID,
				"document":    doc.Name,
				"position":    c.Position,
				"batch_id":    doc.BatchID,
			},
		}
	}
	if err := ix.index.Add(ctx, records); err != nil {
		return ix.fail(ctx, doc, err.Error())
	}

	return ix.pctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageIndex, Status: store.StatusCompleted,
		BatchID: doc.BatchID, DocumentTypeID: doc.DocumentTypeID,
	})
}

func (ix *Indexer) fail(ctx context.Context, doc *store.Document, message string) error {
	err := fmt.Errorf("%s", message)
	if ctx.Err() != nil {
		message = pipeline.CancelledMessage
	}
	if upsertErr := ix.pctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageIndex, Status: store.StatusFailed,
		ErrorMessage: message, BatchID: doc.BatchID, DocumentTypeID: doc.DocumentTypeID,
	}); upsertErr != nil {
		slog.Error("rag: failed to upsert failure state", "document", doc.ID, "err", upsertErr)
	}
	return err
}

// locateContent reads the PROCESS-stage structured JSON for doc and
// flattens it into indexable text. raw_text fallback results (from
// processor.parseStructured) are indexed directly; well-formed structured
// results are re-serialized so every field is searchable text.
func (ix *Indexer) locateContent(doc *store.Document) (string, error) {
	short := strings.ReplaceAll(doc.ID, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	needle := "doc" + short

	dir := ix.pctx.StageDir(store.StageProcess)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read stage_process dir: %w", err)
	}
	var matchPath string
	for _, e := range entries {
		if strings.Contains(e.Name(), needle) {
			matchPath = filepath.Join(dir, e.Name())
			break
		}
	}
	if matchPath == "" {
		return "", fmt.Errorf("no processed file found for document %s", doc.ID)
	}

	data, err := os.ReadFile(matchPath)
	if err != nil {
		return "", err
	}

	var structured map[string]any
	if err := json.Unmarshal(data, &structured); err != nil {
		return string(data), nil
	}
	if raw, ok := structured["raw_text"].(string); ok && len(structured) == 1 {
		return raw, nil
	}
	return flattenJSON(structured), nil
}

// flattenJSON renders a structured extraction as "key: value" lines so
// every field participates in keyword search, not just whichever field
// happens to hold free text.
func flattenJSON(data map[string]any) string {
	var b strings.Builder
	flattenInto(&b, "", data)
	return b.String()
}

func flattenInto(b *strings.Builder, prefix string, v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, nested := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenInto(b, key, nested)
		}
	case []any:
		for i, item := range val {
			flattenInto(b, fmt.Sprintf("%s[%d]", prefix, i), item)
		}
	default:
		fmt.Fprintf(b, "%s: %v\n", prefix, val)
	}
}
