// Package loader implements the LOAD stage: it locates each document's
// source file, extracts its content with a format-aware extractor, builds
// a RAG-ready record, and writes a canonical JSON (or text/markdown)
// artifact to stage_load/.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spmedge/pipeline/internal/chunk"
	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/store"
)

// OutputFormat is the artifact serialization requested by the caller.
type OutputFormat string

const (
	OutputJSON     OutputFormat = "json"
	OutputText     OutputFormat = "text"
	OutputMarkdown OutputFormat = "markdown"
)

// Loader implements the Document Loader contract (spec §4.3).
type Loader struct {
	ctx          *pipeline.Context
	OutputFormat OutputFormat
	RetryFailed  bool
}

// NewLoader builds a Loader bound to a pipeline context, defaulting to JSON
// output.
func NewLoader(ctx *pipeline.Context) *Loader {
	return &Loader{ctx: ctx, OutputFormat: OutputJSON}
}

// Stage satisfies pipeline.StageRunner.
func (l *Loader) Stage() store.Stage { return store.StageLoad }

// Run adapts LoadDocuments to pipeline.StageRunner.
func (l *Loader) Run(ctx context.Context, docType string, limit int) (*pipeline.StageSummary, error) {
	return l.LoadDocuments(ctx, limit)
}

// LoadDocuments implements load_documents(limit, output_format, retry_failed?).
func (l *Loader) LoadDocuments(ctx context.Context, limit int) (*pipeline.StageSummary, error) {
	if limit <= 0 {
		if v, ok, _ := l.ctx.Store.GetSetting(ctx, "batch.size"); ok {
			fmt.Sscanf(v, "%d", &limit)
		}
		if limit <= 0 {
			limit = 500
		}
	}

	docs, err := l.ctx.Store.DocumentsForStage(ctx, store.StageInput, store.StatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents for load: %w", err)
	}
	if l.RetryFailed {
		failed, err := l.failedDocuments(ctx, limit-len(docs))
		if err == nil {
			docs = append(docs, failed...)
		}
	}

	summary := &pipeline.StageSummary{Stage: store.StageLoad, Total: len(docs)}
	for _, doc := range docs {
		if err := l.loadOne(ctx, doc); err != nil {
			slog.Warn("loader: document failed", "document", doc.ID, "err", err)
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}

func (l *Loader) failedDocuments(ctx context.Context, limit int) ([]*store.Document, error) {
	if limit <= 0 {
		return nil, nil
	}
	return l.ctx.Store.FailedDocuments(ctx, store.StageLoad, limit)
}

func (l *Loader) loadOne(ctx context.Context, doc *store.Document) error {
	sourcePath, err := l.locateSource(doc)
	if err != nil {
		upsertErr := l.ctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
			DocumentID: doc.ID, Stage: store.StageLoad, Status: store.StatusFailed,
			ErrorMessage: pipeline.FailureMessage(ctx, err), BatchID: doc.BatchID, DocumentTypeID: doc.DocumentTypeID,
		})
		if upsertErr != nil {
			slog.Error("loader: failed to upsert failure state", "document", doc.ID, "err", upsertErr)
		}
		return err
	}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return l.fail(ctx, doc, fmt.Errorf("read source: %w", err))
	}

	artifact, err := ExtractFile(doc.Name, doc.FileType, data)
	if err != nil {
		return l.fail(ctx, doc, fmt.Errorf("extract: %w", err))
	}

	docType, confidence := DetectDocumentType(doc.OriginalName, artifact.Content)
	chunks := chunk.Split(doc.ID, artifact.Content, chunk.DefaultOptions())

	record := ragRecord{
		DocumentID:        doc.ID,
		Content:           artifact.Content,
		Structure:         artifact.Structure,
		Metadata:          artifact.Metadata,
		ExtractionMethod:  artifact.ExtractionMethod,
		ExtractionQuality: artifact.ExtractionQuality,
		NeedsOCR:          artifact.NeedsOCR,
		DetectedType:      docType,
		TypeConfidence:    confidence,
		ChunkCount:        len(chunks),
		Stats: ragStats{
			WordCount:         WordCount(artifact.Content),
			ChunkCount:        len(chunks),
			ExtractionQuality: artifact.ExtractionQuality,
		},
	}

	ext := extensionFor(l.OutputFormat)
	filename := l.ctx.StageFilename(store.StageLoad, doc.ID, doc.BatchID, doc.Name, ext)
	destPath := filepath.Join(l.ctx.StageDir(store.StageLoad), filename)
	if err := writeRecord(destPath, l.OutputFormat, record); err != nil {
		return l.fail(ctx, doc, fmt.Errorf("write artifact: %w", err))
	}

	if filepath.Base(sourcePath) != doc.Name {
		originalCopy := filepath.Join(l.ctx.StageDir(store.StageLoad), "original_"+filepath.Base(sourcePath))
		if copyErr := os.WriteFile(originalCopy, data, 0o644); copyErr != nil {
			slog.Warn("loader: failed to copy original", "document", doc.ID, "err", copyErr)
		}
	}

	metaPatch := map[string]any{
		"extraction_method":  artifact.ExtractionMethod,
		"extraction_quality": artifact.ExtractionQuality,
		"needs_ocr":          artifact.NeedsOCR,
		"detected_type":      docType,
		"word_count":         record.Stats.WordCount,
	}
	if err := l.ctx.Store.UpdateDocumentMetadata(ctx, doc.ID, metaPatch); err != nil {
		slog.Warn("loader: failed to update document metadata", "document", doc.ID, "err", err)
	}

	return l.ctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageLoad, Status: store.StatusCompleted,
		BatchID: doc.BatchID, DocumentTypeID: doc.DocumentTypeID,
	})
}

func (l *Loader) fail(ctx context.Context, doc *store.Document, cause error) error {
	if err := l.ctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageLoad, Status: store.StatusFailed,
		ErrorMessage: pipeline.FailureMessage(ctx, cause), BatchID: doc.BatchID, DocumentTypeID: doc.DocumentTypeID,
	}); err != nil {
		slog.Error("loader: failed to upsert failure state", "document", doc.ID, "err", err)
	}
	return cause
}

// locateSource implements the fallback chain from spec §4.3: stage_input/
// by sanitized name, then input/, unprocessed/, stage_load/,
// stage_load/original_<…>, then any file whose name contains the
// document's 12-char short id.
func (l *Loader) locateSource(doc *store.Document) (string, error) {
	candidates := []string{
		filepath.Join(l.ctx.Dir(pipeline.DirStageInput), doc.Name),
		filepath.Join(l.ctx.Dir("input"), doc.Name),
		filepath.Join(l.ctx.Dir(pipeline.DirUnprocessed), doc.Name),
		filepath.Join(l.ctx.Dir(pipeline.DirStageLoad), doc.Name),
		filepath.Join(l.ctx.Dir(pipeline.DirStageLoad), "original_"+doc.Name),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	short := strings.ReplaceAll(doc.ID, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	for _, dir := range []string{pipeline.DirStageInput, "input", pipeline.DirUnprocessed, pipeline.DirStageLoad} {
		entries, err := os.ReadDir(l.ctx.Dir(dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if strings.Contains(e.Name(), short) {
				return filepath.Join(l.ctx.Dir(dir), e.Name()), nil
			}
		}
	}
	return "", fmt.Errorf("source file not found for document %s", doc.ID)
}

type ragStats struct {
	WordCount         int     `json:"word_count"`
	ChunkCount        int     `json:"chunk_count"`
	ExtractionQuality float64 `json:"extraction_quality"`
}

type ragRecord struct {
	DocumentID        string         `json:"document_id"`
	Content           string         `json:"content"`
	Structure         map[string]any `json:"structure"`
	Metadata          map[string]any `json:"metadata"`
	ExtractionMethod  string         `json:"extraction_method"`
	ExtractionQuality float64        `json:"extraction_quality"`
	NeedsOCR          bool           `json:"needs_ocr"`
	DetectedType      string         `json:"detected_type"`
	TypeConfidence    float64        `json:"type_confidence"`
	ChunkCount        int            `json:"chunk_count"`
	Stats             ragStats       `json:"stats"`
}

func extensionFor(format OutputFormat) string {
	switch format {
	case OutputText:
		return ".txt"
	case OutputMarkdown:
		return ".md"
	default:
		return ".json"
	}
}

func writeRecord(path string, format OutputFormat, record ragRecord) error {
	switch format {
	case OutputText:
		return os.WriteFile(path, []byte(record.Content), 0o644)
	case OutputMarkdown:
		return os.WriteFile(path, []byte("# "+record.DocumentID+"\n\n"+record.Content), 0o644)
	default:
		b, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(path, b, 0o644)
	}
}
