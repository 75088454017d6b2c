// cleaner.go wires the section model (segment.go, rules.go, reconstruct.go,
// spm.go) into the CLEAN pipeline stage: locate LOAD-stage content, clean
// it, and persist the result.
package cleaner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/store"
)

// Cleaner implements the Document Cleaner contract (spec §4.4).
type Cleaner struct {
	ctx *pipeline.Context
}

func NewCleaner(ctx *pipeline.Context) *Cleaner {
	return &Cleaner{ctx: ctx}
}

// Stage satisfies pipeline.StageRunner.
func (c *Cleaner) Stage() store.Stage { return store.StageClean }

// Run adapts CleanDocuments to pipeline.StageRunner.
func (c *Cleaner) Run(ctx context.Context, docType string, limit int) (*pipeline.StageSummary, error) {
	return c.CleanDocuments(ctx, limit)
}

// CleanDocuments implements clean_documents(limit).
func (c *Cleaner) CleanDocuments(ctx context.Context, limit int) (*pipeline.StageSummary, error) {
	if limit <= 0 {
		if v, ok, _ := c.ctx.Store.GetSetting(ctx, "batch.size"); ok {
			fmt.Sscanf(v, "%d", &limit)
		}
		if limit <= 0 {
			limit = 500
		}
	}

	docs, err := c.ctx.Store.DocumentsForStage(ctx, store.StageLoad, store.StatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents for clean: %w", err)
	}

	summary := &pipeline.StageSummary{Stage: store.StageClean, Total: len(docs)}
	for _, doc := range docs {
		if err := c.cleanOne(ctx, doc); err != nil {
			slog.Warn("cleaner: document failed", "document", doc.ID, "err", err)
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}

func (c *Cleaner) cleanOne(ctx context.Context, doc *store.Document) error {
	content, err := c.locateContent(doc)
	if err != nil {
		return c.fail(ctx, doc, "No content found")
	}

	rules, err := c.ctx.Store.GetCleaningRules(ctx, doc.DocumentTypeID)
	if err != nil {
		return c.fail(ctx, doc, err.Error())
	}

	sections := Segment(content)
	if err := ApplyRules(sections, rules); err != nil {
		return c.fail(ctx, doc, err.Error())
	}
	cleaned := Reconstruct(sections)

	var schema *store.Schema
	if schema, err = c.ctx.Store.GetSchema(ctx, doc.DocumentTypeID); err != nil {
		schema = nil
	}
	var spmComponents map[string]any
	if schema != nil {
		spmComponents = ExtractSPM(sections, schema)
	}

	filename := c.ctx.StageFilename(store.StageClean, doc.ID, doc.BatchID, doc.Name, pipeline.DefaultExt(store.StageClean))
	destPath := filepath.Join(c.ctx.StageDir(store.StageClean), filename)
	if err := os.WriteFile(destPath, []byte(cleaned), 0o644); err != nil {
		return c.fail(ctx, doc, fmt.Errorf("write cleaned content: %w", err).Error())
	}

	dbSections := flattenForPersistence(doc.ID, sections)
	if len(dbSections) > 0 {
		if err := c.ctx.Store.SaveDocumentSections(ctx, dbSections); err != nil {
			slog.Warn("cleaner: failed to save document sections", "document", doc.ID, "err", err)
		}
	}

	metaPatch := map[string]any{"section_count": len(dbSections)}
	if spmComponents != nil {
		metaPatch["spm_components"] = spmComponents
	}
	if err := c.ctx.Store.UpdateDocumentMetadata(ctx, doc.ID, metaPatch); err != nil {
		slog.Warn("cleaner: failed to update document metadata", "document", doc.ID, "err", err)
	}

	return c.ctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageClean, Status: store.StatusCompleted,
		BatchID: doc.BatchID, DocumentTypeID: doc.DocumentTypeID,
	})
}

func (c *Cleaner) fail(ctx context.Context, doc *store.Document, message string) error {
	err := fmt.Errorf("%s", message)
	if ctx.Err() != nil {
		message = pipeline.CancelledMessage
	}
	if upsertErr := c.ctx.Store.UpsertPipelineState(ctx, &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageClean, Status: store.StatusFailed,
		ErrorMessage: message, BatchID: doc.BatchID, DocumentTypeID: doc.DocumentTypeID,
	}); upsertErr != nil {
		slog.Error("cleaner: failed to upsert failure state", "document", doc.ID, "err", upsertErr)
	}
	return err
}

// locateContent finds the LOAD-stage artifact for doc, preferring
// stage_clean's sibling stage_load/*doc<short>*, and unwraps the "content"
// field if it holds JSON with its own nested "content" field (spec §4.4
// step 1).
func (c *Cleaner) locateContent(doc *store.Document) (string, error) {
	short := strings.ReplaceAll(doc.ID, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	needle := "doc" + short

	entries, err := os.ReadDir(c.ctx.Dir(pipeline.DirStageLoad))
	if err != nil {
		return "", fmt.Errorf("read stage_load dir: %w", err)
	}
	var matchPath string
	for _, e := range entries {
		if strings.Contains(e.Name(), needle) {
			matchPath = filepath.Join(c.ctx.Dir(pipeline.DirStageLoad), e.Name())
			break
		}
	}
	if matchPath == "" {
		return "", fmt.Errorf("no content file found for document %s", doc.ID)
	}

	data, err := os.ReadFile(matchPath)
	if err != nil {
		return "", err
	}

	if !strings.EqualFold(filepath.Ext(matchPath), ".json") {
		return string(data), nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return string(data), nil
	}
	rawContent, ok := parsed["content"]
	if !ok {
		return string(data), nil
	}
	contentStr, ok := rawContent.(string)
	if !ok {
		return "", fmt.Errorf("content field is not a string")
	}

	// Unwrap one level of nested JSON-in-string if the inner value is
	// itself a JSON object carrying its own "content" field.
	trimmedInner := strings.TrimSpace(contentStr)
	if strings.HasPrefix(trimmedInner, "{") {
		var nested map[string]any
		if err := json.Unmarshal([]byte(trimmedInner), &nested); err == nil {
			if innerContent, ok := nested["content"].(string); ok {
				return innerContent, nil
			}
		}
	}
	return contentStr, nil
}

// flattenForPersistence walks the tree depth-first and returns a denormalized
// DocumentSection row per node, preserving traversal order in Seq.
func flattenForPersistence(documentID string, sections []*Section) []store.DocumentSection {
	var out []store.DocumentSection
	seq := 0
	var walk func(s *Section)
	walk = func(s *Section) {
		out = append(out, store.DocumentSection{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			Kind:        string(s.Kind),
			Level:       s.Level,
			Category:    string(s.Category),
			RawText:     s.Raw,
			CleanedText: s.Cleaned,
			Seq:         seq,
		})
		seq++
		for _, c := range s.Children {
			walk(c)
		}
	}
	for _, s := range sections {
		walk(s)
	}
	return out
}
