package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spmedge/pipeline/internal/chunk"
	"github.com/spmedge/pipeline/internal/loader"
)

// IndexFrameworkDocuments indexes arbitrary knowledge-base files that live
// outside the document pipeline: `*_knowledge.json` and `*_framework_v*.xlsx`
// files under dir, optionally filtered to names containing frameworkType.
// Grounded on spm_rag_integration.py's index_framework_documents, which
// globs the same two patterns from a knowledge-files directory.
func (ix *Indexer) IndexFrameworkDocuments(ctx context.Context, dir, frameworkType string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("rag: read framework directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		isKnowledge := strings.HasSuffix(lower, "_knowledge.json")
		isFramework := strings.Contains(lower, "_framework_v") && strings.HasSuffix(lower, ".xlsx")
		if !isKnowledge && !isFramework {
			continue
		}
		if frameworkType != "" && !strings.Contains(lower, strings.ToLower(frameworkType)) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}

	indexed := 0
	for _, path := range files {
		if err := ix.indexFrameworkFile(ctx, path); err != nil {
			slog.Warn("rag: failed to index framework file", "file", path, "err", err)
			continue
		}
		indexed++
	}
	return indexed, nil
}

func (ix *Indexer) indexFrameworkFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ext := filepath.Ext(path)
	artifact, err := loader.ExtractFile(filepath.Base(path), ext, data)
	if err != nil {
		return fmt.Errorf("extract framework file: %w", err)
	}
	if strings.TrimSpace(artifact.Content) == "" {
		return fmt.Errorf("no content extracted")
	}

	frameworkID := "framework_" + strings.TrimSuffix(filepath.Base(path), ext)
	chunks := chunk.Split(frameworkID, artifact.Content, ix.opts)
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks produced")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count does not match chunk count")
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:        c.ID,
			Text:      c.Text,
			Embedding: embeddings[i],
			Metadata: map[string]any{
				"document_id":   frameworkID,
				"document_type": "framework",
				"source_file":   filepath.Base(path),
				"position":      c.Position,
			},
		}
	}
	return ix.index.Add(ctx, records)
}
