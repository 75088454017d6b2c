package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spmedge/pipeline/internal/chunk"
	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndexer(t *testing.T) (*Indexer, *pipeline.Context, *store.Memory, *fakeIndex) {
	t.Helper()
	root := t.TempDir()
	m := store.NewMemory()
	pctx := pipeline.NewContext(m, root)
	require.NoError(t, pctx.EnsureDirectories())
	m.SeedDocumentType(&store.DocumentType{ID: "dt-1", Name: "commission_plan"})

	idx := newFakeIndex(4)
	emb := newFakeEmbedder(4)
	ix := NewIndexer(pctx, idx, emb, chunk.Options{TargetSize: 50, Overlap: 5})
	return ix, pctx, m, idx
}

func registerProcessedDoc(t *testing.T, pctx *pipeline.Context, m *store.Memory, id, content string) *store.Document {
	t.Helper()
	doc := &store.Document{ID: id, Name: id + ".txt", OriginalName: id + ".txt", BatchID: "batch-1", DocumentTypeID: "dt-1"}
	_, err := m.RegisterDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, m.UpsertPipelineState(context.Background(), &store.PipelineStateRecord{
		DocumentID: id, Stage: store.StageProcess, Status: store.StatusCompleted, BatchID: "batch-1", DocumentTypeID: "dt-1",
	}))
	filename := pctx.StageFilename(store.StageProcess, id, doc.BatchID, doc.Name, pipeline.DefaultExt(store.StageProcess))
	require.NoError(t, os.WriteFile(filepath.Join(pctx.StageDir(store.StageProcess), filename), []byte(content), 0o644))
	return doc
}

func TestIndexDocuments_HappyPath(t *testing.T) {
	ix, pctx, m, idx := newTestIndexer(t)
	doc := registerProcessedDoc(t, pctx, m, "11111111-1111-1111-1111-111111111111", `{"plan_info": {"role": "Sales Rep"}}`)

	summary, err := ix.IndexDocuments(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.NotEmpty(t, idx.records)

	rec, ok, err := m.PipelineState(context.Background(), doc.ID, store.StageIndex)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusCompleted, rec.Status)
}

func TestIndexDocuments_MissingContentFails(t *testing.T) {
	ix, _, m, _ := newTestIndexer(t)
	doc := &store.Document{ID: "22222222-2222-2222-2222-222222222222", Name: "x.txt", BatchID: "batch-1", DocumentTypeID: "dt-1"}
	_, err := m.RegisterDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, m.UpsertPipelineState(context.Background(), &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageProcess, Status: store.StatusCompleted, BatchID: "batch-1", DocumentTypeID: "dt-1",
	}))

	summary, err := ix.IndexDocuments(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	rec, ok, err := m.PipelineState(context.Background(), doc.ID, store.StageIndex)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Equal(t, "No content found", rec.ErrorMessage)
}

func TestIndexDocuments_RawTextFallbackIndexedDirectly(t *testing.T) {
	ix, pctx, m, idx := newTestIndexer(t)
	registerProcessedDoc(t, pctx, m, "33333333-3333-3333-3333-333333333333", `{"raw_text": "plain fallback text"}`)

	_, err := ix.IndexDocuments(context.Background(), 10)
	require.NoError(t, err)

	require.NotEmpty(t, idx.records)
	assert.Contains(t, idx.records[0].Text, "plain fallback text")
}
