package cleaner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCleaner(t *testing.T) (*Cleaner, *pipeline.Context, *store.Memory) {
	t.Helper()
	root := t.TempDir()
	m := store.NewMemory()
	pctx := pipeline.NewContext(m, root)
	require.NoError(t, pctx.EnsureDirectories())
	m.SeedDocumentType(&store.DocumentType{ID: "dt-1", Name: "commission_plan"})
	return NewCleaner(pctx), pctx, m
}

func writeLoadArtifact(t *testing.T, pctx *pipeline.Context, doc *store.Document, content string) {
	t.Helper()
	record := map[string]any{"content": content}
	data, err := json.Marshal(record)
	require.NoError(t, err)
	filename := pctx.StageFilename(store.StageLoad, doc.ID, doc.BatchID, doc.Name, ".json")
	require.NoError(t, os.WriteFile(filepath.Join(pctx.StageDir(store.StageLoad), filename), data, 0o644))
}

func registerLoadedDoc(t *testing.T, m *store.Memory, id string) *store.Document {
	t.Helper()
	doc := &store.Document{ID: id, Name: id + ".txt", OriginalName: id + ".txt", BatchID: "batch-1", DocumentTypeID: "dt-1"}
	_, err := m.RegisterDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, m.UpsertPipelineState(context.Background(), &store.PipelineStateRecord{
		DocumentID: id, Stage: store.StageLoad, Status: store.StatusCompleted, BatchID: "batch-1", DocumentTypeID: "dt-1",
	}))
	return doc
}

func TestCleanDocuments_HappyPath(t *testing.T) {
	c, pctx, m := newTestCleaner(t)
	doc := registerLoadedDoc(t, m, "11111111-1111-1111-1111-111111111111")
	writeLoadArtifact(t, pctx, doc, "# Plan Overview\nThis is the commission plan body text.\n")

	summary, err := c.CleanDocuments(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	rec, ok, err := m.PipelineState(context.Background(), doc.ID, store.StageClean)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusCompleted, rec.Status)

	entries, err := os.ReadDir(pctx.StageDir(store.StageClean))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCleanOne_MissingContentFails(t *testing.T) {
	c, _, m := newTestCleaner(t)
	doc := registerLoadedDoc(t, m, "22222222-2222-2222-2222-222222222222")

	summary, err := c.CleanDocuments(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	rec, ok, err := m.PipelineState(context.Background(), doc.ID, store.StageClean)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Equal(t, "No content found", rec.ErrorMessage)
}

func TestLocateContent_UnwrapsNestedJSON(t *testing.T) {
	c, pctx, m := newTestCleaner(t)
	doc := registerLoadedDoc(t, m, "33333333-3333-3333-3333-333333333333")

	inner := map[string]any{"content": "the real text"}
	innerJSON, err := json.Marshal(inner)
	require.NoError(t, err)
	outer := map[string]any{"content": string(innerJSON)}
	data, err := json.Marshal(outer)
	require.NoError(t, err)
	filename := pctx.StageFilename(store.StageLoad, doc.ID, doc.BatchID, doc.Name, ".json")
	require.NoError(t, os.WriteFile(filepath.Join(pctx.StageDir(store.StageLoad), filename), data, 0o644))

	content, err := c.locateContent(doc)
	require.NoError(t, err)
	assert.Equal(t, "the real text", content)
}

func TestCleanOne_PersistsSectionsAndSPMComponents(t *testing.T) {
	c, pctx, m := newTestCleaner(t)
	schema := &store.Schema{
		DocumentType: "commission_plan",
		Fields: map[string]store.SchemaField{
			"plan_info":      {Type: "object"},
			"effective_dates": {Type: "object"},
		},
	}
	m.SeedDocumentType(&store.DocumentType{ID: "dt-1", Name: "commission_plan", Schema: schema})
	doc := registerLoadedDoc(t, m, "44444444-4444-4444-4444-444444444444")
	writeLoadArtifact(t, pctx, doc, "Role: Sales Rep\nEffective Date: Plan Period begins January\n")

	summary, err := c.CleanDocuments(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	got, err := m.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Metadata, "spm_components")
}
