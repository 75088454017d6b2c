package batch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		short    string
		expected string
	}{
		{"spaces become underscores", "my document.pdf", "abc123", "my_document.pdf"},
		{"special chars stripped", "plan (2024)!!.docx", "abc123", "plan_2024.docx"},
		{"collapses repeated underscores", "a___b.txt", "abc123", "a_b.txt"},
		{"empty stem falls back to doc id", "!!!.pdf", "abc123456789", "doc_abc123456789.pdf"},
		{"truncates long stems", strings.Repeat("a", 150) + ".pdf", "abc", strings.Repeat("a", 100) + ".pdf"},
		{"lowercases extension", "Report.PDF", "abc", "Report.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sanitize(tt.input, tt.short))
		})
	}
}

func newTestManager(t *testing.T) (*Manager, *pipeline.Context, string) {
	t.Helper()
	root := t.TempDir()
	st := store.NewMemory()
	st.SeedDocumentType(&store.DocumentType{ID: "dt-1", Name: "commission_plan"})

	ctx := pipeline.NewContext(st, root)
	require.NoError(t, ctx.EnsureDirectories())
	return NewManager(ctx), ctx, root
}

func writeUnprocessed(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, pipeline.DirUnprocessed, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestProcessBatch_EmptyUnprocessed_ReturnsNoBatch(t *testing.T) {
	m, _, _ := newTestManager(t)
	batchID, succeeded, total, err := m.ProcessBatch(context.Background(), "commission_plan", Options{})
	require.NoError(t, err)
	assert.Empty(t, batchID)
	assert.Zero(t, succeeded)
	assert.Zero(t, total)
}

func TestProcessBatch_UnknownDocType_Fails(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, _, _, err := m.ProcessBatch(context.Background(), "does_not_exist", Options{})
	assert.Error(t, err)
}

func TestProcessBatch_RegistersAndCopiesFiles(t *testing.T) {
	m, ctx, root := newTestManager(t)
	writeUnprocessed(t, root, "plan one.pdf", "plan content")
	writeUnprocessed(t, root, "plan_two.docx", "more content")

	batchID, succeeded, total, err := m.ProcessBatch(context.Background(), "commission_plan", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 2, total)

	entries, err := os.ReadDir(ctx.Dir(pipeline.DirStageInput))
	require.NoError(t, err)
	var sidecars, artifacts int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".meta.json") {
			sidecars++
		} else if strings.HasPrefix(e.Name(), "batch_summary_") {
			continue
		} else {
			artifacts++
		}
	}
	assert.Equal(t, 2, sidecars)
	assert.Equal(t, 2, artifacts)

	b, err := ctx.Store.GetBatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, b.Status)
}

func TestProcessBatch_ArchiveAndDelete(t *testing.T) {
	m, ctx, root := newTestManager(t)
	writeUnprocessed(t, root, "plan.pdf", "content")

	_, succeeded, _, err := m.ProcessBatch(context.Background(), "commission_plan", Options{Archive: true})
	require.NoError(t, err)
	assert.Equal(t, 1, succeeded)

	_, err = os.Stat(filepath.Join(ctx.Dir(pipeline.DirArchive), "plan.pdf"))
	assert.NoError(t, err, "archived copy should exist")

	_, err = os.Stat(filepath.Join(root, pipeline.DirUnprocessed, "plan.pdf"))
	assert.True(t, os.IsNotExist(err), "archive implies source removal")
}

func TestProcessBatch_WritesBatchSummary(t *testing.T) {
	m, ctx, root := newTestManager(t)
	writeUnprocessed(t, root, "a.txt", "hello")

	batchID, _, _, err := m.ProcessBatch(context.Background(), "commission_plan", Options{})
	require.NoError(t, err)

	summaryPath := filepath.Join(ctx.Dir(pipeline.DirStageInput), "batch_summary_"+batchID+".json")
	b, err := os.ReadFile(summaryPath)
	require.NoError(t, err)

	var summary batchSummary
	require.NoError(t, json.Unmarshal(b, &summary))
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, "completed", summary.Status)
	assert.Equal(t, 1, summary.FileTypeCounts["txt"])
}

func TestProcessBatch_RespectsLimit(t *testing.T) {
	m, _, root := newTestManager(t)
	for _, n := range []string{"a.txt", "b.txt", "c.txt"} {
		writeUnprocessed(t, root, n, "x")
	}

	_, succeeded, total, err := m.ProcessBatch(context.Background(), "commission_plan", Options{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 2, total)
}

func TestManager_ResetStages_Default_ClearsStageRecords(t *testing.T) {
	m, ctx, _ := newTestManager(t)
	require.NoError(t, ctx.Store.UpsertPipelineState(context.Background(), &store.PipelineStateRecord{
		DocumentID: "doc-1", Stage: store.StageClean, Status: store.StatusCompleted,
	}))

	require.NoError(t, m.ResetStages(context.Background(), nil, ""))

	_, ok, err := ctx.Store.PipelineState(context.Background(), "doc-1", store.StageClean)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_ListActiveBatches_FiltersCompleted(t *testing.T) {
	m, ctx, _ := newTestManager(t)
	require.NoError(t, ctx.Store.CreateBatch(context.Background(), &store.Batch{ID: "b1", Status: store.StatusProcessing}))
	require.NoError(t, ctx.Store.CreateBatch(context.Background(), &store.Batch{ID: "b2", Status: store.StatusCompleted}))

	active, err := m.ListActiveBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b1", active[0].ID)
}
