package processor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/provider"
	"github.com/spmedge/pipeline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name      string
	responses []*provider.ChatResponse
	errs      []error
	calls     int
	lastReq   *provider.ChatRequest
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.lastReq = req
	idx := f.calls
	f.calls++
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeProvider) ChatCompletionStream(ctx context.Context, req *provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk)
	close(ch)
	return ch, nil
}

func newTestProcessor(t *testing.T, prov provider.Provider) (*Processor, *pipeline.Context, *store.Memory) {
	t.Helper()
	root := t.TempDir()
	m := store.NewMemory()
	pctx := pipeline.NewContext(m, root)
	require.NoError(t, pctx.EnsureDirectories())
	m.SeedDocumentType(&store.DocumentType{ID: "dt-1", Name: "commission_plan"})
	require.NoError(t, m.PutSetting(context.Background(), "model.default", "fake/test-model"))

	reg := provider.NewRegistry()
	reg.Register(prov)

	p := NewProcessor(pctx, reg, RateLimitParams{
		MinInterval:  0,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		MaxRetries:   2,
		SubBatchSize: 2,
	})
	return p, pctx, m
}

func registerCleanedDoc(t *testing.T, pctx *pipeline.Context, m *store.Memory, id, content string) *store.Document {
	t.Helper()
	doc := &store.Document{ID: id, Name: id + ".txt", OriginalName: id + ".txt", BatchID: "batch-1", DocumentTypeID: "dt-1"}
	_, err := m.RegisterDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, m.UpsertPipelineState(context.Background(), &store.PipelineStateRecord{
		DocumentID: id, Stage: store.StageClean, Status: store.StatusCompleted, BatchID: "batch-1", DocumentTypeID: "dt-1",
	}))
	filename := pctx.StageFilename(store.StageClean, id, doc.BatchID, doc.Name, pipeline.DefaultExt(store.StageClean))
	require.NoError(t, os.WriteFile(filepath.Join(pctx.StageDir(store.StageClean), filename), []byte(content), 0o644))
	return doc
}

func TestProcessDocuments_HappyPath(t *testing.T) {
	prov := &fakeProvider{name: "fake", responses: []*provider.ChatResponse{
		{Content: `{"plan_info": {"role": "Sales Rep"}}`},
	}}
	p, pctx, m := newTestProcessor(t, prov)
	doc := registerCleanedDoc(t, pctx, m, "11111111-1111-1111-1111-111111111111", "Role: Sales Rep")

	summary, err := p.ProcessDocuments(context.Background(), 10, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	rec, ok, err := m.PipelineState(context.Background(), doc.ID, store.StageProcess)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusCompleted, rec.Status)

	entries, err := os.ReadDir(pctx.StageDir(store.StageProcess))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(pctx.StageDir(store.StageProcess), entries[0].Name()))
	require.NoError(t, err)
	var structured map[string]any
	require.NoError(t, json.Unmarshal(data, &structured))
	assert.Contains(t, structured, "plan_info")

	require.NotNil(t, prov.lastReq)
	assert.Equal(t, provider.ResponseFormatJSON, prov.lastReq.ResponseFormat)
}

func TestProcessDocuments_MissingContentFails(t *testing.T) {
	prov := &fakeProvider{name: "fake"}
	p, _, m := newTestProcessor(t, prov)
	doc := &store.Document{ID: "22222222-2222-2222-2222-222222222222", Name: "x.txt", BatchID: "batch-1", DocumentTypeID: "dt-1"}
	_, err := m.RegisterDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, m.UpsertPipelineState(context.Background(), &store.PipelineStateRecord{
		DocumentID: doc.ID, Stage: store.StageClean, Status: store.StatusCompleted, BatchID: "batch-1", DocumentTypeID: "dt-1",
	}))

	summary, err := p.ProcessDocuments(context.Background(), 10, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	rec, ok, err := m.PipelineState(context.Background(), doc.ID, store.StageProcess)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Equal(t, "No content found", rec.ErrorMessage)
}

func TestProcessDocuments_NonJSONResponseFallsBackToRawText(t *testing.T) {
	prov := &fakeProvider{name: "fake", responses: []*provider.ChatResponse{
		{Content: "not valid json at all"},
	}}
	p, pctx, m := newTestProcessor(t, prov)
	registerCleanedDoc(t, pctx, m, "33333333-3333-3333-3333-333333333333", "some content")

	summary, err := p.ProcessDocuments(context.Background(), 10, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	entries, err := os.ReadDir(pctx.StageDir(store.StageProcess))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(pctx.StageDir(store.StageProcess), entries[0].Name()))
	require.NoError(t, err)
	var structured map[string]any
	require.NoError(t, json.Unmarshal(data, &structured))
	assert.Equal(t, "not valid json at all", structured["raw_text"])
}

func TestProcessDocuments_TruncatesOversizedContent(t *testing.T) {
	prov := &fakeProvider{name: "fake", responses: []*provider.ChatResponse{
		{Content: `{"ok": true}`},
	}}
	p, pctx, m := newTestProcessor(t, prov)
	big := make([]byte, maxContentLength+500)
	for i := range big {
		big[i] = 'a'
	}
	registerCleanedDoc(t, pctx, m, "44444444-4444-4444-4444-444444444444", string(big))

	_, err := p.ProcessDocuments(context.Background(), 10, Options{})
	require.NoError(t, err)

	require.NotNil(t, prov.lastReq)
	userMsg := prov.lastReq.Messages[len(prov.lastReq.Messages)-1].Content
	assert.Contains(t, userMsg, truncationMarker)
}

func TestProcessDocuments_RetriesOnRateLimitThenSucceeds(t *testing.T) {
	prov := &fakeProvider{
		name: "fake",
		errs: []error{errRateLimited()},
		responses: []*provider.ChatResponse{
			{Content: `{"ok": true}`},
			{Content: `{"ok": true}`},
		},
	}
	p, pctx, m := newTestProcessor(t, prov)
	registerCleanedDoc(t, pctx, m, "55555555-5555-5555-5555-555555555555", "content")

	summary, err := p.ProcessDocuments(context.Background(), 10, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.GreaterOrEqual(t, prov.calls, 2)
}

func errRateLimited() error {
	return &rateLimitErr{}
}

type rateLimitErr struct{}

func (e *rateLimitErr) Error() string { return "429 rate_limit exceeded" }
