package pipeline

import (
	"os"
	"testing"
	"time"

	"github.com/spmedge/pipeline/internal/store"
	"github.com/stretchr/testify/assert"
)

func fixedContext() *Context {
	c := NewContext(store.NewMemory(), "/data")
	c.Now = func() time.Time { return time.Date(2026, 7, 31, 12, 30, 45, 0, time.UTC) }
	return c
}

func TestStageFilename(t *testing.T) {
	c := fixedContext()
	name := c.StageFilename(store.StageLoad, "1234567890ab-cdef-0000", "batch1", "my_document.pdf", ".json")
	assert.Equal(t, "pipeline_load_doc1234567890ab_batchbatch1_my_document_20260731_123045.json", name)
}

func TestStageFilename_AddsDotToExtension(t *testing.T) {
	c := fixedContext()
	name := c.StageFilename(store.StageClean, "abc", "b1", "doc", "txt")
	assert.Contains(t, name, ".txt")
}

func TestStageDir(t *testing.T) {
	c := fixedContext()
	assert.Equal(t, "/data/stage_load", c.StageDir(store.StageLoad))
	assert.Equal(t, "/data/stage_clean", c.StageDir(store.StageClean))
	assert.Equal(t, "/data/stage_process", c.StageDir(store.StageProcess))
}

func TestDefaultExt(t *testing.T) {
	assert.Equal(t, ".json", DefaultExt(store.StageLoad))
	assert.Equal(t, ".json", DefaultExt(store.StageProcess))
	assert.Equal(t, ".txt", DefaultExt(store.StageClean))
}

func TestEnsureDirectories(t *testing.T) {
	c := NewContext(store.NewMemory(), t.TempDir())
	assert.NoError(t, c.EnsureDirectories())
	for _, d := range allDirs {
		fi, err := os.Stat(c.Dir(d))
		assert.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
}
