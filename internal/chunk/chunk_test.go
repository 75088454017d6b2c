package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split("doc1", "", DefaultOptions()))
	assert.Empty(t, Split("doc1", "   ", DefaultOptions()))
}

func TestSplit_SingleChunkWhenShort(t *testing.T) {
	chunks := Split("doc1", "one two three four five", DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Position)
	assert.Equal(t, "one two three four five", chunks[0].Text)
}

func TestSplit_OverlapsWindows(t *testing.T) {
	words := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		words = append(words, "word")
	}
	content := strings.Join(words, " ")

	chunks := Split("doc1", content, Options{TargetSize: 512, Overlap: 50})
	require.True(t, len(chunks) >= 2)
	assert.Equal(t, 0, chunks[0].Position)
	assert.Equal(t, 1, chunks[1].Position)
}

func TestSplit_StableChunkIDs(t *testing.T) {
	content := "alpha beta gamma delta epsilon"
	a := Split("doc1", content, DefaultOptions())
	b := Split("doc1", content, DefaultOptions())
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestSplit_DifferentDocumentsDifferentIDs(t *testing.T) {
	content := "alpha beta gamma"
	a := Split("doc1", content, DefaultOptions())
	b := Split("doc2", content, DefaultOptions())
	assert.NotEqual(t, a[0].ID, b[0].ID)
}
