package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconstruct_JoinsTopLevelSectionsWithBlankLine(t *testing.T) {
	sections := []*Section{
		{Cleaned: "First section"},
		{Cleaned: "Second section"},
	}
	got := Reconstruct(sections)
	assert.Equal(t, "First section\n\nSecond section", got)
}

func TestReconstruct_IncludesChildren(t *testing.T) {
	sections := []*Section{
		{Cleaned: "Parent", Children: []*Section{{Cleaned: "Child"}}},
	}
	got := Reconstruct(sections)
	assert.Equal(t, "Parent\nChild", got)
}

func TestReconstruct_CollapsesExcessNewlines(t *testing.T) {
	sections := []*Section{
		{Cleaned: "A\n\n\n\nB"},
	}
	got := Reconstruct(sections)
	assert.Equal(t, "A\n\nB", got)
}
