package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_ClassifiesHeaderTableFormulaFooterBody(t *testing.T) {
	content := "# Plan Overview\n" +
		"This plan pays commission on attainment.\n" +
		"| Tier | Rate |\n" +
		"|------|------|\n" +
		"| 1    | 5%   |\n" +
		"10% of quota Attainment per deal\n" +
		"Confidential\n"

	sections := Segment(content)
	require.NotEmpty(t, sections)
	assert.Equal(t, KindHeader, sections[0].Kind)
	assert.Equal(t, 1, sections[0].Level)

	var kinds []Kind
	sections[0].Walk(func(s *Section) { kinds = append(kinds, s.Kind) })
	assert.Contains(t, kinds, KindTable)
	assert.Contains(t, kinds, KindFormula)
	assert.Contains(t, kinds, KindFooter)
}

func TestSegment_HeaderHierarchy(t *testing.T) {
	content := "# Top\n" +
		"body under top\n" +
		"1. Sub Section\n" +
		"body under sub\n"

	sections := Segment(content)
	require.Len(t, sections, 1)
	top := sections[0]
	assert.Equal(t, KindHeader, top.Kind)
	require.Len(t, top.Children, 2)
	assert.Equal(t, KindBody, top.Children[0].Kind)
	assert.Equal(t, KindHeader, top.Children[1].Kind)
	assert.Equal(t, 2, top.Children[1].Level)
}

func TestSegment_SiblingHeaderPopsDeeperHeader(t *testing.T) {
	content := "# One\n" +
		"A. Nested\n" +
		"nested body\n" +
		"# Two\n" +
		"second top body\n"

	sections := Segment(content)
	require.Len(t, sections, 2)
	assert.Equal(t, "One\n", trimFirstLine(sections[0].Raw))
	assert.Len(t, sections[0].Children, 1)
	assert.Equal(t, "Two\n", trimFirstLine(sections[1].Raw))
}

func TestSegment_DetectsSPMCategory(t *testing.T) {
	content := "Effective Date: Plan Period starts soon\nRole: Sales Rep\n"
	sections := Segment(content)
	require.NotEmpty(t, sections)
	var categories []Category
	for _, s := range sections {
		s.Walk(func(n *Section) {
			if n.Category != "" {
				categories = append(categories, n.Category)
			}
		})
	}
	assert.Contains(t, categories, CategoryEffectiveDates)
}

func trimFirstLine(s string) string {
	for i, c := range s {
		if c == '#' || c == ' ' {
			continue
		}
		return s[i:]
	}
	return s
}
