package cleaner

import (
	"testing"

	"github.com/spmedge/pipeline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRules_PriorityOrderAndContext(t *testing.T) {
	sections := []*Section{
		{Kind: KindBody, Raw: "Confidential   report body\n"},
	}
	rules := []store.CleaningRule{
		{Pattern: `\s{2,}`, Replacement: " ", Kind: store.PatternRegex, Priority: 10, Context: "all", Seq: 1},
		{Pattern: "Confidential", Replacement: "", Kind: store.PatternExact, Priority: 1, Context: "all", Seq: 0},
	}

	require.NoError(t, ApplyRules(sections, rules))
	assert.Equal(t, "report body", sections[0].Cleaned)
}

func TestApplyRules_ContextScopedToSectionKind(t *testing.T) {
	sections := []*Section{
		{Kind: KindTable, Raw: "| a | b |\n"},
		{Kind: KindBody, Raw: "plain text\n"},
	}
	rules := []store.CleaningRule{
		{Pattern: "a", Replacement: "X", Kind: store.PatternExact, Priority: 1, Context: "table"},
	}
	require.NoError(t, ApplyRules(sections, rules))
	assert.Contains(t, sections[0].Cleaned, "X")
	assert.Equal(t, "plain text", sections[1].Cleaned)
}

func TestApplyWhitespacePolicy_ShortFooterDropped(t *testing.T) {
	assert.Equal(t, "", applyWhitespacePolicy(KindFooter, "12\n"))
}

func TestApplyWhitespacePolicy_LongFooterTrimmedNotDropped(t *testing.T) {
	text := "This confidential footer line is long enough to survive\n"
	assert.NotEmpty(t, applyWhitespacePolicy(KindFooter, text))
}

func TestApplyWhitespacePolicy_TablePreservesStructure(t *testing.T) {
	text := "| a | b |\n| 1 | 2 |\n"
	got := applyWhitespacePolicy(KindTable, text)
	assert.Contains(t, got, "\n")
}

func TestApplyWhitespacePolicy_BodyCollapsesWhitespace(t *testing.T) {
	got := applyWhitespacePolicy(KindBody, "a   b\n\n  c")
	assert.Equal(t, "a b c", got)
}
