package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeComponents_MapsCategoryAndCounts(t *testing.T) {
	e := New()
	e.AnalyzeComponents(map[string][]string{
		"Territory":   {"Territory Alignment", "Territory Alignment"},
		"Reports":     {"Sales Dashboard"},
		"Unmapped XYZ": {"Something"},
	})

	details := e.ComponentDetails()
	require.Len(t, details, 3)

	byComponent := map[string]ComponentDetail{}
	for _, d := range details {
		byComponent[d.Component] = d
	}

	assert.Equal(t, "Configuration", byComponent["Territory Alignment"].Category)
	assert.Equal(t, 2, byComponent["Territory Alignment"].Count)

	assert.Equal(t, "Reporting", byComponent["Sales Dashboard"].Category)
	assert.Equal(t, ComplexityHigh, byComponent["Sales Dashboard"].Complexity)
}

func TestEstimateComplexity_NameHeuristicsOverrideCategoryDefault(t *testing.T) {
	e := New()
	e.AnalyzeComponents(map[string][]string{
		"Configuration": {"Complex Multi-Tier Approval"},
	})
	details := e.ComponentDetails()
	require.Len(t, details, 1)
	assert.Equal(t, ComplexityHigh, details[0].Complexity)
}

func TestEstimateComplexity_DefinitionKeywordsClassify(t *testing.T) {
	e := New(WithDefinitions(map[string]string{
		"Custom Report": "a simple, basic single-page report",
	}))
	e.AnalyzeComponents(map[string][]string{
		"Reports": {"Custom Report"},
	})
	details := e.ComponentDetails()
	require.Len(t, details, 1)
	assert.Equal(t, ComplexityLow, details[0].Complexity)
}

func TestStoryPoints_UsesComplexityHoursAndConversionFactor(t *testing.T) {
	e := New()
	assert.InDelta(t, 40.0/15.0, e.StoryPoints(1, ComplexityLow), 0.0001)
	assert.InDelta(t, 2*120.0/15.0, e.StoryPoints(2, ComplexityMedium), 0.0001)
}

func TestTotalEstimates_AggregatesByCategory(t *testing.T) {
	e := New()
	e.AnalyzeComponents(map[string][]string{
		"Territory": {"A", "B"},
		"Quota":     {"C"},
	})
	totals := e.TotalEstimates()
	config := totals["Configuration"]
	assert.Equal(t, 3, config.ComponentCount)
	assert.Equal(t, 3, config.TotalCount)
}

func TestKnownComplexity_PinsAssignmentAheadOfHeuristics(t *testing.T) {
	e := New(WithKnownComplexity(map[string]Complexity{"Weird Name": ComplexityLow}))
	e.AnalyzeComponents(map[string][]string{
		"Workflow": {"Weird Name"},
	})
	details := e.ComponentDetails()
	require.Len(t, details, 1)
	assert.Equal(t, ComplexityLow, details[0].Complexity)
}
