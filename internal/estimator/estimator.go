// Package estimator computes story-point and hour estimates for SPM
// components extracted from a PROCESS-stage document, grounded on
// spm_estimator.py's category mapping, complexity heuristics, and
// hours-per-story-point conversion.
package estimator

import "strings"

type Complexity string

const (
	ComplexityLow    Complexity = "L"
	ComplexityMedium Complexity = "M"
	ComplexityHigh   Complexity = "H"
)

// DefaultComplexityHours mirrors SPM_ESTIMATOR.xlsx's hours-per-component
// table for each complexity tier.
var DefaultComplexityHours = map[Complexity]float64{
	ComplexityLow:    40,
	ComplexityMedium: 120,
	ComplexityHigh:   240,
}

// DefaultHoursPerStoryPoint is the hours-to-story-point conversion factor
// from SPM_ESTIMATOR.xlsx.
const DefaultHoursPerStoryPoint = 15.0

// categoryMapping maps communication-plan component categories onto the
// seven estimator categories, checked exact-match first then substring.
var categoryMapping = map[string]string{
	"Sales Planning":           "Configuration",
	"Sales Hierarchies":        "Configuration",
	"Sales Role":               "Configuration",
	"Sales Plan":               "Configuration",
	"Territory":                "Configuration",
	"Quota":                    "Configuration",
	"Data Classification":      "Configuration",
	"Incentive Compensation":   "Configuration",
	"Sales Crediting":          "Configuration",
	"Performance Measurements": "Configuration",
	"Measurement Attainments":  "Configuration",
	"Incentives":               "Configuration",
	"Compensation":             "Configuration",
	"Earnings":                 "Configuration",
	"Payments":                 "Configuration",
	"Data Integration":         "Data Integration",
	"Import":                   "Data Integration",
	"Export":                   "Data Integration",
	"ETL":                      "Data Integration",
	"API":                      "Data Integration",
	"File":                     "Data Integration",
	"Reports":                  "Reporting",
	"Reporting":                "Reporting",
	"Analytics":                "Reporting",
	"Dashboard":                "Reporting",
	"Visualizations":           "Reporting",
	"Sales Intelligence":       "Reporting",
	"Sales Insights":           "Reporting",
	"Workflow":                 "Workflow",
	"Process":                  "Workflow",
	"Approval":                 "Workflow",
	"State Transition":         "Workflow",
	"Change Management":        "Change Management",
	"Training":                 "Change Management",
	"Communication":            "Change Management",
	"Adoption":                 "Change Management",
	"Release":                  "Release Management",
	"Deployment":               "Release Management",
	"Migration":                "Release Management",
	"Vendor":                   "Vendor Support",
	"Support":                  "Vendor Support",
	"SSO":                      "Vendor Support",
	"Performance":              "Vendor Support",
	"Testing":                  "Vendor Support",
}

// categoryDefaultComplexity is the fallback complexity when no keyword or
// name heuristic applies.
var categoryDefaultComplexity = map[string]Complexity{
	"Configuration":      ComplexityMedium,
	"Data Integration":   ComplexityMedium,
	"Reporting":          ComplexityHigh,
	"Workflow":           ComplexityHigh,
	"Change Management":  ComplexityMedium,
	"Release Management": ComplexityHigh,
	"Vendor Support":     ComplexityMedium,
}

var (
	highComplexityKeywords   = []string{"complex", "advanced", "sophisticated", "comprehensive", "multiple"}
	mediumComplexityKeywords = []string{"moderate", "standard", "normal", "typical"}
	lowComplexityKeywords    = []string{"simple", "basic", "straightforward", "single", "minimal"}
)

// Estimator tracks component counts and complexity assignments across one
// communication-plan analysis (spec §11 supplemented feature).
type Estimator struct {
	complexityHours map[Complexity]float64
	hoursPerSP      float64
	// definitions optionally supplies free-text component descriptions
	// (e.g. loaded from a META FRAMEWORK export) for keyword-based
	// complexity classification.
	definitions map[string]string
	// knownComplexity lets a caller pin a component's complexity ahead of
	// analysis, bypassing the heuristics entirely.
	knownComplexity map[string]Complexity

	counts     map[string]map[string]int // category -> component -> count
	complexity map[string]Complexity     // component -> assigned complexity
}

// Option configures an Estimator at construction.
type Option func(*Estimator)

func WithComplexityHours(hours map[Complexity]float64) Option {
	return func(e *Estimator) { e.complexityHours = hours }
}

func WithHoursPerStoryPoint(hours float64) Option {
	return func(e *Estimator) { e.hoursPerSP = hours }
}

func WithDefinitions(defs map[string]string) Option {
	return func(e *Estimator) { e.definitions = defs }
}

func WithKnownComplexity(known map[string]Complexity) Option {
	return func(e *Estimator) { e.knownComplexity = known }
}

func New(opts ...Option) *Estimator {
	e := &Estimator{
		complexityHours: DefaultComplexityHours,
		hoursPerSP:      DefaultHoursPerStoryPoint,
		counts:          make(map[string]map[string]int),
		complexity:      make(map[string]Complexity),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AnalyzeComponents ingests a category -> component-name list, mapping
// each category onto an estimator category and counting repeated
// components (analyze_comm_plan).
func (e *Estimator) AnalyzeComponents(componentsByCategory map[string][]string) {
	e.counts = make(map[string]map[string]int)
	for category, components := range componentsByCategory {
		estCategory := mapCategory(category)
		if e.counts[estCategory] == nil {
			e.counts[estCategory] = make(map[string]int)
		}
		for _, raw := range components {
			component := strings.TrimSpace(raw)
			if component == "" {
				continue
			}
			e.counts[estCategory][component]++
			if _, assigned := e.complexity[component]; !assigned {
				if known, ok := e.knownComplexity[component]; ok {
					e.complexity[component] = known
				} else {
					e.complexity[component] = e.estimateComplexity(component, estCategory)
				}
			}
		}
	}
}

// mapCategory resolves a free-text category to one of the seven estimator
// categories: exact match first, then substring match either direction,
// defaulting to Configuration.
func mapCategory(category string) string {
	lower := strings.ToLower(category)
	for key, value := range categoryMapping {
		if strings.ToLower(key) == lower {
			return value
		}
	}
	for key, value := range categoryMapping {
		k := strings.ToLower(key)
		if strings.Contains(lower, k) || strings.Contains(k, lower) {
			return value
		}
	}
	return "Configuration"
}

// estimateComplexity infers a component's complexity from its definition
// text (if supplied), its name, and finally its category's default.
func (e *Estimator) estimateComplexity(component, category string) Complexity {
	if def, ok := e.definitions[component]; ok && def != "" {
		lower := strings.ToLower(def)
		high := countMatches(lower, highComplexityKeywords)
		medium := countMatches(lower, mediumComplexityKeywords)
		low := countMatches(lower, lowComplexityKeywords)
		switch {
		case high > low && high > medium:
			return ComplexityHigh
		case low > high && low > medium:
			return ComplexityLow
		case medium > 0:
			return ComplexityMedium
		}
	}

	nameLower := strings.ToLower(component)
	for _, kw := range []string{"complex", "advanced", "multiple"} {
		if strings.Contains(nameLower, kw) {
			return ComplexityHigh
		}
	}
	for _, kw := range []string{"simple", "basic"} {
		if strings.Contains(nameLower, kw) {
			return ComplexityLow
		}
	}

	if def, ok := categoryDefaultComplexity[category]; ok {
		return def
	}
	return ComplexityMedium
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// hoursFor returns the configured hours-per-component for a complexity
// tier, falling back to the medium tier for an unknown value.
func (e *Estimator) hoursFor(c Complexity) float64 {
	if h, ok := e.complexityHours[c]; ok {
		return h
	}
	return e.complexityHours[ComplexityMedium]
}

// StoryPoints converts a component's count and complexity into story
// points: total hours (count * hours-per-component) divided by the
// hours-per-story-point conversion factor.
func (e *Estimator) StoryPoints(count int, complexity Complexity) float64 {
	return float64(count) * e.hoursFor(complexity) / e.hoursPerSP
}

// ComponentDetail is one row of the per-component estimate breakdown.
type ComponentDetail struct {
	Category    string
	Component   string
	Count       int
	Complexity  Complexity
	Hours       float64
	StoryPoints float64
}

// ComponentDetails returns one row per distinct (category, component),
// sorted deterministically by category then component name.
func (e *Estimator) ComponentDetails() []ComponentDetail {
	var out []ComponentDetail
	for category, components := range e.counts {
		for component, count := range components {
			complexity := e.complexity[component]
			hours := float64(count) * e.hoursFor(complexity)
			out = append(out, ComponentDetail{
				Category:    category,
				Component:   component,
				Count:       count,
				Complexity:  complexity,
				Hours:       hours,
				StoryPoints: hours / e.hoursPerSP,
			})
		}
	}
	sortComponentDetails(out)
	return out
}

func sortComponentDetails(details []ComponentDetail) {
	for i := 1; i < len(details); i++ {
		for j := i; j > 0; j-- {
			a, b := details[j-1], details[j]
			if a.Category > b.Category || (a.Category == b.Category && a.Component > b.Component) {
				details[j-1], details[j] = details[j], details[j-1]
			} else {
				break
			}
		}
	}
}

// CategoryTotal aggregates hours and story points across a category's
// components.
type CategoryTotal struct {
	ComponentCount int
	TotalCount     int
	Hours          float64
	StoryPoints    float64
}

// TotalEstimates aggregates ComponentDetails by category.
func (e *Estimator) TotalEstimates() map[string]CategoryTotal {
	totals := make(map[string]CategoryTotal)
	for _, d := range e.ComponentDetails() {
		t := totals[d.Category]
		t.ComponentCount++
		t.TotalCount += d.Count
		t.Hours += d.Hours
		t.StoryPoints += d.StoryPoints
		totals[d.Category] = t
	}
	return totals
}
