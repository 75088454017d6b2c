package cleaner

import (
	"regexp"
	"strings"
)

type headerPattern struct {
	re    *regexp.Regexp
	level int // 0 means "derive from the match" (markdown heading)
}

var headerPatterns = []headerPattern{
	{regexp.MustCompile(`^(#{1,3})\s+.+$`), 0},
	{regexp.MustCompile(`^[A-Z][^a-z\n]{4,}$`), 1},
	{regexp.MustCompile(`^\d+\.\s+.+$`), 2},
	{regexp.MustCompile(`(?i)^(Plan\s+Overview|Plan\s+Measures|Plan\s+Summary|Payouts|Terms\s*&?\s*Conditions)`), 1},
	{regexp.MustCompile(`^[IVX]{1,5}\.\s+.+$`), 2},
	{regexp.MustCompile(`^[A-Z]\.\s+.+$`), 3},
}

var markdownHeadingRe = regexp.MustCompile(`^(#{1,3})\s`)

var tablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[|+][-+]+[|+]`),
	regexp.MustCompile(`^\s*\|.+\|\s*$`),
	regexp.MustCompile(`^[^|]+\|[^|]+\|[^|]+`),
	regexp.MustCompile(`^\s*-+[-\s]+-+\s*$`),
}

var formulaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[%$][\d,.]+\s+(?:per|for)`),
	regexp.MustCompile(`[\d,.]+[%$]\s+(?:of|per)`),
	regexp.MustCompile(`(?i)Attainment.*?[%$]`),
	regexp.MustCompile(`(?i)Quota.*?Attainment`),
	regexp.MustCompile(`(?i)Target.*?Incentive`),
}

var footerPageNumberRe = regexp.MustCompile(`^\s*\d+\s*$`)
var footerMarkerRe = regexp.MustCompile(`(?i)(Confidential|for Internal Use Only)`)

var categoryPatterns = map[Category][]*regexp.Regexp{
	CategoryPlanInfo: {
		regexp.MustCompile(`(?i)(Plan\s+Information|Plan\s+Details|Program\s+Information)`),
		regexp.MustCompile(`(?i)(Role|Position):\s*[A-Za-z\s]+`),
		regexp.MustCompile(`(?i)(Region|Territory):\s*[A-Za-z\s]+`),
		regexp.MustCompile(`(?i)(Plan\s+Year|Fiscal\s+Year):\s*\d{4}`),
	},
	CategoryPlanSummary: {
		regexp.MustCompile(`(?i)(Plan\s+Summary|Executive\s+Summary|Overview)`),
		regexp.MustCompile(`(?i)(Purpose|Objective)(\s+of\s+the\s+Plan)?:`),
	},
	CategoryEffectiveDates: {
		regexp.MustCompile(`(?i)(Effective\s+Date|Plan\s+Period|Performance\s+Period)`),
		regexp.MustCompile(`(?i)(Start\s+Date|Begin\s+Date):\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\w+\s+\d{1,2},?\s+\d{4})`),
		regexp.MustCompile(`(?i)(End\s+Date|Termination\s+Date):\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\w+\s+\d{1,2},?\s+\d{4})`),
	},
	CategoryPayoutSchedule: {
		regexp.MustCompile(`(?i)(Payout\s+Schedule|Payment\s+Schedule|Payout\s+Timing)`),
		regexp.MustCompile(`(?i)(Monthly|Quarterly|Annual)\s+Payments`),
		regexp.MustCompile(`(?i)(Payout|Payment)\s+(Calculation|Formula)`),
	},
	CategorySpecialProvisions: {
		regexp.MustCompile(`(?i)(Special\s+Provisions|Exceptions|Adjustments)`),
		regexp.MustCompile(`(?i)(Clawback|Windfall|Adjustment)`),
		regexp.MustCompile(`(?i)(Termination|Proration|Leave\s+of\s+Absence)`),
	},
	CategoryTermsAndConditions: {
		regexp.MustCompile(`(?i)(Terms\s+and\s+Conditions|General\s+Provisions|Plan\s+Rules)`),
		regexp.MustCompile(`(?i)(Eligibility|Participation\s+Requirements)`),
		regexp.MustCompile(`(?i)(Amendment|Modification)\s+of\s+Plan`),
		regexp.MustCompile(`(?i)(Disclaimer|General\s+Terms)`),
	},
	CategoryCompensationComponents: {
		regexp.MustCompile(`(?i)(Compensation\s+Components|Incentive\s+Components|Plan\s+Components)`),
		regexp.MustCompile(`(?i)(Bonus|Incentive|Commission)\s+Structure`),
		regexp.MustCompile(`(?i)(Quota|Target|Goal)\s+Achievement`),
		regexp.MustCompile(`(?i)(Revenue|Sales)\s+Attainment`),
	},
}

// spmCategoryOrder fixes iteration order over categoryPatterns so
// classification is deterministic (map iteration in Go is not).
var spmCategoryOrder = []Category{
	CategoryPlanInfo, CategoryPlanSummary, CategoryEffectiveDates, CategoryPayoutSchedule,
	CategorySpecialProvisions, CategoryTermsAndConditions, CategoryCompensationComponents,
}

func classifyHeader(line string) (bool, int) {
	for _, hp := range headerPatterns {
		if hp.re.MatchString(line) {
			if hp.level == 0 {
				m := markdownHeadingRe.FindStringSubmatch(line)
				if m != nil {
					return true, len(m[1])
				}
				return true, 1
			}
			return true, hp.level
		}
	}
	return false, 0
}

func isTableLine(line string) bool {
	for _, re := range tablePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func isFormulaLine(line string) bool {
	for _, re := range formulaPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func isFooterLine(line string) bool {
	return footerPageNumberRe.MatchString(line) || footerMarkerRe.MatchString(line)
}

func detectCategory(line string) Category {
	for _, cat := range spmCategoryOrder {
		for _, re := range categoryPatterns[cat] {
			if re.MatchString(line) {
				return cat
			}
		}
	}
	return ""
}

// flatSection is an intermediate, unnested representation produced by the
// linear scan; organizeHierarchy folds it into the nested Section tree.
type flatSection struct {
	kind     Kind
	level    int
	category Category
	raw      string
}

// Segment runs the stateful line-by-line classifier over content and
// returns the resulting hierarchical section tree (spec §4.4 step 2-3).
func Segment(content string) []*Section {
	lines := strings.Split(content, "\n")
	var flat []flatSection
	cur := flatSection{kind: KindBody}

	flush := func() {
		if strings.TrimSpace(cur.raw) != "" {
			flat = append(flat, cur)
		}
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			cur.raw += line + "\n"
			continue
		}

		if ok, level := classifyHeader(strings.TrimSpace(line)); ok {
			flush()
			cur = flatSection{kind: KindHeader, level: level, raw: line + "\n", category: detectCategory(line)}
			continue
		}

		if isTableLine(line) {
			if cur.kind != KindTable {
				flush()
				cur = flatSection{kind: KindTable, category: cur.category, raw: line + "\n"}
			} else {
				cur.raw += line + "\n"
			}
			continue
		}

		if isFormulaLine(line) {
			if cur.kind != KindFormula {
				flush()
				cur = flatSection{kind: KindFormula, category: CategoryCompensationComponents, raw: line + "\n"}
			} else {
				cur.raw += line + "\n"
			}
			continue
		}

		if isFooterLine(line) {
			if cur.kind != KindFooter {
				flush()
				cur = flatSection{kind: KindFooter, raw: line + "\n"}
			} else {
				cur.raw += line + "\n"
			}
			continue
		}

		if cat := detectCategory(line); cat != "" && cat != cur.category {
			flush()
			cur = flatSection{kind: KindBody, category: cat, raw: line + "\n"}
			continue
		}

		if cur.kind != KindBody {
			flush()
			cur = flatSection{kind: KindBody, raw: line + "\n"}
			continue
		}

		cur.raw += line + "\n"
	}
	flush()

	return organizeHierarchy(flat)
}

// organizeHierarchy folds the flat scan result into a tree using a header
// stack: a header at level L pops all headers at level >= L, then attaches
// under the new stack top (or at the root). Non-headers attach under the
// current stack top.
func organizeHierarchy(flat []flatSection) []*Section {
	var roots []*Section
	var stack []*Section

	for _, f := range flat {
		sec := &Section{Kind: f.kind, Level: f.level, Category: f.category, Raw: f.raw}
		if f.kind == KindHeader {
			for len(stack) > 0 && stack[len(stack)-1].Level >= f.level {
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, sec)
			} else {
				roots = append(roots, sec)
			}
			stack = append(stack, sec)
			continue
		}

		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, sec)
		} else {
			roots = append(roots, sec)
		}
	}
	return roots
}
