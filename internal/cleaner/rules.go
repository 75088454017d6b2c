package cleaner

import (
	"regexp"
	"sort"
	"strings"

	"github.com/spmedge/pipeline/internal/store"
)

var whitespaceRunRe = regexp.MustCompile(`\s+`)
var tripleWhitespaceRe = regexp.MustCompile(`\s{3,}`)

// ApplyRules cleans every section in the tree in place, applying the rules
// whose Context is "all" or matches the section's Kind, in priority order
// (spec §4.4 step 4). Rules are sorted once up front; sort.SliceStable
// preserves the caller's insertion order (Seq) for tied priorities.
func ApplyRules(sections []*Section, rules []store.CleaningRule) error {
	sorted := make([]store.CleaningRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	compiled := make([]compiledRule, 0, len(sorted))
	for _, r := range sorted {
		cr := compiledRule{rule: r}
		if r.Kind == store.PatternRegex {
			re, err := regexp.Compile("(?m)" + r.Pattern)
			if err != nil {
				return err
			}
			cr.re = re
		}
		compiled = append(compiled, cr)
	}

	for _, s := range sections {
		applyRulesToTree(s, compiled)
	}
	return nil
}

type compiledRule struct {
	rule store.CleaningRule
	re   *regexp.Regexp
}

func applyRulesToTree(s *Section, rules []compiledRule) {
	text := s.Raw
	for _, cr := range rules {
		if cr.rule.Context != "all" && cr.rule.Context != string(s.Kind) {
			continue
		}
		if cr.rule.Kind == store.PatternRegex {
			text = cr.re.ReplaceAllString(text, cr.rule.Replacement)
		} else {
			text = strings.ReplaceAll(text, cr.rule.Pattern, cr.rule.Replacement)
		}
	}
	s.Cleaned = applyWhitespacePolicy(s.Kind, text)

	for _, c := range s.Children {
		applyRulesToTree(c, rules)
	}
}

// applyWhitespacePolicy implements the per-kind whitespace rules from
// spec §4.4 step 4: table/formula preserve structure, short footers are
// dropped, body collapses whitespace runs.
func applyWhitespacePolicy(kind Kind, text string) string {
	switch kind {
	case KindTable:
		return strings.TrimRight(text, " \t\r\n")
	case KindFormula:
		return strings.TrimRight(tripleWhitespaceRe.ReplaceAllString(text, "  "), " \t\r\n")
	case KindFooter:
		if len(strings.TrimSpace(text)) < 30 {
			return ""
		}
		return strings.TrimSpace(text)
	default:
		return strings.TrimSpace(whitespaceRunRe.ReplaceAllString(text, " "))
	}
}
