package cleaner

import (
	"regexp"
	"strings"
)

var extraNewlinesRe = regexp.MustCompile(`\n{3,}`)

// Reconstruct depth-first re-serializes a cleaned section tree into a
// single string, inserting a blank line between top-level sections, then
// collapses runs of 3+ newlines to 2 and trims (spec §4.4 step 5).
func Reconstruct(sections []*Section) string {
	var parts []string
	for _, s := range sections {
		parts = append(parts, reconstructNode(s))
	}
	text := strings.Join(parts, "\n\n")
	text = extraNewlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func reconstructNode(s *Section) string {
	text := s.Cleaned
	for _, c := range s.Children {
		childText := reconstructNode(c)
		if childText == "" {
			continue
		}
		if text == "" {
			text = childText
		} else {
			text += "\n" + childText
		}
	}
	return text
}
