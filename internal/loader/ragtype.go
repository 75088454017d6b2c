package loader

import (
	"regexp"
	"strings"
)

// filenamePattern maps a filename substring pattern to a detected RAG
// document type with a fixed confidence, checked before content patterns.
type filenamePattern struct {
	pattern    *regexp.Regexp
	docType    string
	confidence float64
}

var filenamePatterns = []filenamePattern{
	{regexp.MustCompile(`(?i)(comp|commission)[_\- ]?plan`), "commission_plan", 0.9},
	{regexp.MustCompile(`(?i)quota`), "quota_document", 0.85},
	{regexp.MustCompile(`(?i)(policy|sop)`), "policy_document", 0.8},
	{regexp.MustCompile(`(?i)(contract|agreement)`), "contract", 0.8},
}

type contentPattern struct {
	pattern    *regexp.Regexp
	docType    string
	confidence float64
}

var contentPatterns = []contentPattern{
	{regexp.MustCompile(`(?i)(attainment|quota|target incentive|payout schedule)`), "commission_plan", 0.7},
	{regexp.MustCompile(`(?i)(effective date|terms and conditions)`), "policy_document", 0.6},
	{regexp.MustCompile(`(?i)(whereas|hereby agree|party of the first part)`), "contract", 0.65},
}

// DetectDocumentType guesses a RAG document type from the filename first,
// falling back to content patterns, with a confidence score in [0,1].
// Returns ("unknown", 0) when nothing matches.
func DetectDocumentType(filename, content string) (string, float64) {
	for _, fp := range filenamePatterns {
		if fp.pattern.MatchString(filename) {
			return fp.docType, fp.confidence
		}
	}
	for _, cp := range contentPatterns {
		if cp.pattern.MatchString(content) {
			return cp.docType, cp.confidence
		}
	}
	return "unknown", 0
}

// WordCount returns the whitespace-delimited word count of content.
func WordCount(content string) int {
	return len(strings.Fields(content))
}
