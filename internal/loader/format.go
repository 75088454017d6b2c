package loader

import (
	"regexp"
	"strings"

	"github.com/spmedge/pipeline/internal/extract"
)

// Format identifies the detected shape of a source document, which may
// differ from its raw extension (e.g. a PDF rendered from slides).
type Format string

const (
	FormatPDFNative         Format = "pdf_native"
	FormatConvertedPresent  Format = "converted_presentation"
	FormatConvertedSpreadsh Format = "converted_spreadsheet"
	FormatDOCX              Format = "docx"
	FormatXLSX              Format = "xlsx"
	FormatPPTX              Format = "pptx"
	FormatText              Format = "text"
	FormatUnknown           Format = "unknown"
)

// gridRowRe matches a line laid out in aligned columns: short tokens
// separated by runs of 2+ spaces, the shape PDF-to-text rendering gives a
// spreadsheet grid (prose rarely survives extraction with multi-space
// column padding intact).
var gridRowRe = regexp.MustCompile(`(?m)^\s*\S{1,12}(?: {2,}\S{1,12}){2,}\s*$`)
var cellRefRe = regexp.MustCompile(`\b[A-Z]{1,2}[0-9]{1,4}\b`)

// DetectFormat inspects the extension and, for PDFs, the extracted page
// text and producer metadata, to distinguish a native PDF from one
// converted from a presentation or spreadsheet (spec §4.3).
func DetectFormat(ext string, pages []string, info extract.PDFInfo) Format {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "docx":
		return FormatDOCX
	case "xlsx":
		return FormatXLSX
	case "pptx":
		return FormatPPTX
	case "txt", "md", "markdown", "csv", "json":
		return FormatText
	case "pdf":
		return detectPDFVariant(pages, info)
	default:
		return FormatUnknown
	}
}

func detectPDFVariant(pages []string, info extract.PDFInfo) Format {
	producer := strings.ToLower(info.Producer + " " + info.Creator)
	if looksLikeSpreadsheetProducer(producer) || pagesLookLikeGrids(pages) {
		return FormatConvertedSpreadsh
	}
	if looksLikePresentationProducer(producer) || pagesLookLikeSlides(pages) {
		return FormatConvertedPresent
	}
	return FormatPDFNative
}

func looksLikeSpreadsheetProducer(producer string) bool {
	for _, marker := range []string{"excel", "sheets", "calc", "numbers"} {
		if strings.Contains(producer, marker) {
			return true
		}
	}
	return false
}

func looksLikePresentationProducer(producer string) bool {
	for _, marker := range []string{"powerpoint", "keynote", "impress", "slides"} {
		if strings.Contains(producer, marker) {
			return true
		}
	}
	return false
}

// pagesLookLikeGrids treats a majority of pages containing cell-reference
// patterns or wide whitespace-delimited rows as spreadsheet-shaped.
func pagesLookLikeGrids(pages []string) bool {
	if len(pages) == 0 {
		return false
	}
	hits := 0
	for _, p := range pages {
		if gridRowRe.MatchString(p) || len(cellRefRe.FindAllString(p, -1)) >= 3 {
			hits++
		}
	}
	return hits*2 >= len(pages)
}

// pagesLookLikeSlides treats a multi-page document made of short,
// few-line pages (typical of a rendered slide deck) as presentation-shaped.
// A single long page never qualifies, since that is the common shape of a
// native single-page PDF.
func pagesLookLikeSlides(pages []string) bool {
	if len(pages) < 2 {
		return false
	}
	hits := 0
	for _, p := range pages {
		lines := strings.Split(strings.TrimSpace(p), "\n")
		nonEmpty := 0
		for _, l := range lines {
			if strings.TrimSpace(l) != "" {
				nonEmpty++
			}
		}
		if nonEmpty > 0 && nonEmpty <= 8 && len(p) < 400 {
			hits++
		}
	}
	return hits*2 >= len(pages)
}
