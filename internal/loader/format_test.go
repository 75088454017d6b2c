package loader

import (
	"testing"

	"github.com/spmedge/pipeline/internal/extract"
	"github.com/stretchr/testify/assert"
)

func TestDetectFormat_ByExtension(t *testing.T) {
	assert.Equal(t, FormatDOCX, DetectFormat(".docx", nil, extract.PDFInfo{}))
	assert.Equal(t, FormatXLSX, DetectFormat(".xlsx", nil, extract.PDFInfo{}))
	assert.Equal(t, FormatPPTX, DetectFormat(".pptx", nil, extract.PDFInfo{}))
	assert.Equal(t, FormatText, DetectFormat(".txt", nil, extract.PDFInfo{}))
	assert.Equal(t, FormatUnknown, DetectFormat(".xyz", nil, extract.PDFInfo{}))
}

func TestDetectFormat_NativePDF(t *testing.T) {
	pages := []string{"This is a long paragraph of normal body text that spans many words and sentences describing a commission plan in detail."}
	got := DetectFormat(".pdf", pages, extract.PDFInfo{Producer: "Acrobat Distiller"})
	assert.Equal(t, FormatPDFNative, got)
}

func TestDetectFormat_ConvertedPresentationByProducer(t *testing.T) {
	got := DetectFormat(".pdf", []string{"Title\nbullet one"}, extract.PDFInfo{Creator: "Microsoft PowerPoint"})
	assert.Equal(t, FormatConvertedPresent, got)
}

func TestDetectFormat_ConvertedSpreadsheetByProducer(t *testing.T) {
	got := DetectFormat(".pdf", []string{"A1 B1 C1\n1 2 3"}, extract.PDFInfo{Producer: "Microsoft Excel"})
	assert.Equal(t, FormatConvertedSpreadsh, got)
}

func TestDetectDocumentType_FilenamePriority(t *testing.T) {
	docType, conf := DetectDocumentType("2026_commission_plan_v2.pdf", "irrelevant content")
	assert.Equal(t, "commission_plan", docType)
	assert.Greater(t, conf, 0.0)
}

func TestDetectDocumentType_FallsBackToContent(t *testing.T) {
	docType, conf := DetectDocumentType("random_name.pdf", "This plan defines the Attainment and Target Incentive payout schedule for reps.")
	assert.Equal(t, "commission_plan", docType)
	assert.Greater(t, conf, 0.0)
}

func TestDetectDocumentType_Unknown(t *testing.T) {
	docType, conf := DetectDocumentType("random.pdf", "nothing interesting here")
	assert.Equal(t, "unknown", docType)
	assert.Zero(t, conf)
}
