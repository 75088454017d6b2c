package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// PDFInfo carries document-level metadata pulled from a PDF's Info
// dictionary, used by the loader to distinguish a native PDF from one
// converted from a presentation or spreadsheet.
type PDFInfo struct {
	Title    string
	Author   string
	Creator  string
	Producer string
}

// ExtractPDFPages returns the plain text of each page, in order, plus the
// document's Info dictionary. A page that fails to parse contributes an
// empty string rather than aborting extraction.
func ExtractPDFPages(r io.Reader) ([]string, PDFInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, PDFInfo{}, fmt.Errorf("read pdf: %w", err)
	}

	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, PDFInfo{}, fmt.Errorf("parse pdf: %w", err)
	}

	info := PDFInfo{}
	if trailer := pdfReader.Trailer(); !trailer.IsNull() {
		if infoDict := trailer.Key("Info"); !infoDict.IsNull() {
			info.Title = infoDict.Key("Title").Text()
			info.Author = infoDict.Key("Author").Text()
			info.Creator = infoDict.Key("Creator").Text()
			info.Producer = infoDict.Key("Producer").Text()
		}
	}

	pages := make([]string, 0, pdfReader.NumPage())
	for i := 1; i <= pdfReader.NumPage(); i++ {
		p := pdfReader.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, content)
	}
	return pages, info, nil
}
