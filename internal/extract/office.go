package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DOCXParagraph is one paragraph of a DOCX body, carrying its style name so
// the loader can recognize headings (style "Heading1".."Heading3" etc).
type DOCXParagraph struct {
	Text  string
	Style string
}

// DOCXTable is a row x cell grid extracted from a DOCX body.
type DOCXTable struct {
	Rows [][]string
}

// DOCXStructured is the full structural breakdown of a DOCX document.
type DOCXStructured struct {
	Paragraphs []DOCXParagraph
	Tables     []DOCXTable
	CoreProps  map[string]string
}

// ExtractDOCXStructured parses word/document.xml into paragraphs (with
// style), tables, and reads docProps/core.xml for title/author/etc.
func ExtractDOCXStructured(r io.Reader) (DOCXStructured, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return DOCXStructured{}, fmt.Errorf("read docx: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return DOCXStructured{}, fmt.Errorf("open docx zip: %w", err)
	}

	out := DOCXStructured{CoreProps: map[string]string{}}
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			rc, err := f.Open()
			if err != nil {
				return out, err
			}
			paras, tables, err := parseDOCXBody(rc)
			rc.Close()
			if err != nil {
				return out, err
			}
			out.Paragraphs = paras
			out.Tables = tables
		case "docProps/core.xml":
			rc, err := f.Open()
			if err == nil {
				out.CoreProps = parseDOCXCoreProps(rc)
				rc.Close()
			}
		}
	}
	if out.Paragraphs == nil {
		return out, fmt.Errorf("word/document.xml not found in docx")
	}
	return out, nil
}

// parseDOCXBody walks word/document.xml tracking paragraph style (pStyle),
// run text (t), and table structure (tbl/tr/tc).
func parseDOCXBody(r io.Reader) ([]DOCXParagraph, []DOCXTable, error) {
	var paragraphs []DOCXParagraph
	var tables []DOCXTable

	decoder := xml.NewDecoder(r)
	var curText strings.Builder
	var curStyle string
	var inTable bool
	var curTable DOCXTable
	var curRow []string
	var curCellText strings.Builder

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "tbl":
				inTable = true
				curTable = DOCXTable{}
			case "tr":
				curRow = nil
			case "tc":
				curCellText.Reset()
			case "pStyle":
				for _, a := range se.Attr {
					if a.Name.Local == "val" {
						curStyle = a.Value
					}
				}
			case "t":
				var content struct {
					Text string `xml:",chardata"`
				}
				if err := decoder.DecodeElement(&content, &se); err == nil {
					if inTable {
						curCellText.WriteString(content.Text)
					} else {
						curText.WriteString(content.Text)
					}
				}
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "tc":
				curRow = append(curRow, curCellText.String())
			case "tr":
				curTable.Rows = append(curTable.Rows, curRow)
			case "tbl":
				tables = append(tables, curTable)
				inTable = false
			case "p":
				if !inTable {
					paragraphs = append(paragraphs, DOCXParagraph{Text: curText.String(), Style: curStyle})
					curText.Reset()
					curStyle = ""
				}
			}
		}
	}
	return paragraphs, tables, nil
}

func parseDOCXCoreProps(r io.Reader) map[string]string {
	props := map[string]string{}
	decoder := xml.NewDecoder(r)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		name := se.Name.Local
		if name != "title" && name != "creator" && name != "subject" && name != "description" {
			continue
		}
		var content struct {
			Text string `xml:",chardata"`
		}
		if err := decoder.DecodeElement(&content, &se); err == nil {
			props[name] = content.Text
		}
	}
	return props
}

// XLSXSheet is one worksheet's rows plus its header row (first row), used
// by the loader to build a structured header/rows breakdown.
type XLSXSheet struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// ExtractXLSXStructured returns every sheet's rows, treating the first row
// of each sheet as a header.
func ExtractXLSXStructured(r io.Reader) ([]XLSXSheet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}
	xf, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer xf.Close()

	var sheets []XLSXSheet
	for _, name := range xf.GetSheetList() {
		rows, err := xf.GetRows(name)
		if err != nil {
			continue
		}
		s := XLSXSheet{Name: name}
		if len(rows) > 0 {
			s.Headers = rows[0]
			s.Rows = rows[1:]
		}
		sheets = append(sheets, s)
	}
	return sheets, nil
}
