package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/spmedge/pipeline/internal/extract"
)

// ExtractFile dispatches on detected format and returns a unified Artifact.
func ExtractFile(name, ext string, data []byte) (Artifact, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "pdf":
		pages, info, err := extract.ExtractPDFPages(bytes.NewReader(data))
		if err != nil {
			return Artifact{}, fmt.Errorf("extract pdf: %w", err)
		}
		switch DetectFormat(ext, pages, info) {
		case FormatConvertedSpreadsh:
			return extractConvertedSpreadsheet(pages), nil
		case FormatConvertedPresent:
			return extractConvertedPresentation(pages), nil
		default:
			return extractPDFNative(pages, info), nil
		}
	case "docx":
		structured, err := extract.ExtractDOCXStructured(bytes.NewReader(data))
		if err != nil {
			return Artifact{}, fmt.Errorf("extract docx: %w", err)
		}
		return extractDOCXArtifact(structured), nil
	case "xlsx":
		sheets, err := extract.ExtractXLSXStructured(bytes.NewReader(data))
		if err != nil {
			return Artifact{}, fmt.Errorf("extract xlsx: %w", err)
		}
		return extractXLSXArtifact(sheets), nil
	case "pptx":
		slides, err := extract.ExtractPPTXSlides(bytes.NewReader(data))
		if err != nil {
			return Artifact{}, fmt.Errorf("extract pptx: %w", err)
		}
		return extractPPTXArtifact(slides), nil
	case "txt", "md", "markdown", "csv":
		return Artifact{
			Content:           string(data),
			Structure:         map[string]any{},
			Metadata:          map[string]any{},
			ExtractionMethod:  "plain_text",
			ExtractionQuality: 1.0,
		}, nil
	case "json":
		return extractJSONArtifact(data), nil
	default:
		return Artifact{
			Content:           fmt.Sprintf("[Unsupported file format: %s]", ext),
			Structure:         map[string]any{},
			Metadata:          map[string]any{},
			ExtractionMethod:  "unsupported",
			ExtractionQuality: 0,
		}, nil
	}
}

func extractPDFNative(pages []string, info extract.PDFInfo) Artifact {
	totalChars := 0
	for _, p := range pages {
		totalChars += len(strings.TrimSpace(p))
	}
	needsOCR := totalChars < 100 && len(pages) >= 1
	quality := 0.9
	if needsOCR {
		quality = 0.3
	}

	return Artifact{
		Content: strings.TrimSpace(strings.Join(pages, "\n\n")),
		Structure: map[string]any{
			"pages": len(pages),
		},
		Metadata: map[string]any{
			"title":    info.Title,
			"author":   info.Author,
			"creator":  info.Creator,
			"producer": info.Producer,
		},
		ExtractionMethod:  "pdf_native",
		ExtractionQuality: quality,
		NeedsOCR:          needsOCR,
	}
}

var pageNumberRe = regexp.MustCompile(`^\s*(page\s*)?\d+\s*(/\s*\d+)?\s*$`)
var bulletRe = regexp.MustCompile(`^\s*[•\-\*▪●◦]\s+`)

func extractConvertedPresentation(pages []string) Artifact {
	var sb strings.Builder
	slideTitles := 0
	for i, page := range pages {
		lines := strings.Split(page, "\n")
		title := ""
		var bullets []string
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || pageNumberRe.MatchString(trimmed) {
				continue
			}
			if title == "" {
				title = trimmed
				continue
			}
			if bulletRe.MatchString(trimmed) {
				bullets = append(bullets, bulletRe.ReplaceAllString(trimmed, ""))
			} else {
				bullets = append(bullets, trimmed)
			}
		}
		if title != "" {
			slideTitles++
		}
		fmt.Fprintf(&sb, "SLIDE %d: %s\n", i+1, title)
		for _, b := range bullets {
			fmt.Fprintf(&sb, "  - %s\n", b)
		}
		sb.WriteString("\n")
	}

	return Artifact{
		Content: strings.TrimSpace(sb.String()),
		Structure: map[string]any{
			"slides":        len(pages),
			"titled_slides": slideTitles,
		},
		Metadata:          map[string]any{},
		ExtractionMethod:  "converted_presentation",
		ExtractionQuality: 0.85,
	}
}

func extractConvertedSpreadsheet(pages []string) Artifact {
	var sb strings.Builder
	tableCount := 0
	for i, page := range pages {
		lines := strings.Split(page, "\n")
		fmt.Fprintf(&sb, "--- Page %d ---\n", i+1)
		var rows [][]string
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			fields := strings.Fields(trimmed)
			if len(fields) >= 2 {
				rows = append(rows, fields)
			}
		}
		if len(rows) > 0 {
			tableCount++
			width := len(rows[0])
			for _, row := range rows {
				sb.WriteString(strings.Join(row, " | "))
				sb.WriteString("\n")
			}
			sb.WriteString(strings.Repeat("-", width*4))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return Artifact{
		Content: strings.TrimSpace(sb.String()),
		Structure: map[string]any{
			"pages":  len(pages),
			"tables": tableCount,
		},
		Metadata:          map[string]any{},
		ExtractionMethod:  "converted_spreadsheet",
		ExtractionQuality: 0.85,
	}
}

func headingLevel(style string) int {
	lower := strings.ToLower(style)
	switch {
	case strings.Contains(lower, "heading1") || strings.Contains(lower, "title"):
		return 1
	case strings.Contains(lower, "heading2"):
		return 2
	case strings.Contains(lower, "heading3"):
		return 3
	default:
		return 0
	}
}

func extractDOCXArtifact(s extract.DOCXStructured) Artifact {
	var sb strings.Builder
	headings := 0
	for _, p := range s.Paragraphs {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if lvl := headingLevel(p.Style); lvl > 0 {
			headings++
			sb.WriteString(strings.Repeat("#", lvl))
			sb.WriteString(" ")
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	for _, tbl := range s.Tables {
		sb.WriteString("\n")
		for _, row := range tbl.Rows {
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteString("\n")
		}
	}

	meta := map[string]any{}
	for k, v := range s.CoreProps {
		meta[k] = v
	}

	return Artifact{
		Content: strings.TrimSpace(sb.String()),
		Structure: map[string]any{
			"paragraphs": len(s.Paragraphs),
			"headings":   headings,
			"tables":     len(s.Tables),
		},
		Metadata:          meta,
		ExtractionMethod:  "docx",
		ExtractionQuality: 0.95,
	}
}

func extractXLSXArtifact(sheets []extract.XLSXSheet) Artifact {
	var sb strings.Builder
	sheetStructs := []map[string]any{}
	for _, sheet := range sheets {
		fmt.Fprintf(&sb, "=== %s ===\n", sheet.Name)
		if len(sheet.Headers) > 0 {
			sb.WriteString(strings.Join(sheet.Headers, "\t"))
			sb.WriteString("\n")
		}
		for _, row := range sheet.Rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		sheetStructs = append(sheetStructs, map[string]any{
			"name":    sheet.Name,
			"headers": sheet.Headers,
			"rows":    len(sheet.Rows),
		})
	}

	return Artifact{
		Content: strings.TrimSpace(sb.String()),
		Structure: map[string]any{
			"sheets": sheetStructs,
		},
		Metadata:          map[string]any{},
		ExtractionMethod:  "xlsx",
		ExtractionQuality: 0.9,
	}
}

func extractPPTXArtifact(slides []extract.PPTXSlide) Artifact {
	var sb strings.Builder
	shapeTotal := 0
	for i, slide := range slides {
		fmt.Fprintf(&sb, "SLIDE %d: %s\n", i+1, slide.Title)
		for _, block := range slide.TextBlocks {
			fmt.Fprintf(&sb, "  - %s\n", block)
		}
		sb.WriteString("\n")
		shapeTotal += slide.ShapeCount
	}

	return Artifact{
		Content: strings.TrimSpace(sb.String()),
		Structure: map[string]any{
			"slides": len(slides),
			"shapes": shapeTotal,
		},
		Metadata:          map[string]any{},
		ExtractionMethod:  "pptx",
		ExtractionQuality: 0.9,
	}
}

func extractJSONArtifact(data []byte) Artifact {
	var parsed any
	structure := map[string]any{}
	if err := json.Unmarshal(data, &parsed); err == nil {
		structure["parsed"] = parsed
	}
	return Artifact{
		Content:           string(data),
		Structure:         structure,
		Metadata:          map[string]any{},
		ExtractionMethod:  "json",
		ExtractionQuality: 1.0,
	}
}
