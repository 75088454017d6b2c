package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// PPTXSlide is one slide's extracted title, body text blocks, and shape
// count.
type PPTXSlide struct {
	Title      string
	TextBlocks []string
	ShapeCount int
}

var slideFileRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// ExtractPPTXSlides returns every slide in presentation order.
func ExtractPPTXSlides(r io.Reader) ([]PPTXSlide, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pptx: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pptx zip: %w", err)
	}

	type indexed struct {
		idx int
		f   *zip.File
	}
	var slideFiles []indexed
	for _, f := range zr.File {
		m := slideFileRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slideFiles = append(slideFiles, indexed{idx: n, f: f})
	}
	sort.Slice(slideFiles, func(i, j int) bool { return slideFiles[i].idx < slideFiles[j].idx })

	slides := make([]PPTXSlide, 0, len(slideFiles))
	for _, sf := range slideFiles {
		rc, err := sf.f.Open()
		if err != nil {
			slides = append(slides, PPTXSlide{})
			continue
		}
		slide, err := parsePPTXSlide(rc)
		rc.Close()
		if err != nil {
			slides = append(slides, PPTXSlide{})
			continue
		}
		slides = append(slides, slide)
	}
	return slides, nil
}

// parsePPTXSlide walks a slideN.xml looking for shape (sp) boundaries, each
// shape's placeholder type (to identify a title shape), and the text runs
// within.
func parsePPTXSlide(r io.Reader) (PPTXSlide, error) {
	var slide PPTXSlide
	decoder := xml.NewDecoder(r)

	var inShape bool
	var shapeIsTitle bool
	var shapeText strings.Builder

	flushShape := func() {
		if !inShape {
			return
		}
		text := strings.TrimSpace(shapeText.String())
		if text != "" {
			if shapeIsTitle && slide.Title == "" {
				slide.Title = text
			} else {
				slide.TextBlocks = append(slide.TextBlocks, text)
			}
		}
		slide.ShapeCount++
		inShape = false
		shapeIsTitle = false
		shapeText.Reset()
	}

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
			case "sp":
				flushShape()
				inShape = true
			case "ph":
				for _, a := range se.Attr {
					if a.Name.Local == "type" && (a.Value == "title" || a.Value == "ctrTitle") {
						shapeIsTitle = true
					}
				}
			case "t":
				var content struct {
					Text string `xml:",chardata"`
				}
				if err := decoder.DecodeElement(&content, &se); err == nil {
					shapeText.WriteString(content.Text)
					shapeText.WriteString(" ")
				}
			}
		case xml.EndElement:
			if se.Name.Local == "sp" {
				flushShape()
			}
		}
	}
	flushShape()
	return slide, nil
}
