package office

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/feichai0017/document-converter/internal/models"
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func (e *Extractor) extractPptx(a *archive) (*models.RenderedResult, error) {
	slides := a.numbered(slidePattern)
	if len(slides) == 0 && !a.has("ppt/presentation.xml") {
		return nil, fmt.Errorf("not a presentation: ppt/presentation.xml not found")
	}

	var blocks []string
	for i, name := range slides {
		data, err := a.read(name)
		if err != nil {
			return nil, err
		}
		lines, err := slideText(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		block := fmt.Sprintf("## Slide %d", i+1)
		if len(lines) > 0 {
			block += "\n\n" + strings.Join(lines, "\n")
		}
		blocks = append(blocks, block)
	}

	result := newResult()
	result.Markdown = joinBlocks(blocks)
	result.Metadata["slides"] = len(slides)
	return result, nil
}

// slideText returns the text of each DrawingML paragraph on a slide.
func slideText(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		lines  []string
		para   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "br":
				para.WriteString(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(para.String()); s != "" {
					lines = append(lines, s)
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
}
