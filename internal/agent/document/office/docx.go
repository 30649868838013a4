package office

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/feichai0017/document-converter/internal/models"
)

func (e *Extractor) extractDocx(a *archive) (*models.RenderedResult, error) {
	data, err := a.read("word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("not a word document: %w", err)
	}
	blocks, err := parseDocxBody(data)
	if err != nil {
		return nil, err
	}

	result := newResult()
	result.Markdown = joinBlocks(blocks)
	return result, nil
}

// parseDocxBody walks WordprocessingML paragraphs and tables in document
// order. Only top-level tables are rendered as tables; nested ones are
// flattened into their parent cell.
func parseDocxBody(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		blocks    []string
		para      strings.Builder
		style     string
		listItem  bool
		inText    bool
		tblDepth  int
		rows      [][]string
		row, cell []string
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					rows = nil
				}
			case "tr":
				if tblDepth == 1 {
					row = nil
				}
			case "tc":
				if tblDepth == 1 {
					cell = nil
				}
			case "p":
				para.Reset()
				style, listItem = "", false
			case "pStyle":
				style = attr(t, "val")
			case "numPr":
				listItem = true
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if tblDepth > 0 {
					cell = append(cell, text)
					continue
				}
				switch {
				case headingLevel(style) > 0:
					text = strings.Repeat("#", headingLevel(style)) + " " + text
				case listItem:
					text = "- " + text
				}
				blocks = append(blocks, text)
			case "tc":
				if tblDepth == 1 {
					row = append(row, strings.Join(cell, " "))
				}
			case "tr":
				if tblDepth == 1 {
					rows = append(rows, row)
				}
			case "tbl":
				tblDepth--
				if tblDepth == 0 {
					blocks = append(blocks, markdownTable(rows))
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}

	return mergeListItems(blocks), nil
}

// headingLevel maps Title and HeadingN paragraph styles to a Markdown level.
func headingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return 1
	}
	if !strings.HasPrefix(s, "heading") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "heading"))
	if err != nil || n < 1 {
		return 0
	}
	return min(n, 6)
}

// mergeListItems keeps consecutive list items in one block.
func mergeListItems(blocks []string) []string {
	var out []string
	for _, b := range blocks {
		if n := len(out); n > 0 && strings.HasPrefix(b, "- ") && strings.HasPrefix(lastLine(out[n-1]), "- ") {
			out[n-1] += "\n" + b
			continue
		}
		out = append(out, b)
	}
	return out
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
