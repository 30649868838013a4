package office

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/feichai0017/document-converter/internal/models"
)

var sheetPattern = regexp.MustCompile(`^xl/worksheets/sheet(\d+)\.xml$`)

func (e *Extractor) extractXlsx(a *archive) (*models.RenderedResult, error) {
	if !a.has("xl/workbook.xml") {
		return nil, fmt.Errorf("not a workbook: xl/workbook.xml not found")
	}

	shared, err := a.sharedStrings()
	if err != nil {
		return nil, err
	}
	names := a.sheetNames()

	var blocks []string
	sheets := a.numbered(sheetPattern)
	for i, name := range sheets {
		data, err := a.read(name)
		if err != nil {
			return nil, err
		}
		rows, err := sheetRows(data, shared)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}

		title := fmt.Sprintf("Sheet%d", i+1)
		if i < len(names) && names[i] != "" {
			title = names[i]
		}
		block := "## " + title
		if table := markdownTable(rows); table != "" {
			block += "\n\n" + table
		}
		blocks = append(blocks, block)
	}

	result := newResult()
	result.Markdown = joinBlocks(blocks)
	result.Metadata["sheets"] = len(sheets)
	return result, nil
}

func (a *archive) sheetNames() []string {
	data, err := a.read("xl/workbook.xml")
	if err != nil {
		return nil
	}
	var wb struct {
		Sheets []struct {
			Name string `xml:"name,attr"`
		} `xml:"sheets>sheet"`
	}
	if err := xml.Unmarshal(data, &wb); err != nil {
		return nil
	}
	names := make([]string, len(wb.Sheets))
	for i, s := range wb.Sheets {
		names[i] = s.Name
	}
	return names
}

// sharedStrings returns the workbook string table. Rich-text runs inside
// one entry are concatenated.
func (a *archive) sharedStrings() ([]string, error) {
	if !a.has("xl/sharedStrings.xml") {
		return nil, nil
	}
	data, err := a.read("xl/sharedStrings.xml")
	if err != nil {
		return nil, err
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out      []string
		cur      strings.Builder
		inText   bool
		phonetic bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse sharedStrings.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				cur.Reset()
			case "rPh":
				phonetic = true
			case "t":
				inText = !phonetic
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				out = append(out, cur.String())
			case "rPh":
				phonetic = false
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
}

// sheetRows lays cells out by their A1 reference so gaps stay aligned.
func sheetRows(data []byte, shared []string) ([][]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		rows     [][]string
		row      []string
		col      int
		cellType string
		value    strings.Builder
		inValue  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				row = nil
			case "c":
				cellType = attr(t, "t")
				if idx := columnIndex(attr(t, "r")); idx >= 0 {
					col = idx
				} else {
					col = len(row)
				}
				value.Reset()
			case "v", "t":
				inValue = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "c":
				for len(row) <= col {
					row = append(row, "")
				}
				row[col] = cellValue(cellType, value.String(), shared)
			case "row":
				if len(row) > 0 {
					rows = append(rows, row)
				}
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
	}
}

func cellValue(cellType, raw string, shared []string) string {
	switch cellType {
	case "s":
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || i < 0 || i >= len(shared) {
			return ""
		}
		return shared[i]
	case "b":
		if raw == "1" {
			return "TRUE"
		}
		return "FALSE"
	default:
		return raw
	}
}

// columnIndex converts the letters of an A1 reference to a 0-based column.
func columnIndex(ref string) int {
	n := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1
}
