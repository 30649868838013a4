// Package office extracts Markdown from zip-based document formats (DOCX,
// PPTX, XLSX, EPUB) and from HTML.
package office

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// maxPartSize caps how much of a single archive member is read.
const maxPartSize = 64 << 20

type Extractor struct {
	logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
	return &Extractor{logger: log}
}

// Supports reports whether ft is handled here.
func (e *Extractor) Supports(ft models.FileType) bool {
	switch ft {
	case models.DOCX, models.PPTX, models.XLSX, models.EPUB, models.HTML:
		return true
	}
	return false
}

// Extract renders the file at path. Embedded media bytes are kept only when
// extractImages is set; they are counted either way.
func (e *Extractor) Extract(filePath string, ft models.FileType, extractImages bool) (*models.RenderedResult, error) {
	if ft == models.HTML {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		return e.extractHTML(f, extractImages)
	}

	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s archive: %w", ft, err)
	}
	defer zr.Close()

	a := newArchive(&zr.Reader)
	var result *models.RenderedResult
	switch ft {
	case models.DOCX:
		result, err = e.extractDocx(a)
	case models.PPTX:
		result, err = e.extractPptx(a)
	case models.XLSX:
		result, err = e.extractXlsx(a)
	case models.EPUB:
		result, err = e.extractEpub(a, extractImages)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", ft)
	}
	if err != nil {
		return nil, err
	}

	if ft != models.EPUB {
		for k, v := range a.coreProperties() {
			result.Metadata[k] = v
		}
		a.collectMedia(result, mediaPrefix[ft], extractImages)
	}
	result.Metadata["source"] = string(ft)

	e.logger.Debug("Extracted document",
		logger.String("type", string(ft)),
		logger.Int("chars", len(result.Markdown)),
		logger.Int("images", result.NumImages()),
	)
	return result, nil
}

var mediaPrefix = map[models.FileType]string{
	models.DOCX: "word/media/",
	models.PPTX: "ppt/media/",
	models.XLSX: "xl/media/",
}

// archive indexes a zip by member name.
type archive struct {
	files map[string]*zip.File
	names []string
}

func newArchive(r *zip.Reader) *archive {
	a := &archive{files: make(map[string]*zip.File, len(r.File))}
	for _, f := range r.File {
		a.files[f.Name] = f
		a.names = append(a.names, f.Name)
	}
	sort.Strings(a.names)
	return a
}

func (a *archive) read(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("archive member %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxPartSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

func (a *archive) has(name string) bool {
	_, ok := a.files[name]
	return ok
}

// numbered returns members matching re ordered by their first capture group.
func (a *archive) numbered(re *regexp.Regexp) []string {
	type entry struct {
		name string
		n    int
	}
	var entries []entry
	for _, name := range a.names {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		entries = append(entries, entry{name, n})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].n < entries[j].n })

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

func (a *archive) collectMedia(result *models.RenderedResult, prefix string, keep bool) {
	if prefix == "" {
		return
	}
	for _, name := range a.names {
		if !strings.HasPrefix(name, prefix) || strings.HasSuffix(name, "/") {
			continue
		}
		a.addImage(result, name, keep)
	}
}

func (a *archive) addImage(result *models.RenderedResult, name string, keep bool) {
	result.ImageCount++
	if !keep {
		return
	}
	data, err := a.read(name)
	if err != nil {
		return
	}
	if result.Images == nil {
		result.Images = make(map[string][]byte)
	}
	result.Images[path.Base(name)] = data
}

// coreProperties reads title and author from docProps/core.xml.
func (a *archive) coreProperties() map[string]interface{} {
	props := map[string]interface{}{}
	data, err := a.read("docProps/core.xml")
	if err != nil {
		return props
	}
	var core struct {
		Title   string `xml:"title"`
		Creator string `xml:"creator"`
	}
	if err := xml.Unmarshal(data, &core); err != nil {
		return props
	}
	if core.Title != "" {
		props["title"] = core.Title
	}
	if core.Creator != "" {
		props["author"] = core.Creator
	}
	return props
}

func newResult() *models.RenderedResult {
	return &models.RenderedResult{Metadata: make(map[string]interface{})}
}

// markdownTable renders rows with the first row as header. Pipes in cells
// are escaped.
func markdownTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	if cols == 0 {
		return ""
	}

	var b strings.Builder
	for i, r := range rows {
		cells := make([]string, cols)
		for j := range cells {
			if j < len(r) {
				cells[j] = strings.ReplaceAll(strings.TrimSpace(r[j]), "|", `\|`)
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinBlocks(blocks []string) string {
	out := blocks[:0]
	for _, b := range blocks {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}
