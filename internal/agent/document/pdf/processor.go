package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// Processor extracts page text from PDFs in process.
type Processor struct {
	logger     logger.Logger
	maxWorkers int
}

func NewProcessor(logger logger.Logger) *Processor {
	return &Processor{
		logger:     logger,
		maxWorkers: 4,
	}
}

type pageText struct {
	num    int
	text   string
	images int
}

// Process reads the PDF at path and renders one markdown section per page.
func (p *Processor) Process(ctx context.Context, path string, extractImages bool) (*models.RenderedResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	pdfReader, numPages, err := open(content)
	if err != nil {
		return nil, err
	}
	pages := make([]pageText, numPages)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("failed to read page %d: %v", pageNum, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}

			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}

			pt := pageText{num: pageNum, text: cleanText(text)}
			if extractImages {
				pt.images = countImages(page)
			}
			pages[pageNum-1] = pt
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var b strings.Builder
	images := 0
	for _, pt := range pages {
		images += pt.images
		if pt.text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pt.text)
	}

	hash := sha256.Sum256(content)
	metadata := map[string]interface{}{
		"pages":  numPages,
		"hash":   hex.EncodeToString(hash[:]),
		"source": "pdf",
	}
	p.addInfo(pdfReader, metadata)

	p.logger.Debug("PDF processed",
		logger.Int("pages", numPages),
		logger.Int("images", images),
	)

	return &models.RenderedResult{
		Markdown:   b.String(),
		Metadata:   metadata,
		ImageCount: images,
	}, nil
}

// open parses the cross reference table. The pdf package panics on some
// malformed object references instead of returning an error, so page workers
// and open both recover.
func open(content []byte) (r *pdf.Reader, numPages int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, numPages, err = nil, 0, fmt.Errorf("failed to open pdf: %v", rec)
		}
	}()

	reader := bytes.NewReader(content)
	r, err = pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open pdf: %w", err)
	}
	return r, r.NumPage(), nil
}

// addInfo copies the document title and author. A broken Info dictionary
// only costs the metadata.
func (p *Processor) addInfo(r *pdf.Reader, metadata map[string]interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Debug("Skipping unreadable PDF info", logger.Any("panic", rec))
		}
	}()

	trailer := r.Trailer()
	if trailer.IsNull() {
		return
	}
	info := trailer.Key("Info")
	if info.IsNull() {
		return
	}
	if title := info.Key("Title"); !title.IsNull() {
		metadata["title"] = title.Text()
	}
	if author := info.Key("Author"); !author.IsNull() {
		metadata["author"] = author.Text()
	}
}

// countImages counts image XObjects referenced from the page resources.
func countImages(page pdf.Page) int {
	xobjects := page.Resources().Key("XObject")
	if xobjects.IsNull() {
		return 0
	}
	n := 0
	for _, name := range xobjects.Keys() {
		if xobjects.Key(name).Key("Subtype").Name() == "Image" {
			n++
		}
	}
	return n
}

// cleanText trims trailing blanks on each line and collapses runs of empty
// lines left by the text extractor.
func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
