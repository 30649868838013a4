package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-converter/pkg/logger"
)

func stream(body string) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(body), body)
}

// twoPageObjects is a report with an image on page one and an Info
// dictionary. Objects are numbered from 1 in slice order.
func twoPageObjects() []string {
	return []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>",
		"<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 5 0 R >> /XObject << /Im1 7 0 R >> >> /Contents 6 0 R >>",
		"<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 5 0 R >> >> /Contents 8 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		stream("BT /F1 12 Tf 72 720 Td (Quarterly Report) Tj T* (Revenue grew) Tj ET"),
		"<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 /Length 1 >>\nstream\n\x00\nendstream",
		stream("BT /F1 12 Tf 72 720 Td (Outlook stable) Tj ET"),
		"<< /Title (Q3 Report) /Author (Finance Team) >>",
	}
}

// writePDF lays out objs with a classic xref table. remap, when set, may
// rewrite the recorded offsets before the table is written.
func writePDF(t *testing.T, objs []string, remap func(offsets []int)) string {
	t.Helper()

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	if remap != nil {
		remap(offsets)
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, len(objs), xref)

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
	return path
}

func TestCleanText(t *testing.T) {
	in := "Title  \n\n\n\nline one\t\nline two\n\n"
	assert.Equal(t, "Title\n\nline one\nline two", cleanText(in))
}

func TestProcess_PagesInOrder(t *testing.T) {
	path := writePDF(t, twoPageObjects(), nil)
	p := NewProcessor(logger.NewTestLogger())

	res, err := p.Process(context.Background(), path, true)
	require.NoError(t, err)

	assert.Equal(t, "Quarterly Report\nRevenue grew\n\nOutlook stable", res.Markdown)
	assert.Equal(t, 1, res.ImageCount)
	assert.Equal(t, 2, res.Metadata["pages"])
	assert.Equal(t, "pdf", res.Metadata["source"])
	assert.Equal(t, "Q3 Report", res.Metadata["title"])
	assert.Equal(t, "Finance Team", res.Metadata["author"])
	assert.Len(t, res.Metadata["hash"], 64)
}

func TestProcess_ImagesCountedOnlyWhenRequested(t *testing.T) {
	path := writePDF(t, twoPageObjects(), nil)

	res, err := NewProcessor(logger.NewTestLogger()).Process(context.Background(), path, false)
	require.NoError(t, err)
	assert.Zero(t, res.ImageCount)
	assert.Contains(t, res.Markdown, "Outlook stable")
}

func TestProcess_BrokenObjectReference(t *testing.T) {
	// The xref entry for page one points at the second page object.
	path := writePDF(t, twoPageObjects(), func(offsets []int) {
		offsets[2] = offsets[3]
	})

	var err error
	require.NotPanics(t, func() {
		_, err = NewProcessor(logger.NewTestLogger()).Process(context.Background(), path, true)
	})
	assert.ErrorContains(t, err, "failed to read page")
	assert.ErrorContains(t, err, "found {4 0}")
}

func TestProcess_BrokenPageTree(t *testing.T) {
	// The catalog's Pages entry resolves to the wrong object while counting pages.
	path := writePDF(t, twoPageObjects(), func(offsets []int) {
		offsets[1] = offsets[0]
	})

	var err error
	require.NotPanics(t, func() {
		_, err = NewProcessor(logger.NewTestLogger()).Process(context.Background(), path, false)
	})
	assert.ErrorContains(t, err, "failed to open pdf")
}

func TestProcess_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))

	_, err := NewProcessor(logger.NewTestLogger()).Process(context.Background(), path, true)
	assert.Error(t, err)
}

func TestProcess_MissingFile(t *testing.T) {
	_, err := NewProcessor(logger.NewTestLogger()).Process(context.Background(), "/nonexistent/x.pdf", false)
	assert.ErrorContains(t, err, "failed to read pdf")
}
