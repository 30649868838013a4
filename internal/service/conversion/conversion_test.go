package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-converter/internal/agent"
	"github.com/feichai0017/document-converter/internal/agent/document"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

type call struct {
	path      string
	assetRoot string
	opts      models.ConversionOptions
}

type fakeConverter struct {
	name    string
	mu      sync.Mutex
	calls   []call
	convert func(ctx context.Context, n int, path string) (*models.RenderedResult, error)
}

func (c *fakeConverter) Name() string { return c.name }

func (c *fakeConverter) Convert(ctx context.Context, path string, bundle *document.ModelBundle, opts models.ConversionOptions) (*models.RenderedResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call{path: path, assetRoot: opts.AssetRoot, opts: opts})
	n := len(c.calls)
	c.mu.Unlock()

	// the staged file must exist while the converter runs
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if c.convert != nil {
		return c.convert(ctx, n, path)
	}
	return &models.RenderedResult{Markdown: "converted by " + c.name}, nil
}

func (c *fakeConverter) Calls() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

type fakeBackend struct {
	acquireErr error
	warnings   []string
	pdf        *fakeConverter
	extraction *fakeConverter
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pdf:        &fakeConverter{name: "pdf-path"},
		extraction: &fakeConverter{name: "extraction-path"},
	}
}

func (b *fakeBackend) Name() string { return "fake" }
func (b *fakeBackend) Available(context.Context) error { return nil }
func (b *fakeBackend) PDFConverter() document.Converter { return b.pdf }
func (b *fakeBackend) ExtractionConverter() document.Converter { return b.extraction }
func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) AcquireModels(context.Context) (*document.ModelBundle, error) {
	if b.acquireErr != nil {
		return nil, b.acquireErr
	}
	return &document.ModelBundle{Backend: "fake", Warnings: b.warnings}, nil
}

type fakeMemory struct {
	stats *MemoryStats
	err   error
}

func (m fakeMemory) Usage(context.Context) (*MemoryStats, error) {
	return m.stats, m.err
}

type fixture struct {
	svc     *Service
	backend *fakeBackend
	tmp     string
	log     *logger.TestLogger
}

func newFixture(t *testing.T, mutate func(*ServiceConfig)) *fixture {
	t.Helper()
	tmp := t.TempDir()
	c := &ServiceConfig{
		Profile:           "hosted",
		MaxUploadSize:     10 * 1024 * 1024,
		WarnPercent:       85,
		AbortPercent:      70,
		Timeout:           2 * time.Second,
		TempDir:           tmp,
		AssetRoot:         "/usr/local/lib/marker/static",
		FallbackAssetRoot: filepath.Join(t.TempDir(), "assets-fallback"),
		SupportContact:    "support@example.com",
	}
	if mutate != nil {
		mutate(c)
	}
	log := logger.NewTestLogger()
	backend := newFakeBackend()
	factory := agent.NewConverterFactory(backend, log)
	return &fixture{
		svc:     NewService(factory, fakeMemory{stats: &MemoryStats{UsedPercent: 40, Available: 8 << 30}}, log, c),
		backend: backend,
		tmp:     tmp,
		log:     log,
	}
}

func (f *fixture) upload(t *testing.T, name string, size int) *models.UploadedDocument {
	t.Helper()
	doc, err := f.svc.HandleUpload(name, []byte(strings.Repeat("x", size)))
	require.NoError(t, err)
	return doc
}

func (f *fixture) assertNoStagedFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged files left behind")
}

func TestHandleUpload_Rejections(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.HandleUpload("big.pdf", make([]byte, 15*1024*1024))
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindValidationRejected, e.Kind)
	assert.Contains(t, e.Hint, "15.0 MB")
	assert.Contains(t, e.Hint, "10.0 MB")

	_, err = f.svc.HandleUpload("notes.txt", []byte("hi"))
	assert.Equal(t, KindValidationRejected, KindOf(err))

	f.assertNoStagedFiles(t)
	assert.Empty(t, f.backend.pdf.Calls())
	assert.Empty(t, f.backend.extraction.Calls())
}

func TestConvert_PDFMarkdown(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.pdf.convert = func(ctx context.Context, n int, path string) (*models.RenderedResult, error) {
		return &models.RenderedResult{Markdown: "# Title\n\nbody", ImageCount: 2}, nil
	}
	doc := f.upload(t, "Report.PDF", 2048)

	res, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "# Title\n\nbody", res.Content)
	assert.Equal(t, "converted.md", res.DownloadName)
	assert.Equal(t, "text/plain; charset=utf-8", res.MimeType)
	assert.Equal(t, 2, res.Images)

	calls := f.backend.pdf.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasSuffix(calls[0].path, ".pdf"))
	assert.True(t, calls[0].opts.ExtractImages)
	assert.Empty(t, f.backend.extraction.Calls())
	f.assertNoStagedFiles(t)
}

func TestConvert_DocxJSON(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.extraction.convert = func(ctx context.Context, n int, path string) (*models.RenderedResult, error) {
		return &models.RenderedResult{Markdown: "hello", Metadata: map[string]interface{}{"source": "docx"}}, nil
	}
	doc := f.upload(t, "memo.docx", 100)

	res, err := f.svc.Convert(context.Background(), doc, models.ConversionOptions{OutputFormat: models.FormatJSON})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	assert.Contains(t, out, "text")
	assert.Contains(t, out, "metadata")
	assert.Contains(t, out, "images")
	assert.Equal(t, "converted.json", res.DownloadName)

	assert.Len(t, f.backend.extraction.Calls(), 1)
	assert.Empty(t, f.backend.pdf.Calls())
	f.assertNoStagedFiles(t)
}

func TestConvert_HTML(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.upload(t, "scan.png", 10)

	res, err := f.svc.Convert(context.Background(), doc, models.ConversionOptions{OutputFormat: models.FormatHTML})
	require.NoError(t, err)
	assert.Equal(t, "<html><body><pre>converted by extraction-path</pre></body></html>", res.Content)
	assert.Equal(t, "converted.html", res.DownloadName)
}

func TestConvert_Timeout(t *testing.T) {
	f := newFixture(t, func(c *ServiceConfig) { c.Timeout = 50 * time.Millisecond })
	release := make(chan struct{})
	defer close(release)
	f.backend.pdf.convert = func(ctx context.Context, n int, path string) (*models.RenderedResult, error) {
		// ignores ctx, like a converter stuck in native code
		<-release
		return &models.RenderedResult{Markdown: "late"}, nil
	}
	doc := f.upload(t, "slow.pdf", 10)

	start := time.Now()
	res, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())

	assert.Nil(t, res)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindConversionTimeout, e.Kind)
	assert.Equal(t, ClassTimeout, e.Class)
	assert.Less(t, time.Since(start), time.Second)
	f.assertNoStagedFiles(t)
}

func TestConvert_TimeoutCooperative(t *testing.T) {
	f := newFixture(t, func(c *ServiceConfig) { c.Timeout = 50 * time.Millisecond })
	f.backend.pdf.convert = func(ctx context.Context, n int, path string) (*models.RenderedResult, error) {
		<-ctx.Done()
		return &models.RenderedResult{Markdown: "partial"}, ctx.Err()
	}
	doc := f.upload(t, "slow.pdf", 10)

	res, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
	assert.Nil(t, res)
	assert.Equal(t, KindConversionTimeout, KindOf(err))
	f.assertNoStagedFiles(t)
}

func TestConvert_AcquisitionFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		class     Class
		hintMatch string
	}{
		{"sentinel access denied", fmt.Errorf("probe: %w", document.ErrAccessDenied), KindModelAcquisitionFailed, ClassAccessDenied, "support@example.com"},
		{"403 in message", errors.New("HTTP Error 403: Forbidden"), KindModelAcquisitionFailed, ClassAccessDenied, "HTTP 403"},
		{"forbidden in message", errors.New("request Forbidden by proxy"), KindModelAcquisitionFailed, ClassAccessDenied, "network policy"},
		{"memory", errors.New("CUDA out of memory"), KindModelAcquisitionFailed, ClassResourceExhausted, "memory"},
		{"unknown", errors.New("connection reset"), KindModelAcquisitionFailed, ClassUnknown, "retry"},
		{"unavailable", fmt.Errorf("%w: marker_single not found", document.ErrCollaboratorUnavailable), KindCollaboratorUnavailable, ClassUnknown, "local-only feature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.backend.acquireErr = tt.err
			doc := f.upload(t, "a.pdf", 10)

			_, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.class, e.Class)
			assert.Contains(t, e.Hint, tt.hintMatch)
			assert.Empty(t, f.backend.pdf.Calls())
			f.assertNoStagedFiles(t)
		})
	}
}

func TestConvert_ConversionFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class Class
	}{
		{"generic", errors.New("layout model crashed"), ClassUnknown},
		{"memory", errors.New("MemoryError while rendering"), ClassResourceExhausted},
		{"forbidden", errors.New("403 Client Error"), ClassAccessDenied},
		{"timeout text", errors.New("read timed out"), ClassTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.backend.pdf.convert = func(ctx context.Context, n int, path string) (*models.RenderedResult, error) {
				return nil, tt.err
			}
			doc := f.upload(t, "a.pdf", 10)

			_, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, KindConversionFailed, e.Kind)
			assert.Equal(t, tt.class, e.Class)
			assert.ErrorIs(t, err, tt.err)
			assert.Len(t, f.backend.pdf.Calls(), 1, "no automatic retry")
			f.assertNoStagedFiles(t)
		})
	}
}

func TestConvert_PermissionRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.pdf.convert = func(ctx context.Context, n int, path string) (*models.RenderedResult, error) {
		if n == 1 {
			return nil, fmt.Errorf("%w: /usr/local/lib/marker/static", document.ErrAssetPermission)
		}
		return &models.RenderedResult{Markdown: "ok"}, nil
	}
	doc := f.upload(t, "a.pdf", 10)

	res, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)

	calls := f.backend.pdf.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/usr/local/lib/marker/static", calls[0].assetRoot)
	assert.Equal(t, f.svc.config.FallbackAssetRoot, calls[1].assetRoot)
	assert.DirExists(t, f.svc.config.FallbackAssetRoot)
	assert.True(t, f.log.HasEntry("WARN", "retrying with fallback"))
	f.assertNoStagedFiles(t)
}

func TestConvert_PermissionRetryOnlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.pdf.convert = func(ctx context.Context, n int, path string) (*models.RenderedResult, error) {
		return nil, fmt.Errorf("%w: still denied", document.ErrAssetPermission)
	}
	doc := f.upload(t, "a.pdf", 10)

	_, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
	assert.Equal(t, KindConversionFailed, KindOf(err))
	assert.ErrorIs(t, err, document.ErrAssetPermission)
	assert.Len(t, f.backend.pdf.Calls(), 2)
	f.assertNoStagedFiles(t)
}

func TestConvert_Memory(t *testing.T) {
	t.Run("abort", func(t *testing.T) {
		f := newFixture(t, nil)
		f.svc.memory = fakeMemory{stats: &MemoryStats{UsedPercent: 75, Available: 1 << 30}}
		doc := f.upload(t, "a.pdf", 10)

		_, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, KindResourceExhausted, e.Kind)
		assert.Contains(t, err.Error(), "memory usage 75.0%")
		assert.Empty(t, f.backend.pdf.Calls())
		f.assertNoStagedFiles(t)
	})

	t.Run("warn only", func(t *testing.T) {
		f := newFixture(t, func(c *ServiceConfig) { c.AbortPercent = 0 })
		f.svc.memory = fakeMemory{stats: &MemoryStats{UsedPercent: 90, Available: 1 << 30}}
		f.backend.warnings = []string{"HF_TOKEN is not set"}
		doc := f.upload(t, "a.pdf", 10)

		res, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
		require.NoError(t, err)
		require.Len(t, res.Warnings, 2)
		assert.Equal(t, "memory usage 90.0% (available 1.0 GB); conversion may fail", res.Warnings[0])
		assert.Equal(t, "HF_TOKEN is not set", res.Warnings[1])
	})

	t.Run("probe failure ignored", func(t *testing.T) {
		f := newFixture(t, nil)
		f.svc.memory = fakeMemory{err: errors.New("no /proc")}
		doc := f.upload(t, "a.pdf", 10)

		_, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
		require.NoError(t, err)
		assert.True(t, f.log.HasEntry("WARN", "Memory probe failed"))
	})
}

func TestConvert_StagingFailed(t *testing.T) {
	f := newFixture(t, func(c *ServiceConfig) { c.TempDir = filepath.Join(t.TempDir(), "missing") })
	doc := f.upload(t, "a.pdf", 10)

	_, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindStagingFailed, e.Kind)
	assert.Empty(t, f.backend.pdf.Calls())
}

func TestConvert_ConverterPanics(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.pdf.convert = func(ctx context.Context, n int, path string) (*models.RenderedResult, error) {
		panic("boom")
	}
	doc := f.upload(t, "a.pdf", 10)

	_, err := f.svc.Convert(context.Background(), doc, models.DefaultOptions())
	assert.Equal(t, KindConversionFailed, KindOf(err))
	assert.ErrorContains(t, err, "converter panicked: boom")
	f.assertNoStagedFiles(t)
}

func TestStagedFile_ReleaseLogsErrors(t *testing.T) {
	log := logger.NewTestLogger()
	dir := t.TempDir()
	doc := &models.UploadedDocument{Filename: "a.docx", Extension: models.DOCX, Content: []byte("data")}

	staged, err := stage(dir, doc, log)
	require.NoError(t, err)
	assert.Equal(t, ".docx", filepath.Ext(staged.Path))
	data, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	staged.Release()
	assert.NoFileExists(t, staged.Path)
	// second release is a no-op
	staged.Release()
	assert.Empty(t, log.GetEntries())

	// a non-empty directory in place of the file cannot be removed
	require.NoError(t, os.MkdirAll(filepath.Join(staged.Path, "child"), 0o755))
	staged.Release()
	assert.True(t, log.HasEntry("ERROR", "Failed to remove staged file"))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	report := f.svc.Health(context.Background())
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "fake", report.Backend)
	assert.Equal(t, "hosted", report.Profile)
	assert.Equal(t, "10.0 MB", report.MaxUploadSize)
	assert.Equal(t, 40.0, report.MemoryPercent)
}
