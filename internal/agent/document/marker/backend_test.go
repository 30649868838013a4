package marker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-converter/internal/agent/document"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// mockExecutor records calls and plays back a configured run.
type mockExecutor struct {
	missing bool
	runFunc func(args, env []string, stdout, stderr io.Writer) error

	calls [][]string
	envs  [][]string
}

func (m *mockExecutor) LookPath(file string) (string, error) {
	if m.missing {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/bin/" + file, nil
}

func (m *mockExecutor) Run(ctx context.Context, name string, args, env []string, stdout, stderr io.Writer) error {
	m.calls = append(m.calls, args)
	m.envs = append(m.envs, env)
	if m.runFunc != nil {
		return m.runFunc(args, env, stdout, stderr)
	}
	return nil
}

// writeOutput mimics marker's output layout: <out>/<stem>/<stem>.md etc.
func writeOutput(t *testing.T, outDir, stem, md string, images int) {
	t.Helper()
	dir := filepath.Join(outDir, stem)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, stem+".md"), []byte(md), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, stem+"_meta.json"), []byte(`{"pages":2}`), 0o644))
	for i := 0; i < images; i++ {
		name := filepath.Join(dir, "_page_0_Picture_"+string(rune('a'+i))+".jpeg")
		require.NoError(t, os.WriteFile(name, []byte{0xff, 0xd8}, 0o644))
	}
}

func newTestBackend(exec *mockExecutor, hostURL, token string) *Backend {
	return newBackend(&Config{
		Binary:       "marker_single",
		ModelHostURL: hostURL,
		Token:        token,
		AssetRoot:    "/tmp/assets",
	}, exec, logger.NewTestLogger())
}

func TestAcquireModels_BinaryMissing(t *testing.T) {
	b := newTestBackend(&mockExecutor{missing: true}, "", "")
	_, err := b.AcquireModels(context.Background())
	assert.ErrorIs(t, err, document.ErrCollaboratorUnavailable)
}

func TestAcquireModels_ModelHostStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantDenied bool
		wantErr    bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "forbidden", status: http.StatusForbidden, wantDenied: true, wantErr: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantDenied: true, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			b := newTestBackend(&mockExecutor{}, srv.URL, "secret")
			bundle, err := b.AcquireModels(context.Background())

			assert.Equal(t, "Bearer secret", gotAuth)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "marker", bundle.Backend)
				assert.Empty(t, bundle.Warnings)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantDenied, errors.Is(err, document.ErrAccessDenied))
			if tt.status == http.StatusForbidden {
				assert.Contains(t, err.Error(), "403 Forbidden")
			}
		})
	}
}

func TestAcquireModels_MissingTokenWarns(t *testing.T) {
	b := newTestBackend(&mockExecutor{}, "", "")
	bundle, err := b.AcquireModels(context.Background())
	require.NoError(t, err)
	require.Len(t, bundle.Warnings, 1)
	assert.Contains(t, bundle.Warnings[0], "HF_TOKEN")
}

func TestConvert_ReadsOutput(t *testing.T) {
	exec := &mockExecutor{
		runFunc: func(args, env []string, stdout, stderr io.Writer) error {
			writeOutput(t, args[2], "doc", "# Title\n\nBody", 2)
			return nil
		},
	}
	b := newTestBackend(exec, "", "")

	opts := models.ConversionOptions{OutputFormat: models.FormatJSON, ExtractImages: true, HighAccuracy: true}
	res, err := b.PDFConverter().Convert(context.Background(), "/tmp/doc.pdf", &document.ModelBundle{}, opts)
	require.NoError(t, err)

	assert.Equal(t, "# Title\n\nBody", document.ExtractText(res))
	assert.Equal(t, 2, res.NumImages())
	assert.EqualValues(t, 2, res.Metadata["pages"])

	require.Len(t, exec.calls, 1)
	args := exec.calls[0]
	assert.Equal(t, "/tmp/doc.pdf", args[0])
	assert.Contains(t, args, pdfConverterCls)
	assert.Contains(t, args, "--use_llm")
	assert.NotContains(t, args, "--disable_image_extraction")
	assert.Contains(t, args, "markdown")
	assert.Contains(t, exec.envs[0], "MARKER_STATIC_DIR=/tmp/assets")

	_, err = os.Stat(args[2])
	assert.True(t, os.IsNotExist(err), "output directory should be removed")
}

func TestConvert_ExtractionPathAndAssetRootOverride(t *testing.T) {
	exec := &mockExecutor{
		runFunc: func(args, env []string, stdout, stderr io.Writer) error {
			writeOutput(t, args[2], "sheet", "| a |", 0)
			return nil
		},
	}
	b := newTestBackend(exec, "", "")

	opts := models.ConversionOptions{AssetRoot: "/tmp/fallback"}
	_, err := b.ExtractionConverter().Convert(context.Background(), "/tmp/sheet.xlsx", &document.ModelBundle{}, opts)
	require.NoError(t, err)

	assert.Contains(t, exec.calls[0], extractionConverterCls)
	assert.Contains(t, exec.calls[0], "--disable_image_extraction")
	assert.Contains(t, exec.envs[0], "MARKER_STATIC_DIR=/tmp/fallback")
}

func TestConvert_NoMarkdown(t *testing.T) {
	b := newTestBackend(&mockExecutor{}, "", "")
	_, err := b.PDFConverter().Convert(context.Background(), "/tmp/doc.pdf", &document.ModelBundle{}, models.DefaultOptions())
	assert.ErrorContains(t, err, "no markdown output")
}

func TestConvert_FailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   error
	}{
		{
			name:   "asset permission",
			stderr: "PermissionError: [Errno 13] Permission denied: '/usr/local/lib/python3.11/site-packages/static/fonts'",
			want:   document.ErrAssetPermission,
		},
		{name: "memory", stderr: "torch.OutOfMemoryError: CUDA out of memory", want: document.ErrResourceExhausted},
		{name: "forbidden", stderr: "HTTPError: 403 Client Error: Forbidden for url", want: document.ErrAccessDenied},
		{name: "import", stderr: "ModuleNotFoundError: No module named 'marker'", want: document.ErrCollaboratorUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{
				runFunc: func(args, env []string, stdout, stderr io.Writer) error {
					_, _ = io.WriteString(stderr, "Traceback (most recent call last):\n"+tt.stderr+"\n")
					return errors.New("exit status 1")
				},
			}
			b := newTestBackend(exec, "", "")
			_, err := b.PDFConverter().Convert(context.Background(), "/tmp/doc.pdf", &document.ModelBundle{}, models.DefaultOptions())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConvert_GenericFailureKeepsCause(t *testing.T) {
	cause := errors.New("exit status 2")
	exec := &mockExecutor{
		runFunc: func(args, env []string, stdout, stderr io.Writer) error {
			_, _ = io.WriteString(stderr, "ValueError: bad page tree\n")
			return cause
		},
	}
	b := newTestBackend(exec, "", "")
	_, err := b.PDFConverter().Convert(context.Background(), "/tmp/doc.pdf", &document.ModelBundle{}, models.DefaultOptions())
	assert.ErrorIs(t, err, cause)
	assert.ErrorContains(t, err, "bad page tree")
}

func TestConvert_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &mockExecutor{
		runFunc: func(args, env []string, stdout, stderr io.Writer) error {
			cancel()
			return errors.New("signal: killed")
		},
	}
	b := newTestBackend(exec, "", "")
	_, err := b.PDFConverter().Convert(ctx, "/tmp/doc.pdf", &document.ModelBundle{}, models.DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}
