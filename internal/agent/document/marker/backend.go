// Package marker drives the marker document converter through its
// marker_single command line entry point.
package marker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/feichai0017/document-converter/internal/agent/document"
	"github.com/feichai0017/document-converter/pkg/logger"
)

const (
	backendName = "marker"

	pdfConverterCls        = "marker.converters.pdf.PdfConverter"
	extractionConverterCls = "marker.converters.extraction.ExtractionConverter"
)

type Config struct {
	Binary       string
	ModelHostURL string
	Token        string
	CacheDir     string
	// AssetRoot is the default writable asset directory for the child.
	AssetRoot  string
	HTTPClient *http.Client
}

type Backend struct {
	config *Config
	exec   executor
	http   *http.Client
	logger logger.Logger

	pdf        *converter
	extraction *converter
}

func NewBackend(cfg *Config, log logger.Logger) *Backend {
	return newBackend(cfg, osExecutor{}, log)
}

func newBackend(cfg *Config, exec executor, log logger.Logger) *Backend {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	b := &Backend{
		config: cfg,
		exec:   exec,
		http:   client,
		logger: log,
	}
	b.pdf = &converter{backend: b, name: "marker-pdf", cls: pdfConverterCls}
	b.extraction = &converter{backend: b, name: "marker-extraction", cls: extractionConverterCls}
	return b
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) PDFConverter() document.Converter { return b.pdf }

func (b *Backend) ExtractionConverter() document.Converter { return b.extraction }

func (b *Backend) Close() error {
	b.http.CloseIdleConnections()
	return nil
}

// Available checks that the marker binary is on PATH.
func (b *Backend) Available(ctx context.Context) error {
	if _, err := b.exec.LookPath(b.config.Binary); err != nil {
		return fmt.Errorf("%w: %s not found on PATH: %v", document.ErrCollaboratorUnavailable, b.config.Binary, err)
	}
	return nil
}

// AcquireModels verifies the binary, probes the model host with the
// configured token and prepares the model cache directory.
func (b *Backend) AcquireModels(ctx context.Context) (*document.ModelBundle, error) {
	if err := b.Available(ctx); err != nil {
		return nil, err
	}

	bundle := &document.ModelBundle{
		Backend:  backendName,
		CacheDir: b.config.CacheDir,
		LoadedAt: time.Now(),
		Props:    map[string]string{"binary": b.config.Binary},
	}

	if b.config.Token == "" {
		bundle.Warnings = append(bundle.Warnings, "HF_TOKEN is not set; trying to load models without a token")
	}

	if err := b.probeModelHost(ctx); err != nil {
		return nil, err
	}

	if b.config.CacheDir != "" {
		if err := os.MkdirAll(b.config.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create model cache directory: %w", err)
		}
	}

	b.logger.Info("Models acquired",
		logger.String("cacheDir", b.config.CacheDir),
		logger.Bool("token", b.config.Token != ""),
	)
	return bundle, nil
}

func (b *Backend) probeModelHost(ctx context.Context) error {
	if b.config.ModelHostURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.config.ModelHostURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create model host request: %w", err)
	}
	if b.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.config.Token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach model host: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: model host returned %d %s", document.ErrAccessDenied, resp.StatusCode, http.StatusText(resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("model host returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

// childEnv is the environment handed to marker_single. Cache and asset paths
// go to the child only.
func (b *Backend) childEnv(assetRoot string) []string {
	env := []string{}
	if assetRoot == "" {
		assetRoot = b.config.AssetRoot
	}
	if assetRoot != "" {
		env = append(env, "MARKER_STATIC_DIR="+assetRoot)
	}
	if dir := b.config.CacheDir; dir != "" {
		env = append(env,
			"HF_HOME="+dir,
			"MARKER_CACHE_DIR="+dir,
			"XDG_CACHE_HOME="+dir,
			"TORCH_HOME="+dir,
		)
	}
	if b.config.Token != "" {
		env = append(env, "HF_TOKEN="+b.config.Token)
	}
	return env
}

// knownAssetPaths are the install locations marker writes static assets to.
var knownAssetPaths = []string{"/usr/local", "site-packages", "static"}

// classifyFailure maps marker's stderr onto the document sentinel errors.
func classifyFailure(runErr error, stderr string) error {
	tail := lastLines(stderr, 5)
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "permission denied") || strings.Contains(stderr, "PermissionError"):
		for _, p := range knownAssetPaths {
			if strings.Contains(stderr, p) {
				return fmt.Errorf("%w: %s", document.ErrAssetPermission, tail)
			}
		}
		return fmt.Errorf("marker_single permission error: %s", tail)
	case strings.Contains(lower, "out of memory") || strings.Contains(stderr, "MemoryError"):
		return fmt.Errorf("%w: %s", document.ErrResourceExhausted, tail)
	case strings.Contains(stderr, "403") || strings.Contains(stderr, "Forbidden"):
		return fmt.Errorf("%w: %s", document.ErrAccessDenied, tail)
	case strings.Contains(stderr, "ModuleNotFoundError") || strings.Contains(stderr, "ImportError"):
		return fmt.Errorf("%w: %s", document.ErrCollaboratorUnavailable, tail)
	}

	if tail == "" {
		return fmt.Errorf("marker_single failed: %w", runErr)
	}
	return fmt.Errorf("marker_single failed: %w: %s", runErr, tail)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
