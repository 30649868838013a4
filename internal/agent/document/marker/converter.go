package marker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/document-converter/internal/agent/document"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true}

// converter runs marker_single with a fixed converter class.
type converter struct {
	backend *Backend
	name    string
	cls     string
}

func (c *converter) Name() string { return c.name }

func (c *converter) Convert(ctx context.Context, path string, bundle *document.ModelBundle, opts models.ConversionOptions) (*models.RenderedResult, error) {
	b := c.backend

	outDir, err := os.MkdirTemp("", "marker-out-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			b.logger.Warn("Failed to remove marker output", logger.String("dir", outDir), logger.Error(err))
		}
	}()

	args := c.args(path, outDir, opts)
	var stdout, stderr bytes.Buffer

	b.logger.Info("Running marker",
		logger.String("converter", c.name),
		logger.Strings("args", args),
	)

	if err := b.exec.Run(ctx, b.config.Binary, args, b.childEnv(opts.AssetRoot), &stdout, &stderr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("marker_single interrupted: %w", ctxErr)
		}
		return nil, classifyFailure(err, stderr.String())
	}

	return readOutput(outDir)
}

func (c *converter) args(path, outDir string, opts models.ConversionOptions) []string {
	// output format only affects extraction, marker always renders markdown
	args := []string{
		path,
		"--output_dir", outDir,
		"--output_format", "markdown",
		"--converter_cls", c.cls,
	}
	if !opts.ExtractImages {
		args = append(args, "--disable_image_extraction")
	}
	if opts.HighAccuracy {
		args = append(args, "--use_llm")
	}
	return args
}

// readOutput collects the markdown, metadata and images marker wrote under
// outDir.
func readOutput(outDir string) (*models.RenderedResult, error) {
	result := &models.RenderedResult{
		Metadata: map[string]interface{}{},
		Images:   map[string][]byte{},
	}
	var mdPath string

	err := filepath.WalkDir(outDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := d.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch {
		case ext == ".md" && mdPath == "":
			mdPath = p
		case strings.HasSuffix(name, "_meta.json"):
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &result.Metadata); err != nil {
				return fmt.Errorf("failed to decode marker metadata: %w", err)
			}
		case imageExts[ext]:
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			result.Images[name] = data
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read marker output: %w", err)
	}

	if mdPath == "" {
		return nil, fmt.Errorf("marker_single produced no markdown output")
	}
	md, err := os.ReadFile(mdPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read marker markdown: %w", err)
	}
	result.Markdown = string(md)
	return result, nil
}
