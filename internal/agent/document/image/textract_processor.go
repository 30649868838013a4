package image

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/document-converter/pkg/logger"
)

// textractAPI is the subset of the Textract client the engine calls.
type textractAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
	AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

// TextractProcessor is the AWS Textract OCR engine. In high-accuracy mode it
// also asks for tables and form fields.
type TextractProcessor struct {
	client textractAPI
	logger logger.Logger
	config *TextractConfig
}

type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

func NewTextractProcessor(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractProcessor, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	// fall back to the default credential chain when no static keys are set
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return newTextractProcessor(textract.NewFromConfig(awsCfg), cfg, log), nil
}

func newTextractProcessor(client textractAPI, cfg *TextractConfig, log logger.Logger) *TextractProcessor {
	return &TextractProcessor{
		client: client,
		logger: log,
		config: cfg,
	}
}

func (p *TextractProcessor) Name() string { return "textract" }

func (p *TextractProcessor) Recognize(ctx context.Context, data []byte, highAccuracy bool) (*Recognition, error) {
	img, format, err := decode(data)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	rec := &Recognition{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
		Source: p.Name(),
	}

	doc := &types.Document{Bytes: data}
	var blocks []types.Block
	if highAccuracy {
		out, err := p.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
			Document:     doc,
			FeatureTypes: []types.FeatureType{types.FeatureTypeTables, types.FeatureTypeForms},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to analyze document: %w", err)
		}
		blocks = out.Blocks
	} else {
		out, err := p.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{Document: doc})
		if err != nil {
			return nil, fmt.Errorf("failed to detect document text: %w", err)
		}
		blocks = out.Blocks
	}

	index := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			index[*b.Id] = b
		}
	}

	var sections []string
	lines, confidence := p.processLines(blocks)
	if len(lines) > 0 {
		sections = append(sections, strings.Join(lines, "\n"))
	}
	for _, table := range p.processTables(blocks, index) {
		sections = append(sections, table.Markdown())
	}
	var forms []string
	for _, f := range p.processForms(blocks, index) {
		forms = append(forms, fmt.Sprintf("%s: %s", f.Key, f.Value))
	}
	if len(forms) > 0 {
		sections = append(sections, strings.Join(forms, "\n"))
	}

	rec.Text = strings.Join(sections, "\n\n")
	rec.Confidence = confidence
	p.logger.Debug("Textract recognition finished",
		logger.Int("blocks", len(blocks)),
		logger.Int("lines", len(lines)),
	)
	return rec, nil
}

func (p *TextractProcessor) Close() error {
	return nil
}

func (p *TextractProcessor) processLines(blocks []types.Block) ([]string, float64) {
	var texts []string
	var total float64
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < p.config.MinConfidence {
			continue
		}
		texts = append(texts, *block.Text)
		if block.Confidence != nil {
			total += float64(*block.Confidence)
		}
	}
	if len(texts) == 0 {
		return nil, 0
	}
	return texts, total / float64(len(texts))
}

type Table struct {
	Rows  int
	Cols  int
	Cells [][]string
}

// Markdown renders the table with its first row as the header.
func (t Table) Markdown() string {
	if t.Rows == 0 || t.Cols == 0 {
		return ""
	}
	var b strings.Builder
	for i, row := range t.Cells {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", t.Cols) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *TextractProcessor) processTables(blocks []types.Block, index map[string]types.Block) []Table {
	var tables []Table
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeTable {
			continue
		}

		var cells []types.Block
		var rows, cols int32
		for _, id := range childIDs(block) {
			cell, ok := index[id]
			if !ok || cell.BlockType != types.BlockTypeCell || cell.RowIndex == nil || cell.ColumnIndex == nil {
				continue
			}
			cells = append(cells, cell)
			rows = max(rows, *cell.RowIndex)
			cols = max(cols, *cell.ColumnIndex)
		}

		table := Table{Rows: int(rows), Cols: int(cols), Cells: make([][]string, rows)}
		for i := range table.Cells {
			table.Cells[i] = make([]string, cols)
		}
		for _, cell := range cells {
			table.Cells[*cell.RowIndex-1][*cell.ColumnIndex-1] = wordsOf(cell, index)
		}
		tables = append(tables, table)
	}
	return tables
}

type FormField struct {
	Key   string
	Value string
}

func (p *TextractProcessor) processForms(blocks []types.Block, index map[string]types.Block) []FormField {
	var forms []FormField
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeKeyValueSet || !hasEntity(block, types.EntityTypeKey) {
			continue
		}
		key := wordsOf(block, index)
		var value string
		for _, rel := range block.Relationships {
			if rel.Type != types.RelationshipTypeValue {
				continue
			}
			for _, id := range rel.Ids {
				if v, ok := index[id]; ok {
					value = wordsOf(v, index)
				}
			}
		}
		if key != "" && value != "" {
			forms = append(forms, FormField{Key: key, Value: value})
		}
	}
	sort.SliceStable(forms, func(i, j int) bool { return forms[i].Key < forms[j].Key })
	return forms
}

func childIDs(block types.Block) []string {
	var ids []string
	for _, rel := range block.Relationships {
		if rel.Type == types.RelationshipTypeChild {
			ids = append(ids, rel.Ids...)
		}
	}
	return ids
}

// wordsOf joins the text of a block's WORD children.
func wordsOf(block types.Block, index map[string]types.Block) string {
	var words []string
	for _, id := range childIDs(block) {
		if child, ok := index[id]; ok && child.BlockType == types.BlockTypeWord && child.Text != nil {
			words = append(words, *child.Text)
		}
	}
	return strings.Join(words, " ")
}

func hasEntity(block types.Block, want types.EntityType) bool {
	for _, e := range block.EntityTypes {
		if e == want {
			return true
		}
	}
	return false
}
