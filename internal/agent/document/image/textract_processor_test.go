package image

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-converter/pkg/logger"
)

type fakeTextract struct {
	blocks   []types.Block
	err      error
	analyzed bool
	features []types.FeatureType
}

func (f *fakeTextract) DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &textract.DetectDocumentTextOutput{Blocks: f.blocks}, nil
}

func (f *fakeTextract) AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	f.analyzed = true
	f.features = in.FeatureTypes
	if f.err != nil {
		return nil, f.err
	}
	return &textract.AnalyzeDocumentOutput{Blocks: f.blocks}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func line(text string, conf float32) types.Block {
	return types.Block{BlockType: types.BlockTypeLine, Text: aws.String(text), Confidence: aws.Float32(conf)}
}

func word(id, text string) types.Block {
	return types.Block{BlockType: types.BlockTypeWord, Id: aws.String(id), Text: aws.String(text)}
}

func children(ids ...string) []types.Relationship {
	return []types.Relationship{{Type: types.RelationshipTypeChild, Ids: ids}}
}

func TestTextract_DetectLines(t *testing.T) {
	fake := &fakeTextract{blocks: []types.Block{
		line("Invoice 42", 99),
		line("smudge", 10),
		line("Total due", 95),
	}}
	p := newTextractProcessor(fake, &TextractConfig{MinConfidence: 80}, logger.NewTestLogger())

	rec, err := p.Recognize(context.Background(), pngBytes(t, 8, 4), false)
	require.NoError(t, err)

	assert.False(t, fake.analyzed)
	assert.Equal(t, "Invoice 42\nTotal due", rec.Text)
	assert.InDelta(t, 97, rec.Confidence, 0.01)
	assert.Equal(t, 8, rec.Width)
	assert.Equal(t, "png", rec.Format)
	assert.Equal(t, "textract", rec.Source)
}

func TestTextract_TablesAndForms(t *testing.T) {
	blocks := []types.Block{
		{BlockType: types.BlockTypeTable, Id: aws.String("t"), Relationships: children("c11", "c12", "c21", "c22")},
		{BlockType: types.BlockTypeCell, Id: aws.String("c11"), RowIndex: aws.Int32(1), ColumnIndex: aws.Int32(1), Relationships: children("w1")},
		{BlockType: types.BlockTypeCell, Id: aws.String("c12"), RowIndex: aws.Int32(1), ColumnIndex: aws.Int32(2), Relationships: children("w2")},
		{BlockType: types.BlockTypeCell, Id: aws.String("c21"), RowIndex: aws.Int32(2), ColumnIndex: aws.Int32(1), Relationships: children("w3")},
		{BlockType: types.BlockTypeCell, Id: aws.String("c22"), RowIndex: aws.Int32(2), ColumnIndex: aws.Int32(2), Relationships: children("w4", "w5")},
		word("w1", "Item"), word("w2", "Price"), word("w3", "Tea"), word("w4", "3"), word("w5", "EUR"),
		{
			BlockType: types.BlockTypeKeyValueSet, Id: aws.String("k"), EntityTypes: []types.EntityType{types.EntityTypeKey},
			Relationships: []types.Relationship{
				{Type: types.RelationshipTypeValue, Ids: []string{"v"}},
				{Type: types.RelationshipTypeChild, Ids: []string{"w6"}},
			},
		},
		{BlockType: types.BlockTypeKeyValueSet, Id: aws.String("v"), EntityTypes: []types.EntityType{types.EntityTypeValue}, Relationships: children("w7")},
		word("w6", "Date"), word("w7", "2024-01-02"),
	}
	fake := &fakeTextract{blocks: blocks}
	p := newTextractProcessor(fake, &TextractConfig{MinConfidence: 80}, logger.NewTestLogger())

	rec, err := p.Recognize(context.Background(), pngBytes(t, 4, 4), true)
	require.NoError(t, err)

	assert.True(t, fake.analyzed)
	assert.ElementsMatch(t, []types.FeatureType{types.FeatureTypeTables, types.FeatureTypeForms}, fake.features)
	assert.Equal(t, "| Item | Price |\n| --- | --- |\n| Tea | 3 EUR |\n\nDate: 2024-01-02", rec.Text)
}

func TestTextract_Errors(t *testing.T) {
	p := newTextractProcessor(&fakeTextract{err: errors.New("throttled")}, &TextractConfig{}, logger.NewTestLogger())

	_, err := p.Recognize(context.Background(), pngBytes(t, 2, 2), false)
	assert.ErrorContains(t, err, "throttled")

	_, err = p.Recognize(context.Background(), []byte("not an image"), false)
	assert.ErrorContains(t, err, "failed to decode image")
}
