// Package extract converts uploaded document bytes into plain text for
// indexing. Schema, business-rule, and reference documents arrive as text
// formats; binary uploads are rejected rather than half-decoded.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
)

var textExtensions = map[string]struct{}{
	".txt":  {},
	".md":   {},
	".sql":  {},
	".csv":  {},
	".json": {},
	".yaml": {},
	".yml":  {},
}

// PlainText extracts text from text-format uploads.
type PlainText struct{}

// NewPlainText creates the plain-text extractor.
func NewPlainText() *PlainText {
	return &PlainText{}
}

var _ services.TextExtractor = (*PlainText)(nil)

func (e *PlainText) ExtractText(ctx context.Context, data []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := textExtensions[ext]; !ok {
		return "", fmt.Errorf("unsupported document format %q", ext)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("document %s is not valid UTF-8", filename)
	}
	// Strip a UTF-8 BOM and normalize line endings.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return text, nil
}
