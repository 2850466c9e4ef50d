package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	e := NewPlainText()
	ctx := context.Background()

	text, err := e.ExtractText(ctx, []byte("table: orders\r\nOrder data.\r\n"), "schema.txt")
	require.NoError(t, err)
	assert.Equal(t, "table: orders\nOrder data.\n", text, "CRLF normalized")

	bom := append([]byte{0xEF, 0xBB, 0xBF}, []byte("1. First rule")...)
	text, err = e.ExtractText(ctx, bom, "Rules.MD")
	require.NoError(t, err)
	assert.Equal(t, "1. First rule", text, "BOM stripped, extension case-insensitive")
}

func TestExtractText_Rejections(t *testing.T) {
	e := NewPlainText()
	ctx := context.Background()

	_, err := e.ExtractText(ctx, []byte("%PDF-1.4"), "orders.pdf")
	assert.Error(t, err, "unknown format")

	_, err = e.ExtractText(ctx, []byte{0xFF, 0xFE, 0x00}, "broken.txt")
	assert.Error(t, err, "invalid UTF-8")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.ExtractText(cancelled, []byte("text"), "ok.txt")
	assert.Error(t, err)
}
