package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesPNG(t *testing.T) {
	qrGen := NewQRGenerator(0)

	pngBytes, err := qrGen.Generate("y8bS0xq3c0pXz4n2k9mW1rT6vB5eH7uJ3oL0aQfGdYs")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(pngBytes))
	require.NoError(t, err)
	assert.Equal(t, defaultSize, img.Bounds().Dx())
}

func TestGenerateRejectsEmptyToken(t *testing.T) {
	_, err := NewQRGenerator(128).Generate("")
	assert.Error(t, err)
}
