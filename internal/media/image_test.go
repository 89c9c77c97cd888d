package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iamstagram_engine/internal/model"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestReadImage(t *testing.T) {
	data := pngBytes(t, 8, 4)

	got, err := ReadImage(bytes.NewReader(data), "", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = ReadImage(bytes.NewReader(data), "", 10)
	assert.ErrorIs(t, err, model.ErrFileTooLarge)

	_, err = ReadImage(strings.NewReader("plain text"), "", 1<<20)
	assert.ErrorIs(t, err, model.ErrInvalidMediaType)

	_, err = ReadImage(bytes.NewReader(data), "video/mp4", 1<<20)
	assert.ErrorIs(t, err, model.ErrInvalidMediaType)
}

func TestSquareJPEG(t *testing.T) {
	out, err := SquareJPEG(pngBytes(t, 40, 20), 16, 80)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())

	_, err = SquareJPEG([]byte("nope"), 16, 80)
	assert.ErrorIs(t, err, model.ErrInvalidMediaType)
}
