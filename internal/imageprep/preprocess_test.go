package imageprep

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawee/drawee-go/internal/errors"
)

func uniform(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareUniformColor(t *testing.T) {
	t.Parallel()

	raw := encodePNG(t, uniform(40, 30, color.NRGBA{R: 255, G: 51, B: 0, A: 255}))

	tensor, err := (&Preprocessor{}).Prepare(raw)
	require.NoError(t, err)

	assert.Equal(t, [4]int{1, DefaultSize, DefaultSize, Channels}, tensor.Shape)
	require.Len(t, tensor.Data, tensor.Len())

	for i := 0; i < len(tensor.Data); i += Channels {
		assert.InDelta(t, 1.0, tensor.Data[i], 1e-6)
		assert.InDelta(t, 0.2, tensor.Data[i+1], 1e-6)
		assert.InDelta(t, 0.0, tensor.Data[i+2], 1e-6)
	}
}

func TestPrepareHonorsSize(t *testing.T) {
	t.Parallel()

	raw := encodePNG(t, uniform(500, 100, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))

	tensor, err := New(64).Prepare(raw)
	require.NoError(t, err)
	assert.Equal(t, [4]int{1, 64, 64, 3}, tensor.Shape)
	assert.Len(t, tensor.Data, 64*64*3)
	for _, v := range tensor.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestPrepareDropsAlpha(t *testing.T) {
	t.Parallel()

	// a half transparent pixel keeps its stored color channels
	raw := encodePNG(t, uniform(8, 8, color.NRGBA{R: 102, G: 204, B: 51, A: 128}))

	tensor, err := New(8).Prepare(raw)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, tensor.Data[0], 1e-6)
	assert.InDelta(t, 0.8, tensor.Data[1], 1e-6)
	assert.InDelta(t, 0.2, tensor.Data[2], 1e-6)
}

func TestPrepareAcceptsOtherFormats(t *testing.T) {
	t.Parallel()

	gray := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range gray.Pix {
		gray.Pix[i] = 128
	}

	var gifBuf bytes.Buffer
	require.NoError(t, gif.Encode(&gifBuf, uniform(16, 16, color.NRGBA{R: 255, A: 255}), nil))

	var bmpBuf bytes.Buffer
	require.NoError(t, imaging.Encode(&bmpBuf, uniform(16, 16, color.NRGBA{B: 255, A: 255}), imaging.BMP))

	var jpegBuf bytes.Buffer
	require.NoError(t, imaging.Encode(&jpegBuf, uniform(16, 16, color.NRGBA{G: 255, A: 255}), imaging.JPEG))

	tests := []struct {
		name   string
		raw    []byte
		format string
	}{
		{"grayscale png", encodePNG(t, gray), "png"},
		{"gif", gifBuf.Bytes(), "gif"},
		{"bmp", bmpBuf.Bytes(), "bmp"},
		{"jpeg", jpegBuf.Bytes(), "jpeg"},
	}

	p := New(32)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, format, err := p.Decode(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)

			tensor, err := p.Prepare(tt.raw)
			require.NoError(t, err)
			assert.Len(t, tensor.Data, 32*32*3)
		})
	}
}

func TestGrayscaleReplicatesChannels(t *testing.T) {
	t.Parallel()

	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range gray.Pix {
		gray.Pix[i] = 51
	}

	tensor, err := New(4).Prepare(encodePNG(t, gray))
	require.NoError(t, err)
	for _, v := range tensor.Data {
		assert.InDelta(t, 0.2, v, 1e-6)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	valid := encodePNG(t, uniform(16, 16, color.NRGBA{A: 255}))

	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"truncated png", valid[:len(valid)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := (&Preprocessor{}).Prepare(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
			assert.True(t, errors.IsCategory(err, errors.CategoryImageDecode))
		})
	}
}

func TestDecodeRejectsOversizedImage(t *testing.T) {
	t.Parallel()

	raw := encodePNG(t, uniform(100, 100, color.NRGBA{A: 255}))

	_, _, err := (&Preprocessor{MaxPixels: 50 * 50}).Decode(raw)
	require.ErrorIs(t, err, ErrDecode)
}

func TestCheckColorModel(t *testing.T) {
	t.Parallel()

	require.Error(t, checkColorModel(color.CMYKModel))
	require.NoError(t, checkColorModel(color.RGBAModel))
	require.NoError(t, checkColorModel(color.GrayModel))
	require.NoError(t, checkColorModel(color.YCbCrModel))
}

func TestEncodePNGRoundTrip(t *testing.T) {
	t.Parallel()

	src := uniform(12, 7, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, src))

	decoded, format, err := (&Preprocessor{}).Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, src.Bounds(), decoded.Bounds())
}
