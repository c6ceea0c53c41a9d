// Package imageprep turns uploaded drawing bytes into model input tensors.
package imageprep

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
)

// DefaultSize is the square input size of both models
const DefaultSize = 256

// DefaultMaxPixels rejects images whose decoded size would exhaust memory
const DefaultMaxPixels = 40_000_000

// Channels is the number of color channels in a tensor
const Channels = 3

var (
	// ErrDecode marks bytes that are not a decodable image
	ErrDecode = errors.NewStd("image cannot be decoded")
	// ErrUnsupportedFormat marks decodable images that cannot be coerced to RGB
	ErrUnsupportedFormat = errors.NewStd("unsupported image format")
)

// Tensor is a float32 batch of one image in NHWC layout with values in [0,1]
type Tensor struct {
	Data  []float32
	Shape [4]int // batch, height, width, channels
}

// Len returns the number of elements implied by Shape
func (t *Tensor) Len() int {
	return t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3]
}

// Preprocessor decodes and normalizes drawings. The zero value uses the defaults.
type Preprocessor struct {
	Size      int
	MaxPixels int
}

// New returns a Preprocessor producing size×size tensors
func New(size int) *Preprocessor {
	return &Preprocessor{Size: size}
}

func (p *Preprocessor) size() int {
	if p == nil || p.Size <= 0 {
		return DefaultSize
	}
	return p.Size
}

func (p *Preprocessor) maxPixels() int {
	if p == nil || p.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return p.MaxPixels
}

// Prepare decodes raw and returns the model input tensor.
func (p *Preprocessor) Prepare(raw []byte) (*Tensor, error) {
	img, _, err := p.Decode(raw)
	if err != nil {
		return nil, err
	}
	return p.Tensorize(img), nil
}

// Decode detects the format, rejects images that cannot become RGB and
// returns the decoded image with EXIF orientation applied.
func (p *Preprocessor) Decode(raw []byte) (image.Image, string, error) {
	if len(raw) == 0 {
		return nil, "", decodeError(fmt.Errorf("%w: empty input", ErrDecode), "")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", decodeError(fmt.Errorf("%w: %w", ErrDecode, err), "")
	}

	if err := checkColorModel(cfg.ColorModel); err != nil {
		return nil, format, errors.New(fmt.Errorf("%w: %s with %w", ErrUnsupportedFormat, format, err)).
			Component("imageprep").
			Category(errors.CategoryImageFormat).
			Context("format", format).
			Build()
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, format, decodeError(fmt.Errorf("%w: empty %dx%d image", ErrDecode, cfg.Width, cfg.Height), format)
	}
	if cfg.Width*cfg.Height > p.maxPixels() {
		return nil, format, decodeError(fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, p.maxPixels()), format)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, format, decodeError(fmt.Errorf("%w: %w", ErrDecode, err), format)
	}

	GetLogger().Debug("decoded drawing",
		logger.String("format", format),
		logger.Int("width", cfg.Width),
		logger.Int("height", cfg.Height))

	return img, format, nil
}

// Tensorize drops alpha, resizes bilinearly to Size×Size and scales to [0,1].
func (p *Preprocessor) Tensorize(img image.Image) *Tensor {
	size := p.size()
	resized := resize.Resize(uint(size), uint(size), opaqueRGB(img), resize.Bilinear)

	nrgba, ok := resized.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(resized.Bounds())
		draw.Draw(nrgba, nrgba.Bounds(), resized, resized.Bounds().Min, draw.Src)
	}

	t := &Tensor{
		Data:  make([]float32, size*size*Channels),
		Shape: [4]int{1, size, size, Channels},
	}

	b := nrgba.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := nrgba.Pix[(y-b.Min.Y)*nrgba.Stride:]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+3]
			t.Data[i] = float32(px[0]) / 255
			t.Data[i+1] = float32(px[1]) / 255
			t.Data[i+2] = float32(px[2]) / 255
			i += Channels
		}
	}

	return t
}

// EncodePNG writes img as PNG. Stored drawings are always PNG regardless of
// the uploaded format.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return errors.New(err).
			Component("imageprep").
			Category(errors.CategoryImageFormat).
			Context("operation", "encode-png").
			Build()
	}
	return nil
}

// opaqueRGB copies img into an NRGBA with every alpha set to 255, keeping
// the stored color channels as they are.
func opaqueRGB(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 0xff
	}
	return src
}

// checkColorModel accepts color models that convert to RGB without a color profile.
func checkColorModel(m color.Model) error {
	if m == color.CMYKModel {
		return errors.NewStd("CMYK color model")
	}
	return nil
}

func decodeError(err error, format string) error {
	b := errors.New(err).
		Component("imageprep").
		Category(errors.CategoryImageDecode)
	if format != "" {
		b = b.Context("format", format)
	}
	return b.Build()
}
