package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	minQuality = 1
	maxQuality = 100
)

// ImageProcessor implements the engine's image primitives on top of imaging.
type ImageProcessor struct {
	filter     imaging.ResampleFilter
	background color.Color
}

func NewImageProcessor() *ImageProcessor {
	return &ImageProcessor{
		filter:     imaging.Lanczos,
		background: color.White,
	}
}

func (p *ImageProcessor) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode image: empty payload")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		zlog.Logger.Debug().Err(err).Int("bytes", len(data)).Msg("failed to decode image")
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return nil, fmt.Errorf("decoded image is empty")
	}
	return img, nil
}

// Resize scales img to w×h; a zero dimension preserves the aspect ratio.
func (p *ImageProcessor) Resize(img image.Image, w, h int) image.Image {
	if w <= 0 && h <= 0 {
		return img
	}
	return imaging.Resize(img, w, h, p.filter)
}

func (p *ImageProcessor) Crop(img image.Image, rect image.Rectangle) image.Image {
	return imaging.Crop(img, rect)
}

func (p *ImageProcessor) Rotate(img image.Image, degrees float64) image.Image {
	return imaging.Rotate(img, degrees, p.background)
}

// Compress encodes img as JPEG at the given quality (1–100).
func (p *ImageProcessor) Compress(img image.Image, quality int) ([]byte, error) {
	if quality < minQuality {
		quality = minQuality
	}
	if quality > maxQuality {
		quality = maxQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("empty buffer after encoding")
	}
	return buf.Bytes(), nil
}

// Fill is the minimal resize+crop used as the engine floor.
func (p *ImageProcessor) Fill(img image.Image, w, h int) image.Image {
	return imaging.Fill(img, w, h, imaging.Center, p.filter)
}

// Canvas returns a flat image of the given size.
func (p *ImageProcessor) Canvas(w, h int) image.Image {
	return imaging.New(w, h, color.NRGBA{R: 238, G: 238, B: 238, A: 255})
}

func GetImageDimensions(img image.Image) (width, height int) {
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy()
}
